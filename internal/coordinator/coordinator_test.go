// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package coordinator

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stewjoel/home-assistant-kevo-master/internal/kevo"
	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// recordingStore captures persistence calls for assertions.
type recordingStore struct {
	mu      sync.Mutex
	upserts []model.Lock
	updates []string
	actions []string
	managed []model.Lock
}

func (s *recordingStore) UpsertLock(l model.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, l)
	return nil
}

func (s *recordingStore) UpdateLockState(lockID, boltState string, locked, jammed bool, batteryLevel float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, lockID+":"+boltState)
	return nil
}

func (s *recordingStore) GetManagedLocks() ([]model.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.managed, nil
}

func (s *recordingStore) LogAction(action, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *recordingStore) actionList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

func (s *recordingStore) upsertList() []model.Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Lock(nil), s.upserts...)
}

// newTestClient spins up a fake cloud with two locks and returns a
// logged-in client against it.
func newTestClient(t *testing.T) (*kevo.Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/nonces", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-unikey-nonce", base64.StdEncoding.EncodeToString([]byte("snonce")))
	})
	mux.HandleFunc("GET /api/v2/users/user-1/locks", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"locks":[
			{"id":"lock-1","name":"Front Door","firmwareVersion":"2.1","batteryLevel":84,"boltState":"Locked","brand":"Kwikset"},
			{"id":"lock-2","name":"Back Door","firmwareVersion":"2.0","batteryLevel":40,"boltState":"Unlocked","brand":"Kwikset"}
		]}`)
	})
	mux.HandleFunc("POST /api/v2/users/user-1/locks/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := kevo.NewClient(kevo.Config{APIBaseURL: srv.URL, LoginBaseURL: srv.URL})
	c.Resume("user-1", kevo.Token{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	return c, srv
}

func TestPoll_PopulatesSnapshotAndStore(t *testing.T) {
	client, _ := newTestClient(t)
	store := &recordingStore{}
	c := New(client, store)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 locks in the snapshot, got %d", len(snap))
	}
	if len(store.upsertList()) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(store.upsertList()))
	}
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected sticky error: %v", err)
	}

	// An unchanged second poll persists nothing new.
	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if len(store.upsertList()) != 2 {
		t.Fatalf("unchanged poll should not re-persist, got %d upserts", len(store.upsertList()))
	}
}

func TestPoll_ManagedSubsetFilters(t *testing.T) {
	client, _ := newTestClient(t)
	store := &recordingStore{}
	c := New(client, store, WithManagedSubset([]string{"lock-1"}))

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].LockID != "lock-1" {
		t.Fatalf("subset not applied: %+v", snap)
	}
}

func TestPoll_AuthErrorIsSticky(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/nonces" {
			w.Header().Set("x-unikey-nonce", base64.StdEncoding.EncodeToString([]byte("snonce")))
			return
		}
		if r.URL.Path == "/connect/token" {
			header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
			claims := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user-1"}`))
			_, _ = fmt.Fprintf(w, `{"access_token":"a","id_token":"%s.%s.","refresh_token":"r","expires_in":3600}`, header, claims)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := kevo.NewClient(kevo.Config{APIBaseURL: srv.URL, LoginBaseURL: srv.URL})
	client.Resume("user-1", kevo.Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)})

	c := New(client, &recordingStore{})
	if err := c.poll(context.Background()); err == nil {
		t.Fatal("expected the poll to fail")
	}
	if c.Err() == nil {
		t.Fatal("expected a sticky auth error")
	}
}

func TestOnPush_UpdatesSnapshotAndSubscribers(t *testing.T) {
	client, _ := newTestClient(t)
	store := &recordingStore{}
	c := New(client, store)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	var got []model.Lock
	var mu sync.Mutex
	unsub := c.Subscribe(func(l model.Lock) {
		mu.Lock()
		got = append(got, l)
		mu.Unlock()
	})
	defer unsub()

	c.onPush(client.LockByID("lock-1"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].LockID != "lock-1" {
		t.Fatalf("subscriber not invoked with the pushed lock: %+v", got)
	}
	store.mu.Lock()
	updates := append([]string(nil), store.updates...)
	store.mu.Unlock()
	if len(updates) != 1 {
		t.Fatalf("push not persisted: %v", updates)
	}
}

func TestSendCommand_Audited(t *testing.T) {
	client, _ := newTestClient(t)
	store := &recordingStore{}
	c := New(client, store)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if err := c.SendCommand(context.Background(), "lock-1", kevo.CommandUnlock); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	actions := store.actionList()
	if len(actions) != 1 || actions[0] != "SEND_COMMAND" {
		t.Fatalf("command not audited: %v", actions)
	}

	if err := c.SendCommand(context.Background(), "nope", kevo.CommandLock); err == nil {
		t.Fatal("expected an error for an unknown lock")
	}
}

func TestWaitSettled(t *testing.T) {
	client, _ := newTestClient(t)
	c := New(client, &recordingStore{})

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	// No command in flight settles immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WaitSettled(ctx, "lock-1"); err != nil {
		t.Fatalf("WaitSettled failed: %v", err)
	}

	if err := c.WaitSettled(ctx, "nope"); err == nil {
		t.Fatal("expected an error for an unknown lock")
	}
}

func TestStateDiffers(t *testing.T) {
	a := model.Lock{LockID: "x", Name: "n", BoltState: "Locked", Locked: true, BatteryLevel: 80}
	b := a
	if stateDiffers(a, b) {
		t.Fatal("identical snapshots must not differ")
	}
	b.BatteryLevel = 79
	if !stateDiffers(a, b) {
		t.Fatal("battery change must count as a difference")
	}
	b = a
	b.LastSeen = time.Now()
	if stateDiffers(a, b) {
		t.Fatal("LastSeen must be excluded from the comparison")
	}
}
