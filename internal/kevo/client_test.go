// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package kevo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// makeIDToken builds an unsigned JWT carrying the given subject, enough
// for the client's unverified claim extraction.
func makeIDToken(sub string) string {
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "none", "typ": "JWT"})
	claims := enc(map[string]string{"sub": sub})
	return header + "." + claims + "."
}

// freshToken is a token bundle that will not trigger a refresh.
func freshToken() Token {
	return Token{
		AccessToken:  "access-0",
		IDToken:      makeIDToken("user-1"),
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func serveNonce(w http.ResponseWriter) {
	w.Header().Set("x-unikey-nonce", base64.StdEncoding.EncodeToString([]byte("server-nonce-value")))
	w.WriteHeader(http.StatusOK)
}

func TestServerNonce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2/nonces" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		serveNonce(w)
	}))
	defer srv.Close()

	c := NewClient(Config{APIBaseURL: srv.URL})
	nonce, err := c.serverNonce(context.Background())
	if err != nil {
		t.Fatalf("serverNonce failed: %v", err)
	}
	if nonce == "" {
		t.Fatal("expected a non-empty server nonce")
	}
}

func TestGetLocks(t *testing.T) {
	var sawHeaders atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/nonces", func(w http.ResponseWriter, r *http.Request) { serveNonce(w) })
	mux.HandleFunc("GET /api/v2/users/user-1/locks", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer access-0" &&
			r.Header.Get("X-unikey-context") == "Web" &&
			r.Header.Get("X-unikey-cnonce") != "" &&
			r.Header.Get("X-unikey-nonce") != "" {
			sawHeaders.Store(true)
		}
		_, _ = fmt.Fprint(w, `{"locks":[
			{"id":"lock-1","name":"Front Door","firmwareVersion":"2.1","batteryLevel":84,"boltState":"Locked","brand":"Kwikset"},
			{"id":"lock-2","name":"Back Door","firmwareVersion":"2.0","batteryLevel":40,"boltState":"Unlocked","brand":"Kwikset"}
		]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{APIBaseURL: srv.URL})
	c.Resume("user-1", freshToken())

	locks, err := c.GetLocks(context.Background())
	if err != nil {
		t.Fatalf("GetLocks failed: %v", err)
	}
	if len(locks) != 2 {
		t.Fatalf("expected 2 locks, got %d", len(locks))
	}
	if !sawHeaders.Load() {
		t.Fatal("inventory request was missing the nonce or bearer headers")
	}

	front := c.LockByID("lock-1")
	if front == nil {
		t.Fatal("lock-1 missing from the inventory")
	}
	if front.Name() != "Front Door" || !front.IsLocked() || front.IsJammed() {
		t.Fatalf("lock-1 state unexpected: name=%q locked=%v jammed=%v",
			front.Name(), front.IsLocked(), front.IsJammed())
	}

	// A second poll must update the existing snapshot in place.
	locks, err = c.GetLocks(context.Background())
	if err != nil {
		t.Fatalf("second GetLocks failed: %v", err)
	}
	if locks[0] != c.LockByID(locks[0].ID()) {
		t.Fatal("expected lock snapshots to be reused across polls")
	}
}

func TestGetLocks_NotLoggedIn(t *testing.T) {
	c := NewClient(Config{APIBaseURL: "http://127.0.0.1:0"})
	if _, err := c.GetLocks(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestAPI_ForbiddenTriggersRefreshAndRetry(t *testing.T) {
	var lockCalls, refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/nonces", func(w http.ResponseWriter, r *http.Request) { serveNonce(w) })
	mux.HandleFunc("POST /connect/token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected token request form: %v", r.Form)
		}
		_, _ = fmt.Fprintf(w, `{"access_token":"access-1","id_token":%q,"refresh_token":"refresh-1","expires_in":3600}`,
			makeIDToken("user-1"))
	})
	mux.HandleFunc("GET /api/v2/users/user-1/locks", func(w http.ResponseWriter, r *http.Request) {
		if lockCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Header.Get("Authorization") != "Bearer access-1" {
			t.Errorf("retry did not carry the refreshed token: %q", r.Header.Get("Authorization"))
		}
		_, _ = fmt.Fprint(w, `{"locks":[]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{APIBaseURL: srv.URL, LoginBaseURL: srv.URL})
	c.Resume("user-1", freshToken())

	if _, err := c.GetLocks(context.Background()); err != nil {
		t.Fatalf("GetLocks failed: %v", err)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one token refresh, got %d", got)
	}
	if got := lockCalls.Load(); got != 2 {
		t.Fatalf("expected the inventory call to be retried once, got %d calls", got)
	}
	if tok := c.CurrentToken(); tok.RefreshToken != "refresh-1" {
		t.Fatalf("refreshed token bundle was not installed: %+v", tok)
	}
}

func TestAPI_PersistentForbiddenIsErrAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/nonces", func(w http.ResponseWriter, r *http.Request) { serveNonce(w) })
	mux.HandleFunc("POST /connect/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"access_token":"access-1","id_token":%q,"refresh_token":"refresh-1","expires_in":3600}`,
			makeIDToken("user-1"))
	})
	mux.HandleFunc("GET /api/v2/users/user-1/locks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{APIBaseURL: srv.URL, LoginBaseURL: srv.URL})
	c.Resume("user-1", freshToken())

	if _, err := c.GetLocks(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestAPI_UnauthorizedIsErrPermission(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/nonces", func(w http.ResponseWriter, r *http.Request) { serveNonce(w) })
	mux.HandleFunc("GET /api/v2/users/user-1/locks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{APIBaseURL: srv.URL, LoginBaseURL: srv.URL})
	c.Resume("user-1", freshToken())

	if _, err := c.GetLocks(context.Background()); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestSendCommand_Body(t *testing.T) {
	var gotBody atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/nonces", func(w http.ResponseWriter, r *http.Request) { serveNonce(w) })
	mux.HandleFunc("POST /api/v2/users/user-1/locks/lock-1/commands", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{APIBaseURL: srv.URL})
	c.Resume("user-1", freshToken())

	if err := c.SendCommand(context.Background(), "lock-1", CommandUnlock); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if got := gotBody.Load(); got != `{"command":"Unlock"}` {
		t.Fatalf("unexpected command body %v", got)
	}
}

func TestRegisterCallback_Unregister(t *testing.T) {
	c := NewClient(Config{})
	l := newLock(c, "lock-1", "Front Door", "2.1", 80, BoltStateLocked, "Kwikset")

	var calls atomic.Int32
	unregister := c.RegisterCallback(func(*Lock) { calls.Add(1) })

	c.notify(l)
	unregister()
	c.notify(l)

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one callback invocation, got %d", got)
	}
}

func TestNotify_RecoversFromPanickingCallback(t *testing.T) {
	c := NewClient(Config{})
	l := newLock(c, "lock-1", "Front Door", "2.1", 80, BoltStateLocked, "Kwikset")

	var calls atomic.Int32
	c.RegisterCallback(func(*Lock) { panic("boom") })
	c.RegisterCallback(func(*Lock) { calls.Add(1) })

	c.notify(l)
	if calls.Load() != 1 {
		t.Fatal("a panicking callback must not suppress the others")
	}
}

func TestProcessMessage_LockStatus(t *testing.T) {
	c := NewClient(Config{})
	l := newLock(c, "lock-1", "Front Door", "2.1", 80, BoltStateLocked, "Kwikset")
	c.locks["lock-1"] = l

	var updated atomic.Int32
	c.RegisterCallback(func(*Lock) { updated.Add(1) })

	c.processMessage([]byte(`{
		"messageType": "LockStatus",
		"messageData": {
			"lockId": "lock-1",
			"batteryLevel": 61,
			"boltState": "Unlocked",
			"command": {"type": "Unlock", "status": "Complete"}
		}
	}`))

	if l.IsLocked() {
		t.Fatal("expected the push to unlock the snapshot")
	}
	if l.BatteryLevel() != 61 {
		t.Fatalf("battery = %v, want 61", l.BatteryLevel())
	}
	if updated.Load() != 1 {
		t.Fatalf("expected one callback, got %d", updated.Load())
	}
}

func TestProcessMessage_IgnoresOtherTypesAndGarbage(t *testing.T) {
	c := NewClient(Config{})
	var updated atomic.Int32
	c.RegisterCallback(func(*Lock) { updated.Add(1) })

	c.processMessage([]byte(`{"messageType":"SomethingElse","messageData":{}}`))
	c.processMessage([]byte(`not json at all`))
	c.processMessage([]byte(`{"messageType":"LockStatus","messageData":{"lockId":"unknown"}}`))

	if updated.Load() != 0 {
		t.Fatalf("expected no callbacks, got %d", updated.Load())
	}
}
