// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package kevo

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{7, 128 * time.Second},
		{8, maxReconnectDelay},
		{20, maxReconnectDelay},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempts); got != tc.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func TestWSVerification(t *testing.T) {
	c := NewClient(Config{ClientSecret: base64.StdEncoding.EncodeToString([]byte("secret"))})
	cnonce := base64.StdEncoding.EncodeToString([]byte("client-nonce"))
	snonce := base64.StdEncoding.EncodeToString([]byte("server-nonce"))

	got, err := c.wsVerification(cnonce, snonce)
	if err != nil {
		t.Fatalf("wsVerification failed: %v", err)
	}
	// HMAC-SHA512("secret", "server-nonce" || "client-nonce")
	const want = "Ov3MsXtovNc8RnkhgxZ7M8/OtdmakzCqcz1q7QUfdbmZxCFUBLb7nzONHCSN1fGDNzz9Aoa3cMZCyL1FCLoUfw=="
	if got != want {
		t.Fatalf("verification = %q, want %q", got, want)
	}

	if _, err := c.wsVerification("not base64!", snonce); err == nil {
		t.Fatal("expected an error for a malformed client nonce")
	}
}

func TestSubscribe_DeliversPushes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/nonces", func(w http.ResponseWriter, r *http.Request) { serveNonce(w) })
	mux.HandleFunc("GET /v3/web/user-1", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("Authorization") != "Bearer access-0" || q.Get("X-unikey-request-verification") == "" {
			t.Errorf("websocket dial missing auth parameters: %v", q)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		msg := `{"messageType":"LockStatus","messageData":{"lockId":"lock-1","batteryLevel":55,"boltState":"Unlocked"}}`
		if err := conn.Write(r.Context(), websocket.MessageText, []byte(msg)); err != nil {
			return
		}
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{
		APIBaseURL:   srv.URL,
		WSBaseURL:    srv.URL,
		ClientSecret: base64.StdEncoding.EncodeToString([]byte("secret")),
	})
	c.Resume("user-1", freshToken())
	l := newLock(c, "lock-1", "Front Door", "2.1", 80, BoltStateLocked, "Kwikset")
	c.locks["lock-1"] = l

	got := make(chan *Lock, 1)
	c.RegisterCallback(func(updated *Lock) {
		select {
		case got <- updated:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer c.Close()

	select {
	case updated := <-got:
		if updated.ID() != "lock-1" {
			t.Fatalf("push updated lock %q, want lock-1", updated.ID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no push was delivered within the deadline")
	}
	if l.IsLocked() || l.BatteryLevel() != 55 {
		t.Fatalf("push not applied: locked=%v battery=%v", l.IsLocked(), l.BatteryLevel())
	}
}

func TestSubscribe_NotLoggedIn(t *testing.T) {
	c := NewClient(Config{})
	if err := c.Subscribe(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}
