// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package kevo

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/stewjoel/home-assistant-kevo-master/internal/logging"
)

const (
	wsPingInterval    = 10 * time.Second
	maxReconnectDelay = 240 * time.Second
)

// wsState tracks the lifecycle of the push subscription. The reader
// goroutine owns conn; cancel tears the whole subscription down.
type wsState struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// wsEnvelope is the outer frame of every push message.
type wsEnvelope struct {
	MessageType string          `json:"messageType"`
	MessageData json.RawMessage `json:"messageData"`
}

// lockStatusData is the payload of a LockStatus push.
type lockStatusData struct {
	LockID       string           `json:"lockId"`
	BatteryLevel float64          `json:"batteryLevel"`
	BoltState    string           `json:"boltState"`
	Command      *lockStatusOrder `json:"command"`
}

type lockStatusOrder struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// wsVerification signs the nonce pair with the client secret so the
// server can tie the websocket to this session: HMAC-SHA512 over the
// decoded server nonce followed by the decoded client nonce.
func (c *Client) wsVerification(cnonce, snonce string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.cfg.ClientSecret)
	if err != nil {
		return "", fmt.Errorf("kevo: decode client secret: %w", err)
	}
	snonceBytes, err := base64.StdEncoding.DecodeString(snonce)
	if err != nil {
		return "", fmt.Errorf("kevo: decode server nonce: %w", err)
	}
	cnonceBytes, err := base64.StdEncoding.DecodeString(cnonce)
	if err != nil {
		return "", fmt.Errorf("kevo: decode client nonce: %w", err)
	}

	mac := hmac.New(sha512.New, secret)
	mac.Write(snonceBytes)
	mac.Write(cnonceBytes)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// wsURL assembles the authenticated websocket endpoint for this session.
func (c *Client) wsURL(ctx context.Context) (string, error) {
	c.mu.RLock()
	access := c.token.AccessToken
	userID := c.userID
	c.mu.RUnlock()
	if userID == "" {
		return "", ErrNotLoggedIn
	}

	cnonce := clientNonce()
	snonce, err := c.serverNonce(ctx)
	if err != nil {
		return "", err
	}
	verification, err := c.wsVerification(cnonce, snonce)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("Authorization", "Bearer "+access)
	q.Set("X-unikey-context", "web")
	q.Set("X-unikey-cnonce", cnonce)
	q.Set("X-unikey-nonce", snonce)
	q.Set("X-unikey-request-verification", verification)
	q.Set("X-unikey-message-content-type", "application/json")

	return c.cfg.WSBaseURL + "/v3/web/" + userID + "?" + q.Encode(), nil
}

// Subscribe opens the push channel and keeps it open until the context is
// cancelled or Close is called. Lost connections are redialed with
// exponential backoff capped at four minutes; registered callbacks fire
// for every lock a push touches. Subscribe returns once the background
// reader is running.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.RLock()
	loggedIn := c.userID != ""
	c.mu.RUnlock()
	if !loggedIn {
		return ErrNotLoggedIn
	}

	c.Close()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.ws = wsState{cancel: cancel, done: done}
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.runSubscription(runCtx)
	}()
	return nil
}

// Close tears down the push subscription, if any, and waits for the
// reader goroutine to exit. It is safe to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.ws.cancel
	done := c.ws.done
	c.ws = wsState{}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// runSubscription is the dial/read/redial loop.
func (c *Client) runSubscription(ctx context.Context) {
	attempts := 0
	for {
		connected, err := c.readOnce(ctx)
		if connected {
			attempts = 0
		}
		if ctx.Err() != nil {
			return
		}
		attempts++
		delay := backoffDelay(attempts)
		logging.Warnf("push channel lost, redialing in %s: %v", delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// backoffDelay doubles per attempt, capped at maxReconnectDelay.
func backoffDelay(attempts int) time.Duration {
	if attempts > 7 {
		return maxReconnectDelay
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

// readOnce dials the endpoint and pumps messages until the connection
// drops or the context ends. connected reports whether the dial
// succeeded, so the caller can reset its backoff.
func (c *Client) readOnce(ctx context.Context) (connected bool, err error) {
	endpoint, err := c.wsURL(ctx)
	if err != nil {
		return false, err
	}

	// The REST client carries a request timeout that would also cut the
	// long-lived websocket, so dial with a timeout-free twin.
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: &http.Client{Transport: c.http.Transport, Jar: c.http.Jar},
	})
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	logging.Debugf("push channel connected")

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(pingCtx); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}
		c.processMessage(data)
	}
}

// processMessage applies one push frame to the lock inventory. Unknown
// message types and locks outside the inventory are ignored.
func (c *Client) processMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Errorf("malformed push message: %v", err)
		return
	}
	if env.MessageType != "LockStatus" {
		logging.Debugf("ignoring push message type %q", env.MessageType)
		return
	}

	var status lockStatusData
	if err := json.Unmarshal(env.MessageData, &status); err != nil {
		logging.Errorf("malformed LockStatus payload: %v", err)
		return
	}

	lock := c.LockByID(status.LockID)
	if lock == nil {
		logging.Debugf("push for unknown lock %s", status.LockID)
		return
	}
	if !knownBoltState(status.BoltState) {
		logging.Warnf("unknown bolt state %q for lock %s", status.BoltState, status.LockID)
	}
	lock.applyStatus(status)
	c.notify(lock)
}
