// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package kevo implements the client for the unikey cloud behind
// mykevo.com. It covers the PKCE login flow, the nonce-authenticated REST
// API and the websocket channel that pushes lock status updates.
package kevo // import "github.com/stewjoel/home-assistant-kevo-master/internal/kevo"

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stewjoel/home-assistant-kevo-master/internal/logging"
)

// refreshSkew is how long before token expiry a call triggers a refresh.
const refreshSkew = 100 * time.Second

// Config carries the endpoints and OAuth registration the client talks to.
// The zero value is completed with the production defaults by NewClient.
type Config struct {
	APIBaseURL   string
	LoginBaseURL string
	WSBaseURL    string
	ClientID     string
	ClientSecret string
	TenantID     string

	// DeviceID is the stable per-installation device identity presented
	// during login. A zero UUID makes NewClient generate a random one.
	DeviceID uuid.UUID

	// HTTPClient overrides the internal client, mainly for tests. It must
	// not follow redirects; NewClient's default is configured that way.
	HTTPClient *http.Client
}

// Token is the OAuth token bundle returned by the identity server.
type Token struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// UpdateFunc is invoked whenever a websocket push changes a lock.
type UpdateFunc func(*Lock)

// Client is the authenticated cloud client. It is safe for use from
// multiple goroutines; the websocket reader and REST callers share the
// token and lock state under the client's locks.
type Client struct {
	cfg  Config
	http *http.Client

	mu     sync.RWMutex // guards token and userID
	token  Token
	userID string

	locksMu sync.RWMutex
	locks   map[string]*Lock

	cbMu      sync.Mutex
	callbacks map[int]UpdateFunc
	nextCB    int

	ws wsState
}

// NewClient builds a Client for the given configuration, filling empty
// fields with the production defaults.
func NewClient(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.LoginBaseURL == "" {
		cfg.LoginBaseURL = DefaultLoginBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = DefaultWSBaseURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = DefaultClientSecret
	}
	if cfg.TenantID == "" {
		cfg.TenantID = DefaultTenantID
	}
	if cfg.DeviceID == uuid.Nil {
		cfg.DeviceID = uuid.New()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
			// The login flow needs to inspect each redirect hop itself.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return &Client{
		cfg:       cfg,
		http:      httpClient,
		locks:     make(map[string]*Lock),
		callbacks: make(map[int]UpdateFunc),
	}
}

// DeviceID returns the device identity the client presents at login.
func (c *Client) DeviceID() uuid.UUID { return c.cfg.DeviceID }

// UserID returns the cloud user id of the logged-in account.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// CurrentToken returns a copy of the current token bundle, for persisting
// the session.
func (c *Client) CurrentToken() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Resume installs a previously persisted token bundle and user id without
// going through the login flow. The next API call refreshes the tokens if
// they are stale.
func (c *Client) Resume(userID string, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.token = token
}

// RegisterCallback adds a callback fired on every websocket lock update.
// The returned function unregisters it.
func (c *Client) RegisterCallback(cb UpdateFunc) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	id := c.nextCB
	c.nextCB++
	c.callbacks[id] = cb
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		delete(c.callbacks, id)
	}
}

// notify fires all registered callbacks for the given lock. A callback
// panic must not take down the websocket reader.
func (c *Client) notify(l *Lock) {
	c.cbMu.Lock()
	cbs := make([]UpdateFunc, 0, len(c.callbacks))
	for _, cb := range c.callbacks {
		cbs = append(cbs, cb)
	}
	c.cbMu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Errorf("kevo: update callback panicked: %v", r)
				}
			}()
			cb(l)
		}()
	}
}

// Locks returns the locks known from the last GetLocks call.
func (c *Client) Locks() []*Lock {
	c.locksMu.RLock()
	defer c.locksMu.RUnlock()
	out := make([]*Lock, 0, len(c.locks))
	for _, l := range c.locks {
		out = append(out, l)
	}
	return out
}

// LockByID returns a known lock, or nil.
func (c *Client) LockByID(id string) *Lock {
	c.locksMu.RLock()
	defer c.locksMu.RUnlock()
	return c.locks[id]
}

// clientNonce generates the 64-byte client nonce sent with every API call.
func clientNonce() string {
	buf := make([]byte, 64)
	_, _ = rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}

// serverNonce fetches a fresh server nonce. The value is returned in the
// x-unikey-nonce response header, not the body.
func (c *Client) serverNonce(ctx context.Context) (string, error) {
	body := bytes.NewReader([]byte(`{"headers":{"Accept":"application/json"}}`))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/api/v2/nonces", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch server nonce: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("fetch server nonce: unexpected status %d", res.StatusCode)
	}

	nonce := res.Header.Get("x-unikey-nonce")
	if nonce == "" {
		return "", fmt.Errorf("fetch server nonce: header missing in response")
	}
	return nonce, nil
}

// apiHeaders assembles the nonce and bearer headers needed for API calls.
func (c *Client) apiHeaders(ctx context.Context) (http.Header, error) {
	snonce, err := c.serverNonce(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	access := c.token.AccessToken
	c.mu.RUnlock()

	h := make(http.Header)
	h.Set("X-unikey-cnonce", clientNonce())
	h.Set("X-unikey-context", "Web")
	h.Set("X-unikey-nonce", snonce)
	h.Set("Authorization", "Bearer "+access)
	h.Set("Accept", "application/json")
	return h, nil
}

// ensureFresh refreshes the token when it is close to expiry.
func (c *Client) ensureFresh(ctx context.Context) error {
	c.mu.RLock()
	userID := c.userID
	expiresAt := c.token.ExpiresAt
	c.mu.RUnlock()

	if userID == "" {
		return ErrNotLoggedIn
	}
	if time.Now().Add(refreshSkew).Before(expiresAt) {
		return nil
	}
	return c.RefreshToken(ctx)
}

// api performs an authenticated request against the REST API. A 403 gets a
// single forced refresh and retry before being reported as ErrAuth; a 401
// maps to ErrPermission.
func (c *Client) api(ctx context.Context, method, path string, body []byte, dest any) error {
	if err := c.ensureFresh(ctx); err != nil {
		return err
	}

	res, err := c.apiOnce(ctx, method, path, body)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusForbidden {
		_ = res.Body.Close()
		if err := c.RefreshToken(ctx); err != nil {
			return err
		}
		res, err = c.apiOnce(ctx, method, path, body)
		if err != nil {
			return err
		}
		if res.StatusCode == http.StatusForbidden {
			_ = res.Body.Close()
			return ErrAuth
		}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusUnauthorized {
		return ErrPermission
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		respBody, _ := io.ReadAll(res.Body)
		return fmt.Errorf("kevo: %s %s: unexpected status %d: %s", method, path, res.StatusCode, respBody)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		return fmt.Errorf("kevo: decode response: %w", err)
	}
	return nil
}

// apiOnce issues a single request with fresh nonce headers.
func (c *Client) apiOnce(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	headers, err := c.apiHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header = headers
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// lockRow is the wire shape of one lock in the inventory response.
type lockRow struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	FirmwareVersion string  `json:"firmwareVersion"`
	BatteryLevel    float64 `json:"batteryLevel"`
	BoltState       string  `json:"boltState"`
	Brand           string  `json:"brand"`
}

// GetLocks retrieves the locks the account holds eKeys for and refreshes
// the client's lock snapshots.
func (c *Client) GetLocks(ctx context.Context) ([]*Lock, error) {
	c.mu.RLock()
	userID := c.userID
	c.mu.RUnlock()
	if userID == "" {
		return nil, ErrNotLoggedIn
	}

	var resp struct {
		Locks []lockRow `json:"locks"`
	}
	if err := c.api(ctx, http.MethodGet, "/api/v2/users/"+userID+"/locks", nil, &resp); err != nil {
		return nil, err
	}

	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	out := make([]*Lock, 0, len(resp.Locks))
	for _, row := range resp.Locks {
		if l, ok := c.locks[row.ID]; ok {
			l.applyREST(row.Name, row.FirmwareVersion, row.BatteryLevel, row.BoltState, row.Brand)
			out = append(out, l)
			continue
		}
		l := newLock(c, row.ID, row.Name, row.FirmwareVersion, row.BatteryLevel, row.BoltState, row.Brand)
		c.locks[row.ID] = l
		out = append(out, l)
	}
	return out, nil
}

// SendCommand issues a Lock or Unlock command for the given lock id. The
// resulting bolt movement is reported asynchronously over the websocket.
func (c *Client) SendCommand(ctx context.Context, lockID, command string) error {
	c.mu.RLock()
	userID := c.userID
	c.mu.RUnlock()
	if userID == "" {
		return ErrNotLoggedIn
	}

	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return err
	}
	path := "/api/v2/users/" + userID + "/locks/" + lockID + "/commands"
	return c.api(ctx, http.MethodPost, path, body, nil)
}
