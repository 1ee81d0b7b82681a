// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package kevo

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// The login form is served as HTML; these pull the two hidden inputs the
// POST needs to carry back.
var (
	reVerificationToken = regexp.MustCompile(`<input name="__RequestVerificationToken"[^>]*value="([^"]+)"`)
	reSerializedClient  = regexp.MustCompile(`<input[^>]*name="SerializedClient" value="([^"]+)"`)
)

// DeviceIDFromPassword derives the stable device identity the original web
// client presents: a UUID built from the MD5 digest of the account
// password. Using the password keeps the id stable across reinstalls
// without persisting a separate secret.
func DeviceIDFromPassword(password string) uuid.UUID {
	sum := md5.Sum([]byte(password))
	id, _ := uuid.FromBytes(sum[:])
	return id
}

// pkcePair generates an RFC 7636 verifier and its S256 challenge.
func pkcePair() (verifier, challenge string) {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

// oauthState generates the random state parameter for the authorize call.
func oauthState() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:])
}

// acrValues assembles the tenant and device metadata blob the identity
// server expects in the authorize request.
func (c *Client) acrValues(certificate string) string {
	lines := []string{
		"",
		" appId:" + c.cfg.ClientID,
		" tenant:" + c.cfg.TenantID,
		" tenantCode:KWK",
		" tenantClientId:" + c.cfg.ClientID,
		" loginContext:Web",
		" deviceType:Browser",
		" deviceName:Chrome,(Windows)",
		" deviceMake:Chrome,108.0.0.0",
		" deviceModel:Windows,10",
		" deviceVersion:rp-1.0.2",
		" staticDeviceId:" + c.cfg.DeviceID.String(),
		" deviceCertificate:" + certificate,
		" isDark:false",
	}
	return strings.Join(lines, "\n")
}

// authorizeURL builds the /connect/authorize URL that starts the flow.
func (c *Client) authorizeURL(state, challenge, certificate string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile identity.api tumbler.api tumbler.ws offline_access")
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("prompt", "login")
	q.Set("response_mode", "query")
	q.Set("acr_values", c.acrValues(certificate))
	return c.cfg.LoginBaseURL + "/connect/authorize?" + q.Encode()
}

// resolveLocation turns a possibly relative Location header into an
// absolute URL against the identity server.
func (c *Client) resolveLocation(loc string) string {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return loc
	}
	return c.cfg.LoginBaseURL + loc
}

// Login walks the OAuth2 authorization-code + PKCE flow against the
// identity server: request the authorize endpoint, scrape the served login
// form, post the credentials, follow the redirect chain to the fragment
// carrying the code, and exchange the code for tokens. A redirect back to
// the authorize endpoint after the credential post means the credentials
// were rejected.
func (c *Client) Login(ctx context.Context, username, password string) error {
	verifier, challenge := pkcePair()
	state := oauthState()
	certificate := c.deviceCertificate(time.Now())

	res, err := c.get(ctx, c.authorizeURL(state, challenge, certificate))
	if err != nil {
		return fmt.Errorf("kevo: authorize request: %w", err)
	}
	if res.StatusCode != http.StatusFound {
		return fmt.Errorf("kevo: authorize request: unexpected status %d", res.StatusCode)
	}
	loginPageURL := c.resolveLocation(res.Header.Get("Location"))

	res, err = c.get(ctx, loginPageURL)
	if err != nil {
		return fmt.Errorf("kevo: fetch login form: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("kevo: fetch login form: unexpected status %d", res.StatusCode)
	}
	pageBody, err := readBody(res)
	if err != nil {
		return fmt.Errorf("kevo: read login form: %w", err)
	}

	tokenMatch := reVerificationToken.FindStringSubmatch(pageBody)
	clientMatch := reSerializedClient.FindStringSubmatch(pageBody)
	if tokenMatch == nil || clientMatch == nil {
		return fmt.Errorf("kevo: login form did not contain the expected fields")
	}

	form := url.Values{}
	form.Set("SerializedClient", html.UnescapeString(clientMatch[1]))
	form.Set("NumFailedAttempts", "0")
	form.Set("Username", username)
	form.Set("Password", password)
	form.Set("login", "")
	form.Set("__RequestVerificationToken", tokenMatch[1])

	res, err = c.postForm(ctx, c.cfg.LoginBaseURL+"/account/login", form)
	if err != nil {
		return fmt.Errorf("kevo: submit credentials: %w", err)
	}
	if res.StatusCode != http.StatusFound {
		discardBody(res)
		return fmt.Errorf("kevo: submit credentials: unexpected status %d", res.StatusCode)
	}
	discardBody(res)
	loc := res.Header.Get("Location")
	// A bounce back to the authorize endpoint is how the server reports
	// bad credentials.
	if bounce, err := url.Parse(loc); err == nil && strings.HasSuffix(bounce.Path, "/connect/authorize") {
		return ErrAuth
	}

	res, err = c.get(ctx, c.resolveLocation(loc))
	if err != nil {
		return fmt.Errorf("kevo: follow login redirect: %w", err)
	}
	discardBody(res)
	if res.StatusCode != http.StatusFound {
		return fmt.Errorf("kevo: follow login redirect: unexpected status %d", res.StatusCode)
	}

	code, err := codeFromRedirect(res.Header.Get("Location"))
	if err != nil {
		return err
	}

	form = url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", RedirectURI)

	return c.exchangeToken(ctx, form)
}

// codeFromRedirect extracts the authorization code from the final redirect,
// which carries it inside the URL fragment (e.g.
// https://mykevo.com/#/token?code=…&state=…).
func codeFromRedirect(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("kevo: parse token redirect: %w", err)
	}
	frag, err := url.Parse(u.Fragment)
	if err != nil {
		return "", fmt.Errorf("kevo: parse token fragment: %w", err)
	}
	code := frag.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("kevo: token redirect carried no code")
	}
	return code, nil
}

// RefreshToken exchanges the refresh token for a fresh token bundle. A
// rejection maps to ErrAuth so callers know a new interactive login is
// required.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.mu.RLock()
	refresh := c.token.RefreshToken
	c.mu.RUnlock()
	if refresh == "" {
		return ErrNotLoggedIn
	}

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)

	return c.exchangeToken(ctx, form)
}

// exchangeToken posts to /connect/token and installs the returned bundle.
func (c *Client) exchangeToken(ctx context.Context, form url.Values) error {
	res, err := c.postForm(ctx, c.cfg.LoginBaseURL+"/connect/token", form)
	if err != nil {
		return fmt.Errorf("kevo: token request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnauthorized {
		return ErrAuth
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("kevo: token request: unexpected status %d", res.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("kevo: decode token response: %w", err)
	}

	sub, err := subjectFromIDToken(body.IDToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = Token{
		AccessToken:  body.AccessToken,
		IDToken:      body.IDToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	c.userID = sub
	return nil
}

// subjectFromIDToken pulls the user id out of the id_token. The token is
// consumed as an opaque claim carrier; signature verification happens
// server-side on every API call.
func subjectFromIDToken(idToken string) (string, error) {
	tok, _, err := jwt.NewParser().ParseUnverified(idToken, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("kevo: parse id_token: %w", err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("kevo: id_token carried no subject")
	}
	return sub, nil
}

// readBody drains and closes a response body.
func readBody(res *http.Response) (string, error) {
	defer func() { _ = res.Body.Close() }()
	buf, err := io.ReadAll(res.Body)
	return string(buf), err
}

// discardBody drains a response whose content is not needed, so the
// underlying connection can be reused.
func discardBody(res *http.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

// get issues a GET without following redirects.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// postForm issues a form-encoded POST without following redirects.
func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}
