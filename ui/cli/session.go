// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// session.go implements the 'login' and 'logout' commands plus the
// session-resume helper the other cloud-facing commands build on.

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stewjoel/home-assistant-kevo-master/internal/db"
	"github.com/stewjoel/home-assistant-kevo-master/internal/i18n"
	"github.com/stewjoel/home-assistant-kevo-master/internal/kevo"
	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
	"github.com/stewjoel/home-assistant-kevo-master/internal/state"
)

// sessionExpirySkew mirrors the cloud client's refresh headroom: a token
// within this window of expiry counts as expired.
const sessionExpirySkew = 100 * time.Second

// loginCmd represents the 'login' command. It performs the full
// browser-style OAuth dance against the Kevo identity server and persists
// the resulting token bundle so other commands can resume it.
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in to the Kevo Plus cloud and store the session",
	Long: `Authenticates against mykevo.com with your account credentials and
stores the resulting token bundle in the local database. Subsequent
commands reuse the stored session and refresh it as needed, so the
password is only required here.

The username is your mykevo.com email address. If it is not given as
an argument, you will be prompted for it.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		if pw, _ := cmd.Flags().GetString("password"); pw != "" {
			state.PasswordCache.Set([]byte(pw))
		}
		username := ""
		if len(args) > 0 {
			username = args[0]
		}
		if username == "" {
			fmt.Print(i18n.T("login.prompt_username"))
			if _, err := fmt.Scanln(&username); err != nil {
				log.Fatalf("%s", i18n.T("login.error_read_username", err))
			}
			username = strings.TrimSpace(username)
		}
		if username == "" {
			log.Fatalf("%s", i18n.T("login.error_no_username"))
		}

		password := promptForPassword()
		defer state.PasswordCache.Clear()

		// The device identity is derived from the password so re-logins
		// from the same account present a stable browser fingerprint.
		cfg := kevoClientConfig()
		cfg.DeviceID = kevo.DeviceIDFromPassword(password)
		client := kevo.NewClient(cfg)

		fmt.Println(i18n.T("login.authenticating"))
		if err := client.Login(cmd.Context(), username, password); err != nil {
			if errors.Is(err, kevo.ErrAuth) {
				log.Fatalf("%s", i18n.T("login.error_bad_credentials"))
			}
			log.Fatalf("%s", i18n.T("login.error_failed", err))
		}

		tok := client.CurrentToken()
		session := model.Session{
			Username:     username,
			UserID:       client.UserID(),
			DeviceID:     client.DeviceID().String(),
			AccessToken:  tok.AccessToken,
			IDToken:      tok.IDToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.ExpiresAt,
		}
		if err := db.SaveSession(session); err != nil {
			log.Fatalf("%s", i18n.T("login.error_save_session", err))
		}
		if err := db.LogAction("LOGIN", fmt.Sprintf("user: %s", username)); err != nil {
			log.Warnf("could not write audit entry: %v", err)
		}
		fmt.Println(i18n.T("login.success", username))

		// Pull the lock inventory right away so 'locks' works offline.
		locks, err := client.GetLocks(cmd.Context())
		if err != nil {
			log.Warnf("%s", i18n.T("login.warn_sync_failed", err))
			return
		}
		for _, l := range locks {
			if err := db.UpsertLock(snapshotLock(l)); err != nil {
				log.Warnf("%s", i18n.T("login.warn_persist_failed", l.Name(), err))
			}
		}
		fmt.Println(i18n.T("login.synced", len(locks)))
	},
}

// logoutCmd clears the stored session. The cloud token is simply
// forgotten; Kevo has no revocation endpoint for refresh tokens.
var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Forget the stored Kevo Plus session",
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		session, err := db.GetSession()
		if err != nil {
			log.Fatalf("%s", i18n.T("session.error_load", err))
		}
		if session == nil {
			fmt.Println(i18n.T("logout.not_logged_in"))
			return
		}
		if err := db.DeleteSession(); err != nil {
			log.Fatalf("%s", i18n.T("logout.error", err))
		}
		if err := db.LogAction("LOGOUT", fmt.Sprintf("user: %s", session.Username)); err != nil {
			log.Warnf("could not write audit entry: %v", err)
		}
		fmt.Println(i18n.T("logout.success"))
	},
}

// promptForPassword reads the account password without echo. A password
// staged in the in-memory cache (e.g. by the TUI login form) wins over
// the interactive prompt.
func promptForPassword() string {
	if cached := state.PasswordCache.Get(); len(cached) > 0 {
		pass := string(cached)
		for i := range cached {
			cached[i] = 0
		}
		return pass
	}
	fmt.Print(i18n.T("login.prompt_password"))
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		log.Fatalf("%s", i18n.T("login.error_read_password", err))
	}
	return string(raw)
}

// resumeClient rebuilds an authenticated cloud client from the persisted
// session. The token bundle may be stale; the client refreshes it lazily
// on the first API call.
func resumeClient() (*kevo.Client, error) {
	session, err := db.GetSession()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, errors.New(i18n.T("session.none_hint"))
	}
	// A stale access token is fine, the client refreshes it on first use.
	// Without a refresh token an expired session is a dead end, so say so
	// up front instead of failing on the first cloud call.
	if session.RefreshToken == "" && session.Expired(sessionExpirySkew) {
		return nil, errors.New(i18n.T("session.expired_hint"))
	}

	cfg := kevoClientConfig()
	if session.DeviceID != "" {
		if id, perr := uuid.Parse(session.DeviceID); perr == nil {
			cfg.DeviceID = id
		}
	}
	client := kevo.NewClient(cfg)
	client.Resume(session.UserID, kevo.Token{
		AccessToken:  session.AccessToken,
		IDToken:      session.IDToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt,
	})
	return client, nil
}

// persistSession writes the client's current token bundle back to the
// stored session so refreshed tokens survive process exit.
func persistSession(client *kevo.Client) {
	session, err := db.GetSession()
	if err != nil || session == nil {
		return
	}
	tok := client.CurrentToken()
	if tok.AccessToken == "" || tok.AccessToken == session.AccessToken {
		return
	}
	session.AccessToken = tok.AccessToken
	session.IDToken = tok.IDToken
	session.RefreshToken = tok.RefreshToken
	session.ExpiresAt = tok.ExpiresAt
	if err := db.SaveSession(*session); err != nil {
		log.Warnf("could not persist refreshed session: %v", err)
	}
}

// snapshotLock converts a live cloud lock into the persisted model shape.
// Managed defaults to true for newly discovered locks; the upsert keeps
// the stored preference for known ones.
func snapshotLock(l *kevo.Lock) model.Lock {
	locked, jammed := l.IsLocked(), l.IsJammed()
	return model.Lock{
		LockID:       l.ID(),
		Name:         l.Name(),
		Brand:        l.Brand(),
		Firmware:     l.Firmware(),
		BatteryLevel: l.BatteryLevel(),
		BoltState:    l.BoltState(),
		Locked:       locked,
		Jammed:       jammed,
		Managed:      true,
		LastSeen:     time.Now(),
	}
}
