// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures for Kevoctl.
package model // import "github.com/stewjoel/home-assistant-kevo-master/internal/model"

import (
	"fmt"
	"time"
)

// Lock represents a Kevo lock as tracked in the local inventory.
// This is the core entity the rest of the application operates on.
type Lock struct {
	LockID       string
	Name         string
	Brand        string
	Firmware     string
	BatteryLevel float64 // percentage, 0-100
	BoltState    string
	Locked       bool
	Jammed       bool
	Managed      bool
	LastSeen     time.Time
}

// String returns the "name (id)" representation used in CLI output and logs.
func (l Lock) String() string {
	return fmt.Sprintf("%s (%s)", l.Name, l.LockID)
}

// AuditLogEntry represents a single recorded action, such as an issued
// lock command or an observed state change.
type AuditLogEntry struct {
	ID        int
	Timestamp string
	Username  string
	Action    string
	Details   string
}

// Session holds the persisted cloud credentials so the CLI can resume
// without prompting for a password on every run.
type Session struct {
	ID           int
	Username     string
	UserID       string
	DeviceID     string
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the session's access token is past (or within
// skew of) its expiry and needs a refresh before use.
func (s Session) Expired(skew time.Duration) bool {
	return time.Now().Add(skew).After(s.ExpiresAt)
}
