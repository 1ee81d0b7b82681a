// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/stewjoel/home-assistant-kevo-master/internal/db"
	"github.com/stewjoel/home-assistant-kevo-master/internal/i18n"
	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// setupTestDB initializes an in-memory SQLite database for isolated testing.
// It configures viper to use this database and ensures the i18n system is ready.
func setupTestDB(t *testing.T) {
	t.Helper()

	// Ensure tests are isolated from any previously loaded configuration.
	viper.Reset()

	// Use a unique in-memory SQLite database per test to avoid file locks
	// while preserving isolation across tests.
	uniq := fmt.Sprintf("memdb_%d", time.Now().UnixNano())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uniq)

	viper.Set("database.type", "sqlite")
	viper.Set("database.dsn", dsn)
	viper.Set("language", "en")

	i18n.Init("en")
	if err := db.InitDB("sqlite", dsn); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
}

func TestResolveStoredLock_ByID(t *testing.T) {
	setupTestDB(t)
	lock := model.Lock{LockID: "lock-1", Name: "Front Door", Managed: true}
	if err := db.UpsertLock(lock); err != nil {
		t.Fatalf("UpsertLock: %v", err)
	}

	got, err := resolveStoredLock("lock-1")
	if err != nil {
		t.Fatalf("resolveStoredLock: %v", err)
	}
	if got.Name != "Front Door" {
		t.Errorf("expected Front Door, got %s", got.Name)
	}
}

func TestResolveStoredLock_ByName(t *testing.T) {
	setupTestDB(t)
	if err := db.UpsertLock(model.Lock{LockID: "lock-1", Name: "Front Door", Managed: true}); err != nil {
		t.Fatalf("UpsertLock: %v", err)
	}
	if err := db.UpsertLock(model.Lock{LockID: "lock-2", Name: "Back Door", Managed: true}); err != nil {
		t.Fatalf("UpsertLock: %v", err)
	}

	got, err := resolveStoredLock("front door")
	if err != nil {
		t.Fatalf("resolveStoredLock: %v", err)
	}
	if got.LockID != "lock-1" {
		t.Errorf("expected lock-1, got %s", got.LockID)
	}
}

func TestResolveStoredLock_AmbiguousName(t *testing.T) {
	setupTestDB(t)
	if err := db.UpsertLock(model.Lock{LockID: "lock-1", Name: "Door", Managed: true}); err != nil {
		t.Fatalf("UpsertLock: %v", err)
	}
	if err := db.UpsertLock(model.Lock{LockID: "lock-2", Name: "door", Managed: true}); err != nil {
		t.Fatalf("UpsertLock: %v", err)
	}

	if _, err := resolveStoredLock("DOOR"); err == nil {
		t.Fatal("expected an error for an ambiguous name")
	}
}

func TestResolveStoredLock_Unknown(t *testing.T) {
	setupTestDB(t)
	if _, err := resolveStoredLock("nope"); err == nil {
		t.Fatal("expected an error for an unknown lock")
	}
}

func TestResumeClient_ExpiredWithoutRefreshToken(t *testing.T) {
	setupTestDB(t)
	err := db.SaveSession(model.Session{
		Username:    "tester",
		UserID:      "user-1",
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	if _, err := resumeClient(); err == nil {
		t.Fatal("expected an expired session without a refresh token to be rejected")
	}
}

func TestResumeClient_ExpiredWithRefreshToken(t *testing.T) {
	setupTestDB(t)
	err := db.SaveSession(model.Session{
		Username:     "tester",
		UserID:       "user-1",
		AccessToken:  "stale",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	client, err := resumeClient()
	if err != nil {
		t.Fatalf("a refreshable session must resume: %v", err)
	}
	if tok := client.CurrentToken(); tok.RefreshToken != "refresh-0" {
		t.Fatalf("resumed client lost the refresh token: %+v", tok)
	}
}

func TestDescribeState(t *testing.T) {
	i18n.Init("en")
	cases := []struct {
		name string
		lock model.Lock
		want string
	}{
		{"jammed wins", model.Lock{Jammed: true, Locked: true, BoltState: "BoltJam"}, "JAMMED"},
		{"locked", model.Lock{Locked: true, BoltState: "Locked"}, "locked"},
		{"unlocked", model.Lock{BoltState: "Unlocked"}, "unlocked"},
		{"never seen", model.Lock{}, "-"},
	}
	for _, tc := range cases {
		if got := describeState(tc.lock); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestBackupRoundTrip(t *testing.T) {
	i18n.Init("en")
	data := &model.BackupData{
		SchemaVersion: 1,
		Locks: []model.Lock{
			{LockID: "lock-1", Name: "Front Door", BoltState: "Locked", Locked: true, Managed: true},
		},
		AuditLogEntries: []model.AuditLogEntry{
			{ID: 1, Timestamp: "2026-08-28T10:00:00Z", Username: "tester", Action: "LOGIN", Details: "user: tester"},
		},
	}

	path := t.TempDir() + "/backup.json.zst"
	if err := writeCompressedBackup(path, data); err != nil {
		t.Fatalf("writeCompressedBackup: %v", err)
	}

	got, err := readCompressedBackup(path)
	if err != nil {
		t.Fatalf("readCompressedBackup: %v", err)
	}
	if got.SchemaVersion != 1 {
		t.Errorf("schema version mismatch: %d", got.SchemaVersion)
	}
	if len(got.Locks) != 1 || got.Locks[0].LockID != "lock-1" || !got.Locks[0].Locked {
		t.Errorf("locks did not survive the round trip: %+v", got.Locks)
	}
	if len(got.AuditLogEntries) != 1 || got.AuditLogEntries[0].Action != "LOGIN" {
		t.Errorf("audit entries did not survive the round trip: %+v", got.AuditLogEntries)
	}
}
