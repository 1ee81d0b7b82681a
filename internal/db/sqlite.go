// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the data access layer for Kevoctl.
// This file contains the SQLite implementation of the database store.
package db // import "github.com/stewjoel/home-assistant-kevo-master/internal/db"

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// SqliteStore is the SQLite implementation of the Store interface.
type SqliteStore struct {
	bun *bun.DB
}

// GetAllLocks retrieves the full lock inventory.
func (s *SqliteStore) GetAllLocks() ([]model.Lock, error) {
	return GetAllLocksBun(s.bun)
}

// GetLock retrieves one lock by id, or nil when unknown.
func (s *SqliteStore) GetLock(lockID string) (*model.Lock, error) {
	return GetLockBun(s.bun, lockID)
}

// UpsertLock inserts or refreshes an inventory row. The managed flag is a
// local preference and survives refreshes of cloud-sourced fields.
func (s *SqliteStore) UpsertLock(lock model.Lock) error {
	m := lockToModel(lock)
	_, err := s.bun.NewInsert().Model(&m).
		On("CONFLICT (lock_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("brand = EXCLUDED.brand").
		Set("firmware = EXCLUDED.firmware").
		Set("battery_level = EXCLUDED.battery_level").
		Set("bolt_state = EXCLUDED.bolt_state").
		Set("locked = EXCLUDED.locked").
		Set("jammed = EXCLUDED.jammed").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(context.Background())
	return MapDBError(err)
}

// UpdateLockState applies an observed state change.
func (s *SqliteStore) UpdateLockState(lockID, boltState string, locked, jammed bool, batteryLevel float64) error {
	return UpdateLockStateBun(s.bun, lockID, boltState, locked, jammed, batteryLevel)
}

// SetLockManaged flips the managed flag for a lock.
func (s *SqliteStore) SetLockManaged(lockID string, managed bool) error {
	err := SetLockManagedBun(s.bun, lockID, managed)
	if err == nil {
		action := "MANAGE_LOCK"
		if !managed {
			action = "UNMANAGE_LOCK"
		}
		_ = s.LogAction(action, fmt.Sprintf("lock_id: %s", lockID))
	}
	return err
}

// GetManagedLocks retrieves the locks marked as managed.
func (s *SqliteStore) GetManagedLocks() ([]model.Lock, error) {
	return GetManagedLocksBun(s.bun)
}

// DeleteLock removes a lock from the inventory.
func (s *SqliteStore) DeleteLock(lockID string) error {
	err := DeleteLockBun(s.bun, lockID)
	if err == nil {
		_ = s.LogAction("DELETE_LOCK", fmt.Sprintf("lock_id: %s", lockID))
	}
	return err
}

// SaveSession persists the cloud session for later resumption.
func (s *SqliteStore) SaveSession(session model.Session) error {
	return SaveSessionBun(s.bun, session)
}

// GetSession retrieves the persisted session, or nil when logged out.
func (s *SqliteStore) GetSession() (*model.Session, error) {
	return GetSessionBun(s.bun)
}

// DeleteSession removes the persisted session.
func (s *SqliteStore) DeleteSession() error {
	return DeleteSessionBun(s.bun)
}

// GetAllAuditLogEntries retrieves the audit trail, most recent first.
func (s *SqliteStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *SqliteStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportDataForBackup retrieves all data from the database for a backup.
func (s *SqliteStore) ExportDataForBackup() (*model.BackupData, error) {
	return ExportDataForBackupBun(s.bun)
}

// ImportDataFromBackup restores the database from a backup, replacing all data.
func (s *SqliteStore) ImportDataFromBackup(backup *model.BackupData) error {
	err := ImportDataFromBackupBun(s.bun, backup)
	if err == nil {
		_ = s.LogAction("RESTORE_BACKUP", fmt.Sprintf("locks: %d", len(backup.Locks)))
	}
	return err
}

// IntegrateDataFromBackup restores the database from a backup in a non-destructive way.
func (s *SqliteStore) IntegrateDataFromBackup(backup *model.BackupData) error {
	err := IntegrateDataFromBackupBun(s.bun, backup)
	if err == nil {
		_ = s.LogAction("INTEGRATE_BACKUP", fmt.Sprintf("locks: %d", len(backup.Locks)))
	}
	return err
}
