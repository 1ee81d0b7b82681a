// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains the MySQL implementation of the database store.
package db

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/uptrace/bun"

	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// MySQLStore is the MySQL implementation of the Store interface.
type MySQLStore struct {
	bun *bun.DB
}

// GetAllLocks retrieves the full lock inventory.
func (s *MySQLStore) GetAllLocks() ([]model.Lock, error) {
	return GetAllLocksBun(s.bun)
}

// GetLock retrieves one lock by id, or nil when unknown.
func (s *MySQLStore) GetLock(lockID string) (*model.Lock, error) {
	return GetLockBun(s.bun, lockID)
}

// UpsertLock inserts or refreshes an inventory row. MySQL has no EXCLUDED
// pseudo-table, so the update side uses VALUES(). The managed flag is a
// local preference and survives refreshes of cloud-sourced fields.
func (s *MySQLStore) UpsertLock(lock model.Lock) error {
	m := lockToModel(lock)
	_, err := s.bun.NewInsert().Model(&m).
		On("DUPLICATE KEY UPDATE").
		Set("name = VALUES(name)").
		Set("brand = VALUES(brand)").
		Set("firmware = VALUES(firmware)").
		Set("battery_level = VALUES(battery_level)").
		Set("bolt_state = VALUES(bolt_state)").
		Set("locked = VALUES(locked)").
		Set("jammed = VALUES(jammed)").
		Set("last_seen = VALUES(last_seen)").
		Exec(context.Background())
	return MapDBError(err)
}

// UpdateLockState applies an observed state change.
func (s *MySQLStore) UpdateLockState(lockID, boltState string, locked, jammed bool, batteryLevel float64) error {
	return UpdateLockStateBun(s.bun, lockID, boltState, locked, jammed, batteryLevel)
}

// SetLockManaged flips the managed flag for a lock.
func (s *MySQLStore) SetLockManaged(lockID string, managed bool) error {
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
func (s *MySQLStore) GetManagedLocks() ([]model.Lock, error) {
	return GetManagedLocksBun(s.bun)
}

// DeleteLock removes a lock from the inventory.
func (s *MySQLStore) DeleteLock(lockID string) error {
	err := DeleteLockBun(s.bun, lockID)
	if err == nil {
		_ = s.LogAction("DELETE_LOCK", fmt.Sprintf("lock_id: %s", lockID))
	}
	return err
}

// SaveSession persists the cloud session for later resumption.
func (s *MySQLStore) SaveSession(session model.Session) error {
	return SaveSessionBun(s.bun, session)
}

// GetSession retrieves the persisted session, or nil when logged out.
func (s *MySQLStore) GetSession() (*model.Session, error) {
	return GetSessionBun(s.bun)
}

// DeleteSession removes the persisted session.
func (s *MySQLStore) DeleteSession() error {
	return DeleteSessionBun(s.bun)
}

// GetAllAuditLogEntries retrieves the audit trail, most recent first.
func (s *MySQLStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *MySQLStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}

// ExportDataForBackup retrieves all data from the database for a backup.
func (s *MySQLStore) ExportDataForBackup() (*model.BackupData, error) {
	return ExportDataForBackupBun(s.bun)
}

// ImportDataFromBackup restores the database from a backup, replacing all data.
func (s *MySQLStore) ImportDataFromBackup(backup *model.BackupData) error {
	err := ImportDataFromBackupBun(s.bun, backup)
	if err == nil {
		_ = s.LogAction("RESTORE_BACKUP", fmt.Sprintf("locks: %d", len(backup.Locks)))
	}
	return err
}

// IntegrateDataFromBackup restores the database from a backup in a non-destructive way.
func (s *MySQLStore) IntegrateDataFromBackup(backup *model.BackupData) error {
	err := IntegrateDataFromBackupBun(s.bun, backup)
	if err == nil {
		_ = s.LogAction("INTEGRATE_BACKUP", fmt.Sprintf("locks: %d", len(backup.Locks)))
	}
	return err
}
