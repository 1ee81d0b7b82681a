// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// Store defines the interface for all database operations in Kevoctl.
// This allows for multiple database backends to be implemented.
type Store interface {
	// Lock inventory methods
	GetAllLocks() ([]model.Lock, error)
	GetLock(lockID string) (*model.Lock, error)
	UpsertLock(lock model.Lock) error
	UpdateLockState(lockID, boltState string, locked, jammed bool, batteryLevel float64) error
	SetLockManaged(lockID string, managed bool) error
	GetManagedLocks() ([]model.Lock, error)
	DeleteLock(lockID string) error

	// Session methods
	SaveSession(session model.Session) error
	GetSession() (*model.Session, error)
	DeleteSession() error

	// Audit Log methods
	GetAllAuditLogEntries() ([]model.AuditLogEntry, error)
	LogAction(action string, details string) error

	// Backup methods
	ExportDataForBackup() (*model.BackupData, error)
	ImportDataFromBackup(backup *model.BackupData) error
	IntegrateDataFromBackup(backup *model.BackupData) error
}

// PackageStore adapts the package-level store wrappers to the narrower
// interfaces consumers declare, so callers can inject "whatever InitDB set
// up" without holding the Store value themselves.
type PackageStore struct{}

// UpsertLock inserts or refreshes a lock inventory row.
func (PackageStore) UpsertLock(lock model.Lock) error { return UpsertLock(lock) }

// UpdateLockState applies an observed state change to the inventory.
func (PackageStore) UpdateLockState(lockID, boltState string, locked, jammed bool, batteryLevel float64) error {
	return UpdateLockState(lockID, boltState, locked, jammed, batteryLevel)
}

// GetManagedLocks retrieves only the locks marked as managed.
func (PackageStore) GetManagedLocks() ([]model.Lock, error) { return GetManagedLocks() }

// LogAction records an audit trail event.
func (PackageStore) LogAction(action, details string) error { return LogAction(action, details) }
