// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.
package model

// BackupData is a container for all data to be exported for a backup.
// It holds slices of all the core models in Kevoctl.
type BackupData struct {
	// SchemaVersion helps in handling migrations during restore.
	SchemaVersion int `json:"schema_version"`

	// Data from each table.
	Locks           []Lock          `json:"locks"`
	AuditLogEntries []AuditLogEntry `json:"audit_log_entries"`
	Sessions        []Session       `json:"sessions"`
}
