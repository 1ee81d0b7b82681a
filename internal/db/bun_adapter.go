package db

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"time"

	"github.com/uptrace/bun"

	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// LockModel maps the `locks` table for Bun queries.
type LockModel struct {
	bun.BaseModel `bun:"table:locks"`
	LockID        string         `bun:"lock_id,pk"`
	Name          string         `bun:"name"`
	Brand         sql.NullString `bun:"brand"`
	Firmware      sql.NullString `bun:"firmware"`
	BatteryLevel  float64        `bun:"battery_level"`
	BoltState     string         `bun:"bolt_state"`
	Locked        bool           `bun:"locked"`
	Jammed        bool           `bun:"jammed"`
	Managed       bool           `bun:"managed"`
	LastSeen      time.Time      `bun:"last_seen"`
}

// AuditLogModel maps the audit_log table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int    `bun:"id,pk,autoincrement"`
	Timestamp     string `bun:"timestamp"`
	Username      string `bun:"username"`
	Action        string `bun:"action"`
	Details       string `bun:"details"`
}

// SessionModel maps the sessions table. A single row (id = 1) holds the
// resumable cloud session.
type SessionModel struct {
	bun.BaseModel `bun:"table:sessions"`
	ID            int       `bun:"id,pk"`
	Username      string    `bun:"username"`
	UserID        string    `bun:"user_id"`
	DeviceID      string    `bun:"device_id"`
	AccessToken   string    `bun:"access_token"`
	IDToken       string    `bun:"id_token"`
	RefreshToken  string    `bun:"refresh_token"`
	ExpiresAt     time.Time `bun:"expires_at"`
}

// execRawProvider is a small interface used to accept either *bun.DB or *bun.Tx
// since both expose NewRaw(...).* methods returning *bun.RawQuery.
type execRawProvider interface {
	NewRaw(query string, args ...interface{}) *bun.RawQuery
}

// ExecRaw executes a raw SQL statement using the provided Bun DB or transaction.
func ExecRaw(ctx context.Context, exec execRawProvider, query string, args ...interface{}) (sql.Result, error) {
	return exec.NewRaw(query, args...).Exec(ctx)
}

// QueryRawInto runs a raw query and scans the result into dest using Bun's RawQuery.Scan.
func QueryRawInto(ctx context.Context, exec execRawProvider, dest interface{}, query string, args ...interface{}) error {
	return exec.NewRaw(query, args...).Scan(ctx, dest)
}

// --- Mapping helpers (centralized conversions) ---

func lockModelToModel(m LockModel) model.Lock {
	l := model.Lock{
		LockID:       m.LockID,
		Name:         m.Name,
		BatteryLevel: m.BatteryLevel,
		BoltState:    m.BoltState,
		Locked:       m.Locked,
		Jammed:       m.Jammed,
		Managed:      m.Managed,
		LastSeen:     m.LastSeen,
	}
	if m.Brand.Valid {
		l.Brand = m.Brand.String
	}
	if m.Firmware.Valid {
		l.Firmware = m.Firmware.String
	}
	return l
}

func lockToModel(l model.Lock) LockModel {
	return LockModel{
		LockID:       l.LockID,
		Name:         l.Name,
		Brand:        sql.NullString{String: l.Brand, Valid: l.Brand != ""},
		Firmware:     sql.NullString{String: l.Firmware, Valid: l.Firmware != ""},
		BatteryLevel: l.BatteryLevel,
		BoltState:    l.BoltState,
		Locked:       l.Locked,
		Jammed:       l.Jammed,
		Managed:      l.Managed,
		LastSeen:     l.LastSeen,
	}
}

func sessionModelToModel(m SessionModel) model.Session {
	return model.Session{
		ID:           m.ID,
		Username:     m.Username,
		UserID:       m.UserID,
		DeviceID:     m.DeviceID,
		AccessToken:  m.AccessToken,
		IDToken:      m.IDToken,
		RefreshToken: m.RefreshToken,
		ExpiresAt:    m.ExpiresAt,
	}
}

// --- Shared Bun implementations used by all dialect stores ---

// GetAllLocksBun returns the full lock inventory ordered by name.
func GetAllLocksBun(bdb *bun.DB) ([]model.Lock, error) {
	ctx := context.Background()
	var rows []LockModel
	if err := bdb.NewSelect().Model(&rows).Order("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Lock, 0, len(rows))
	for _, m := range rows {
		out = append(out, lockModelToModel(m))
	}
	return out, nil
}

// GetManagedLocksBun returns only the locks marked as managed.
func GetManagedLocksBun(bdb *bun.DB) ([]model.Lock, error) {
	ctx := context.Background()
	var rows []LockModel
	if err := bdb.NewSelect().Model(&rows).Where("managed = ?", true).Order("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Lock, 0, len(rows))
	for _, m := range rows {
		out = append(out, lockModelToModel(m))
	}
	return out, nil
}

// GetLockBun returns a single lock by id, or nil when unknown.
func GetLockBun(bdb *bun.DB, lockID string) (*model.Lock, error) {
	ctx := context.Background()
	var m LockModel
	err := bdb.NewSelect().Model(&m).Where("lock_id = ?", lockID).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	l := lockModelToModel(m)
	return &l, nil
}

// UpdateLockStateBun applies an observed state change to one inventory row.
func UpdateLockStateBun(bdb *bun.DB, lockID, boltState string, locked, jammed bool, batteryLevel float64) error {
	ctx := context.Background()
	_, err := bdb.NewUpdate().Model((*LockModel)(nil)).
		Set("bolt_state = ?", boltState).
		Set("locked = ?", locked).
		Set("jammed = ?", jammed).
		Set("battery_level = ?", batteryLevel).
		Set("last_seen = ?", time.Now()).
		Where("lock_id = ?", lockID).
		Exec(ctx)
	return MapDBError(err)
}

// SetLockManagedBun flips the managed flag for one lock.
func SetLockManagedBun(bdb *bun.DB, lockID string, managed bool) error {
	ctx := context.Background()
	res, err := bdb.NewUpdate().Model((*LockModel)(nil)).
		Set("managed = ?", managed).
		Where("lock_id = ?", lockID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteLockBun removes a lock from the inventory.
func DeleteLockBun(bdb *bun.DB, lockID string) error {
	ctx := context.Background()
	_, err := bdb.NewDelete().Model((*LockModel)(nil)).Where("lock_id = ?", lockID).Exec(ctx)
	return MapDBError(err)
}

// SaveSessionBun replaces the single persisted session row.
func SaveSessionBun(bdb *bun.DB, session model.Session) error {
	ctx := context.Background()
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := ExecRaw(ctx, tx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("failed to clear previous session: %w", err)
	}
	m := SessionModel{
		ID:           1,
		Username:     session.Username,
		UserID:       session.UserID,
		DeviceID:     session.DeviceID,
		AccessToken:  session.AccessToken,
		IDToken:      session.IDToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt,
	}
	if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", MapDBError(err))
	}
	return tx.Commit()
}

// GetSessionBun returns the persisted session, or nil when logged out.
func GetSessionBun(bdb *bun.DB) (*model.Session, error) {
	ctx := context.Background()
	var m SessionModel
	err := bdb.NewSelect().Model(&m).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s := sessionModelToModel(m)
	return &s, nil
}

// DeleteSessionBun removes the persisted session.
func DeleteSessionBun(bdb *bun.DB) error {
	ctx := context.Background()
	_, err := ExecRaw(ctx, bdb, "DELETE FROM sessions")
	return err
}

// GetAllAuditLogEntriesBun returns the audit trail, most recent first.
func GetAllAuditLogEntriesBun(bdb *bun.DB) ([]model.AuditLogEntry, error) {
	ctx := context.Background()
	var rows []AuditLogModel
	if err := bdb.NewSelect().Model(&rows).Order("id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(rows))
	for _, m := range rows {
		out = append(out, model.AuditLogEntry{
			ID:        m.ID,
			Timestamp: m.Timestamp,
			Username:  m.Username,
			Action:    m.Action,
			Details:   m.Details,
		})
	}
	return out, nil
}

// LogActionBun records an audit trail event attributed to the OS user.
func LogActionBun(bdb *bun.DB, action, details string) error {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	m := AuditLogModel{
		Timestamp: time.Now().Format(time.RFC3339),
		Username:  username,
		Action:    action,
		Details:   details,
	}
	_, err := bdb.NewInsert().Model(&m).Exec(context.Background())
	return err
}

// ExportDataForBackupBun collects all tables into a backup structure.
func ExportDataForBackupBun(bdb *bun.DB) (*model.BackupData, error) {
	locks, err := GetAllLocksBun(bdb)
	if err != nil {
		return nil, fmt.Errorf("failed to export locks: %w", err)
	}
	entries, err := GetAllAuditLogEntriesBun(bdb)
	if err != nil {
		return nil, fmt.Errorf("failed to export audit log: %w", err)
	}
	session, err := GetSessionBun(bdb)
	if err != nil {
		return nil, fmt.Errorf("failed to export session: %w", err)
	}
	backup := &model.BackupData{
		SchemaVersion:   1,
		Locks:           locks,
		AuditLogEntries: entries,
	}
	if session != nil {
		backup.Sessions = []model.Session{*session}
	}
	return backup, nil
}

// ImportDataFromBackupBun wipes the tables and restores the backup contents.
func ImportDataFromBackupBun(bdb *bun.DB, backup *model.BackupData) error {
	ctx := context.Background()
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"locks", "audit_log", "sessions"} {
		if _, err := ExecRaw(ctx, tx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear table %s: %w", table, err)
		}
	}
	if err := insertBackupTx(ctx, tx, backup); err != nil {
		return err
	}
	return tx.Commit()
}

// IntegrateDataFromBackupBun restores the backup contents without clearing
// existing rows; locks already present are left untouched.
func IntegrateDataFromBackupBun(bdb *bun.DB, backup *model.BackupData) error {
	ctx := context.Background()
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range backup.Locks {
		exists, err := tx.NewSelect().Model((*LockModel)(nil)).Where("lock_id = ?", l.LockID).Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		m := lockToModel(l)
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return fmt.Errorf("failed to integrate lock %s: %w", l.LockID, MapDBError(err))
		}
	}
	for _, e := range backup.AuditLogEntries {
		m := AuditLogModel{Timestamp: e.Timestamp, Username: e.Username, Action: e.Action, Details: e.Details}
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return fmt.Errorf("failed to integrate audit entry: %w", err)
		}
	}
	return tx.Commit()
}

func insertBackupTx(ctx context.Context, tx bun.Tx, backup *model.BackupData) error {
	for _, l := range backup.Locks {
		m := lockToModel(l)
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return fmt.Errorf("failed to restore lock %s: %w", l.LockID, MapDBError(err))
		}
	}
	for _, e := range backup.AuditLogEntries {
		m := AuditLogModel{Timestamp: e.Timestamp, Username: e.Username, Action: e.Action, Details: e.Details}
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return fmt.Errorf("failed to restore audit entry: %w", err)
		}
	}
	for _, s := range backup.Sessions {
		m := SessionModel{
			ID:           1,
			Username:     s.Username,
			UserID:       s.UserID,
			DeviceID:     s.DeviceID,
			AccessToken:  s.AccessToken,
			IDToken:      s.IDToken,
			RefreshToken: s.RefreshToken,
			ExpiresAt:    s.ExpiresAt,
		}
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return fmt.Errorf("failed to restore session: %w", MapDBError(err))
		}
	}
	return nil
}
