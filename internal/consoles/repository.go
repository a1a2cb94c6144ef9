package consoles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/smartglass"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// timeFormat is fixed width so timestamps sort lexically.
	timeFormat = "2006-01-02T15:04:05.000000Z"
)

// Repository persists what consoles report.
//
// Implementations must be safe for concurrent use and store UTC times.
type Repository interface {
	// SaveDeviceInfo replaces the stored device info for a console.
	SaveDeviceInfo(ctx context.Context, consoleID string, info smartglass.DeviceInfo, at time.Time) error

	// DeviceInfo returns the stored device info, or ErrNoDeviceInfo.
	DeviceInfo(ctx context.Context, consoleID string) (*StoredDeviceInfo, error)

	// RecordState appends a snapshot to the console's history.
	RecordState(ctx context.Context, consoleID string, snap smartglass.Snapshot, at time.Time) error

	// History returns snapshots newest first.
	History(ctx context.Context, consoleID string, q HistoryQuery) ([]HistoryEntry, error)

	// PruneHistory deletes snapshots recorded before the cutoff.
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository on the console_device_info and
// console_state_history tables.
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveDeviceInfo upserts the device info row for consoleID.
func (r *SQLiteRepository) SaveDeviceInfo(ctx context.Context, consoleID string, info smartglass.DeviceInfo, at time.Time) error {
	if consoleID == "" {
		return fmt.Errorf("console id is required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO console_device_info
		   (console_id, manufacturer, model, serial_number, firmware_revision, name, locale, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(console_id) DO UPDATE SET
		   manufacturer = excluded.manufacturer,
		   model = excluded.model,
		   serial_number = excluded.serial_number,
		   firmware_revision = excluded.firmware_revision,
		   name = excluded.name,
		   locale = excluded.locale,
		   updated_at = excluded.updated_at`,
		consoleID, info.Manufacturer, info.Model, info.SerialNumber, info.FirmwareRevision,
		info.Name, info.Locale, at.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving device info: %w", err)
	}
	return nil
}

// DeviceInfo returns the stored device info for consoleID.
func (r *SQLiteRepository) DeviceInfo(ctx context.Context, consoleID string) (*StoredDeviceInfo, error) {
	var d StoredDeviceInfo
	var updatedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT console_id, manufacturer, model, serial_number, firmware_revision, name, locale, updated_at
		 FROM console_device_info WHERE console_id = ?`,
		consoleID,
	).Scan(&d.ConsoleID, &d.Info.Manufacturer, &d.Info.Model, &d.Info.SerialNumber,
		&d.Info.FirmwareRevision, &d.Info.Name, &d.Info.Locale, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDeviceInfo
	}
	if err != nil {
		return nil, fmt.Errorf("querying device info: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing device info timestamp %q: %w", updatedAt, err)
	}
	return &d, nil
}

// RecordState inserts one history row.
func (r *SQLiteRepository) RecordState(ctx context.Context, consoleID string, snap smartglass.Snapshot, at time.Time) error {
	if consoleID == "" {
		return fmt.Errorf("console id is required")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO console_state_history
		   (console_id, power, content, title_id, volume, muted, media_state, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		consoleID, snap.Power, snap.Content, int64(snap.TitleID), snap.Volume, snap.Muted,
		int64(snap.Media), at.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns snapshots for consoleID, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - consoleID: Console to read
//   - q: Optional time window and limit (default 50, max 500)
//
// Returns:
//   - []HistoryEntry: Possibly empty, never nil
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) History(ctx context.Context, consoleID string, q HistoryQuery) ([]HistoryEntry, error) {
	if consoleID == "" {
		return nil, fmt.Errorf("console id is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	conditions := []string{"console_id = ?"}
	args := []any{consoleID}
	if !q.Since.IsZero() {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, q.Since.UTC().Format(timeFormat))
	}
	if !q.Until.IsZero() {
		conditions = append(conditions, "recorded_at < ?")
		args = append(args, q.Until.UTC().Format(timeFormat))
	}
	args = append(args, limit)

	query := `SELECT id, console_id, power, content, title_id, volume, muted, media_state, recorded_at
		FROM console_state_history
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?` //nolint:gosec // conditions hold only ? placeholders

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var titleID, media int64
		var recordedAt string
		if err := rows.Scan(&e.ID, &e.ConsoleID, &e.Snapshot.Power, &e.Snapshot.Content, &titleID,
			&e.Snapshot.Volume, &e.Snapshot.Muted, &media, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.Snapshot.TitleID = uint32(titleID)            //nolint:gosec // G115: stored from a uint32
		e.Snapshot.Media = smartglass.MediaState(media) //nolint:gosec // G115: stored from a uint16
		if e.RecordedAt, err = time.Parse(timeFormat, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing history timestamp %q: %w", recordedAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history rows older than before.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM console_state_history WHERE recorded_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return n, nil
}
