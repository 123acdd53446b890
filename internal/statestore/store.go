package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// timeLayout is fixed width so ORDER BY on the text column is chronological.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// SourceCommand is the history source for states from requests that do not
// name their origin.
const SourceCommand = "command"

var (
	// ErrNotFound is returned when no state exists for a device.
	ErrNotFound = errors.New("statestore: state not found")

	// ErrInvalidKey is returned when the handler or device ID is empty.
	ErrInvalidKey = errors.New("statestore: handler and device id are required")
)

// DeviceState is the latest state reported by one device.
type DeviceState struct {
	HandlerID string    `json:"handler_id"`
	DeviceID  string    `json:"device_id"`
	State     string    `json:"state"`
	Operation string    `json:"operation,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is one row of the state change log.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	HandlerID string    `json:"handler_id"`
	DeviceID  string    `json:"device_id"`
	State     string    `json:"state"`
	Operation string    `json:"operation,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes device states in SQLite. It is safe for concurrent
// use to the extent *sql.DB is.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Store over an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// RecordState upserts the latest state for a device and appends it to the
// history log in one transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - st: State to record; UpdatedAt is set by the store
//   - source: Origin of the request ("api", "automation", ...); empty means SourceCommand
//
// Returns:
//   - error: ErrInvalidKey, or the underlying database error
func (s *Store) RecordState(ctx context.Context, st DeviceState, source string) error {
	if st.HandlerID == "" || st.DeviceID == "" {
		return ErrInvalidKey
	}
	if source == "" {
		source = SourceCommand
	}
	ts := s.now().UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO serial_device_state (handler_id, device_id, state, operation, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (handler_id, device_id) DO UPDATE SET
		   state = excluded.state,
		   operation = excluded.operation,
		   updated_at = excluded.updated_at`,
		st.HandlerID, st.DeviceID, st.State, st.Operation, ts,
	); err != nil {
		return fmt.Errorf("upserting device state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO serial_state_history (handler_id, device_id, state, operation, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.HandlerID, st.DeviceID, st.State, st.Operation, source, ts,
	); err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}

// LastState returns the latest recorded state for a device.
func (s *Store) LastState(ctx context.Context, handlerID, deviceID string) (DeviceState, error) {
	if handlerID == "" || deviceID == "" {
		return DeviceState{}, ErrInvalidKey
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT handler_id, device_id, state, operation, updated_at
		 FROM serial_device_state
		 WHERE handler_id = ? AND device_id = ?`,
		handlerID, deviceID,
	)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceState{}, fmt.Errorf("%w: %s/%s", ErrNotFound, handlerID, deviceID)
	}
	return st, err
}

// ListStates returns the latest states for a handler ordered by device ID.
// An empty handlerID lists every handler.
func (s *Store) ListStates(ctx context.Context, handlerID string) ([]DeviceState, error) {
	query := `SELECT handler_id, device_id, state, operation, updated_at FROM serial_device_state`
	var args []any
	if handlerID != "" {
		query += ` WHERE handler_id = ?`
		args = append(args, handlerID)
	}
	query += ` ORDER BY handler_id, device_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device states: %w", err)
	}
	defer rows.Close()

	var states []DeviceState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device states: %w", err)
	}
	return states, nil
}

// GetHistory returns recent history entries for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - handlerID, deviceID: Device key
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Entries ordered by created_at DESC (may be empty)
//   - error: ErrInvalidKey, or the underlying query error
func (s *Store) GetHistory(ctx context.Context, handlerID, deviceID string, limit int) ([]HistoryEntry, error) {
	if handlerID == "" || deviceID == "" {
		return nil, ErrInvalidKey
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handler_id, device_id, state, operation, source, created_at
		 FROM serial_state_history
		 WHERE handler_id = ? AND device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		handlerID, deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.HandlerID, &e.DeviceID, &e.State, &e.Operation, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history entries older than olderThan and returns the
// number of rows removed. Latest states are never pruned.
func (s *Store) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := s.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM serial_state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (DeviceState, error) {
	var st DeviceState
	var updatedAt string
	if err := row.Scan(&st.HandlerID, &st.DeviceID, &st.State, &st.Operation, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DeviceState{}, err
		}
		return DeviceState{}, fmt.Errorf("scanning device state: %w", err)
	}
	ts, err := parseTimestamp(updatedAt)
	if err != nil {
		return DeviceState{}, err
	}
	st.UpdatedAt = ts
	return st, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	ts, err := time.Parse(timeLayout, value)
	if err == nil {
		return ts, nil
	}
	if fallback, fbErr := time.Parse(time.RFC3339Nano, value); fbErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
}
