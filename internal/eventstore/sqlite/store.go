// Package sqlite provides the SQLite-backed event journal.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/notefold/notefold/internal/domain/event"
	"github.com/notefold/notefold/internal/eventstore"
	"github.com/notefold/notefold/internal/platform/storage/sqlitemigrate"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/notefold/notefold/internal/eventstore/sqlite/migrations"
)

// Store persists the event journal in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite journal store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// OpenDB wraps an existing handle and applies journal migrations.
// Projection stores share the handle so catch-up transactions can span
// their tables and the checkpoint rows.
func OpenDB(sqlDB *sql.DB) (*Store, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// DB exposes the underlying handle for stores sharing the same file.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append atomically appends events to a stream.
//
// The stream's current version is read and checked against expectedVersion
// inside the same transaction that inserts the events, so a stale append
// can never partially apply.
func (s *Store) Append(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(streamID) == "" {
		return 0, fmt.Errorf("stream id is required")
	}
	if len(events) == 0 {
		return 0, fmt.Errorf("at least one event is required")
	}
	for i, evt := range events {
		if !evt.Type.IsValid() {
			return 0, fmt.Errorf("event %d: type is required", i)
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := streamVersionTx(ctx, tx, streamID)
	if err != nil {
		return 0, err
	}
	if current != expectedVersion {
		return 0, eventstore.ErrConcurrencyConflict
	}

	version := current
	for _, evt := range events {
		version++
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (stream_id, stream_version, event_type, payload_json, timestamp)
			 VALUES (?, ?, ?, ?, ?)`,
			streamID,
			int64(version),
			string(evt.Type),
			evt.PayloadJSON,
			toMillis(evt.Timestamp),
		); err != nil {
			if isConstraintError(err) {
				return 0, eventstore.ErrConcurrencyConflict
			}
			return 0, fmt.Errorf("append event: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO streams (stream_id, version) VALUES (?, ?)
		 ON CONFLICT(stream_id) DO UPDATE SET version = excluded.version`,
		streamID,
		int64(version),
	); err != nil {
		return 0, fmt.Errorf("update stream version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return version, nil
}

func streamVersionTx(ctx context.Context, tx *sql.Tx, streamID string) (uint64, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		"SELECT version FROM streams WHERE stream_id = ?",
		streamID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get stream version: %w", err)
	}
	return uint64(version), nil
}

// ReadStream returns a stream's events with version > fromVersion.
func (s *Store) ReadStream(ctx context.Context, streamID string, fromVersion uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(streamID) == "" {
		return nil, fmt.Errorf("stream id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT global_seq, stream_id, stream_version, event_type, payload_json, timestamp
		 FROM events
		 WHERE stream_id = ? AND stream_version > ?
		 ORDER BY stream_version ASC`,
		streamID,
		int64(fromVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ReadAll returns the cross-stream feed ordered by global sequence.
func (s *Store) ReadAll(ctx context.Context, fromSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT global_seq, stream_id, stream_version, event_type, payload_json, timestamp
		 FROM events
		 WHERE global_seq > ?
		 ORDER BY global_seq ASC
		 LIMIT ?`,
		int64(fromSeq),
		int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestSeq returns the highest assigned global sequence.
func (s *Store) LatestSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var seq sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx,
		"SELECT MAX(global_seq) FROM events",
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// SaveSnapshot persists a snapshot, replacing any older one for the stream.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot eventstore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(snapshot.StreamID) == "" {
		return fmt.Errorf("stream id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO snapshots (stream_id, version, state, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(stream_id) DO UPDATE SET
		     version = excluded.version,
		     state = excluded.state,
		     saved_at = excluded.saved_at`,
		snapshot.StreamID,
		int64(snapshot.Version),
		snapshot.State,
		toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the latest snapshot for a stream.
func (s *Store) LoadSnapshot(ctx context.Context, streamID string) (eventstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return eventstore.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return eventstore.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(streamID) == "" {
		return eventstore.Snapshot{}, fmt.Errorf("stream id is required")
	}

	var (
		version int64
		state   []byte
	)
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT version, state FROM snapshots WHERE stream_id = ?",
		streamID,
	).Scan(&version, &state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return eventstore.Snapshot{}, eventstore.ErrNotFound
		}
		return eventstore.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	return eventstore.Snapshot{
		StreamID: streamID,
		Version:  uint64(version),
		State:    state,
	}, nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			globalSeq     int64
			streamID      string
			streamVersion int64
			eventType     string
			payload       []byte
			timestamp     int64
		)
		if err := rows.Scan(&globalSeq, &streamID, &streamVersion, &eventType, &payload, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event.Event{
			StreamID:      streamID,
			StreamVersion: uint64(streamVersion),
			GlobalSeq:     uint64(globalSeq),
			Timestamp:     fromMillis(timestamp),
			Type:          event.Type(eventType),
			PayloadJSON:   payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT ||
		code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}
