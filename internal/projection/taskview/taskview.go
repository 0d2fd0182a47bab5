// Package taskview materializes flat, denormalized task rows for listing
// and filtering.
//
// Every column is populated by direct, explicit mapping from the event
// payload in this file. There is deliberately no per-field conversion
// layer: such layers have been observed to silently drop fields (a
// reference reduced to null) without raising an error.
package taskview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notefold/notefold/internal/domain/event"
	"github.com/notefold/notefold/internal/eventstore"
	"github.com/notefold/notefold/internal/platform/storage/sqlitemigrate"
	"github.com/notefold/notefold/internal/projection/taskview/migrations"
)

// ProjectionName identifies the task-view checkpoint row.
const ProjectionName = "task_view"

// Row is one denormalized task.
type Row struct {
	ID               string
	Text             string
	CategoryID       string
	SourceDocumentID string
	SourceLine       int
	ContentHash      string
	Completed        bool
	Orphaned         bool
	LastSeenSeq      uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Filter narrows task listings. Zero values mean "no constraint".
type Filter struct {
	CategoryID       *string
	SourceDocumentID string
	Completed        *bool
	Orphaned         *bool
}

// TaskView is the task projection.
type TaskView struct {
	sqlDB *sql.DB
}

// New wires the projection over a shared handle and applies its migrations.
func New(sqlDB *sql.DB) (*TaskView, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		return nil, fmt.Errorf("run task-view migrations: %w", err)
	}
	return &TaskView{sqlDB: sqlDB}, nil
}

// Name implements projection.Projection.
func (t *TaskView) Name() string { return ProjectionName }

// Apply implements projection.Projection with idempotent upserts.
func (t *TaskView) Apply(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	switch evt.Type {
	case event.TypeTaskCreated, event.TypeTaskCompletionChanged,
		event.TypeTaskOrphaned, event.TypeTaskRevived:
	default:
		return nil
	}

	payload, err := event.DecodePayload(evt)
	if err != nil {
		return err
	}

	millis := evt.Timestamp.UTC().UnixMilli()

	switch p := payload.(type) {
	case event.TaskCreatedPayload:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_rows (
			     id, text, category_id, source_document_id, source_line,
			     content_hash, completed, orphaned, last_seen_seq,
			     created_at, updated_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			     text = excluded.text,
			     category_id = excluded.category_id,
			     source_document_id = excluded.source_document_id,
			     source_line = excluded.source_line,
			     content_hash = excluded.content_hash,
			     completed = excluded.completed,
			     orphaned = 0,
			     last_seen_seq = excluded.last_seen_seq,
			     updated_at = excluded.updated_at`,
			evt.StreamID,
			p.Text,
			p.CategoryID,
			p.SourceDocumentID,
			p.SourceLine,
			p.ContentHash,
			boolToInt(p.Completed),
			int64(evt.GlobalSeq),
			millis,
			millis,
		); err != nil {
			return fmt.Errorf("insert task row: %w", err)
		}
	case event.TaskCompletionChangedPayload:
		if _, err := tx.ExecContext(ctx,
			`UPDATE task_rows
			 SET completed = ?, last_seen_seq = ?, updated_at = ?
			 WHERE id = ?`,
			boolToInt(p.Completed), int64(evt.GlobalSeq), millis, evt.StreamID,
		); err != nil {
			return fmt.Errorf("update task completion: %w", err)
		}
	case event.TaskOrphanedPayload:
		if _, err := tx.ExecContext(ctx,
			`UPDATE task_rows
			 SET orphaned = 1, updated_at = ?
			 WHERE id = ?`,
			millis, evt.StreamID,
		); err != nil {
			return fmt.Errorf("orphan task row: %w", err)
		}
	case event.TaskRevivedPayload:
		if _, err := tx.ExecContext(ctx,
			`UPDATE task_rows
			 SET orphaned = 0, source_line = ?, completed = ?, last_seen_seq = ?, updated_at = ?
			 WHERE id = ?`,
			p.SourceLine, boolToInt(p.Completed), int64(evt.GlobalSeq), millis, evt.StreamID,
		); err != nil {
			return fmt.Errorf("revive task row: %w", err)
		}
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

const rowColumns = `id, text, category_id, source_document_id, source_line,
content_hash, completed, orphaned, last_seen_seq, created_at, updated_at`

func scanRow(scanner interface{ Scan(...any) error }) (Row, error) {
	var (
		row       Row
		completed int
		orphaned  int
		seenSeq   int64
		createdAt int64
		updatedAt int64
	)
	if err := scanner.Scan(
		&row.ID,
		&row.Text,
		&row.CategoryID,
		&row.SourceDocumentID,
		&row.SourceLine,
		&row.ContentHash,
		&completed,
		&orphaned,
		&seenSeq,
		&createdAt,
		&updatedAt,
	); err != nil {
		return Row{}, err
	}
	row.Completed = completed != 0
	row.Orphaned = orphaned != 0
	row.LastSeenSeq = uint64(seenSeq)
	row.CreatedAt = time.UnixMilli(createdAt).UTC()
	row.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return row, nil
}

// Get returns one task row by id.
func (t *TaskView) Get(ctx context.Context, id string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Row{}, fmt.Errorf("task id is required")
	}
	row, err := scanRow(t.sqlDB.QueryRowContext(ctx,
		"SELECT "+rowColumns+" FROM task_rows WHERE id = ?",
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Row{}, eventstore.ErrNotFound
		}
		return Row{}, fmt.Errorf("get task row: %w", err)
	}
	return row, nil
}

// ByDocument returns every task linked to a document, orphaned included,
// ordered by source line. Reconciliation matches against this listing.
func (t *TaskView) ByDocument(ctx context.Context, documentID string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("document id is required")
	}
	rows, err := t.sqlDB.QueryContext(ctx,
		"SELECT "+rowColumns+" FROM task_rows WHERE source_document_id = ? ORDER BY source_line ASC",
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by document: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

// List returns task rows matching the filter, ordered by creation time.
func (t *TaskView) List(ctx context.Context, filter Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := "SELECT " + rowColumns + " FROM task_rows WHERE 1=1"
	var params []any
	if filter.CategoryID != nil {
		query += " AND category_id = ?"
		params = append(params, *filter.CategoryID)
	}
	if filter.SourceDocumentID != "" {
		query += " AND source_document_id = ?"
		params = append(params, filter.SourceDocumentID)
	}
	if filter.Completed != nil {
		query += " AND completed = ?"
		params = append(params, boolToInt(*filter.Completed))
	}
	if filter.Orphaned != nil {
		query += " AND orphaned = ?"
		params = append(params, boolToInt(*filter.Orphaned))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := t.sqlDB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("list task rows: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

func collectRows(rows *sql.Rows) ([]Row, error) {
	var collected []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		collected = append(collected, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return collected, nil
}
