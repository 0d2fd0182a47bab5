// Package projection drives derived read models from the event journal.
//
// Each projection owns its tables plus one checkpoint row recording the last
// global sequence it has applied. Data mutation and checkpoint advancement
// commit in the same transaction, so a crash mid-catch-up never leaves a
// projection's visible state ahead of its checkpoint.
package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/notefold/notefold/internal/domain/event"
)

// Projection applies journal events to one read model.
//
// Apply must be idempotent (upsert-style mutations): catch-up may redeliver
// an event after a crash between data commit phases of different
// projections, and replay rebuilds read models from sequence zero.
type Projection interface {
	// Name identifies the projection's checkpoint row.
	Name() string
	// Apply applies one event inside the catch-up transaction. Events the
	// projection does not care about must be ignored without error.
	Apply(ctx context.Context, tx *sql.Tx, evt event.Event) error
}

// Checkpoint returns a projection's last processed global sequence.
func Checkpoint(ctx context.Context, q queryer, name string) (uint64, error) {
	var seq int64
	err := q.QueryRowContext(ctx,
		"SELECT last_seq FROM projection_checkpoints WHERE projection_name = ?",
		name,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get checkpoint %s: %w", name, err)
	}
	return uint64(seq), nil
}

func advanceCheckpoint(ctx context.Context, tx *sql.Tx, name string, seq uint64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projection_checkpoints (projection_name, last_seq) VALUES (?, ?)
		 ON CONFLICT(projection_name) DO UPDATE SET last_seq = excluded.last_seq`,
		name,
		int64(seq),
	); err != nil {
		return fmt.Errorf("advance checkpoint %s: %w", name, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
