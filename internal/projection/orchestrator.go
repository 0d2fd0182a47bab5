package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/notefold/notefold/internal/eventstore"
	"github.com/notefold/notefold/internal/platform/storage/sqlitemigrate"
	"github.com/notefold/notefold/internal/projection/migrations"
)

const catchUpPageSize = 200

// Status reports one projection's catch-up position and health.
type Status struct {
	Name    string
	LastSeq uint64
	// Halted is set when an event could not be applied. The projection
	// stops advancing past the failing event until Reset is called;
	// the other projections keep catching up.
	Halted      bool
	HaltedAtSeq uint64
	LastError   string
}

// Orchestrator catches projections up to the latest global sequence.
//
// CatchUp is invoked synchronously at the end of every command, before the
// command returns, so a caller querying a projection immediately after a
// write never observes stale data.
type Orchestrator struct {
	sqlDB       *sql.DB
	feed        eventstore.Store
	projections []Projection
	log         *logrus.Entry
	tracer      trace.Tracer

	mu     sync.Mutex
	halted map[string]Status
}

// NewOrchestrator wires projections over a shared SQLite handle and applies
// the checkpoint-table migration.
func NewOrchestrator(sqlDB *sql.DB, feed eventstore.Store, log *logrus.Entry, projections ...Projection) (*Orchestrator, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if feed == nil {
		return nil, fmt.Errorf("event feed is required")
	}
	if len(projections) == 0 {
		return nil, fmt.Errorf("at least one projection is required")
	}
	seen := make(map[string]bool, len(projections))
	for _, proj := range projections {
		if proj == nil || proj.Name() == "" {
			return nil, fmt.Errorf("projection with empty name")
		}
		if seen[proj.Name()] {
			return nil, fmt.Errorf("duplicate projection name: %s", proj.Name())
		}
		seen[proj.Name()] = true
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		return nil, fmt.Errorf("run checkpoint migrations: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		sqlDB:       sqlDB,
		feed:        feed,
		projections: projections,
		log:         log.WithField("component", "projection"),
		tracer:      otel.Tracer("notefold/projection"),
		halted:      make(map[string]Status),
	}, nil
}

// CatchUp advances every healthy projection to the latest global sequence.
//
// A projection that fails to apply an event is halted at its current
// checkpoint and skipped on subsequent passes; the remaining projections
// continue. Catch-up passes are serialized: concurrent command barriers
// queue here, and a pass that finds no new events is a no-op.
func (o *Orchestrator) CatchUp(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "projection.catch_up",
		trace.WithAttributes(attribute.Int("projection.count", len(o.projections))))
	defer span.End()

	for _, proj := range o.projections {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, stalled := o.halted[proj.Name()]; stalled {
			continue
		}
		if err := o.catchUpOne(ctx, proj); err != nil {
			return err
		}
	}
	return nil
}

// catchUpOne pages through the feed from the projection's checkpoint. Each
// page applies in one transaction together with the checkpoint advancement.
func (o *Orchestrator) catchUpOne(ctx context.Context, proj Projection) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		checkpoint, err := Checkpoint(ctx, o.sqlDB, proj.Name())
		if err != nil {
			return err
		}

		events, err := o.feed.ReadAll(ctx, checkpoint, catchUpPageSize)
		if err != nil {
			return fmt.Errorf("read feed for %s: %w", proj.Name(), err)
		}
		if len(events) == 0 {
			return nil
		}

		tx, err := o.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin catch-up tx: %w", err)
		}

		applied := checkpoint
		var applyErr error
		for _, evt := range events {
			if applyErr = proj.Apply(ctx, tx, evt); applyErr != nil {
				o.halt(proj.Name(), applied, evt.GlobalSeq, applyErr)
				break
			}
			applied = evt.GlobalSeq
		}

		if applyErr != nil && applied == checkpoint {
			// Nothing applied in this page; keep the durable checkpoint as is.
			_ = tx.Rollback()
			return nil
		}

		if err := advanceCheckpoint(ctx, tx, proj.Name(), applied); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit catch-up tx: %w", err)
		}

		if applyErr != nil {
			// The failing event stays unapplied; the checkpoint stops just
			// before it.
			return nil
		}
		if len(events) < catchUpPageSize {
			return nil
		}
	}
}

func (o *Orchestrator) halt(name string, lastSeq, failedSeq uint64, cause error) {
	status := Status{
		Name:        name,
		LastSeq:     lastSeq,
		Halted:      true,
		HaltedAtSeq: failedSeq,
		LastError:   cause.Error(),
	}
	o.halted[name] = status
	o.log.WithFields(logrus.Fields{
		"projection": name,
		"seq":        failedSeq,
	}).WithError(cause).Error("projection halted; manual intervention required")
}

// Statuses reports every projection's position and halt state.
func (o *Orchestrator) Statuses(ctx context.Context) ([]Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make([]Status, 0, len(o.projections))
	for _, proj := range o.projections {
		if status, stalled := o.halted[proj.Name()]; stalled {
			statuses = append(statuses, status)
			continue
		}
		checkpoint, err := Checkpoint(ctx, o.sqlDB, proj.Name())
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, Status{Name: proj.Name(), LastSeq: checkpoint})
	}
	return statuses, nil
}

// Reset clears a projection's halt marker so the next catch-up retries the
// failing event. Intended for operator use after fixing the underlying data.
func (o *Orchestrator) Reset(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.halted, name)
}
