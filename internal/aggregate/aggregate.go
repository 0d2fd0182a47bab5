// Package aggregate provides generic replay and command execution over the
// event journal.
//
// An aggregate's state is derived solely by replaying its own stream through
// a pure apply function; its version always equals the number of events ever
// applied. Snapshots only bound replay cost and are safe to discard.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notefold/notefold/internal/domain/event"
	"github.com/notefold/notefold/internal/eventstore"
)

const (
	defaultMaxRetries    = 3
	defaultRetryBackoff  = 25 * time.Millisecond
	maxRetryBackoff      = 500 * time.Millisecond
	defaultSnapshotEvery = 50
)

// Definition describes one aggregate kind.
type Definition[S any] struct {
	// New returns the empty state for a stream.
	New func(streamID string) S
	// Apply folds one event into the state. Pure: no I/O, no mutation of
	// the input beyond returning the next state.
	Apply func(state S, evt event.Event) (S, error)
}

// Barrier is invoked after every successful append, before Execute returns.
// Wiring the projection orchestrator here closes the read-after-write gap:
// a caller querying a projection right after a command sees its own write.
type Barrier interface {
	CatchUp(ctx context.Context) error
}

// Decide inspects loaded state and produces the events a command implies.
// Returning no events makes the command a no-op.
type Decide[S any] func(state S, version uint64) ([]event.Event, error)

// Runtime reconstructs aggregates and executes commands against them.
type Runtime[S any] struct {
	store         eventstore.Store
	def           Definition[S]
	barrier       Barrier
	maxRetries    int
	snapshotEvery uint64
}

// Option configures a Runtime.
type Option[S any] func(*Runtime[S])

// WithBarrier sets the post-append catch-up barrier.
func WithBarrier[S any](barrier Barrier) Option[S] {
	return func(r *Runtime[S]) { r.barrier = barrier }
}

// WithMaxRetries bounds conflict retries for Execute.
func WithMaxRetries[S any](retries int) Option[S] {
	return func(r *Runtime[S]) { r.maxRetries = retries }
}

// WithSnapshotEvery sets how many events may accumulate before a new
// snapshot is written. Zero disables snapshotting.
func WithSnapshotEvery[S any](every uint64) Option[S] {
	return func(r *Runtime[S]) { r.snapshotEvery = every }
}

// NewRuntime creates a runtime for one aggregate definition.
func NewRuntime[S any](store eventstore.Store, def Definition[S], opts ...Option[S]) (*Runtime[S], error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if def.New == nil {
		return nil, fmt.Errorf("aggregate definition requires New")
	}
	if def.Apply == nil {
		return nil, fmt.Errorf("aggregate definition requires Apply")
	}
	r := &Runtime[S]{
		store:         store,
		def:           def,
		maxRetries:    defaultMaxRetries,
		snapshotEvery: defaultSnapshotEvery,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Load reconstructs an aggregate from its latest snapshot plus subsequent
// events. The returned version counts every event applied to the stream.
func (r *Runtime[S]) Load(ctx context.Context, streamID string) (S, uint64, error) {
	var zero S
	if strings.TrimSpace(streamID) == "" {
		return zero, 0, fmt.Errorf("stream id is required")
	}

	state := r.def.New(streamID)
	var version uint64

	if r.snapshotEvery > 0 {
		snapshot, err := r.store.LoadSnapshot(ctx, streamID)
		switch {
		case err == nil:
			if err := json.Unmarshal(snapshot.State, &state); err != nil {
				// A stale or unreadable snapshot is discardable: fall back
				// to full replay from version zero.
				state = r.def.New(streamID)
			} else {
				version = snapshot.Version
			}
		case errors.Is(err, eventstore.ErrNotFound):
		default:
			return zero, 0, err
		}
	}

	events, err := r.store.ReadStream(ctx, streamID, version)
	if err != nil {
		return zero, 0, err
	}
	for _, evt := range events {
		next, err := r.def.Apply(state, evt)
		if err != nil {
			return zero, 0, fmt.Errorf("apply %s at version %d: %w", evt.Type, evt.StreamVersion, err)
		}
		state = next
		version = evt.StreamVersion
	}

	return state, version, nil
}

// Execute loads the aggregate, lets decide produce events, and appends them
// with expectedVersion equal to the loaded version. On a concurrency
// conflict it reloads and retries a bounded number of times; exhausting the
// retries surfaces the conflict to the caller.
func (r *Runtime[S]) Execute(ctx context.Context, streamID string, decide Decide[S]) (S, uint64, error) {
	var zero S
	if decide == nil {
		return zero, 0, fmt.Errorf("decide function is required")
	}

	retries := r.maxRetries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return zero, 0, err
			}
		}

		state, version, err := r.Load(ctx, streamID)
		if err != nil {
			return zero, 0, err
		}

		events, err := decide(state, version)
		if err != nil {
			return zero, 0, err
		}
		if len(events) == 0 {
			return state, version, nil
		}

		newVersion, err := r.store.Append(ctx, streamID, version, events)
		if err != nil {
			if errors.Is(err, eventstore.ErrConcurrencyConflict) {
				lastErr = err
				continue
			}
			return zero, 0, err
		}

		for _, evt := range events {
			version++
			evt.StreamVersion = version
			next, err := r.def.Apply(state, evt)
			if err != nil {
				return zero, 0, fmt.Errorf("apply %s at version %d: %w", evt.Type, version, err)
			}
			state = next
		}

		r.maybeSnapshot(ctx, streamID, state, newVersion, uint64(len(events)))

		if r.barrier != nil {
			if err := r.barrier.CatchUp(ctx); err != nil {
				return zero, 0, fmt.Errorf("projection catch-up: %w", err)
			}
		}

		return state, newVersion, nil
	}

	return zero, 0, lastErr
}

// maybeSnapshot writes a snapshot when the append crossed a snapshot
// boundary. Failures are ignored: snapshots are an optimization and the
// journal remains authoritative.
func (r *Runtime[S]) maybeSnapshot(ctx context.Context, streamID string, state S, version, appended uint64) {
	if r.snapshotEvery == 0 || version < r.snapshotEvery {
		return
	}
	if version/r.snapshotEvery == (version-appended)/r.snapshotEvery {
		return
	}
	serialized, err := json.Marshal(state)
	if err != nil {
		return
	}
	_ = r.store.SaveSnapshot(ctx, eventstore.Snapshot{
		StreamID: streamID,
		Version:  version,
		State:    serialized,
	})
}

func sleepBackoff(ctx context.Context, attempt int) error {
	backoff := defaultRetryBackoff << (attempt - 1)
	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
