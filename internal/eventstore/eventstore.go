// Package eventstore defines the append-only journal contract.
//
// The journal is the system's source of truth: events are immutable once
// appended, each stream is ordered by stream version, and a single global
// sequence imposes one total order across all streams. Corrections are new
// compensating events, never mutations of stored ones.
package eventstore

import (
	"context"

	"github.com/notefold/notefold/internal/domain/event"
	apperrors "github.com/notefold/notefold/internal/platform/errors"
)

// ErrConcurrencyConflict indicates an append raced another writer: the
// stream's current version no longer matches the caller's expected version.
// Command handlers reload and retry; storage never applies a stale append.
var ErrConcurrencyConflict = apperrors.New(apperrors.CodeConcurrencyConflict, "stream version mismatch")

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// Snapshot is an optional replay-cost optimization. It is always safe to
// discard: the stream replays from version zero to the same state.
type Snapshot struct {
	StreamID string
	Version  uint64
	State    []byte
}

// Store is the append-only event journal.
type Store interface {
	// Append commits events to a stream atomically. It fails with
	// ErrConcurrencyConflict when the stream's current version differs from
	// expectedVersion, and otherwise returns the stream's new version. Once
	// Append returns success the events survive process restart.
	Append(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) (uint64, error)

	// ReadStream returns one stream's events with version > fromVersion,
	// ordered by stream version ascending.
	ReadStream(ctx context.Context, streamID string, fromVersion uint64) ([]event.Event, error)

	// ReadAll returns up to limit events with global sequence > fromSeq,
	// ordered by global sequence ascending. This is the projection feed.
	ReadAll(ctx context.Context, fromSeq uint64, limit int) ([]event.Event, error)

	// LatestSeq returns the highest assigned global sequence (0 when empty).
	LatestSeq(ctx context.Context) (uint64, error)

	// SaveSnapshot persists a snapshot, replacing any older one for the stream.
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error

	// LoadSnapshot returns the latest snapshot for a stream, or ErrNotFound.
	LoadSnapshot(ctx context.Context, streamID string) (Snapshot, error)
}
