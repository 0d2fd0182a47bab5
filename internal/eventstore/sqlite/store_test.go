package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/notefold/notefold/internal/domain/event"
	"github.com/notefold/notefold/internal/eventstore"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func categoryCreated(t *testing.T, name string) event.Event {
	t.Helper()
	payload, err := event.MarshalPayload(event.CategoryCreatedPayload{Name: name})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{Type: event.TypeCategoryCreated, PayloadJSON: payload}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestAppendAssignsVersionsAndSequence(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	version, err := store.Append(ctx, "cat-1", 0, []event.Event{
		categoryCreated(t, "Projects"),
		categoryCreated(t, "ignored duplicate for ordering"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}

	events, err := store.ReadStream(ctx, "cat-1", 0)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	for i, evt := range events {
		if evt.StreamVersion != uint64(i+1) {
			t.Fatalf("events[%d].StreamVersion = %d, want %d", i, evt.StreamVersion, i+1)
		}
		if evt.GlobalSeq == 0 {
			t.Fatalf("events[%d] missing global sequence", i)
		}
		if evt.Timestamp.IsZero() {
			t.Fatalf("events[%d] missing timestamp", i)
		}
	}
	if events[1].GlobalSeq <= events[0].GlobalSeq {
		t.Fatalf("global sequence not monotonic: %d then %d", events[0].GlobalSeq, events[1].GlobalSeq)
	}
}

func TestGlobalSequenceSpansStreams(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, "cat-a", 0, []event.Event{categoryCreated(t, "A")}); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if _, err := store.Append(ctx, "cat-b", 0, []event.Event{categoryCreated(t, "B")}); err != nil {
		t.Fatalf("append b: %v", err)
	}

	all, err := store.ReadAll(ctx, 0, 10)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if all[0].StreamID != "cat-a" || all[1].StreamID != "cat-b" {
		t.Fatalf("feed order = %s, %s", all[0].StreamID, all[1].StreamID)
	}
	if all[1].GlobalSeq <= all[0].GlobalSeq {
		t.Fatalf("cross-stream sequence not monotonic: %d then %d", all[0].GlobalSeq, all[1].GlobalSeq)
	}
}

func TestAppendConflictLeavesStreamUnchanged(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, "cat-1", 0, []event.Event{categoryCreated(t, "Projects")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := store.Append(ctx, "cat-1", 0, []event.Event{categoryCreated(t, "Stale")})
	if !errors.Is(err, eventstore.ErrConcurrencyConflict) {
		t.Fatalf("err = %v, want %v", err, eventstore.ErrConcurrencyConflict)
	}

	events, err := store.ReadStream(ctx, "cat-1", 0)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("conflicting append mutated the stream: %d events", len(events))
	}
}

func TestReadStreamFromVersion(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, "cat-1", 0, []event.Event{
		categoryCreated(t, "one"),
		categoryCreated(t, "two"),
		categoryCreated(t, "three"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := store.ReadStream(ctx, "cat-1", 2)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(events) != 1 || events[0].StreamVersion != 3 {
		t.Fatalf("events = %+v, want only version 3", events)
	}
}

func TestLatestSeq(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	seq, err := store.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 0 {
		t.Fatalf("empty store seq = %d, want 0", seq)
	}

	if _, err := store.Append(ctx, "cat-1", 0, []event.Event{categoryCreated(t, "A")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	seq, err = store.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq == 0 {
		t.Fatal("latest seq not advanced after append")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.LoadSnapshot(ctx, "cat-1"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("missing snapshot err = %v, want %v", err, eventstore.ErrNotFound)
	}

	saved := eventstore.Snapshot{StreamID: "cat-1", Version: 7, State: []byte(`{"name":"Projects"}`)}
	if err := store.SaveSnapshot(ctx, saved); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	got, err := store.LoadSnapshot(ctx, "cat-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got.Version != saved.Version {
		t.Fatalf("version = %d, want %d", got.Version, saved.Version)
	}
	if string(got.State) != string(saved.State) {
		t.Fatalf("state = %s, want %s", got.State, saved.State)
	}

	// Newer snapshots replace older ones.
	saved.Version = 12
	if err := store.SaveSnapshot(ctx, saved); err != nil {
		t.Fatalf("save newer snapshot: %v", err)
	}
	got, err = store.LoadSnapshot(ctx, "cat-1")
	if err != nil {
		t.Fatalf("load newer snapshot: %v", err)
	}
	if got.Version != 12 {
		t.Fatalf("version = %d, want 12", got.Version)
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := store.Append(context.Background(), "cat-1", 0, []event.Event{categoryCreated(t, "Projects")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.ReadStream(context.Background(), "cat-1", 0)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d after reopen, want 1", len(events))
	}
}
