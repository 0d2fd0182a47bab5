package projection

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/notefold/notefold/internal/domain/event"
	evsqlite "github.com/notefold/notefold/internal/eventstore/sqlite"
)

// fakeProjection records applied sequences and can be told to fail at one.
type fakeProjection struct {
	name    string
	failAt  uint64
	applied []uint64
}

func (f *fakeProjection) Name() string { return f.name }

func (f *fakeProjection) Apply(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	if f.failAt != 0 && evt.GlobalSeq == f.failAt {
		return fmt.Errorf("injected failure at seq %d", evt.GlobalSeq)
	}
	f.applied = append(f.applied, evt.GlobalSeq)
	return nil
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log.WithField("component", "test")
}

func openTempJournal(t *testing.T) *evsqlite.Store {
	t.Helper()
	store, err := evsqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func appendCategory(t *testing.T, store *evsqlite.Store, streamID string, expected uint64) {
	t.Helper()
	payload, err := event.MarshalPayload(event.CategoryCreatedPayload{Name: "node " + streamID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if _, err := store.Append(context.Background(), streamID, expected, []event.Event{
		{Type: event.TypeCategoryCreated, PayloadJSON: payload},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestCatchUpAppliesEachEventOnce(t *testing.T) {
	t.Parallel()

	store := openTempJournal(t)
	proj := &fakeProjection{name: "fake"}
	orch, err := NewOrchestrator(store.DB(), store, testLogger(), proj)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	for _, stream := range []string{"cat-a", "cat-b", "cat-c"} {
		appendCategory(t, store, stream, 0)
	}

	ctx := context.Background()
	if err := orch.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if len(proj.applied) != 3 {
		t.Fatalf("applied %d events, want 3", len(proj.applied))
	}

	// No new events: a second pass is a no-op.
	if err := orch.CatchUp(ctx); err != nil {
		t.Fatalf("second catch up: %v", err)
	}
	if len(proj.applied) != 3 {
		t.Fatalf("second pass re-applied events: %v", proj.applied)
	}
}

func TestHaltedProjectionDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	store := openTempJournal(t)
	broken := &fakeProjection{name: "broken", failAt: 2}
	healthy := &fakeProjection{name: "healthy"}
	orch, err := NewOrchestrator(store.DB(), store, testLogger(), broken, healthy)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	appendCategory(t, store, "cat-a", 0)
	appendCategory(t, store, "cat-b", 0)
	appendCategory(t, store, "cat-c", 0)

	ctx := context.Background()
	if err := orch.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	if len(healthy.applied) != 3 {
		t.Fatalf("healthy projection applied %d events, want 3", len(healthy.applied))
	}
	if len(broken.applied) != 1 {
		t.Fatalf("broken projection applied %d events, want 1 before the failure", len(broken.applied))
	}

	statuses, err := orch.Statuses(ctx)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	byName := make(map[string]Status, len(statuses))
	for _, status := range statuses {
		byName[status.Name] = status
	}
	if !byName["broken"].Halted {
		t.Fatal("broken projection not reported halted")
	}
	if byName["broken"].LastSeq != 1 {
		t.Fatalf("broken checkpoint = %d, want 1", byName["broken"].LastSeq)
	}
	if byName["healthy"].Halted {
		t.Fatal("healthy projection reported halted")
	}
	if byName["healthy"].LastSeq != 3 {
		t.Fatalf("healthy checkpoint = %d, want 3", byName["healthy"].LastSeq)
	}
}

func TestResetResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	store := openTempJournal(t)
	proj := &fakeProjection{name: "flaky", failAt: 2}
	orch, err := NewOrchestrator(store.DB(), store, testLogger(), proj)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	appendCategory(t, store, "cat-a", 0)
	appendCategory(t, store, "cat-b", 0)
	appendCategory(t, store, "cat-c", 0)

	ctx := context.Background()
	if err := orch.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	if len(proj.applied) != 1 {
		t.Fatalf("applied %d events before halt, want 1", len(proj.applied))
	}

	// Halted projections are skipped until reset.
	if err := orch.CatchUp(ctx); err != nil {
		t.Fatalf("catch up while halted: %v", err)
	}
	if len(proj.applied) != 1 {
		t.Fatalf("halted projection advanced: %v", proj.applied)
	}

	// Operator fixes the data and resets; the pass resumes right after the
	// durable checkpoint.
	proj.failAt = 0
	orch.Reset("flaky")
	if err := orch.CatchUp(ctx); err != nil {
		t.Fatalf("catch up after reset: %v", err)
	}
	if len(proj.applied) != 3 {
		t.Fatalf("applied %d events after reset, want 3", len(proj.applied))
	}
	if proj.applied[1] != 2 || proj.applied[2] != 3 {
		t.Fatalf("resume order = %v, want [1 2 3]", proj.applied)
	}
}

func TestCheckpointSurvivesRestart(t *testing.T) {
	t.Parallel()

	store := openTempJournal(t)
	first := &fakeProjection{name: "persisted"}
	orch, err := NewOrchestrator(store.DB(), store, testLogger(), first)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	appendCategory(t, store, "cat-a", 0)
	ctx := context.Background()
	if err := orch.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	// A fresh orchestrator over the same database resumes from the stored
	// checkpoint instead of replaying.
	second := &fakeProjection{name: "persisted"}
	restarted, err := NewOrchestrator(store.DB(), store, testLogger(), second)
	if err != nil {
		t.Fatalf("restart orchestrator: %v", err)
	}
	appendCategory(t, store, "cat-b", 0)
	if err := restarted.CatchUp(ctx); err != nil {
		t.Fatalf("catch up after restart: %v", err)
	}
	if len(second.applied) != 1 || second.applied[0] != 2 {
		t.Fatalf("restarted projection applied %v, want [2]", second.applied)
	}
}
