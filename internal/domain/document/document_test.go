package document

import (
	"errors"
	"testing"

	"github.com/notefold/notefold/internal/domain/event"
)

func apply(t *testing.T, state Document, events []event.Event) Document {
	t.Helper()
	for _, evt := range events {
		next, err := Apply(state, evt)
		if err != nil {
			t.Fatalf("apply %s: %v", evt.Type, err)
		}
		state = next
	}
	return state
}

func createdDocument(t *testing.T, name, categoryID string) Document {
	t.Helper()
	state := New("doc-1")
	events, err := DecideCreate(name, categoryID)(state, 0)
	if err != nil {
		t.Fatalf("decide create: %v", err)
	}
	return apply(t, state, events)
}

func TestDecideCreateRequiresName(t *testing.T) {
	t.Parallel()

	_, err := DecideCreate("  ", "cat-1")(New("doc-1"), 0)
	if !errors.Is(err, ErrNameEmpty) {
		t.Fatalf("err = %v, want %v", err, ErrNameEmpty)
	}
}

func TestDecideCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	state := createdDocument(t, "Notes", "cat-1")
	events, err := DecideCreate("Other", "cat-2")(state, 1)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}

func TestCreateSetsPlacement(t *testing.T) {
	t.Parallel()

	state := createdDocument(t, "  Notes  ", "cat-1")
	if state.Name != "Notes" {
		t.Fatalf("name = %q, want Notes", state.Name)
	}
	if state.CategoryID != "cat-1" {
		t.Fatalf("category = %q, want cat-1", state.CategoryID)
	}
}

func TestDecideRenameSkipsSameName(t *testing.T) {
	t.Parallel()

	state := createdDocument(t, "Notes", "cat-1")
	events, err := DecideRename("Notes")(state, 1)
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}

func TestDecideMoveChangesCategory(t *testing.T) {
	t.Parallel()

	state := createdDocument(t, "Notes", "cat-1")
	events, err := DecideMove("cat-2")(state, 1)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	state = apply(t, state, events)
	if state.CategoryID != "cat-2" {
		t.Fatalf("category = %q, want cat-2", state.CategoryID)
	}

	events, err = DecideMove("cat-2")(state, 2)
	if err != nil {
		t.Fatalf("repeat move: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d after repeat move, want 0", len(events))
	}
}

func TestTagRoundTrip(t *testing.T) {
	t.Parallel()

	state := createdDocument(t, "Notes", "cat-1")

	events, err := DecideAssignTag("work")(state, 1)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	state = apply(t, state, events)
	if len(state.Tags) != 1 || state.Tags[0] != "work" {
		t.Fatalf("tags = %v, want [work]", state.Tags)
	}

	// Duplicate assignment appends nothing.
	events, err = DecideAssignTag("work")(state, 2)
	if err != nil {
		t.Fatalf("duplicate assign: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d for duplicate, want 0", len(events))
	}

	events, err = DecideRemoveTag("work")(state, 2)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	state = apply(t, state, events)
	if len(state.Tags) != 0 {
		t.Fatalf("tags = %v after removal, want empty", state.Tags)
	}
}

func TestCommandsRequireExistingDocument(t *testing.T) {
	t.Parallel()

	decisions := map[string]func(Document, uint64) ([]event.Event, error){
		"rename": DecideRename("Notes"),
		"move":   DecideMove("cat-2"),
		"assign": DecideAssignTag("work"),
		"remove": DecideRemoveTag("work"),
	}
	for name, decide := range decisions {
		if _, err := decide(New("doc-1"), 0); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: err = %v, want %v", name, err, ErrNotFound)
		}
	}
}
