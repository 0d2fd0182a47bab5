package treeview

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/notefold/notefold/internal/domain/event"
	"github.com/notefold/notefold/internal/eventstore"
	evsqlite "github.com/notefold/notefold/internal/eventstore/sqlite"
)

func openTestView(t *testing.T) *TreeView {
	t.Helper()
	store, err := evsqlite.Open(filepath.Join(t.TempDir(), "tree.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	view, err := New(store.DB())
	if err != nil {
		t.Fatalf("new tree view: %v", err)
	}
	return view
}

func applyEvent(t *testing.T, view *TreeView, streamID string, eventType event.Type, payload any) {
	t.Helper()
	raw, err := event.MarshalPayload(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	tx, err := view.sqlDB.Begin()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	evt := event.Event{StreamID: streamID, Type: eventType, PayloadJSON: raw}
	if err := view.Apply(context.Background(), tx, evt); err != nil {
		_ = tx.Rollback()
		t.Fatalf("apply %s: %v", eventType, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func buildTree(t *testing.T, view *TreeView) {
	t.Helper()
	applyEvent(t, view, "root", event.TypeCategoryCreated, event.CategoryCreatedPayload{Name: "Root"})
	applyEvent(t, view, "mid", event.TypeCategoryCreated, event.CategoryCreatedPayload{Name: "Mid", ParentID: "root"})
	applyEvent(t, view, "leaf", event.TypeCategoryCreated, event.CategoryCreatedPayload{Name: "Leaf", ParentID: "mid"})
	applyEvent(t, view, "doc-1", event.TypeDocumentCreated, event.DocumentCreatedPayload{Name: "Notes", CategoryID: "leaf"})
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "Projects/Home", want: "projects/home"},
		{in: "Projects\\Home", want: "projects/home"},
		{in: "  Projects / Home  ", want: "projects/home"},
		{in: "//Projects//", want: "projects"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := NormalizePath(tc.in); got != tc.want {
			t.Fatalf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDisplayPathsFollowHierarchy(t *testing.T) {
	t.Parallel()

	view := openTestView(t)
	buildTree(t, view)

	doc, err := view.Get(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("get doc: %v", err)
	}
	if doc.DisplayPath != "Root/Mid/Leaf/Notes" {
		t.Fatalf("display path = %q, want Root/Mid/Leaf/Notes", doc.DisplayPath)
	}
	if doc.NormPath != "root/mid/leaf/notes" {
		t.Fatalf("norm path = %q, want root/mid/leaf/notes", doc.NormPath)
	}
	if doc.Kind != KindDocument {
		t.Fatalf("kind = %q, want %q", doc.Kind, KindDocument)
	}
}

func TestAncestorChainParentFirstRootLast(t *testing.T) {
	t.Parallel()

	view := openTestView(t)
	buildTree(t, view)

	chain, err := view.AncestorChain(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ancestor chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("len(chain) = %d, want 3", len(chain))
	}
	want := []string{"leaf", "mid", "root"}
	for i, node := range chain {
		if node.ID != want[i] {
			t.Fatalf("chain[%d] = %s, want %s", i, node.ID, want[i])
		}
	}
}

func TestIDByPathIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	view := openTestView(t)
	buildTree(t, view)

	id, err := view.IDByPath(context.Background(), "ROOT/mid/LEAF")
	if err != nil {
		t.Fatalf("id by path: %v", err)
	}
	if id != "leaf" {
		t.Fatalf("id = %q, want leaf", id)
	}

	if _, err := view.IDByPath(context.Background(), "root/nowhere"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("missing path err = %v, want %v", err, eventstore.ErrNotFound)
	}
}

func TestReparentRecomputesSubtreePaths(t *testing.T) {
	t.Parallel()

	view := openTestView(t)
	buildTree(t, view)
	applyEvent(t, view, "archive", event.TypeCategoryCreated, event.CategoryCreatedPayload{Name: "Archive"})

	applyEvent(t, view, "mid", event.TypeCategoryReparented, event.CategoryReparentedPayload{NewParentID: "archive"})

	doc, err := view.Get(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("get doc: %v", err)
	}
	if doc.DisplayPath != "Archive/Mid/Leaf/Notes" {
		t.Fatalf("display path = %q, want Archive/Mid/Leaf/Notes", doc.DisplayPath)
	}

	// The old path no longer resolves; the new one does.
	if _, err := view.IDByPath(context.Background(), "root/mid"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("stale path still resolves: %v", err)
	}
	id, err := view.IDByPath(context.Background(), "archive/mid/leaf/notes")
	if err != nil {
		t.Fatalf("new path: %v", err)
	}
	if id != "doc-1" {
		t.Fatalf("id = %q, want doc-1", id)
	}
}

func TestRenamePropagatesToDescendantPaths(t *testing.T) {
	t.Parallel()

	view := openTestView(t)
	buildTree(t, view)

	applyEvent(t, view, "mid", event.TypeCategoryRenamed, event.CategoryRenamedPayload{Name: "Middle"})

	leaf, err := view.Get(context.Background(), "leaf")
	if err != nil {
		t.Fatalf("get leaf: %v", err)
	}
	if leaf.DisplayPath != "Root/Middle/Leaf" {
		t.Fatalf("display path = %q, want Root/Middle/Leaf", leaf.DisplayPath)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	view := openTestView(t)
	applyEvent(t, view, "root", event.TypeCategoryCreated, event.CategoryCreatedPayload{Name: "Root"})
	applyEvent(t, view, "root", event.TypeCategoryCreated, event.CategoryCreatedPayload{Name: "Root"})

	children, err := view.Children(context.Background(), "")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("len(children) = %d, want 1", len(children))
	}
}

func TestDocumentMoveChangesAncestry(t *testing.T) {
	t.Parallel()

	view := openTestView(t)
	buildTree(t, view)

	applyEvent(t, view, "doc-1", event.TypeDocumentMoved, event.DocumentMovedPayload{NewCategoryID: "root"})

	chain, err := view.AncestorChain(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ancestor chain: %v", err)
	}
	if len(chain) != 1 || chain[0].ID != "root" {
		t.Fatalf("chain = %+v, want just root", chain)
	}
}
