// Package query exposes read-only facades over the projection stores.
// No mutation path exists here: writes only ever happen through commands.
package query

import (
	"context"

	"github.com/notefold/notefold/internal/projection/tagindex"
	"github.com/notefold/notefold/internal/projection/taskview"
	"github.com/notefold/notefold/internal/projection/treeview"
)

// Tree answers hierarchy lookups.
type Tree struct {
	view *treeview.TreeView
}

func NewTree(view *treeview.TreeView) Tree {
	return Tree{view: view}
}

// Node returns one node by id.
func (t Tree) Node(ctx context.Context, nodeID string) (treeview.Node, error) {
	return t.view.Get(ctx, nodeID)
}

// Ancestors returns the chain from the node's immediate parent to the root.
func (t Tree) Ancestors(ctx context.Context, nodeID string) ([]treeview.Node, error) {
	return t.view.AncestorChain(ctx, nodeID)
}

// Children lists a node's direct children.
func (t Tree) Children(ctx context.Context, nodeID string) ([]treeview.Node, error) {
	return t.view.Children(ctx, nodeID)
}

// IDByPath resolves a display path, case-insensitively, to a node id.
func (t Tree) IDByPath(ctx context.Context, path string) (string, error) {
	return t.view.IDByPath(ctx, path)
}

// Tags answers tag lookups.
type Tags struct {
	index *tagindex.TagIndex
}

func NewTags(index *tagindex.TagIndex) Tags {
	return Tags{index: index}
}

// Direct returns an entity's own assignments.
func (t Tags) Direct(ctx context.Context, entityID string) ([]string, error) {
	return t.index.DirectTags(ctx, entityID)
}

// Resolved returns the effective tag set, ancestors included.
func (t Tags) Resolved(ctx context.Context, entityID string) ([]string, error) {
	return t.index.ResolveTags(ctx, entityID)
}

// Tasks answers task listings.
type Tasks struct {
	view *taskview.TaskView
}

func NewTasks(view *taskview.TaskView) Tasks {
	return Tasks{view: view}
}

// Get returns one task row.
func (t Tasks) Get(ctx context.Context, taskID string) (taskview.Row, error) {
	return t.view.Get(ctx, taskID)
}

// List returns task rows matching the filter.
func (t Tasks) List(ctx context.Context, filter taskview.Filter) ([]taskview.Row, error) {
	return t.view.List(ctx, filter)
}

// ByDocument returns the tasks linked to one document.
func (t Tasks) ByDocument(ctx context.Context, documentID string) ([]taskview.Row, error) {
	return t.view.ByDocument(ctx, documentID)
}
