// Package treeview materializes the category/document hierarchy.
//
// The read model answers two lookups: id to ancestor chain, and normalized
// path to id. Path comparison is case- and separator-normalized so external
// callers can address nodes with either slash style and any casing.
package treeview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/notefold/notefold/internal/domain/event"
	"github.com/notefold/notefold/internal/eventstore"
	"github.com/notefold/notefold/internal/platform/storage/sqlitemigrate"
	"github.com/notefold/notefold/internal/projection/treeview/migrations"
)

// ProjectionName identifies the tree-view checkpoint row.
const ProjectionName = "tree_view"

// Node kinds.
const (
	KindCategory = "category"
	KindDocument = "document"
)

// PathSeparator joins display-path segments.
const PathSeparator = "/"

// Node is one row of the hierarchy read model.
type Node struct {
	ID          string
	ParentID    string
	Name        string
	Kind        string
	DisplayPath string
	NormPath    string
}

// TreeView is the hierarchy projection.
type TreeView struct {
	sqlDB *sql.DB
}

// New wires the projection over a shared handle and applies its migrations.
func New(sqlDB *sql.DB) (*TreeView, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		return nil, fmt.Errorf("run tree-view migrations: %w", err)
	}
	return &TreeView{sqlDB: sqlDB}, nil
}

// Name implements projection.Projection.
func (t *TreeView) Name() string { return ProjectionName }

// NormalizePath lowers case (Unicode case folding) and collapses both slash
// styles into the canonical separator.
func NormalizePath(path string) string {
	replaced := strings.ReplaceAll(path, "\\", PathSeparator)
	segments := strings.Split(replaced, PathSeparator)
	folder := cases.Fold()
	kept := segments[:0]
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		kept = append(kept, folder.String(segment))
	}
	return strings.Join(kept, PathSeparator)
}

// Apply implements projection.Projection with idempotent upserts.
func (t *TreeView) Apply(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	switch evt.Type {
	case event.TypeCategoryCreated, event.TypeCategoryRenamed, event.TypeCategoryReparented,
		event.TypeDocumentCreated, event.TypeDocumentRenamed, event.TypeDocumentMoved:
	default:
		return nil
	}

	payload, err := event.DecodePayload(evt)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case event.CategoryCreatedPayload:
		return t.upsertNode(ctx, tx, Node{ID: evt.StreamID, ParentID: p.ParentID, Name: p.Name, Kind: KindCategory})
	case event.CategoryRenamedPayload:
		return t.renameNode(ctx, tx, evt.StreamID, p.Name)
	case event.CategoryReparentedPayload:
		return t.reparentNode(ctx, tx, evt.StreamID, p.NewParentID)
	case event.DocumentCreatedPayload:
		return t.upsertNode(ctx, tx, Node{ID: evt.StreamID, ParentID: p.CategoryID, Name: p.Name, Kind: KindDocument})
	case event.DocumentRenamedPayload:
		return t.renameNode(ctx, tx, evt.StreamID, p.Name)
	case event.DocumentMovedPayload:
		return t.reparentNode(ctx, tx, evt.StreamID, p.NewCategoryID)
	}
	return nil
}

func (t *TreeView) upsertNode(ctx context.Context, tx *sql.Tx, node Node) error {
	if strings.TrimSpace(node.ID) == "" {
		return fmt.Errorf("node id is required")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tree_nodes (id, parent_id, name, kind, display_path, norm_path)
		 VALUES (?, ?, ?, ?, '', '')
		 ON CONFLICT(id) DO UPDATE SET
		     parent_id = excluded.parent_id,
		     name = excluded.name,
		     kind = excluded.kind`,
		node.ID, node.ParentID, node.Name, node.Kind,
	); err != nil {
		return fmt.Errorf("upsert tree node: %w", err)
	}
	return t.recomputePaths(ctx, tx, node.ID)
}

func (t *TreeView) renameNode(ctx context.Context, tx *sql.Tx, id, name string) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE tree_nodes SET name = ? WHERE id = ?",
		name, id,
	); err != nil {
		return fmt.Errorf("rename tree node: %w", err)
	}
	return t.recomputePaths(ctx, tx, id)
}

func (t *TreeView) reparentNode(ctx context.Context, tx *sql.Tx, id, newParentID string) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE tree_nodes SET parent_id = ? WHERE id = ?",
		newParentID, id,
	); err != nil {
		return fmt.Errorf("reparent tree node: %w", err)
	}
	return t.recomputePaths(ctx, tx, id)
}

// recomputePaths rebuilds display and normalized paths for a node and its
// whole subtree. Depth-first so every child sees its parent's fresh path.
func (t *TreeView) recomputePaths(ctx context.Context, tx *sql.Tx, id string) error {
	var (
		parentID string
		name     string
	)
	err := tx.QueryRowContext(ctx,
		"SELECT parent_id, name FROM tree_nodes WHERE id = ?",
		id,
	).Scan(&parentID, &name)
	if err != nil {
		return fmt.Errorf("load tree node %s: %w", id, err)
	}

	parentDisplay := ""
	if parentID != "" {
		err := tx.QueryRowContext(ctx,
			"SELECT display_path FROM tree_nodes WHERE id = ?",
			parentID,
		).Scan(&parentDisplay)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load parent node %s: %w", parentID, err)
		}
	}

	display := name
	if parentDisplay != "" {
		display = parentDisplay + PathSeparator + name
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE tree_nodes SET display_path = ?, norm_path = ? WHERE id = ?",
		display, NormalizePath(display), id,
	); err != nil {
		return fmt.Errorf("update tree node path: %w", err)
	}

	childRows, err := tx.QueryContext(ctx,
		"SELECT id FROM tree_nodes WHERE parent_id = ?",
		id,
	)
	if err != nil {
		return fmt.Errorf("list child nodes: %w", err)
	}
	var children []string
	for childRows.Next() {
		var child string
		if err := childRows.Scan(&child); err != nil {
			_ = childRows.Close()
			return fmt.Errorf("scan child node: %w", err)
		}
		children = append(children, child)
	}
	if err := childRows.Err(); err != nil {
		_ = childRows.Close()
		return fmt.Errorf("iterate child nodes: %w", err)
	}
	_ = childRows.Close()

	for _, child := range children {
		if err := t.recomputePaths(ctx, tx, child); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one node by id.
func (t *TreeView) Get(ctx context.Context, id string) (Node, error) {
	if err := ctx.Err(); err != nil {
		return Node{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Node{}, fmt.Errorf("node id is required")
	}
	var node Node
	err := t.sqlDB.QueryRowContext(ctx,
		"SELECT id, parent_id, name, kind, display_path, norm_path FROM tree_nodes WHERE id = ?",
		id,
	).Scan(&node.ID, &node.ParentID, &node.Name, &node.Kind, &node.DisplayPath, &node.NormPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Node{}, eventstore.ErrNotFound
		}
		return Node{}, fmt.Errorf("get tree node: %w", err)
	}
	return node, nil
}

// AncestorChain returns the node's ancestors starting at its immediate
// parent and ending at the root. A missing intermediate node ends the walk.
func (t *TreeView) AncestorChain(ctx context.Context, id string) ([]Node, error) {
	node, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var chain []Node
	seen := map[string]bool{node.ID: true}
	current := node.ParentID
	for current != "" {
		if seen[current] {
			// A cycle here means a projection defect; stop rather than loop.
			return chain, fmt.Errorf("ancestor cycle detected at %s", current)
		}
		seen[current] = true
		parent, err := t.Get(ctx, current)
		if err != nil {
			if errors.Is(err, eventstore.ErrNotFound) {
				return chain, nil
			}
			return nil, err
		}
		chain = append(chain, parent)
		current = parent.ParentID
	}
	return chain, nil
}

// IDByPath resolves a normalized path to a node id.
func (t *TreeView) IDByPath(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	norm := NormalizePath(path)
	if norm == "" {
		return "", fmt.Errorf("path is required")
	}
	var id string
	err := t.sqlDB.QueryRowContext(ctx,
		"SELECT id FROM tree_nodes WHERE norm_path = ?",
		norm,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", eventstore.ErrNotFound
		}
		return "", fmt.Errorf("lookup path: %w", err)
	}
	return id, nil
}

// Children lists a node's direct children ordered by name.
func (t *TreeView) Children(ctx context.Context, id string) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := t.sqlDB.QueryContext(ctx,
		`SELECT id, parent_id, name, kind, display_path, norm_path
		 FROM tree_nodes WHERE parent_id = ? ORDER BY name ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var node Node
		if err := rows.Scan(&node.ID, &node.ParentID, &node.Name, &node.Kind, &node.DisplayPath, &node.NormPath); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return nodes, nil
}
