// Package tagindex materializes entity tag sets with tree inheritance.
//
// A tag assigned to a category applies transitively to every descendant
// unless a descendant overrides it with the "-tag" form. The projection
// keeps its own parent map so resolution never reads another projection's
// tables.
package tagindex

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/notefold/notefold/internal/domain/event"
	"github.com/notefold/notefold/internal/platform/storage/sqlitemigrate"
	"github.com/notefold/notefold/internal/projection/tagindex/migrations"
)

// ProjectionName identifies the tag-index checkpoint row.
const ProjectionName = "tag_index"

// OverridePrefix marks a direct assignment that masks an inherited tag.
const OverridePrefix = "-"

// TagIndex is the tag projection.
type TagIndex struct {
	sqlDB *sql.DB
}

// New wires the projection over a shared handle and applies its migrations.
func New(sqlDB *sql.DB) (*TagIndex, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		return nil, fmt.Errorf("run tag-index migrations: %w", err)
	}
	return &TagIndex{sqlDB: sqlDB}, nil
}

// Name implements projection.Projection.
func (t *TagIndex) Name() string { return ProjectionName }

// Apply implements projection.Projection with idempotent upserts.
func (t *TagIndex) Apply(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	switch evt.Type {
	case event.TypeTagAssigned, event.TypeTagRemoved,
		event.TypeCategoryCreated, event.TypeCategoryReparented,
		event.TypeDocumentCreated, event.TypeDocumentMoved:
	default:
		return nil
	}

	payload, err := event.DecodePayload(evt)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case event.TagAssignedPayload:
		tag := strings.TrimSpace(p.Tag)
		if tag == "" {
			return fmt.Errorf("tag is required")
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO entity_tags (entity_id, tag) VALUES (?, ?)",
			evt.StreamID, tag,
		); err != nil {
			return fmt.Errorf("assign tag: %w", err)
		}
	case event.TagRemovedPayload:
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM entity_tags WHERE entity_id = ? AND tag = ?",
			evt.StreamID, strings.TrimSpace(p.Tag),
		); err != nil {
			return fmt.Errorf("remove tag: %w", err)
		}
	case event.CategoryCreatedPayload:
		return t.upsertParent(ctx, tx, evt.StreamID, p.ParentID)
	case event.CategoryReparentedPayload:
		return t.upsertParent(ctx, tx, evt.StreamID, p.NewParentID)
	case event.DocumentCreatedPayload:
		return t.upsertParent(ctx, tx, evt.StreamID, p.CategoryID)
	case event.DocumentMovedPayload:
		return t.upsertParent(ctx, tx, evt.StreamID, p.NewCategoryID)
	}
	return nil
}

func (t *TagIndex) upsertParent(ctx context.Context, tx *sql.Tx, entityID, parentID string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tag_entity_parents (entity_id, parent_id) VALUES (?, ?)
		 ON CONFLICT(entity_id) DO UPDATE SET parent_id = excluded.parent_id`,
		entityID, parentID,
	); err != nil {
		return fmt.Errorf("upsert tag parent: %w", err)
	}
	return nil
}

// DirectTags returns an entity's own assignments, overrides included.
func (t *TagIndex) DirectTags(ctx context.Context, entityID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := t.sqlDB.QueryContext(ctx,
		"SELECT tag FROM entity_tags WHERE entity_id = ? ORDER BY tag ASC",
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list direct tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

// ResolveTags returns the effective tag set for an entity: its own tags
// plus every ancestor's, nearest declaration winning. A "-tag" declaration
// masks the same tag inherited from further up.
func (t *TagIndex) ResolveTags(ctx context.Context, entityID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(entityID) == "" {
		return nil, fmt.Errorf("entity id is required")
	}

	decided := make(map[string]bool)
	seen := make(map[string]bool)
	current := entityID
	for current != "" && !seen[current] {
		seen[current] = true

		tags, err := t.DirectTags(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, tag := range tags {
			base := strings.TrimPrefix(tag, OverridePrefix)
			if base == "" {
				continue
			}
			if _, ok := decided[base]; ok {
				continue
			}
			decided[base] = !strings.HasPrefix(tag, OverridePrefix)
		}

		var parent string
		err = t.sqlDB.QueryRowContext(ctx,
			"SELECT parent_id FROM tag_entity_parents WHERE entity_id = ?",
			current,
		).Scan(&parent)
		if err != nil {
			if err == sql.ErrNoRows {
				break
			}
			return nil, fmt.Errorf("lookup tag parent: %w", err)
		}
		current = parent
	}

	var resolved []string
	for tag, included := range decided {
		if included {
			resolved = append(resolved, tag)
		}
	}
	sort.Strings(resolved)
	return resolved, nil
}
