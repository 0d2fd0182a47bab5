// Package curated answers "may reconciliation auto-assign tasks into this
// category?".
//
// The membership list is user-maintained: a YAML file of category ids or
// tree paths, optionally adjusted at runtime through curation commands.
// Resolution results are cached in an explicit object passed by handle;
// the cache is invalidated only by the event types that can change an
// answer (curation changes, category re-parenting), never by a timer.
package curated

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/notefold/notefold/internal/eventstore"
)

// TreeResolver resolves a normalized tree path to a category id. The
// tree-view projection satisfies it.
type TreeResolver interface {
	IDByPath(ctx context.Context, path string) (string, error)
}

// Provider answers curated-set membership.
type Provider interface {
	IsMember(ctx context.Context, categoryID string) (bool, error)
}

// File is the YAML shape of the user-maintained membership list.
type File struct {
	// Categories holds category ids or tree paths ("Projects/Home").
	Categories []string `yaml:"categories"`
}

// Set is the cached curated-set membership.
type Set struct {
	resolver TreeResolver

	mu        sync.RWMutex
	entries   []string
	resolved  map[string]bool // categoryID -> membership from the file
	overrides map[string]bool // categoryID -> membership from curation events
}

// Load reads the membership file and wires the resolver. An absent path
// yields an empty set: nothing is curated until the user says so.
func Load(path string, resolver TreeResolver) (*Set, error) {
	set := &Set{
		resolver:  resolver,
		resolved:  make(map[string]bool),
		overrides: make(map[string]bool),
	}
	if strings.TrimSpace(path) == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("read curated set file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse curated set file: %w", err)
	}
	for _, entry := range file.Categories {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			set.entries = append(set.entries, entry)
		}
	}
	return set, nil
}

// IsMember reports whether a category is curated. Curation-event overrides
// take precedence over the file; file entries naming paths are resolved
// through the tree view and the verdicts cached until invalidated.
func (s *Set) IsMember(ctx context.Context, categoryID string) (bool, error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return false, nil
	}

	s.mu.RLock()
	if member, ok := s.overrides[categoryID]; ok {
		s.mu.RUnlock()
		return member, nil
	}
	if member, ok := s.resolved[categoryID]; ok {
		s.mu.RUnlock()
		return member, nil
	}
	entries := s.entries
	s.mu.RUnlock()

	member := false
	for _, entry := range entries {
		if entry == categoryID {
			member = true
			break
		}
		looksLikePath := strings.ContainsAny(entry, "/\\")
		if s.resolver == nil || !looksLikePath {
			continue
		}
		id, err := s.resolver.IDByPath(ctx, entry)
		if err != nil {
			if errors.Is(err, eventstore.ErrNotFound) {
				continue
			}
			return false, err
		}
		if id == categoryID {
			member = true
			break
		}
	}

	s.mu.Lock()
	s.resolved[categoryID] = member
	s.mu.Unlock()
	return member, nil
}

// ApplyCurationChange records a curation event's verdict for a category.
func (s *Set) ApplyCurationChange(categoryID string, curated bool) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return
	}
	s.mu.Lock()
	s.overrides[categoryID] = curated
	s.mu.Unlock()
}

// InvalidateResolution drops cached file-entry verdicts. Called when a
// category re-parenting may have changed which node a path names.
func (s *Set) InvalidateResolution() {
	s.mu.Lock()
	s.resolved = make(map[string]bool)
	s.mu.Unlock()
}
