// Package category models the category-node aggregate.
//
// Categories form a tree: every node has at most one parent and cycles are
// forbidden. The cycle invariant is enforced on every re-parenting command
// by checking the prospective parent's ancestor chain before the event is
// accepted.
package category

import (
	"fmt"
	"strings"

	"github.com/notefold/notefold/internal/domain/event"
	apperrors "github.com/notefold/notefold/internal/platform/errors"
)

// ErrNameEmpty indicates a missing category name.
var ErrNameEmpty = apperrors.New(apperrors.CodeCategoryNameEmpty, "category name is required")

// ErrCycle indicates a re-parenting command that would create a cycle.
var ErrCycle = apperrors.New(apperrors.CodeCategoryCycle, "re-parenting would create a cycle")

// ErrNotFound indicates a command against an uncreated category stream.
var ErrNotFound = apperrors.New(apperrors.CodeCategoryNotFound, "category does not exist")

// ErrTagEmpty indicates a tag assignment without a tag.
var ErrTagEmpty = apperrors.New(apperrors.CodeTagEmpty, "tag is required")

// Category is the aggregate state, derived solely from the stream.
type Category struct {
	ID       string
	Name     string
	ParentID string
	Curated  bool
	Tags     []string
	Created  bool
}

// New returns the empty state for a category stream.
func New(streamID string) Category {
	return Category{ID: streamID}
}

// Apply folds one event into the state. Pure.
func Apply(state Category, evt event.Event) (Category, error) {
	payload, err := event.DecodePayload(evt)
	if err != nil {
		return state, err
	}
	switch p := payload.(type) {
	case event.CategoryCreatedPayload:
		state.Name = p.Name
		state.ParentID = p.ParentID
		state.Created = true
	case event.CategoryRenamedPayload:
		state.Name = p.Name
	case event.CategoryReparentedPayload:
		state.ParentID = p.NewParentID
	case event.CategoryCurationChangedPayload:
		state.Curated = p.Curated
	case event.TagAssignedPayload:
		state.Tags = appendTag(state.Tags, p.Tag)
	case event.TagRemovedPayload:
		state.Tags = removeTag(state.Tags, p.Tag)
	default:
		return state, fmt.Errorf("category: unexpected event type %s", evt.Type)
	}
	return state, nil
}

// DecideCreate produces category.created for a new stream.
func DecideCreate(name, parentID string) func(Category, uint64) ([]event.Event, error) {
	return func(state Category, version uint64) ([]event.Event, error) {
		if state.Created {
			return nil, nil
		}
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, ErrNameEmpty
		}
		payload, err := event.MarshalPayload(event.CategoryCreatedPayload{
			Name:     trimmed,
			ParentID: strings.TrimSpace(parentID),
		})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeCategoryCreated, PayloadJSON: payload}}, nil
	}
}

// DecideRename produces category.renamed when the name actually changes.
func DecideRename(name string) func(Category, uint64) ([]event.Event, error) {
	return func(state Category, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, ErrNameEmpty
		}
		if trimmed == state.Name {
			return nil, nil
		}
		payload, err := event.MarshalPayload(event.CategoryRenamedPayload{Name: trimmed})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeCategoryRenamed, PayloadJSON: payload}}, nil
	}
}

// DecideReparent produces category.reparented.
//
// newParentAncestors is the ancestor chain of the prospective parent,
// including the parent itself (looked up against the tree read model by the
// caller). The command is rejected when the aggregate's own id appears in
// that chain, which is exactly the cycle case.
func DecideReparent(newParentID string, newParentAncestors []string) func(Category, uint64) ([]event.Event, error) {
	return func(state Category, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}
		trimmed := strings.TrimSpace(newParentID)
		if trimmed == state.ID {
			return nil, ErrCycle
		}
		for _, ancestor := range newParentAncestors {
			if ancestor == state.ID {
				return nil, ErrCycle
			}
		}
		if trimmed == state.ParentID {
			return nil, nil
		}
		payload, err := event.MarshalPayload(event.CategoryReparentedPayload{NewParentID: trimmed})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeCategoryReparented, PayloadJSON: payload}}, nil
	}
}

// DecideAssignTag produces tag.assigned unless the tag is already present.
// Tags live on the entity's own stream so the tag index can key on it.
func DecideAssignTag(tag string) func(Category, uint64) ([]event.Event, error) {
	return func(state Category, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			return nil, ErrTagEmpty
		}
		if hasTag(state.Tags, trimmed) {
			return nil, nil
		}
		payload, err := event.MarshalPayload(event.TagAssignedPayload{Tag: trimmed})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeTagAssigned, PayloadJSON: payload}}, nil
	}
}

// DecideRemoveTag produces tag.removed when the tag is present.
func DecideRemoveTag(tag string) func(Category, uint64) ([]event.Event, error) {
	return func(state Category, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}
		trimmed := strings.TrimSpace(tag)
		if !hasTag(state.Tags, trimmed) {
			return nil, nil
		}
		payload, err := event.MarshalPayload(event.TagRemovedPayload{Tag: trimmed})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeTagRemoved, PayloadJSON: payload}}, nil
	}
}

func hasTag(tags []string, tag string) bool {
	for _, existing := range tags {
		if existing == tag {
			return true
		}
	}
	return false
}

func appendTag(tags []string, tag string) []string {
	if hasTag(tags, tag) {
		return tags
	}
	return append(tags, tag)
}

func removeTag(tags []string, tag string) []string {
	filtered := tags[:0:0]
	for _, existing := range tags {
		if existing != tag {
			filtered = append(filtered, existing)
		}
	}
	return filtered
}

// DecideSetCurated produces category.curation_changed on actual transitions.
func DecideSetCurated(curated bool) func(Category, uint64) ([]event.Event, error) {
	return func(state Category, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}
		if state.Curated == curated {
			return nil, nil
		}
		payload, err := event.MarshalPayload(event.CategoryCurationChangedPayload{Curated: curated})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeCategoryCurationChanged, PayloadJSON: payload}}, nil
	}
}
