// Package document models the document aggregate.
//
// Documents live under a category node and carry the free text that
// reconciliation parses. The text itself is stored by an external
// collaborator; the aggregate tracks placement and naming only.
package document

import (
	"fmt"
	"strings"

	"github.com/notefold/notefold/internal/domain/event"
	apperrors "github.com/notefold/notefold/internal/platform/errors"
)

// ErrNameEmpty indicates a missing document name.
var ErrNameEmpty = apperrors.New(apperrors.CodeDocumentNameEmpty, "document name is required")

// ErrNotFound indicates a command against an uncreated document stream.
var ErrNotFound = apperrors.New(apperrors.CodeDocumentNotFound, "document does not exist")

// ErrTagEmpty indicates a tag assignment without a tag.
var ErrTagEmpty = apperrors.New(apperrors.CodeTagEmpty, "tag is required")

// Document is the aggregate state.
type Document struct {
	ID         string
	Name       string
	CategoryID string
	Tags       []string
	Created    bool
}

// New returns the empty state for a document stream.
func New(streamID string) Document {
	return Document{ID: streamID}
}

// Apply folds one event into the state. Pure.
func Apply(state Document, evt event.Event) (Document, error) {
	payload, err := event.DecodePayload(evt)
	if err != nil {
		return state, err
	}
	switch p := payload.(type) {
	case event.DocumentCreatedPayload:
		state.Name = p.Name
		state.CategoryID = p.CategoryID
		state.Created = true
	case event.DocumentRenamedPayload:
		state.Name = p.Name
	case event.DocumentMovedPayload:
		state.CategoryID = p.NewCategoryID
	case event.TagAssignedPayload:
		if !hasTag(state.Tags, p.Tag) {
			state.Tags = append(state.Tags, p.Tag)
		}
	case event.TagRemovedPayload:
		state.Tags = removeTag(state.Tags, p.Tag)
	default:
		return state, fmt.Errorf("document: unexpected event type %s", evt.Type)
	}
	return state, nil
}

// DecideCreate produces document.created for a new stream.
func DecideCreate(name, categoryID string) func(Document, uint64) ([]event.Event, error) {
	return func(state Document, version uint64) ([]event.Event, error) {
		if state.Created {
			return nil, nil
		}
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, ErrNameEmpty
		}
		payload, err := event.MarshalPayload(event.DocumentCreatedPayload{
			Name:       trimmed,
			CategoryID: strings.TrimSpace(categoryID),
		})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeDocumentCreated, PayloadJSON: payload}}, nil
	}
}

// DecideRename produces document.renamed when the name actually changes.
func DecideRename(name string) func(Document, uint64) ([]event.Event, error) {
	return func(state Document, version uint64) ([]event.Event, error) {
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
		payload, err := event.MarshalPayload(event.DocumentRenamedPayload{Name: trimmed})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeDocumentRenamed, PayloadJSON: payload}}, nil
	}
}

// DecideAssignTag produces tag.assigned unless the tag is already present.
func DecideAssignTag(tag string) func(Document, uint64) ([]event.Event, error) {
	return func(state Document, version uint64) ([]event.Event, error) {
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
func DecideRemoveTag(tag string) func(Document, uint64) ([]event.Event, error) {
	return func(state Document, version uint64) ([]event.Event, error) {
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

func removeTag(tags []string, tag string) []string {
	filtered := tags[:0:0]
	for _, existing := range tags {
		if existing != tag {
			filtered = append(filtered, existing)
		}
	}
	return filtered
}

// DecideMove produces document.moved.
func DecideMove(newCategoryID string) func(Document, uint64) ([]event.Event, error) {
	return func(state Document, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}
		trimmed := strings.TrimSpace(newCategoryID)
		if trimmed == state.CategoryID {
			return nil, nil
		}
		payload, err := event.MarshalPayload(event.DocumentMovedPayload{NewCategoryID: trimmed})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeDocumentMoved, PayloadJSON: payload}}, nil
	}
}
