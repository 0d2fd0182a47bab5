package event

import (
	"encoding/json"
	"fmt"
)

// CategoryCreatedPayload captures the payload for category.created events.
type CategoryCreatedPayload struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// CategoryRenamedPayload captures the payload for category.renamed events.
type CategoryRenamedPayload struct {
	Name string `json:"name"`
}

// CategoryReparentedPayload captures the payload for category.reparented events.
type CategoryReparentedPayload struct {
	NewParentID string `json:"new_parent_id,omitempty"`
}

// CategoryCurationChangedPayload captures the payload for
// category.curation_changed events.
type CategoryCurationChangedPayload struct {
	Curated bool `json:"curated"`
}

// DocumentCreatedPayload captures the payload for document.created events.
type DocumentCreatedPayload struct {
	Name       string `json:"name"`
	CategoryID string `json:"category_id,omitempty"`
}

// DocumentRenamedPayload captures the payload for document.renamed events.
type DocumentRenamedPayload struct {
	Name string `json:"name"`
}

// DocumentMovedPayload captures the payload for document.moved events.
type DocumentMovedPayload struct {
	NewCategoryID string `json:"new_category_id,omitempty"`
}

// TagAssignedPayload captures the payload for tag.assigned events.
// A leading "-" on Tag masks the same tag inherited from an ancestor.
type TagAssignedPayload struct {
	Tag string `json:"tag"`
}

// TagRemovedPayload captures the payload for tag.removed events.
type TagRemovedPayload struct {
	Tag string `json:"tag"`
}

// TaskCreatedPayload captures the payload for task.created events.
type TaskCreatedPayload struct {
	Text             string `json:"text"`
	CategoryID       string `json:"category_id,omitempty"`
	SourceDocumentID string `json:"source_document_id,omitempty"`
	SourceLine       int    `json:"source_line"`
	ContentHash      string `json:"content_hash"`
	Completed        bool   `json:"completed"`
}

// TaskCompletionChangedPayload captures the payload for
// task.completion_changed events.
type TaskCompletionChangedPayload struct {
	Completed bool `json:"completed"`
}

// TaskOrphanedPayload captures the payload for task.orphaned events.
type TaskOrphanedPayload struct {
	SourceDocumentID string `json:"source_document_id"`
}

// TaskRevivedPayload captures the payload for task.revived events.
type TaskRevivedPayload struct {
	SourceLine int  `json:"source_line"`
	Completed  bool `json:"completed"`
}

// MarshalPayload encodes a typed payload as JSON for storage.
func MarshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes an event's payload into its typed form.
//
// The event-type set is closed: an unknown type is an error so replay can
// halt instead of silently skipping state it does not understand.
func DecodePayload(evt Event) (any, error) {
	switch evt.Type {
	case TypeCategoryCreated:
		return unmarshalPayload[CategoryCreatedPayload](evt)
	case TypeCategoryRenamed:
		return unmarshalPayload[CategoryRenamedPayload](evt)
	case TypeCategoryReparented:
		return unmarshalPayload[CategoryReparentedPayload](evt)
	case TypeCategoryCurationChanged:
		return unmarshalPayload[CategoryCurationChangedPayload](evt)
	case TypeDocumentCreated:
		return unmarshalPayload[DocumentCreatedPayload](evt)
	case TypeDocumentRenamed:
		return unmarshalPayload[DocumentRenamedPayload](evt)
	case TypeDocumentMoved:
		return unmarshalPayload[DocumentMovedPayload](evt)
	case TypeTagAssigned:
		return unmarshalPayload[TagAssignedPayload](evt)
	case TypeTagRemoved:
		return unmarshalPayload[TagRemovedPayload](evt)
	case TypeTaskCreated:
		return unmarshalPayload[TaskCreatedPayload](evt)
	case TypeTaskCompletionChanged:
		return unmarshalPayload[TaskCompletionChangedPayload](evt)
	case TypeTaskOrphaned:
		return unmarshalPayload[TaskOrphanedPayload](evt)
	case TypeTaskRevived:
		return unmarshalPayload[TaskRevivedPayload](evt)
	default:
		return nil, fmt.Errorf("unknown event type: %s", evt.Type)
	}
}

func unmarshalPayload[P any](evt Event) (P, error) {
	var payload P
	if len(evt.PayloadJSON) == 0 {
		return payload, fmt.Errorf("%s: payload is required", evt.Type)
	}
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return payload, fmt.Errorf("%s: unmarshal payload: %w", evt.Type, err)
	}
	return payload, nil
}
