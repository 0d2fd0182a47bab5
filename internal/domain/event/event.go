package event

import (
	"strings"
	"time"
)

// Type identifies the type of a journal event.
type Type string

// Category lifecycle events.
const (
	// TypeCategoryCreated records the creation of a category node.
	TypeCategoryCreated Type = "category.created"
	// TypeCategoryRenamed records a category display-name change.
	TypeCategoryRenamed Type = "category.renamed"
	// TypeCategoryReparented records a category moving under a new parent.
	TypeCategoryReparented Type = "category.reparented"
	// TypeCategoryCurationChanged records a curated-set membership change.
	TypeCategoryCurationChanged Type = "category.curation_changed"
)

// Document events.
const (
	// TypeDocumentCreated records the registration of a document.
	TypeDocumentCreated Type = "document.created"
	// TypeDocumentRenamed records a document display-name change.
	TypeDocumentRenamed Type = "document.renamed"
	// TypeDocumentMoved records a document moving under a new category.
	TypeDocumentMoved Type = "document.moved"
)

// Tag events.
const (
	// TypeTagAssigned records a tag assignment on an entity.
	TypeTagAssigned Type = "tag.assigned"
	// TypeTagRemoved records a tag removal from an entity.
	TypeTagRemoved Type = "tag.removed"
)

// Task events.
// Events represent facts that have occurred, not commands/requests.
const (
	// TypeTaskCreated records a task derived from document text.
	TypeTaskCreated Type = "task.created"
	// TypeTaskCompletionChanged records a completion-state transition.
	TypeTaskCompletionChanged Type = "task.completion_changed"
	// TypeTaskOrphaned records that a task's source annotation disappeared.
	TypeTaskOrphaned Type = "task.orphaned"
	// TypeTaskRevived records that an orphaned task's annotation reappeared.
	TypeTaskRevived Type = "task.revived"
)

// Event represents an immutable entry in the append-only journal.
type Event struct {
	// StreamID is the aggregate this event belongs to.
	StreamID string
	// StreamVersion is the event's 1-based position within its stream.
	// Assigned by storage on append.
	StreamVersion uint64
	// GlobalSeq orders the event across all streams (starts at 1).
	// Strictly monotonic; assigned by storage on append.
	GlobalSeq uint64
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "category", "task").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}
