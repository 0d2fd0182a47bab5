// Package task models the task aggregate derived from document annotations.
//
// A task's stable identity is its content hash over (source document, source
// line, normalized text). Reconciliation matches exclusively on that hash, so
// re-running extraction against unchanged text finds the same task and
// produces no side effects.
package task

import (
	"fmt"
	"strings"

	"github.com/notefold/notefold/internal/domain/event"
	apperrors "github.com/notefold/notefold/internal/platform/errors"
)

// ErrTextEmpty indicates a task without usable text.
var ErrTextEmpty = apperrors.New(apperrors.CodeTaskTextEmpty, "task text is required")

// ErrHashEmpty indicates a task without a content hash.
var ErrHashEmpty = apperrors.New(apperrors.CodeTaskHashEmpty, "task content hash is required")

// ErrNotFound indicates a command against an uncreated task stream.
var ErrNotFound = apperrors.New(apperrors.CodeTaskNotFound, "task does not exist")

// Task is the aggregate state.
type Task struct {
	ID               string
	Text             string
	CategoryID       string
	SourceDocumentID string
	SourceLine       int
	ContentHash      string
	Completed        bool
	Orphaned         bool
	Created          bool
}

// New returns the empty state for a task stream.
func New(streamID string) Task {
	return Task{ID: streamID}
}

// Apply folds one event into the state. Pure.
func Apply(state Task, evt event.Event) (Task, error) {
	payload, err := event.DecodePayload(evt)
	if err != nil {
		return state, err
	}
	switch p := payload.(type) {
	case event.TaskCreatedPayload:
		state.Text = p.Text
		state.CategoryID = p.CategoryID
		state.SourceDocumentID = p.SourceDocumentID
		state.SourceLine = p.SourceLine
		state.ContentHash = p.ContentHash
		state.Completed = p.Completed
		state.Orphaned = false
		state.Created = true
	case event.TaskCompletionChangedPayload:
		state.Completed = p.Completed
	case event.TaskOrphanedPayload:
		state.Orphaned = true
	case event.TaskRevivedPayload:
		state.Orphaned = false
		state.SourceLine = p.SourceLine
		state.Completed = p.Completed
	default:
		return state, fmt.Errorf("task: unexpected event type %s", evt.Type)
	}
	return state, nil
}

// CreateInput carries the fields for a task.created event.
type CreateInput struct {
	Text             string
	CategoryID       string
	SourceDocumentID string
	SourceLine       int
	ContentHash      string
	Completed        bool
}

// DecideCreate produces task.created for a new stream.
func DecideCreate(input CreateInput) func(Task, uint64) ([]event.Event, error) {
	return func(state Task, version uint64) ([]event.Event, error) {
		if state.Created {
			return nil, nil
		}
		text := strings.TrimSpace(input.Text)
		if text == "" {
			return nil, ErrTextEmpty
		}
		if strings.TrimSpace(input.ContentHash) == "" {
			return nil, ErrHashEmpty
		}
		payload, err := event.MarshalPayload(event.TaskCreatedPayload{
			Text:             text,
			CategoryID:       strings.TrimSpace(input.CategoryID),
			SourceDocumentID: strings.TrimSpace(input.SourceDocumentID),
			SourceLine:       input.SourceLine,
			ContentHash:      input.ContentHash,
			Completed:        input.Completed,
		})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeTaskCreated, PayloadJSON: payload}}, nil
	}
}

// DecideObserved handles reconciliation re-observing an annotation whose
// hash matched an existing task. An unchanged task is a no-op, preserving
// reparse-idempotence; an orphaned task is revived rather than duplicated;
// a flipped checkbox carries a completion change. Content never mutates.
func DecideObserved(sourceLine int, completed bool) func(Task, uint64) ([]event.Event, error) {
	return func(state Task, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}

		if state.Orphaned {
			payload, err := event.MarshalPayload(event.TaskRevivedPayload{
				SourceLine: sourceLine,
				Completed:  completed,
			})
			if err != nil {
				return nil, err
			}
			return []event.Event{{Type: event.TypeTaskRevived, PayloadJSON: payload}}, nil
		}

		if completed != state.Completed {
			payload, err := event.MarshalPayload(event.TaskCompletionChangedPayload{Completed: completed})
			if err != nil {
				return nil, err
			}
			return []event.Event{{Type: event.TypeTaskCompletionChanged, PayloadJSON: payload}}, nil
		}
		return nil, nil
	}
}

// DecideOrphan produces task.orphaned. Orphaning is soft: the journal keeps
// the task so a restored annotation revives it.
func DecideOrphan() func(Task, uint64) ([]event.Event, error) {
	return func(state Task, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}
		if state.Orphaned {
			return nil, nil
		}
		payload, err := event.MarshalPayload(event.TaskOrphanedPayload{
			SourceDocumentID: state.SourceDocumentID,
		})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeTaskOrphaned, PayloadJSON: payload}}, nil
	}
}

// DecideSetCompleted produces task.completion_changed on actual transitions.
func DecideSetCompleted(completed bool) func(Task, uint64) ([]event.Event, error) {
	return func(state Task, version uint64) ([]event.Event, error) {
		if !state.Created {
			return nil, ErrNotFound
		}
		if state.Completed == completed {
			return nil, nil
		}
		payload, err := event.MarshalPayload(event.TaskCompletionChangedPayload{Completed: completed})
		if err != nil {
			return nil, err
		}
		return []event.Event{{Type: event.TypeTaskCompletionChanged, PayloadJSON: payload}}, nil
	}
}
