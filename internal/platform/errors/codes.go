// Package errors provides structured error handling for the sync engine.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// Event store errors
	CodeConcurrencyConflict Code = "EVENTSTORE_CONCURRENCY_CONFLICT"

	// Category errors
	CodeCategoryNameEmpty Code = "CATEGORY_NAME_EMPTY"
	CodeCategoryCycle     Code = "CATEGORY_REPARENT_CYCLE"
	CodeCategoryNotFound  Code = "CATEGORY_NOT_FOUND"

	// Document errors
	CodeDocumentNameEmpty Code = "DOCUMENT_NAME_EMPTY"
	CodeDocumentNotFound  Code = "DOCUMENT_NOT_FOUND"

	// Tag errors
	CodeTagEmpty Code = "TAG_EMPTY"

	// Task errors
	CodeTaskTextEmpty Code = "TASK_TEXT_EMPTY"
	CodeTaskHashEmpty Code = "TASK_CONTENT_HASH_EMPTY"
	CodeTaskNotFound  Code = "TASK_NOT_FOUND"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)
