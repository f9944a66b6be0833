// Package errors provides structured error handling for objsearch.
//
// Every error surfaced while processing an event is classified into a Kind
// that tells the retrier and the worker what to do with it: retry with the
// normal delay, retry with the escalating fatal backoff schedule, stop the
// worker entirely, or fail the event permanently. Each error also carries a
// short code that is persisted with the event when it terminally fails.
package errors

import (
	"fmt"
)

// Kind classifies an indexing error for retry and shutdown decisions.
type Kind int

const (
	// KindNone marks an error that carries no indexing classification.
	KindNone Kind = iota

	// KindRetriable is a transient error, safe to retry with the normal
	// fixed delay.
	KindRetriable

	// KindFatalRetriable is retriable, but each attempt consumes one slot
	// of the escalating fatal backoff schedule. Exhausting the schedule
	// escalates to KindFatal.
	KindFatalRetriable

	// KindFatal stops the worker loop. Continuing after a fatal error
	// risks cascading failures; the owning process restarts the worker.
	KindFatal

	// KindUnprocessable means the event can never succeed regardless of
	// retries. The event terminates as FAIL with the error recorded.
	KindUnprocessable

	// KindRetriesExceeded is a retriable error that ran out of attempts.
	// It is unrecoverable for the event but not fatal for the worker.
	KindRetriesExceeded
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRetriable:
		return "retriable"
	case KindFatalRetriable:
		return "fatal-retriable"
	case KindFatal:
		return "fatal"
	case KindUnprocessable:
		return "unprocessable"
	case KindRetriesExceeded:
		return "retries-exceeded"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error codes persisted with failed events. Kept to 20 characters or less
// so they fit the event storage error-code column.
const (
	CodeOther            = "OTHER"
	CodeSubobjectCount   = "SUBOBJECT_COUNT"
	CodeGUIDNotFound     = "GUID_NOT_FOUND"
	CodeLocationError    = "LOCATION_ERROR"
	CodeCyclicKey        = "CYCLIC_KEY"
	CodeIndexingConflict = "INDEXING_CONFLICT"
	CodeTypeNotFound     = "TYPE_NOT_FOUND"
	CodeParseError       = "PARSE_ERROR"
	CodeEventStore       = "EVENT_STORE"
	CodeRefPathDepth     = "REF_PATH_DEPTH"
	CodeExpansion        = "EXPANSION"
)

// IndexingError is the structured error type for event processing.
type IndexingError struct {
	// Kind is the retry/shutdown classification.
	Kind Kind

	// Code is the short error code persisted with failed events.
	Code string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *IndexingError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexingError) Unwrap() error {
	return e.Cause
}

// Retriable creates a transient error safe to retry with the normal delay.
func Retriable(code, message string, cause error) *IndexingError {
	return &IndexingError{Kind: KindRetriable, Code: code, Message: message, Cause: cause}
}

// FatalRetriable creates an error retried on the escalating backoff schedule.
func FatalRetriable(code, message string, cause error) *IndexingError {
	return &IndexingError{Kind: KindFatalRetriable, Code: code, Message: message, Cause: cause}
}

// Fatal creates an error that stops the worker loop.
func Fatal(code, message string, cause error) *IndexingError {
	return &IndexingError{Kind: KindFatal, Code: code, Message: message, Cause: cause}
}

// Unprocessable creates an error that permanently fails the event.
func Unprocessable(code, message string, cause error) *IndexingError {
	return &IndexingError{Kind: KindUnprocessable, Code: code, Message: message, Cause: cause}
}

// RetriesExceeded converts a retriable error whose attempts ran out. The
// original code and message are kept so the persisted event names the real
// problem rather than the retry machinery.
func RetriesExceeded(e *IndexingError) *IndexingError {
	return &IndexingError{
		Kind:    KindRetriesExceeded,
		Code:    e.Code,
		Message: e.Message,
		Cause:   e,
	}
}

// Escalate converts an exhausted fatal-retriable error to a fatal one.
func Escalate(e *IndexingError) *IndexingError {
	return &IndexingError{Kind: KindFatal, Code: e.Code, Message: e.Message, Cause: e}
}

// AsIndexing extracts the IndexingError from err, or wraps err as an
// unclassified unprocessable error with CodeOther.
func AsIndexing(err error) *IndexingError {
	if err == nil {
		return nil
	}
	if ie, ok := err.(*IndexingError); ok {
		return ie
	}
	return Unprocessable(CodeOther, err.Error(), err)
}

// KindOf returns the classification of err, or KindNone for plain errors.
func KindOf(err error) Kind {
	if ie, ok := err.(*IndexingError); ok {
		return ie.Kind
	}
	return KindNone
}

// CodeOf returns the persisted error code for err, or CodeOther for plain
// errors.
func CodeOf(err error) string {
	if ie, ok := err.(*IndexingError); ok {
		return ie.Code
	}
	return CodeOther
}

// IsRetriable reports whether err may be retried at all.
func IsRetriable(err error) bool {
	k := KindOf(err)
	return k == KindRetriable || k == KindFatalRetriable
}

// IsFatal reports whether err must stop the worker loop.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}
