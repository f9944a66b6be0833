package events

import (
	"context"
)

// Storage is the durable event queue collaborator. Implementations must make
// Claim a single atomic find-and-set operation: concurrent claims from N
// workers against M ready events yield exactly min(N, M) successes with no
// event claimed twice.
type Storage interface {
	// Store stores a new event. A nil or empty workerCodes gets the
	// default code.
	Store(ctx context.Context, ev StatusEvent, state ProcessingState,
		workerCodes []string, storedBy string) (StoredStatusEvent, error)

	// StoreChild stores a failed child event with its error content.
	// Child events are immutable once stored; the parent id is not
	// validated. Long messages and traces are silently truncated.
	StoreChild(ctx context.Context, child ChildStatusEvent,
		errorCode string, cause error) error

	// Get returns the event with the given id, or nil if absent.
	Get(ctx context.Context, id ID) (*StoredStatusEvent, error)

	// GetByState returns up to limit events in the given state, earliest
	// timestamp first. A limit < 1 or > 10000 is clamped to 10000.
	GetByState(ctx context.Context, state ProcessingState, limit int) ([]StoredStatusEvent, error)

	// Claim atomically finds the event with the earliest timestamp in
	// state from, restricted to the given worker codes (nil or empty
	// means the default code), sets it to state to recording the
	// updater, and returns it. Returns nil if no candidate exists.
	Claim(ctx context.Context, from ProcessingState, workerCodes []string,
		to ProcessingState, updater string) (*StoredStatusEvent, error)

	// SetState moves an event from an expected state to a new state.
	// Returns false if no event matched the id and expected state.
	SetState(ctx context.Context, id ID, from, to ProcessingState) (bool, error)

	// SetStateError moves an event from an expected state to FAILED,
	// recording the error code, message and trace. Long messages and
	// traces are silently truncated. Returns false if no event matched.
	SetStateError(ctx context.Context, id ID, from ProcessingState,
		errorCode string, cause error) (bool, error)

	// ResetFailed moves every FAILED event back to UNPROCESSED for
	// reprocessing.
	ResetFailed(ctx context.Context) error
}
