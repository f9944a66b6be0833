// Package handler defines the object-store collaborator boundary: one
// EventHandler implementation per source system, keyed by storage code.
package handler

import (
	"context"
	"time"

	"github.com/reefdata/objsearch/internal/events"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/rules"
)

// SourceData is an object's raw data loaded from the source system. The
// data is spooled to a scratch file owned by the operation that loaded it;
// Path points at that file.
type SourceData struct {
	// Path is the scratch file holding the object's raw JSON.
	Path string

	// Name is the object's name at the source.
	Name string

	// Creator is the user that created the object.
	Creator string

	// CommitHash optionally identifies the code version that produced
	// the object.
	CommitHash string

	// Copier optionally identifies the user that copied the object, when
	// the object is a copy.
	Copier string

	// Method and Module optionally identify the application that
	// produced the object.
	Method string
	Module string
}

// ResolvedReference is the result of resolving an in-document reference
// string against the source system.
type ResolvedReference struct {
	// Reference is the GUID form of the original reference text.
	Reference guid.GUID

	// Resolved is the concrete, versioned GUID the reference points at.
	Resolved guid.GUID

	// Type is the storage object type of the resolved object.
	Type rules.StorageObjectType

	// Timestamp is the resolved object's version timestamp.
	Timestamp time.Time
}

// ChildIterator yields the child events of an expanded parent event. Next
// returns (nil, nil) when the sequence is done. Errors are surfaced as
// values and never cross the iterator boundary as panics; after a retriable
// error the iterator must be able to continue from the same position.
type ChildIterator interface {
	Next() (*events.ChildStatusEvent, error)
}

// EventHandler abstracts source-system specific operations. Handlers are
// not guaranteed to be safe for concurrent use; each worker constructs its
// own.
type EventHandler interface {
	// StorageCode returns the code of the source system this handler
	// serves.
	StorageCode() string

	// IsExpandable reports whether the event fans out into per-object
	// child events (access-group level events do).
	IsExpandable(ev events.StoredStatusEvent) bool

	// Expand returns the child events of an expandable event. The
	// sequence is finite but possibly large; children are produced
	// lazily.
	Expand(ctx context.Context, ev events.StoredStatusEvent) (ChildIterator, error)

	// Load fetches an object's raw data into the file at dest. The
	// object is named by a reference path from an accessible object;
	// a path of length one names a directly accessible object.
	Load(ctx context.Context, refPath []guid.GUID, dest string) (SourceData, error)

	// BuildReferencePaths maps each reference to its full reference-path
	// string given the path taken to the referencing object.
	BuildReferencePaths(refPath []guid.GUID, refs []guid.GUID) (map[guid.GUID]string, error)

	// ResolveReferences resolves references found in the object at the
	// end of refPath.
	ResolveReferences(ctx context.Context, refPath []guid.GUID, refs []guid.GUID) ([]ResolvedReference, error)

	// UpdateObjectEvent returns a possibly revised copy of the event
	// reflecting the object's current state at the source. Access-group
	// level events are returned unchanged.
	UpdateObjectEvent(ctx context.Context, ev events.StatusEvent) (events.StatusEvent, error)
}

// SliceIterator adapts a fixed child-event slice to the ChildIterator
// contract.
type SliceIterator struct {
	children []events.ChildStatusEvent
	pos      int
}

// NewSliceIterator creates an iterator over the given children.
func NewSliceIterator(children []events.ChildStatusEvent) *SliceIterator {
	return &SliceIterator{children: children}
}

// Next implements ChildIterator.
func (it *SliceIterator) Next() (*events.ChildStatusEvent, error) {
	if it.pos >= len(it.children) {
		return nil, nil
	}
	c := it.children[it.pos]
	it.pos++
	return &c, nil
}
