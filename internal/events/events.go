// Package events defines status events, their processing-state machine and
// the storage collaborator interface for the durable event queue.
//
// A StatusEvent records one change at the source system. Event generators
// store events as StoredStatusEvents in state UNPROCESSED; upstream queueing
// logic moves them to READY; workers claim them into PROCESSING and leave
// them in a terminal state. Events are never deleted, only updated, so the
// queue doubles as an audit log.
package events

import (
	"fmt"
	"time"

	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/rules"
)

// DefaultWorkerCode is applied to an event with no worker codes of its own,
// and is the code workers claim by default.
const DefaultWorkerCode = "default"

// EventType is the closed set of change kinds at the source system.
type EventType int

const (
	// NewVersion records a new version of a single object.
	NewVersion EventType = iota
	// DeleteAllVersions hides every version of an object from search.
	DeleteAllVersions
	// UndeleteAllVersions reverses DeleteAllVersions.
	UndeleteAllVersions
	// RenameAllVersions renames every version of an object.
	RenameAllVersions
	// PublishAllVersions makes every version of an object public.
	PublishAllVersions
	// UnpublishAllVersions reverses PublishAllVersions.
	UnpublishAllVersions
	// PublishAccessGroup publishes every object in an access group.
	// Access-group events are expandable into per-object child events.
	PublishAccessGroup
	// UnpublishAccessGroup reverses PublishAccessGroup.
	UnpublishAccessGroup
	// CopyAccessGroup re-indexes every object in an access group.
	CopyAccessGroup
)

// String returns the canonical event type name.
func (t EventType) String() string {
	switch t {
	case NewVersion:
		return "NEW_VERSION"
	case DeleteAllVersions:
		return "DELETE_ALL_VERSIONS"
	case UndeleteAllVersions:
		return "UNDELETE_ALL_VERSIONS"
	case RenameAllVersions:
		return "RENAME_ALL_VERSIONS"
	case PublishAllVersions:
		return "PUBLISH_ALL_VERSIONS"
	case UnpublishAllVersions:
		return "UNPUBLISH_ALL_VERSIONS"
	case PublishAccessGroup:
		return "PUBLISH_ACCESS_GROUP"
	case UnpublishAccessGroup:
		return "UNPUBLISH_ACCESS_GROUP"
	case CopyAccessGroup:
		return "COPY_ACCESS_GROUP"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, error) {
	for t := NewVersion; t <= CopyAccessGroup; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// ProcessingState is the event state machine. Exactly one state is active
// per event; transitions are atomic compare-and-swap operations against the
// backing store.
type ProcessingState int

const (
	// StateUnprocessed is the initial state set by event generators.
	StateUnprocessed ProcessingState = iota
	// StateReady marks an event claimable by workers.
	StateReady
	// StateProcessing marks an event claimed by exactly one worker.
	StateProcessing
	// StateIndexed is the successful terminal state.
	StateIndexed
	// StateUnindexed is the terminal state for object types with no
	// registered rule sets. Not an error.
	StateUnindexed
	// StateFailed is the terminal error state. A bulk reset moves failed
	// events back to StateUnprocessed.
	StateFailed
)

// String returns the state code persisted in the event store.
func (s ProcessingState) String() string {
	switch s {
	case StateUnprocessed:
		return "UNPROC"
	case StateReady:
		return "READY"
	case StateProcessing:
		return "PROC"
	case StateIndexed:
		return "INDX"
	case StateUnindexed:
		return "UNINDX"
	case StateFailed:
		return "FAIL"
	}
	return fmt.Sprintf("ProcessingState(%d)", int(s))
}

// ParseState is the inverse of ProcessingState.String.
func ParseState(s string) (ProcessingState, error) {
	for st := StateUnprocessed; st <= StateFailed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown processing state %q", s)
}

// Terminal reports whether the state ends an event's processing.
func (s ProcessingState) Terminal() bool {
	return s == StateIndexed || s == StateUnindexed || s == StateFailed
}

// StatusEvent is one occurrence of a change at the source system. Immutable
// once constructed.
type StatusEvent struct {
	eventType   EventType
	storageType rules.StorageObjectType // Type may be empty for group events
	timestamp   time.Time
	accessGroup int
	objectID    string // empty for access-group level events
	version     int    // 0 means absent
	newName     string
	isPublic    bool
	overwrite   bool
}

// StatusEventConfig names the fields of a StatusEvent for construction.
// Type, StorageCode and Timestamp are required; the rest depend on the
// event type.
type StatusEventConfig struct {
	Type              EventType
	StorageCode       string
	StorageType       string
	StorageTypeVer    int
	Timestamp         time.Time
	AccessGroupID     int
	ObjectID          string
	Version           int
	NewName           string
	IsPublic          bool
	OverwriteExisting bool
}

// NewStatusEvent validates the configuration and returns an immutable event.
func NewStatusEvent(cfg StatusEventConfig) (StatusEvent, error) {
	if cfg.StorageCode == "" {
		return StatusEvent{}, fmt.Errorf("status event requires a storage code")
	}
	if cfg.Timestamp.IsZero() {
		return StatusEvent{}, fmt.Errorf("status event requires a timestamp")
	}
	if cfg.Type == RenameAllVersions && cfg.NewName == "" {
		return StatusEvent{}, fmt.Errorf("rename event requires a new name")
	}
	return StatusEvent{
		eventType: cfg.Type,
		storageType: rules.StorageObjectType{
			StorageCode: cfg.StorageCode,
			Type:        cfg.StorageType,
			Version:     cfg.StorageTypeVer,
		},
		timestamp:   cfg.Timestamp.UTC(),
		accessGroup: cfg.AccessGroupID,
		objectID:    cfg.ObjectID,
		version:     cfg.Version,
		newName:     cfg.NewName,
		isPublic:    cfg.IsPublic,
		overwrite:   cfg.OverwriteExisting,
	}, nil
}

// Type returns the event type.
func (e StatusEvent) Type() EventType { return e.eventType }

// StorageCode returns the owning source system's code.
func (e StatusEvent) StorageCode() string { return e.storageType.StorageCode }

// StorageType returns the storage object type. The Type field is empty for
// access-group level events, which carry no object type.
func (e StatusEvent) StorageType() rules.StorageObjectType { return e.storageType }

// HasStorageType reports whether the event names an object type.
func (e StatusEvent) HasStorageType() bool { return e.storageType.Type != "" }

// Timestamp returns the time of the change at the source.
func (e StatusEvent) Timestamp() time.Time { return e.timestamp }

// AccessGroupID returns the tenancy scope of the changed object.
func (e StatusEvent) AccessGroupID() int { return e.accessGroup }

// ObjectID returns the changed object's id within its access group.
func (e StatusEvent) ObjectID() string { return e.objectID }

// Version returns the object version, 0 if absent.
func (e StatusEvent) Version() int { return e.version }

// NewName returns the target name for rename events.
func (e StatusEvent) NewName() string { return e.newName }

// IsPublic returns the object's visibility flag.
func (e StatusEvent) IsPublic() bool { return e.isPublic }

// OverwriteExisting reports whether a new-version event re-indexes data that
// is already indexed.
func (e StatusEvent) OverwriteExisting() bool { return e.overwrite }

// GUID reconstructs the identifier of the changed object.
func (e StatusEvent) GUID() guid.GUID {
	return guid.GUID{
		StorageCode:   e.storageType.StorageCode,
		AccessGroupID: e.accessGroup,
		ObjectID:      e.objectID,
		Version:       e.version,
	}
}

// ID identifies a stored event in the event store.
type ID string

// Handle is a stored parent event or a child event produced by expansion,
// as seen by the worker.
type Handle interface {
	// Event returns the underlying status event.
	Event() StatusEvent
	// EventID returns the stored event's id, or the parent's id for
	// child events.
	EventID() ID
	// IsChild reports whether this is an expansion child.
	IsChild() bool
}

// StoredStatusEvent is a StatusEvent plus queue metadata. Updates to the
// state and metadata are append-only at the store; the original event is
// never structurally mutated.
type StoredStatusEvent struct {
	event       StatusEvent
	id          ID
	state       ProcessingState
	updateTime  time.Time
	updater     string
	workerCodes []string
	storedBy    string
	storeTime   time.Time
	errorCode   string
	errorMsg    string
	errorTrace  string
}

// StoredConfig names the fields of a StoredStatusEvent for construction by
// event store implementations.
type StoredConfig struct {
	Event       StatusEvent
	ID          ID
	State       ProcessingState
	UpdateTime  time.Time
	Updater     string
	WorkerCodes []string
	StoredBy    string
	StoreTime   time.Time
	ErrorCode   string
	ErrorMsg    string
	ErrorTrace  string
}

// NewStored validates the configuration and returns an immutable stored
// event. Events with no worker codes get the default code.
func NewStored(cfg StoredConfig) (StoredStatusEvent, error) {
	if cfg.ID == "" {
		return StoredStatusEvent{}, fmt.Errorf("stored event requires an id")
	}
	codes := cfg.WorkerCodes
	if len(codes) == 0 {
		codes = []string{DefaultWorkerCode}
	}
	return StoredStatusEvent{
		event:       cfg.Event,
		id:          cfg.ID,
		state:       cfg.State,
		updateTime:  cfg.UpdateTime,
		updater:     cfg.Updater,
		workerCodes: codes,
		storedBy:    cfg.StoredBy,
		storeTime:   cfg.StoreTime,
		errorCode:   cfg.ErrorCode,
		errorMsg:    cfg.ErrorMsg,
		errorTrace:  cfg.ErrorTrace,
	}, nil
}

// Event implements Handle.
func (s StoredStatusEvent) Event() StatusEvent { return s.event }

// EventID implements Handle.
func (s StoredStatusEvent) EventID() ID { return s.id }

// IsChild implements Handle.
func (s StoredStatusEvent) IsChild() bool { return false }

// State returns the event's processing state as of the last read.
func (s StoredStatusEvent) State() ProcessingState { return s.state }

// UpdateTime returns when the state last changed, zero if never.
func (s StoredStatusEvent) UpdateTime() time.Time { return s.updateTime }

// Updater returns who last changed the state.
func (s StoredStatusEvent) Updater() string { return s.updater }

// WorkerCodes returns the codes restricting which workers may claim the
// event. Never empty.
func (s StoredStatusEvent) WorkerCodes() []string {
	out := make([]string, len(s.workerCodes))
	copy(out, s.workerCodes)
	return out
}

// StoredBy identifies the entity that stored the event.
func (s StoredStatusEvent) StoredBy() string { return s.storedBy }

// StoreTime returns when the event was stored, zero if unset.
func (s StoredStatusEvent) StoreTime() time.Time { return s.storeTime }

// ErrorCode returns the persisted error code, empty if none.
func (s StoredStatusEvent) ErrorCode() string { return s.errorCode }

// ErrorMessage returns the persisted error message, empty if none.
func (s StoredStatusEvent) ErrorMessage() string { return s.errorMsg }

// ErrorTrace returns the persisted error trace, empty if none.
func (s StoredStatusEvent) ErrorTrace() string { return s.errorTrace }

// ChildStatusEvent is produced by expanding a parent event. Children are
// processed inline and stored only when they fail, with the error content
// baked in at store time.
type ChildStatusEvent struct {
	event    StatusEvent
	parentID ID
}

// NewChild creates a child event under the given parent id.
func NewChild(event StatusEvent, parentID ID) ChildStatusEvent {
	return ChildStatusEvent{event: event, parentID: parentID}
}

// Event implements Handle.
func (c ChildStatusEvent) Event() StatusEvent { return c.event }

// EventID implements Handle. For children this is the parent's id.
func (c ChildStatusEvent) EventID() ID { return c.parentID }

// IsChild implements Handle.
func (c ChildStatusEvent) IsChild() bool { return true }
