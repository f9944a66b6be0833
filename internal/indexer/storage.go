package indexer

import (
	"context"
	"time"

	"github.com/reefdata/objsearch/internal/extract"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/handler"
	"github.com/reefdata/objsearch/internal/rules"
)

// IndexingStorage is the search index collaborator. Implementations must
// make IndexObjects atomic per rule set: either every parsed object under
// the parent becomes visible or none do. Version-level operations address a
// versioned GUID; all-versions operations address a versionless one.
type IndexingStorage interface {
	// IndexObjects writes every parsed object of one rule set for one
	// parent object. Replaces any previous documents for the same GUIDs.
	// A concurrent-modification error is returned as a retriable
	// INDEXING_CONFLICT error.
	IndexObjects(ctx context.Context, ruleSet *rules.RuleSet, src handler.SourceData,
		timestamp time.Time, parentJSON []byte, parent guid.GUID,
		objects map[guid.GUID]extract.ParsedObject, isPublic bool) error

	// CheckParentGUIDsExist reports, per GUID, whether any document for
	// the versioned parent GUID is already indexed.
	CheckParentGUIDsExist(ctx context.Context, guids []guid.GUID) (map[guid.GUID]bool, error)

	// DeleteAllVersions hides every version of the object from search.
	DeleteAllVersions(ctx context.Context, g guid.GUID) error

	// UndeleteAllVersions reverses DeleteAllVersions.
	UndeleteAllVersions(ctx context.Context, g guid.GUID) error

	// PublishAllVersions makes every version of the object public.
	PublishAllVersions(ctx context.Context, g guid.GUID) error

	// UnpublishAllVersions reverses PublishAllVersions.
	UnpublishAllVersions(ctx context.Context, g guid.GUID) error

	// PublishObjects makes the given object versions public.
	PublishObjects(ctx context.Context, guids []guid.GUID) error

	// UnpublishObjects reverses PublishObjects.
	UnpublishObjects(ctx context.Context, guids []guid.GUID) error

	// SetNameOnAllObjectVersions renames every version of the object.
	SetNameOnAllObjectVersions(ctx context.Context, g guid.GUID, newName string) error
}
