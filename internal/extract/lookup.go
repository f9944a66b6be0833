// Package extract evaluates indexing rules against object JSON to produce
// the keyword map for one object.
package extract

import (
	"context"

	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/rules"
)

// ObjectData is another object's already-extracted keywords, as served to
// the lookup transform.
type ObjectData struct {
	GUID     guid.GUID
	Type     rules.SearchObjectType
	Name     string
	Creator  string
	KeyProps map[string]string
}

// LookupProvider is the reference-resolution capability handed to the
// extraction engine. The recursive indexer supplies an implementation whose
// caches are scoped to one indexing invocation.
type LookupProvider interface {
	// ResolveRefs resolves reference GUIDs against the source system.
	// refPath is the path taken to the object containing the
	// references; it validates the references at the source.
	ResolveRefs(ctx context.Context, refPath []guid.GUID, refs []guid.GUID) ([]guid.GUID, error)

	// TypesForGUIDs returns the search types registered for each GUID.
	// A GUID missing from the result has no registered types.
	TypesForGUIDs(ctx context.Context, refPath []guid.GUID, guids []guid.GUID) (map[guid.GUID][]rules.SearchObjectType, error)

	// LookupObjects fetches the extracted keywords of the given objects.
	LookupObjects(ctx context.Context, refPath []guid.GUID, guids []guid.GUID) (map[guid.GUID]ObjectData, error)

	// TypeDescriptor returns the rule set registered under the given
	// search type name.
	TypeDescriptor(searchType string) (*rules.RuleSet, error)
}

// ParsedObject is the output of extraction for one GUID: the sub-object's
// raw JSON and the resolved keyword map. Keywords are multi-valued because
// a path may match repeatedly.
type ParsedObject struct {
	JSON     []byte
	Keywords map[string][]any
}
