// Package rules defines indexing rules, the rule sets that group them per
// object type, and the type storage that serves them to the indexer.
//
// A rule set maps one storage object type (what the source system calls the
// object) to one search type (what the index calls it), and lists the rules
// that extract keywords from the object JSON. Rule sets are authored as YAML
// files, one per mapping; see Load.
package rules

import (
	"fmt"
)

// StorageObjectType identifies an object type at the source system, e.g.
// "WS" / "KBaseGenomes.Genome". The version is the source schema version and
// is optional (0 means absent).
type StorageObjectType struct {
	StorageCode string
	Type        string
	Version     int
}

// String renders the type for logs: "WS:KBaseGenomes.Genome-2".
func (t StorageObjectType) String() string {
	s := t.StorageCode + ":" + t.Type
	if t.Version > 0 {
		s = fmt.Sprintf("%s-%d", s, t.Version)
	}
	return s
}

// SearchObjectType identifies a searchable type in the index, e.g.
// "Genome" version 1. The version distinguishes incompatible revisions of
// the same rule set.
type SearchObjectType struct {
	Type    string
	Version int
}

// String renders the type for logs and document fields: "Genome_1".
func (t SearchObjectType) String() string {
	return fmt.Sprintf("%s_%d", t.Type, t.Version)
}

// TransformKind is the closed set of value transforms a rule may apply.
type TransformKind int

const (
	// TransformNone applies no transform.
	TransformNone TransformKind = iota
	// TransformString coerces the value to its string form.
	TransformString
	// TransformInteger coerces the value to an integer; failure is a
	// parse error and permanently fails the event.
	TransformInteger
	// TransformLocation decomposes a genomic location 4-tuple
	// (contig, start, strand, length) into a normalized record.
	TransformLocation
	// TransformValues flattens a list or a map's values into a single
	// list, recursively.
	TransformValues
	// TransformFilter extracts a field, matches it against a pattern and
	// on a match projects a different field; a non-match yields nothing.
	TransformFilter
	// TransformGUID resolves reference strings to GUIDs and verifies the
	// resolved type matches the rule's target object type.
	TransformGUID
	// TransformLookup fetches referenced objects' extracted keywords and
	// projects one property from each.
	TransformLookup
)

// String returns the transform name used in rule files.
func (k TransformKind) String() string {
	switch k {
	case TransformNone:
		return ""
	case TransformString:
		return "string"
	case TransformInteger:
		return "integer"
	case TransformLocation:
		return "location"
	case TransformValues:
		return "values"
	case TransformFilter:
		return "filter"
	case TransformGUID:
		return "guid"
	case TransformLookup:
		return "lookup"
	}
	return fmt.Sprintf("TransformKind(%d)", int(k))
}

// Transform is a tagged transform operation attached to a rule.
type Transform struct {
	Kind TransformKind

	// Property projects a single field out of a structured transform
	// result. For location it names a field of the location record; for
	// lookup it is "key.<prop>" or "oname".
	Property string

	// TargetObjectType is the search type resolved references must have.
	// Only used by the guid transform.
	TargetObjectType string

	// MatchPath, Pattern and ValuePath configure the filter transform:
	// the field at MatchPath is matched against Pattern and, on a match,
	// the field at ValuePath is produced.
	MatchPath string
	Pattern   string
	ValuePath string
}

// Rule is one declarative indexing instruction producing a named keyword.
// Exactly one of Path (direct extraction) or SourceKey (derived from another
// rule's resolved value) is set.
type Rule struct {
	// KeyName is the keyword name. If empty it defaults to the first
	// path element.
	KeyName string

	// Path locates the value in the object JSON. Nil for derived rules.
	Path *Path

	// FromParent extracts from the parent document instead of the
	// sub-object.
	FromParent bool

	// FullText marks the keyword for full-text rather than typed search.
	FullText bool

	// KeywordType is the typed-search type ("string", "integer", ...).
	// Ignored when FullText is set.
	KeywordType string

	// DefaultValue fills the keyword when extraction produced nothing.
	DefaultValue any

	// Transform is applied to each raw value before it becomes a keyword.
	Transform *Transform

	// SourceKey names the rule whose resolved value feeds this one.
	// Set only on derived rules.
	SourceKey string

	// SubobjectIDKey names a companion rule whose values re-key resolved
	// GUIDs as sub-object GUIDs. Only valid on derived rules.
	SubobjectIDKey string

	// NotIndexed excludes the keyword from the final result. The rule
	// may still serve as a source key for derived rules.
	NotIndexed bool
}

// Derived reports whether the rule's value comes from another rule.
func (r *Rule) Derived() bool {
	return r.SourceKey != ""
}

// Key returns the effective keyword name.
func (r *Rule) Key() string {
	if r.KeyName != "" {
		return r.KeyName
	}
	if r.Path != nil && len(r.Path.Items) > 0 {
		return r.Path.Items[0]
	}
	return ""
}

// Validate checks structural constraints that hold for any rule set.
func (r *Rule) Validate() error {
	if r.Derived() {
		if r.Path != nil {
			return fmt.Errorf("rule %q: derived rules must not set a path", r.Key())
		}
		return nil
	}
	if r.Path == nil {
		return fmt.Errorf("rule %q: non-derived rules require a path", r.Key())
	}
	if r.SubobjectIDKey != "" {
		return fmt.Errorf("rule %q: subobject-id-key is only valid on derived rules", r.Key())
	}
	return nil
}

// RuleSet is the full collection of indexing rules registered for one
// storage type to search type mapping.
type RuleSet struct {
	// SearchType is the index-side type this rule set produces.
	SearchType SearchObjectType

	// StorageType is the source-side type this rule set applies to.
	StorageType StorageObjectType

	// SubObjectType, SubObjectPath and SubObjectIDPath describe embedded
	// entities to index individually. All empty for whole-object sets.
	SubObjectType   string
	SubObjectPath   *Path
	SubObjectIDPath *Path

	// Rules is the ordered rule list.
	Rules []*Rule
}

// HasSubObjects reports whether the set indexes embedded entities.
func (rs *RuleSet) HasSubObjects() bool {
	return rs.SubObjectType != ""
}
