package indexer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/rules"
)

// splitObjects breaks one loaded object document into the per-GUID documents
// a rule set indexes. Whole-object sets yield the document itself under the
// parent GUID; sub-object sets yield one document per entity matched by the
// sub-object path, keyed by a sub-object GUID built from the entity's id.
func splitObjects(ruleSet *rules.RuleSet, parent guid.GUID, doc []byte) (map[guid.GUID][]byte, error) {
	if !ruleSet.HasSubObjects() {
		return map[guid.GUID][]byte{parent: doc}, nil
	}
	var root any
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, errors.Unprocessable(errors.CodeParseError,
			"object is not valid JSON", err)
	}
	out := map[guid.GUID][]byte{}
	var walkErr error
	walkPath(root, ruleSet.SubObjectPath.Items, func(sub any) bool {
		id, ok := valueAtPath(sub, ruleSet.SubObjectIDPath.Items)
		if !ok {
			walkErr = errors.Unprocessable(errors.CodeGUIDNotFound, fmt.Sprintf(
				"sub-object of %s has no id at path %s", parent, ruleSet.SubObjectIDPath), nil)
			return false
		}
		subGUID := parent.WithSubObject(ruleSet.SubObjectType, scalarString(id))
		if len(subGUID.String()) > guid.MaxLength {
			walkErr = errors.Unprocessable(errors.CodeOther, fmt.Sprintf(
				"sub-object guid for %s exceeds %d characters", parent, guid.MaxLength), nil)
			return false
		}
		raw, err := json.Marshal(sub)
		if err != nil {
			walkErr = errors.Unprocessable(errors.CodeParseError,
				"cannot re-encode sub-object", err)
			return false
		}
		out[subGUID] = raw
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// walkPath visits every value the path matches. visit returning false stops
// the walk.
func walkPath(v any, items []string, visit func(v any) bool) bool {
	if len(items) == 0 {
		return visit(v)
	}
	item := items[0]
	if rules.MatchesAny(item) {
		switch t := v.(type) {
		case map[string]any:
			for _, elem := range t {
				if !walkPath(elem, items[1:], visit) {
					return false
				}
			}
		case []any:
			for _, elem := range t {
				if !walkPath(elem, items[1:], visit) {
					return false
				}
			}
		}
		return true
	}
	if m, ok := v.(map[string]any); ok {
		if elem, ok := m[item]; ok {
			return walkPath(elem, items[1:], visit)
		}
	}
	return true
}

// valueAtPath fetches the single value at an exact path, no wildcards.
func valueAtPath(v any, items []string) (any, bool) {
	cur := v
	for _, item := range items {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[item]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
