package extract

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/rules"
)

// transformer applies rule transforms. It carries the extraction context a
// transform may need: previously resolved sibling keywords for subobject
// re-keying, and the reference-resolution capability.
type transformer struct {
	ctx      context.Context
	lookup   LookupProvider
	refPath  []guid.GUID
	keywords map[string]*keyValues
}

// apply transforms one raw value. A nil result with nil error means the
// value is silently dropped.
func (t *transformer) apply(tr *rules.Transform, rule *rules.Rule, value any) (any, error) {
	switch tr.Kind {
	case rules.TransformString:
		return toString(value), nil
	case rules.TransformInteger:
		n, err := asInt(value)
		if err != nil {
			return nil, errors.Unprocessable(errors.CodeParseError,
				fmt.Sprintf("keyword %q: %v", rule.Key(), err), err)
		}
		return n, nil
	case rules.TransformLocation:
		return t.location(tr, rule, value)
	case rules.TransformValues:
		return t.flatten(tr, rule, value)
	case rules.TransformFilter:
		return filterValue(tr, value), nil
	case rules.TransformGUID:
		return t.resolveGUIDs(tr, rule, value)
	case rules.TransformLookup:
		return t.lookupProps(tr, rule, value)
	case rules.TransformNone:
		return value, nil
	}
	return nil, errors.Unprocessable(errors.CodeParseError,
		fmt.Sprintf("unsupported transform %v", tr.Kind), nil)
}

// location interprets a genomic location 4-tuple (contig, start, strand,
// length) and computes a normalized record. Reverse-strand features store
// their biological start; the record always has start <= stop.
func (t *transformer) location(tr *rules.Transform, rule *rules.Rule, value any) (any, error) {
	tuple, ok := value.([]any)
	if !ok {
		return nil, locationErr(rule, "location value is not a list")
	}
	// the source wraps the tuple in a single-element list
	if len(tuple) == 1 {
		if inner, ok := tuple[0].([]any); ok {
			tuple = inner
		}
	}
	if len(tuple) != 4 {
		return nil, locationErr(rule, fmt.Sprintf("location tuple has %d elements, want 4", len(tuple)))
	}
	start, err := asInt(tuple[1])
	if err != nil {
		return nil, locationErr(rule, "bad location start: "+err.Error())
	}
	length, err := asInt(tuple[3])
	if err != nil {
		return nil, locationErr(rule, "bad location length: "+err.Error())
	}
	strand := toString(tuple[2])
	rec := map[string]any{
		"contig_id": tuple[0],
		"strand":    strand,
		"length":    length,
	}
	if strand == "+" {
		rec["start"] = start
		rec["stop"] = start + length - 1
	} else {
		rec["start"] = start - length + 1
		rec["stop"] = start
	}
	if tr.Property == "" {
		return rec, nil
	}
	return rec[tr.Property], nil
}

func locationErr(rule *rules.Rule, msg string) error {
	return errors.Unprocessable(errors.CodeLocationError,
		fmt.Sprintf("keyword %q: %s", rule.Key(), msg), nil)
}

// flatten turns a list or a map's values into a single flat list,
// recursively, coercing scalars to strings.
func (t *transformer) flatten(tr *rules.Transform, rule *rules.Rule, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case []any:
		var out []any
		for _, item := range v {
			flat, err := t.flatten(tr, rule, item)
			if err != nil {
				return nil, err
			}
			appendValues(&out, flat)
		}
		return out, nil
	case map[string]any:
		var out []any
		for _, item := range v {
			flat, err := t.flatten(tr, rule, item)
			if err != nil {
				return nil, err
			}
			appendValues(&out, flat)
		}
		return out, nil
	default:
		return toString(value), nil
	}
}

// filterValue extracts the field at MatchPath, matches it against the
// configured pattern, and on a match produces the field at ValuePath. A
// non-match or a missing path yields nothing; that is a skip, not an error.
func filterValue(tr *rules.Transform, value any) any {
	matched, ok := fieldByPath(value, tr.MatchPath)
	if !ok {
		return nil
	}
	re, err := regexp.Compile(tr.Pattern)
	if err != nil {
		// pattern validity is checked at rule load time
		return nil
	}
	if !re.MatchString(toString(matched)) {
		return nil
	}
	out, ok := fieldByPath(value, tr.ValuePath)
	if !ok {
		return nil
	}
	return out
}

// resolveGUIDs resolves reference strings to GUIDs, verifies each resolved
// object's registered type matches the transform's target type, and
// optionally re-keys the results as sub-object GUIDs using the companion
// subobject-id source key.
func (t *transformer) resolveGUIDs(tr *rules.Transform, rule *rules.Rule, value any) (any, error) {
	typeDescr, err := t.lookup.TypeDescriptor(tr.TargetObjectType)
	if err != nil {
		return nil, err
	}
	storageCode := typeDescr.StorageType.StorageCode
	var unresolved []guid.GUID
	for _, ref := range toStringList(value) {
		g, err := guid.FromRef(storageCode, ref)
		if err != nil {
			return nil, errors.Unprocessable(errors.CodeParseError,
				fmt.Sprintf("keyword %q: %v", rule.Key(), err), err)
		}
		unresolved = append(unresolved, g)
	}
	guids, err := t.lookup.ResolveRefs(t.ctx, t.refPath, unresolved)
	if err != nil {
		return nil, err
	}
	if rule.SubobjectIDKey != "" {
		guids, err = t.rekeySubObjects(typeDescr, rule, guids)
		if err != nil {
			return nil, err
		}
	}
	guidTypes, err := t.lookup.TypesForGUIDs(t.ctx, t.refPath, guids)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(guids))
	for _, g := range guids {
		types, ok := guidTypes[g]
		if !ok {
			return nil, errors.Unprocessable(errors.CodeGUIDNotFound,
				fmt.Sprintf("guid %s not found", g), nil)
		}
		if !hasType(types, tr.TargetObjectType) {
			return nil, errors.Unprocessable(errors.CodeGUIDNotFound,
				fmt.Sprintf("guid %s does not have type %s", g, tr.TargetObjectType), nil)
		}
		out = append(out, g.String())
	}
	return out, nil
}

// rekeySubObjects produces sub-object GUIDs under a single resolved parent,
// one per value of the companion subobject-id source key.
func (t *transformer) rekeySubObjects(
	typeDescr *rules.RuleSet,
	rule *rules.Rule,
	guids []guid.GUID,
) ([]guid.GUID, error) {
	if typeDescr.SubObjectType == "" {
		return nil, errors.Unprocessable(errors.CodeParseError,
			fmt.Sprintf("keyword %q: subobject re-keying requires a sub-object type descriptor",
				rule.Key()), nil)
	}
	if len(guids) != 1 {
		return nil, errors.Unprocessable(errors.CodeParseError,
			fmt.Sprintf("keyword %q: subobject re-keying requires exactly one parent reference, got %d",
				rule.Key(), len(guids)), nil)
	}
	parent := guids[0]
	kv := t.keywords[rule.SubobjectIDKey]
	if kv == nil {
		return nil, errors.Unprocessable(errors.CodeParseError,
			fmt.Sprintf("keyword %q: subobject-id key %q has no values",
				rule.Key(), rule.SubobjectIDKey), nil)
	}
	var out []guid.GUID
	for _, subID := range toStringList(kv.values) {
		out = append(out, parent.WithSubObject(typeDescr.SubObjectType, subID))
	}
	return out, nil
}

// lookupProps fetches referenced objects' extracted keyword maps and
// projects one property ("key.<name>") or the object name ("oname") from
// each.
func (t *transformer) lookupProps(tr *rules.Transform, rule *rules.Rule, value any) (any, error) {
	var guids []guid.GUID
	for _, s := range toStringList(value) {
		g, err := guid.Parse(s)
		if err != nil {
			return nil, errors.Unprocessable(errors.CodeParseError,
				fmt.Sprintf("keyword %q: %v", rule.Key(), err), err)
		}
		guids = append(guids, g)
	}
	objs, err := t.lookup.LookupObjects(t.ctx, t.refPath, guids)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, g := range guids {
		obj, ok := objs[g]
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(tr.Property, "key."):
			if v, ok := obj.KeyProps[strings.TrimPrefix(tr.Property, "key.")]; ok {
				out = append(out, v)
			}
		case tr.Property == "oname":
			out = append(out, obj.Name)
		}
	}
	return out, nil
}

func hasType(types []rules.SearchObjectType, name string) bool {
	for _, t := range types {
		if t.Type == name {
			return true
		}
	}
	return false
}

// toString coerces any JSON value to its string form. Integral floats
// render without a fraction so numeric ids keep their source form.
func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// asInt coerces a JSON value to an integer.
func asInt(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as integer", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to integer", v)
	}
}

// toStringList coerces a scalar or list value to a string list.
func toStringList(v any) []string {
	if v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, toString(item))
		}
		return out
	}
	return []string{toString(v)}
}

// fieldByPath walks a dotted path into nested maps. The second return is
// false when any segment is missing.
func fieldByPath(v any, path string) (any, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// appendValues appends v to dst, splicing lists flat.
func appendValues(dst *[]any, v any) {
	if v == nil {
		return
	}
	if list, ok := v.([]any); ok {
		*dst = append(*dst, list...)
		return
	}
	*dst = append(*dst, v)
}
