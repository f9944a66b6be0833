package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/rules"
)

// keyValues accumulates the values resolved for one keyword name.
type keyValues struct {
	values []any
}

// extraction is the per-call state of one rule-set evaluation. Derived keys
// are memoized in keywords and resolved at most once; resolving tracks the
// keys currently on the resolution stack so cycles surface as errors instead
// of hanging.
type extraction struct {
	tf        *transformer
	byKey     map[string][]*rules.Rule
	raw       map[*rules.Rule][]any
	keywords  map[string]*keyValues
	resolved  map[string]bool
	resolving map[string]bool
}

// Keywords evaluates a rule set against an object document, producing the
// keyword map. parentJSON carries the parent document for sub-object rule
// sets; pass nil for top-level objects and from-parent rules read objJSON.
func Keywords(
	ctx context.Context,
	lookup LookupProvider,
	refPath []guid.GUID,
	ruleSet *rules.RuleSet,
	objJSON []byte,
	parentJSON []byte,
) (map[string][]any, error) {
	var obj any
	if err := json.Unmarshal(objJSON, &obj); err != nil {
		return nil, errors.Unprocessable(errors.CodeParseError,
			"object is not valid JSON", err)
	}
	parent := obj
	if parentJSON != nil {
		if err := json.Unmarshal(parentJSON, &parent); err != nil {
			return nil, errors.Unprocessable(errors.CodeParseError,
				"parent object is not valid JSON", err)
		}
	}

	e := &extraction{
		byKey:     map[string][]*rules.Rule{},
		raw:       map[*rules.Rule][]any{},
		keywords:  map[string]*keyValues{},
		resolved:  map[string]bool{},
		resolving: map[string]bool{},
	}
	e.tf = &transformer{ctx: ctx, lookup: lookup, refPath: refPath, keywords: e.keywords}
	for _, r := range ruleSet.Rules {
		e.byKey[r.Key()] = append(e.byKey[r.Key()], r)
	}

	// first pass: one walk per document side collects every path match
	collect := func(tree *collectNode, doc any) error {
		return tree.walk(doc, func(rs []*rules.Rule, v any) error {
			for _, r := range rs {
				e.raw[r] = append(e.raw[r], v)
			}
			return nil
		})
	}
	if err := collect(buildCollectTree(ruleSet.Rules, false), obj); err != nil {
		return nil, err
	}
	if err := collect(buildCollectTree(ruleSet.Rules, true), parent); err != nil {
		return nil, err
	}

	for _, r := range ruleSet.Rules {
		if r.Derived() {
			continue
		}
		if err := e.resolveKey(r.Key()); err != nil {
			return nil, err
		}
	}

	// second pass: defaults fill keys the document left empty. The default
	// stands in for the missing raw value, so the rule's transform runs
	// over it too.
	for _, r := range ruleSet.Rules {
		if r.Derived() || r.DefaultValue == nil {
			continue
		}
		if kv := e.keywords[r.Key()]; kv != nil && len(kv.values) > 0 {
			continue
		}
		out := r.DefaultValue
		if r.Transform != nil {
			var err error
			out, err = e.tf.apply(r.Transform, r, r.DefaultValue)
			if err != nil {
				return nil, err
			}
		}
		e.add(r.Key(), out)
	}

	// derived pass: source keys resolve on demand, memoized. A derived key
	// still empty after resolution falls back to its default untransformed,
	// since the transform already ran over the source values.
	for _, r := range ruleSet.Rules {
		if !r.Derived() {
			continue
		}
		if err := e.resolveKey(r.Key()); err != nil {
			return nil, err
		}
		if r.DefaultValue == nil {
			continue
		}
		if kv := e.keywords[r.Key()]; kv == nil || len(kv.values) == 0 {
			e.add(r.Key(), r.DefaultValue)
		}
	}

	out := make(map[string][]any, len(e.keywords))
	for key, kv := range e.keywords {
		if len(kv.values) == 0 || e.notIndexed(key) {
			continue
		}
		out[key] = kv.values
	}
	return out, nil
}

// resolveKey resolves every rule producing key, exactly once per extraction.
func (e *extraction) resolveKey(key string) error {
	if e.resolved[key] {
		return nil
	}
	if e.resolving[key] {
		return errors.Unprocessable(errors.CodeCyclicKey,
			fmt.Sprintf("keyword %q depends on itself through its source keys", key), nil)
	}
	rs, ok := e.byKey[key]
	if !ok {
		return errors.Unprocessable(errors.CodeCyclicKey,
			fmt.Sprintf("no rule produces source key %q", key), nil)
	}
	e.resolving[key] = true
	defer delete(e.resolving, key)
	for _, r := range rs {
		if err := e.resolveRule(r); err != nil {
			return err
		}
	}
	e.resolved[key] = true
	return nil
}

func (e *extraction) resolveRule(r *rules.Rule) error {
	var values []any
	if r.Derived() {
		if err := e.resolveKey(r.SourceKey); err != nil {
			return err
		}
		if kv := e.keywords[r.SourceKey]; kv != nil {
			values = kv.values
		}
	} else {
		values = e.raw[r]
	}
	// the guid transform re-keys against a sibling key's values
	if r.Transform != nil && r.SubobjectIDKey != "" {
		if err := e.resolveKey(r.SubobjectIDKey); err != nil {
			return err
		}
	}
	for _, v := range values {
		out := v
		if r.Transform != nil {
			var err error
			out, err = e.tf.apply(r.Transform, r, v)
			if err != nil {
				return err
			}
		}
		e.add(r.Key(), out)
	}
	return nil
}

// add appends a resolved value under key, splicing list results flat.
func (e *extraction) add(key string, v any) {
	if v == nil {
		return
	}
	kv := e.keywords[key]
	if kv == nil {
		kv = &keyValues{}
		e.keywords[key] = kv
	}
	appendValues(&kv.values, v)
}

// notIndexed reports whether key is excluded from the indexed output. Such
// keys still serve as sources for derived rules.
func (e *extraction) notIndexed(key string) bool {
	for _, r := range e.byKey[key] {
		if r.NotIndexed {
			return true
		}
	}
	return false
}
