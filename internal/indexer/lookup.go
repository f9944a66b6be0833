package indexer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/reefdata/objsearch/internal/errors"
	"github.com/reefdata/objsearch/internal/extract"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/handler"
	"github.com/reefdata/objsearch/internal/retrier"
	"github.com/reefdata/objsearch/internal/rules"
)

// objCacheSize bounds the per-invocation object lookup cache. Lookups repeat
// heavily within one object (thousands of sub-objects referencing the same
// handful of parents) but rarely across objects, so the cache does not
// outlive the invocation.
const objCacheSize = 1024

// lookupProvider implements extract.LookupProvider with caches scoped to a
// single IndexObject invocation.
type lookupProvider struct {
	ix *Indexer

	// storage code -> reference path string -> resolved reference
	refCache  map[string]map[string]handler.ResolvedReference
	objCache  *lru.Cache[guid.GUID, extract.ObjectData]
	typeCache map[guid.GUID][]rules.SearchObjectType
}

var _ extract.LookupProvider = (*lookupProvider)(nil)

func newLookupProvider(ix *Indexer) *lookupProvider {
	cache, err := lru.New[guid.GUID, extract.ObjectData](objCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &lookupProvider{
		ix:        ix,
		refCache:  map[string]map[string]handler.ResolvedReference{},
		objCache:  cache,
		typeCache: map[guid.GUID][]rules.SearchObjectType{},
	}
}

// resolve resolves refs against the source system, keyed in the result by
// the original ref. Resolution is cached by the full reference-path string
// since the same ref can resolve differently through different paths.
func (p *lookupProvider) resolve(
	ctx context.Context,
	refPath []guid.GUID,
	refs []guid.GUID,
) (map[guid.GUID]handler.ResolvedReference, error) {
	if len(refPath) == 0 {
		return nil, errors.Unprocessable(errors.CodeOther,
			"reference resolution requires a non-empty caller path", nil)
	}
	if len(refPath) > p.ix.maxRefPathDepth {
		return nil, errors.Unprocessable(errors.CodeRefPathDepth, fmt.Sprintf(
			"reference path depth exceeds the limit of %d", p.ix.maxRefPathDepth), nil)
	}
	h, err := p.ix.Handler(refPath[0].StorageCode)
	if err != nil {
		return nil, err
	}
	cache, ok := p.refCache[h.StorageCode()]
	if !ok {
		cache = map[string]handler.ResolvedReference{}
		p.refCache[h.StorageCode()] = cache
	}
	pathKeys, err := h.BuildReferencePaths(refPath, refs)
	if err != nil {
		return nil, err
	}
	out := make(map[guid.GUID]handler.ResolvedReference, len(refs))
	var unresolved []guid.GUID
	for _, ref := range refs {
		if rr, ok := cache[pathKeys[ref]]; ok {
			out[ref] = rr
		} else {
			unresolved = append(unresolved, ref)
		}
	}
	if len(unresolved) > 0 {
		resolved, err := retrier.Func(ctx, p.ix.retrier, nil,
			func() ([]handler.ResolvedReference, error) {
				return h.ResolveReferences(ctx, refPath, unresolved)
			})
		if err != nil {
			return nil, err
		}
		for _, rr := range resolved {
			out[rr.Reference] = rr
			cache[pathKeys[rr.Reference]] = rr
		}
	}
	return out, nil
}

// ResolveRefs implements extract.LookupProvider.
func (p *lookupProvider) ResolveRefs(
	ctx context.Context,
	refPath []guid.GUID,
	refs []guid.GUID,
) ([]guid.GUID, error) {
	parents := make([]guid.GUID, 0, len(refs))
	for _, ref := range refs {
		parents = append(parents, ref.Parent())
	}
	resolved, err := p.resolve(ctx, refPath, parents)
	if err != nil {
		return nil, err
	}
	out := make([]guid.GUID, 0, len(refs))
	for _, ref := range refs {
		rr, ok := resolved[ref.Parent()]
		if !ok {
			return nil, errors.Unprocessable(errors.CodeGUIDNotFound,
				fmt.Sprintf("reference %s did not resolve", ref), nil)
		}
		// the sub-object component is not part of the source-system
		// reference, so carry it over from the input
		out = append(out, rr.Resolved.WithSubObject(ref.SubObjectType, ref.SubObjectID))
	}
	return out, nil
}

// TypesForGUIDs implements extract.LookupProvider.
func (p *lookupProvider) TypesForGUIDs(
	ctx context.Context,
	refPath []guid.GUID,
	guids []guid.GUID,
) (map[guid.GUID][]rules.SearchObjectType, error) {
	parents := make([]guid.GUID, 0, len(guids))
	for _, g := range guids {
		parents = append(parents, g.Parent())
	}
	resolved, err := p.resolve(ctx, refPath, parents)
	if err != nil {
		return nil, err
	}
	out := make(map[guid.GUID][]rules.SearchObjectType, len(guids))
	for _, g := range guids {
		rr, ok := resolved[g.Parent()]
		if !ok {
			continue
		}
		key := rr.Resolved.WithSubObject(g.SubObjectType, g.SubObjectID)
		if types, ok := p.typeCache[key]; ok {
			out[g] = types
			continue
		}
		sets, err := p.matchingRuleSets(rr.Type, g)
		if err != nil {
			return nil, err
		}
		var types []rules.SearchObjectType
		for _, rs := range sets {
			types = append(types, rs.SearchType)
		}
		if len(types) > 0 {
			p.typeCache[key] = types
			out[g] = types
		}
	}
	return out, nil
}

// matchingRuleSets lists the rule sets for a storage type whose sub-object
// type matches the requested GUID's sub-object component.
func (p *lookupProvider) matchingRuleSets(
	storageType rules.StorageObjectType,
	g guid.GUID,
) ([]*rules.RuleSet, error) {
	sets, err := p.ix.typeStorage.ListRuleSets(storageType)
	if err != nil {
		return nil, err
	}
	var out []*rules.RuleSet
	for _, rs := range sets {
		if rs.SubObjectType == g.SubObjectType {
			out = append(out, rs)
		}
	}
	return out, nil
}

// LookupObjects implements extract.LookupProvider. Each uncached object is
// loaded and parsed recursively through the owning indexer, with this
// provider carried along so the caches keep accumulating.
func (p *lookupProvider) LookupObjects(
	ctx context.Context,
	refPath []guid.GUID,
	guids []guid.GUID,
) (map[guid.GUID]extract.ObjectData, error) {
	out := make(map[guid.GUID]extract.ObjectData, len(guids))
	for _, g := range guids {
		if od, ok := p.objCache.Get(g); ok {
			out[g] = od
			continue
		}
		od, ok, err := p.loadObject(ctx, refPath, g)
		if err != nil {
			return nil, err
		}
		if ok {
			p.objCache.Add(g, od)
			out[g] = od
		}
	}
	return out, nil
}

// loadObject loads and parses one referenced object. ok is false when no
// rule set produces a document matching the requested GUID; callers treat
// that as an absent object rather than an error.
func (p *lookupProvider) loadObject(
	ctx context.Context,
	refPath []guid.GUID,
	g guid.GUID,
) (extract.ObjectData, bool, error) {
	resolved, err := p.resolve(ctx, refPath, []guid.GUID{g.Parent()})
	if err != nil {
		return extract.ObjectData{}, false, err
	}
	rr, ok := resolved[g.Parent()]
	if !ok {
		return extract.ObjectData{}, false, errors.Unprocessable(errors.CodeGUIDNotFound,
			fmt.Sprintf("reference %s did not resolve", g.Parent()), nil)
	}
	h, err := p.ix.Handler(rr.Resolved.StorageCode)
	if err != nil {
		return extract.ObjectData{}, false, err
	}
	tempFile, err := p.ix.scratchFile(rr.Resolved.StorageCode)
	if err != nil {
		return extract.ObjectData{}, false, errors.Retriable(errors.CodeOther, err.Error(), err)
	}
	defer os.Remove(tempFile)

	loadPath := make([]guid.GUID, len(refPath), len(refPath)+1)
	copy(loadPath, refPath)
	loadPath = append(loadPath, rr.Reference)
	src, err := retrier.Func(ctx, p.ix.retrier, nil, func() (handler.SourceData, error) {
		return h.Load(ctx, loadPath, tempFile)
	})
	if err != nil {
		return extract.ObjectData{}, false, err
	}

	sets, err := p.matchingRuleSets(rr.Type, g)
	if err != nil {
		return extract.ObjectData{}, false, err
	}
	want := rr.Resolved.WithSubObject(g.SubObjectType, g.SubObjectID)
	var found extract.ObjectData
	ok = false
	for _, rs := range sets {
		parsed, err := p.ix.parseRuleSet(ctx, rr.Resolved, p,
			[]guid.GUID{rr.Resolved}, rs, tempFile)
		if err != nil {
			return extract.ObjectData{}, false, err
		}
		for parsedGUID, po := range parsed.objects {
			od := extract.ObjectData{
				GUID:     parsedGUID,
				Type:     rs.SearchType,
				Name:     src.Name,
				Creator:  src.Creator,
				KeyProps: keyProps(po.Keywords),
			}
			p.objCache.Add(parsedGUID, od)
			if parsedGUID == want {
				found = od
				ok = true
			}
		}
	}
	return found, ok, nil
}

// TypeDescriptor implements extract.LookupProvider.
func (p *lookupProvider) TypeDescriptor(searchType string) (*rules.RuleSet, error) {
	return p.ix.typeStorage.GetRuleSetByName(searchType)
}

// keyProps flattens extracted keyword lists into the single-string form
// served to lookup transforms.
func keyProps(keywords map[string][]any) map[string]string {
	out := make(map[string]string, len(keywords))
	for key, values := range keywords {
		parts := make([]string, 0, len(values))
		for _, v := range values {
			parts = append(parts, keywordString(v))
		}
		out[key] = strings.Join(parts, ", ")
	}
	return out
}

func keywordString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
