// Package search implements the search index on Bleve.
//
// Each parsed object becomes one document keyed by search type plus GUID, so
// re-indexing the same object version overwrites rather than duplicates.
// Visibility flags (deleted, public) and names are document fields; the
// all-versions operations rewrite every document sharing the object root.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/reefdata/objsearch/internal/extract"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/handler"
	"github.com/reefdata/objsearch/internal/indexer"
	"github.com/reefdata/objsearch/internal/rules"
)

// pageSize is the fetch size for internal document scans.
const pageSize = 1000

// Storage is the Bleve-backed search index.
type Storage struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
}

var _ indexer.IndexingStorage = (*Storage)(nil)

// Open opens the index at path, creating it if absent. An empty path opens
// an in-memory index, mostly useful in tests.
func Open(path string) (*Storage, error) {
	im := buildMapping()
	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index dir: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	return &Storage{index: idx, path: path}, nil
}

// Close closes the underlying index.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	for _, f := range []string{"guid", "pguid", "root", "otype", "creator"} {
		doc.AddFieldMappingsAt(f, bleve.NewKeywordFieldMapping())
	}
	src := bleve.NewTextFieldMapping()
	src.Index = false
	src.Store = true
	src.IncludeInAll = false
	doc.AddFieldMappingsAt("_source", src)
	im.DefaultMapping = doc
	return im
}

// storedDoc is the full document content, kept in the stored-only _source
// field so visibility updates can rewrite documents in place.
type storedDoc struct {
	GUID              string           `json:"guid"`
	PGUID             string           `json:"pguid"`
	Root              string           `json:"root"`
	SearchType        string           `json:"otype"`
	SearchTypeVersion int              `json:"otypever"`
	Name              string           `json:"oname"`
	Creator           string           `json:"creator"`
	CommitHash        string           `json:"commit,omitempty"`
	Copier            string           `json:"copier,omitempty"`
	Method            string           `json:"method,omitempty"`
	Module            string           `json:"module,omitempty"`
	AccessGroup       int              `json:"group"`
	Timestamp         int64            `json:"timestamp"`
	Public            bool             `json:"public"`
	Deleted           bool             `json:"deleted"`
	Keywords          map[string][]any `json:"keywords,omitempty"`
	FullText          []string         `json:"fulltext,omitempty"`
}

// fields builds the indexable view of the document, with the serialized
// document alongside.
func (d *storedDoc) fields() (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding document %s: %w", d.GUID, err)
	}
	m := map[string]any{
		"guid":      d.GUID,
		"pguid":     d.PGUID,
		"root":      d.Root,
		"otype":     d.SearchType,
		"oname":     d.Name,
		"creator":   d.Creator,
		"group":     float64(d.AccessGroup),
		"timestamp": float64(d.Timestamp),
		"public":    d.Public,
		"deleted":   d.Deleted,
		"fulltext":  d.FullText,
		"_source":   string(raw),
	}
	for key, values := range d.Keywords {
		m["key_"+key] = values
	}
	return m, nil
}

func docID(searchType rules.SearchObjectType, g guid.GUID) string {
	return searchType.String() + "::" + g.String()
}

// rootOf strips version and sub-object, yielding the id shared by all
// versions of an object.
func rootOf(g guid.GUID) string {
	p := g.Parent()
	p.Version = 0
	return p.String()
}

// IndexObjects implements indexer.IndexingStorage. All documents of the rule
// set for this parent are replaced in a single batch, so a failed indexing
// run never leaves a mix of old and new documents.
func (s *Storage) IndexObjects(
	ctx context.Context,
	ruleSet *rules.RuleSet,
	src handler.SourceData,
	timestamp time.Time,
	parentJSON []byte,
	parent guid.GUID,
	objects map[guid.GUID]extract.ParsedObject,
	isPublic bool,
) error {
	fullTextKeys := map[string]bool{}
	for _, r := range ruleSet.Rules {
		if r.FullText {
			fullTextKeys[r.Key()] = true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stale, err := s.idsMatching(ctx, andQuery(
		termQuery("pguid", parent.String()),
		termQuery("otype", ruleSet.SearchType.String())))
	if err != nil {
		return err
	}
	batch := s.index.NewBatch()
	for _, id := range stale {
		batch.Delete(id)
	}
	for g, po := range objects {
		d := &storedDoc{
			GUID:              g.String(),
			PGUID:             parent.String(),
			Root:              rootOf(parent),
			SearchType:        ruleSet.SearchType.String(),
			SearchTypeVersion: ruleSet.SearchType.Version,
			Name:              src.Name,
			Creator:           src.Creator,
			CommitHash:        src.CommitHash,
			Copier:            src.Copier,
			Method:            src.Method,
			Module:            src.Module,
			AccessGroup:       parent.AccessGroupID,
			Timestamp:         timestamp.UnixMilli(),
			Public:            isPublic,
			Keywords:          map[string][]any{},
		}
		for key, values := range po.Keywords {
			d.Keywords[key] = values
			if fullTextKeys[key] {
				for _, v := range values {
					d.FullText = append(d.FullText, fmt.Sprintf("%v", v))
				}
			}
		}
		fieldMap, err := d.fields()
		if err != nil {
			return err
		}
		if err := batch.Index(docID(ruleSet.SearchType, g), fieldMap); err != nil {
			return fmt.Errorf("indexing document %s: %w", d.GUID, err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("writing index batch: %w", err)
	}
	return nil
}

// CheckParentGUIDsExist implements indexer.IndexingStorage.
func (s *Storage) CheckParentGUIDsExist(ctx context.Context, guids []guid.GUID) (map[guid.GUID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[guid.GUID]bool, len(guids))
	for _, g := range guids {
		req := bleve.NewSearchRequest(termQuery("pguid", g.String()))
		req.Size = 0
		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("checking guid %s: %w", g, err)
		}
		out[g] = res.Total > 0
	}
	return out, nil
}

// DeleteAllVersions implements indexer.IndexingStorage.
func (s *Storage) DeleteAllVersions(ctx context.Context, g guid.GUID) error {
	return s.updateDocs(ctx, termQuery("root", rootOf(g)), func(d *storedDoc) {
		d.Deleted = true
	})
}

// UndeleteAllVersions implements indexer.IndexingStorage.
func (s *Storage) UndeleteAllVersions(ctx context.Context, g guid.GUID) error {
	return s.updateDocs(ctx, termQuery("root", rootOf(g)), func(d *storedDoc) {
		d.Deleted = false
	})
}

// PublishAllVersions implements indexer.IndexingStorage.
func (s *Storage) PublishAllVersions(ctx context.Context, g guid.GUID) error {
	return s.updateDocs(ctx, termQuery("root", rootOf(g)), func(d *storedDoc) {
		d.Public = true
	})
}

// UnpublishAllVersions implements indexer.IndexingStorage.
func (s *Storage) UnpublishAllVersions(ctx context.Context, g guid.GUID) error {
	return s.updateDocs(ctx, termQuery("root", rootOf(g)), func(d *storedDoc) {
		d.Public = false
	})
}

// PublishObjects implements indexer.IndexingStorage.
func (s *Storage) PublishObjects(ctx context.Context, guids []guid.GUID) error {
	for _, g := range guids {
		err := s.updateDocs(ctx, termQuery("pguid", g.String()), func(d *storedDoc) {
			d.Public = true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UnpublishObjects implements indexer.IndexingStorage.
func (s *Storage) UnpublishObjects(ctx context.Context, guids []guid.GUID) error {
	for _, g := range guids {
		err := s.updateDocs(ctx, termQuery("pguid", g.String()), func(d *storedDoc) {
			d.Public = false
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetNameOnAllObjectVersions implements indexer.IndexingStorage.
func (s *Storage) SetNameOnAllObjectVersions(ctx context.Context, g guid.GUID, newName string) error {
	return s.updateDocs(ctx, termQuery("root", rootOf(g)), func(d *storedDoc) {
		d.Name = newName
	})
}

// updateDocs rewrites every document matching q with mutate applied.
func (s *Storage) updateDocs(ctx context.Context, q query.Query, mutate func(*storedDoc)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ids, err := s.docsMatching(ctx, q)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	batch := s.index.NewBatch()
	for i := range docs {
		mutate(&docs[i])
		fieldMap, err := docs[i].fields()
		if err != nil {
			return err
		}
		if err := batch.Index(ids[i], fieldMap); err != nil {
			return fmt.Errorf("reindexing document %s: %w", ids[i], err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("writing index batch: %w", err)
	}
	return nil
}

// docsMatching pages through every document matching q. Callers hold the
// lock.
func (s *Storage) docsMatching(ctx context.Context, q query.Query) ([]storedDoc, []string, error) {
	var docs []storedDoc
	var ids []string
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequest(q)
		req.Size = pageSize
		req.From = from
		req.Fields = []string{"_source"}
		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning index: %w", err)
		}
		for _, hit := range res.Hits {
			raw, ok := hit.Fields["_source"].(string)
			if !ok {
				return nil, nil, fmt.Errorf("document %s has no source", hit.ID)
			}
			var d storedDoc
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				return nil, nil, fmt.Errorf("decoding document %s: %w", hit.ID, err)
			}
			docs = append(docs, d)
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < pageSize {
			return docs, ids, nil
		}
	}
}

// idsMatching collects the ids of every document matching q. Callers hold
// the lock.
func (s *Storage) idsMatching(ctx context.Context, q query.Query) ([]string, error) {
	var ids []string
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequest(q)
		req.Size = pageSize
		req.From = from
		res, err := s.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < pageSize {
			return ids, nil
		}
	}
}

func termQuery(field, term string) query.Query {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}

func andQuery(qs ...query.Query) query.Query {
	return bleve.NewConjunctionQuery(qs...)
}
