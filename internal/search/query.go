package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/rules"
)

// Query is one search request against the index.
type Query struct {
	// Text is matched against full-text keywords and object names. Empty
	// matches everything the filters allow.
	Text string

	// SearchType restricts results to one search type name, any version.
	SearchType string

	// AccessGroupIDs are the groups the caller may see private objects
	// in.
	AccessGroupIDs []int

	// IncludeDeleted includes objects hidden by delete events.
	IncludeDeleted bool

	// From and Size page through results. Size defaults to 25.
	From int
	Size int
}

// Result is one search hit.
type Result struct {
	GUID      guid.GUID
	Type      rules.SearchObjectType
	Name      string
	Creator   string
	Timestamp time.Time
	Public    bool
	Keywords  map[string][]any
	Score     float64
}

// Search runs a query and returns the hits plus the total match count.
// Results are visible to the caller when public or when their access group
// is in the query's group list.
func (s *Storage) Search(ctx context.Context, q Query) ([]Result, int, error) {
	size := q.Size
	if size < 1 {
		size = 25
	}
	bq := bleve.NewBooleanQuery()
	if strings.TrimSpace(q.Text) == "" {
		bq.AddMust(bleve.NewMatchAllQuery())
	} else {
		text := bleve.NewDisjunctionQuery(
			matchQuery("fulltext", q.Text),
			matchQuery("oname", q.Text))
		bq.AddMust(text)
	}
	if q.SearchType != "" {
		// type names index as "Name_ver"; match any registered version
		prefix := bleve.NewPrefixQuery(q.SearchType + "_")
		prefix.SetField("otype")
		bq.AddMust(prefix)
	}
	if !q.IncludeDeleted {
		bq.AddMust(boolQuery("deleted", false))
	}
	access := bleve.NewDisjunctionQuery(boolQuery("public", true))
	for _, group := range q.AccessGroupIDs {
		access.AddQuery(groupQuery(group))
	}
	bq.AddMust(access)

	req := bleve.NewSearchRequest(bq)
	req.Size = size
	req.From = q.From
	req.Fields = []string{"_source"}

	s.mu.RLock()
	defer s.mu.RUnlock()
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("search failed: %w", err)
	}
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		raw, ok := hit.Fields["_source"].(string)
		if !ok {
			return nil, 0, fmt.Errorf("document %s has no source", hit.ID)
		}
		var d storedDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, 0, fmt.Errorf("decoding document %s: %w", hit.ID, err)
		}
		g, err := guid.Parse(d.GUID)
		if err != nil {
			return nil, 0, fmt.Errorf("document %s has a bad guid: %w", hit.ID, err)
		}
		typeName := strings.TrimSuffix(d.SearchType,
			fmt.Sprintf("_%d", d.SearchTypeVersion))
		out = append(out, Result{
			GUID:      g,
			Type:      rules.SearchObjectType{Type: typeName, Version: d.SearchTypeVersion},
			Name:      d.Name,
			Creator:   d.Creator,
			Timestamp: time.UnixMilli(d.Timestamp).UTC(),
			Public:    d.Public,
			Keywords:  d.Keywords,
			Score:     hit.Score,
		})
	}
	return out, int(res.Total), nil
}

func matchQuery(field, text string) query.Query {
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	return q
}

func boolQuery(field string, value bool) query.Query {
	q := bleve.NewBoolFieldQuery(value)
	q.SetField(field)
	return q
}

func groupQuery(group int) query.Query {
	v := float64(group)
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(&v, &v, &inclusive, &inclusive)
	q.SetField("group")
	return q
}
