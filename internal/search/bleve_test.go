package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reefdata/objsearch/internal/extract"
	"github.com/reefdata/objsearch/internal/guid"
	"github.com/reefdata/objsearch/internal/handler"
	"github.com/reefdata/objsearch/internal/rules"
)

func openIndex(t *testing.T) *Storage {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func genomeRuleSet() *rules.RuleSet {
	namePath, _ := rules.ParsePath("scientific_name")
	idPath, _ := rules.ParsePath("id")
	return &rules.RuleSet{
		SearchType:  rules.SearchObjectType{Type: "Genome", Version: 1},
		StorageType: rules.StorageObjectType{StorageCode: "WS", Type: "KBaseGenomes.Genome"},
		Rules: []*rules.Rule{
			{KeyName: "sciname", Path: namePath, FullText: true},
			{KeyName: "id", Path: idPath},
		},
	}
}

func indexGenome(t *testing.T, s *Storage, parent guid.GUID, name, sciname string, public bool) {
	t.Helper()
	err := s.IndexObjects(context.Background(), genomeRuleSet(),
		handler.SourceData{Name: name, Creator: "alice"},
		time.Now().UTC(), nil, parent,
		map[guid.GUID]extract.ParsedObject{
			parent: {Keywords: map[string][]any{
				"sciname": {sciname},
				"id":      {"g1"},
			}},
		}, public)
	require.NoError(t, err)
}

func mustSearch(t *testing.T, s *Storage, q Query) ([]Result, int) {
	t.Helper()
	results, total, err := s.Search(context.Background(), q)
	require.NoError(t, err)
	return results, total
}

func TestStorage_IndexAndSearch(t *testing.T) {
	s := openIndex(t)
	parent := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: "7", Version: 3}
	indexGenome(t, s, parent, "my genome", "Escherichia coli", true)

	results, total := mustSearch(t, s, Query{Text: "coli"})
	require.Equal(t, 1, total)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, parent, r.GUID)
	assert.Equal(t, rules.SearchObjectType{Type: "Genome", Version: 1}, r.Type)
	assert.Equal(t, "my genome", r.Name)
	assert.Equal(t, "alice", r.Creator)
	assert.True(t, r.Public)
	assert.Equal(t, []any{"Escherichia coli"}, r.Keywords["sciname"])
	assert.Greater(t, r.Score, 0.0)
}

func TestStorage_SearchMatchesObjectName(t *testing.T) {
	s := openIndex(t)
	parent := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: "7", Version: 3}
	indexGenome(t, s, parent, "special-dataset", "Escherichia coli", true)

	_, total := mustSearch(t, s, Query{Text: "special-dataset"})
	assert.Equal(t, 1, total)
}

func TestStorage_ReindexReplacesDocuments(t *testing.T) {
	s := openIndex(t)
	parent := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: "7", Version: 3}
	indexGenome(t, s, parent, "my genome", "Escherichia coli", true)
	indexGenome(t, s, parent, "my genome", "Salmonella enterica", true)

	_, total := mustSearch(t, s, Query{})
	assert.Equal(t, 1, total, "re-indexing must replace, not accumulate")

	_, total = mustSearch(t, s, Query{Text: "coli"})
	assert.Equal(t, 0, total, "the old document content must be gone")
	_, total = mustSearch(t, s, Query{Text: "enterica"})
	assert.Equal(t, 1, total)
}

func TestStorage_SubObjectDocumentsShareParent(t *testing.T) {
	s := openIndex(t)
	parent := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: "7", Version: 3}
	idPath, _ := rules.ParsePath("id")
	rs := &rules.RuleSet{
		SearchType:    rules.SearchObjectType{Type: "GenomeFeature", Version: 1},
		StorageType:   rules.StorageObjectType{StorageCode: "WS", Type: "KBaseGenomes.Genome"},
		SubObjectType: "feature",
		Rules:         []*rules.Rule{{KeyName: "id", Path: idPath, FullText: true}},
	}
	objects := map[guid.GUID]extract.ParsedObject{
		parent.WithSubObject("feature", "f1"): {Keywords: map[string][]any{"id": {"f1"}}},
		parent.WithSubObject("feature", "f2"): {Keywords: map[string][]any{"id": {"f2"}}},
	}
	err := s.IndexObjects(context.Background(), rs,
		handler.SourceData{Name: "genome", Creator: "alice"},
		time.Now().UTC(), nil, parent, objects, true)
	require.NoError(t, err)

	_, total := mustSearch(t, s, Query{SearchType: "GenomeFeature"})
	assert.Equal(t, 2, total)

	exists, err := s.CheckParentGUIDsExist(context.Background(), []guid.GUID{parent})
	require.NoError(t, err)
	assert.True(t, exists[parent])
}

func TestStorage_CheckParentGUIDsExist(t *testing.T) {
	s := openIndex(t)
	indexed := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: "7", Version: 3}
	missing := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: "8", Version: 1}
	indexGenome(t, s, indexed, "my genome", "Escherichia coli", true)

	exists, err := s.CheckParentGUIDsExist(context.Background(),
		[]guid.GUID{indexed, missing})
	require.NoError(t, err)
	assert.True(t, exists[indexed])
	assert.False(t, exists[missing])
}

func TestStorage_DeleteHidesAndUndeleteRestores(t *testing.T) {
	s := openIndex(t)
	parent := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: "7", Version: 3}
	indexGenome(t, s, parent, "my genome", "Escherichia coli", true)

	require.NoError(t, s.DeleteAllVersions(context.Background(), parent.Parent()))
	_, total := mustSearch(t, s, Query{})
	assert.Equal(t, 0, total, "deleted objects are hidden by default")

	_, total = mustSearch(t, s, Query{IncludeDeleted: true})
	assert.Equal(t, 1, total, "deleted objects stay in the index")

	require.NoError(t, s.UndeleteAllVersions(context.Background(), parent.Parent()))
	_, total = mustSearch(t, s, Query{})
	assert.Equal(t, 1, total)
}

func TestStorage_VisibilityByAccessGroup(t *testing.T) {
	s := openIndex(t)
	private := guid.GUID{StorageCode: "WS", AccessGroupID: 5, ObjectID: "1", Version: 1}
	public := guid.GUID{StorageCode: "WS", AccessGroupID: 9, ObjectID: "2", Version: 1}
	indexGenome(t, s, private, "private genome", "Escherichia coli", false)
	indexGenome(t, s, public, "public genome", "Escherichia coli", true)

	// no groups: only public objects
	results, total := mustSearch(t, s, Query{})
	require.Equal(t, 1, total)
	assert.Equal(t, public, results[0].GUID)

	// group 5 also sees its private object
	_, total = mustSearch(t, s, Query{AccessGroupIDs: []int{5}})
	assert.Equal(t, 2, total)

	// an unrelated group does not
	_, total = mustSearch(t, s, Query{AccessGroupIDs: []int{6}})
	assert.Equal(t, 1, total)
}

func TestStorage_PublishAndUnpublishAllVersions(t *testing.T) {
	s := openIndex(t)
	parent := guid.GUID{StorageCode: "WS", AccessGroupID: 5, ObjectID: "1", Version: 1}
	indexGenome(t, s, parent, "genome", "Escherichia coli", false)

	_, total := mustSearch(t, s, Query{})
	assert.Equal(t, 0, total)

	require.NoError(t, s.PublishAllVersions(context.Background(), parent.Parent()))
	_, total = mustSearch(t, s, Query{})
	assert.Equal(t, 1, total)

	require.NoError(t, s.UnpublishAllVersions(context.Background(), parent.Parent()))
	_, total = mustSearch(t, s, Query{})
	assert.Equal(t, 0, total)
}

func TestStorage_PublishObjectsTargetsOneVersion(t *testing.T) {
	s := openIndex(t)
	v1 := guid.GUID{StorageCode: "WS", AccessGroupID: 5, ObjectID: "1", Version: 1}
	v2 := guid.GUID{StorageCode: "WS", AccessGroupID: 5, ObjectID: "1", Version: 2}
	indexGenome(t, s, v1, "genome", "Escherichia coli", false)
	indexGenome(t, s, v2, "genome", "Escherichia coli", false)

	require.NoError(t, s.PublishObjects(context.Background(), []guid.GUID{v2}))

	results, total := mustSearch(t, s, Query{})
	require.Equal(t, 1, total)
	assert.Equal(t, v2, results[0].GUID)
}

func TestStorage_RenameAllVersions(t *testing.T) {
	s := openIndex(t)
	parent := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: "7", Version: 3}
	indexGenome(t, s, parent, "old-name", "Escherichia coli", true)

	require.NoError(t, s.SetNameOnAllObjectVersions(context.Background(),
		parent.Parent(), "brand-new-name"))

	results, total := mustSearch(t, s, Query{Text: "brand-new-name"})
	require.Equal(t, 1, total)
	assert.Equal(t, "brand-new-name", results[0].Name)

	_, total = mustSearch(t, s, Query{Text: "old-name"})
	assert.Equal(t, 0, total)
}

func TestStorage_SearchTypeFilterAndPaging(t *testing.T) {
	s := openIndex(t)
	for i := 1; i <= 5; i++ {
		g := guid.GUID{StorageCode: "WS", AccessGroupID: 1, ObjectID: string(rune('a' + i)), Version: 1}
		indexGenome(t, s, g, "genome", "Escherichia coli", true)
	}

	results, total := mustSearch(t, s, Query{SearchType: "Genome", Size: 2})
	assert.Equal(t, 5, total)
	assert.Len(t, results, 2)

	results, _ = mustSearch(t, s, Query{SearchType: "Genome", From: 4, Size: 2})
	assert.Len(t, results, 1)

	_, total = mustSearch(t, s, Query{SearchType: "Assembly"})
	assert.Equal(t, 0, total)
}
