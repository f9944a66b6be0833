package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reefdata/objsearch/internal/errors"
)

func writeRuleSet(t *testing.T, dir, file, globalType string, version int, subObjectType string) {
	t.Helper()
	doc := "global-object-type: " + globalType + "\n" +
		"version: " + itoa(version) + "\n" +
		"storage-type: WS\n" +
		"storage-object-type: Mod.Thing\n"
	if subObjectType != "" {
		doc += "sub-object-type: " + subObjectType + "\n" +
			"sub-object-path: /parts/[*]\n" +
			"sub-object-id-path: /id\n"
	}
	doc += "indexing-rules:\n  - path: id\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(doc), 0o644))
}

func itoa(n int) string {
	return string(rune('0' + n))
}

func TestFileTypeStorage_LoadsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeRuleSet(t, dir, "genome.yaml", "Genome", 1, "")
	writeRuleSet(t, dir, "feature.yml", "GenomeFeature", 1, "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not rules"), 0o644))

	s, err := NewFileTypeStorage(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	sets, err := s.ListRuleSets(StorageObjectType{StorageCode: "WS", Type: "Mod.Thing"})
	require.NoError(t, err)
	require.Len(t, sets, 2)
	// sub-object sets come first so their extraction runs before the parent
	assert.Equal(t, "GenomeFeature", sets[0].SearchType.Type)
	assert.Equal(t, "Genome", sets[1].SearchType.Type)

	sets, err = s.ListRuleSets(StorageObjectType{StorageCode: "WS", Type: "Other.Type"})
	require.NoError(t, err)
	assert.Empty(t, sets, "unregistered types list empty, not an error")
}

func TestFileTypeStorage_UnparseableFileFailsStartup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("{{{"), 0o644))
	_, err := NewFileTypeStorage(dir, nil)
	assert.Error(t, err)
}

func TestFileTypeStorage_GetRuleSet(t *testing.T) {
	dir := t.TempDir()
	writeRuleSet(t, dir, "genome.yaml", "Genome", 1, "")

	s, err := NewFileTypeStorage(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	rs, err := s.GetRuleSet(SearchObjectType{Type: "Genome", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "Genome", rs.SearchType.Type)

	_, err = s.GetRuleSet(SearchObjectType{Type: "Genome", Version: 9})
	require.Error(t, err)
	assert.Equal(t, errors.CodeTypeNotFound, errors.CodeOf(err))
}

func TestFileTypeStorage_GetRuleSetByName_PicksHighestVersion(t *testing.T) {
	dir := t.TempDir()
	writeRuleSet(t, dir, "genome_v1.yaml", "Genome", 1, "")
	writeRuleSet(t, dir, "genome_v2.yaml", "Genome", 2, "")

	s, err := NewFileTypeStorage(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	rs, err := s.GetRuleSetByName("Genome")
	require.NoError(t, err)
	assert.Equal(t, 2, rs.SearchType.Version)

	_, err = s.GetRuleSetByName("Nope")
	require.Error(t, err)
	assert.Equal(t, errors.CodeTypeNotFound, errors.CodeOf(err))
}

func TestFileTypeStorage_WatchReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeRuleSet(t, dir, "genome.yaml", "Genome", 1, "")

	s, err := NewFileTypeStorage(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Watch())

	writeRuleSet(t, dir, "genome.yaml", "Genome", 2, "")
	assert.Eventually(t, func() bool {
		rs, err := s.GetRuleSetByName("Genome")
		return err == nil && rs.SearchType.Version == 2
	}, 5*time.Second, 10*time.Millisecond, "modified rule file must reload")

	// a new file registers a new type
	writeRuleSet(t, dir, "assembly.yaml", "Assembly", 1, "")
	assert.Eventually(t, func() bool {
		_, err := s.GetRuleSetByName("Assembly")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "created rule file must load")
}

func TestFileTypeStorage_WatchKeepsPreviousOnParseError(t *testing.T) {
	dir := t.TempDir()
	writeRuleSet(t, dir, "genome.yaml", "Genome", 1, "")

	s, err := NewFileTypeStorage(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Watch())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "genome.yaml"), []byte("{{{"), 0o644))

	// the watcher must not drop the previously loaded version
	time.Sleep(200 * time.Millisecond)
	rs, err := s.GetRuleSetByName("Genome")
	require.NoError(t, err)
	assert.Equal(t, 1, rs.SearchType.Version)
}

func TestSortSubObjectFirst_StableNameOrder(t *testing.T) {
	sets := []*RuleSet{
		{SearchType: SearchObjectType{Type: "B", Version: 1}},
		{SearchType: SearchObjectType{Type: "Sub2", Version: 1}, SubObjectType: "s"},
		{SearchType: SearchObjectType{Type: "A", Version: 1}},
		{SearchType: SearchObjectType{Type: "Sub1", Version: 1}, SubObjectType: "s"},
	}
	SortSubObjectFirst(sets)
	got := make([]string, len(sets))
	for i, rs := range sets {
		got[i] = rs.SearchType.Type
	}
	assert.Equal(t, []string{"Sub1", "Sub2", "A", "B"}, got)
}
