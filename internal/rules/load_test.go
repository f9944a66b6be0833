package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genomeYAML = `
global-object-type: Genome
version: 1
storage-type: WS
storage-object-type: KBaseGenomes.Genome
storage-object-type-version: 2
indexing-rules:
  - path: id
  - key-name: sciname
    path: scientific_name
    full-text: true
  - key-name: feature_count
    path: features/[*]/id
    transform: string
  - key-name: domain
    path: domain
    default-value: Unknown
  - key-name: assembly_guid
    path: assembly_ref
    transform: guid
    target-object-type: Assembly
    not-indexed: true
  - key-name: assembly_name
    source-key: assembly_guid
    transform: lookup.oname
`

const featureYAML = `
global-object-type: GenomeFeature
version: 1
storage-type: WS
storage-object-type: KBaseGenomes.Genome
sub-object-type: feature
sub-object-path: /features/[*]
sub-object-id-path: /id
indexing-rules:
  - path: id
  - key-name: genome_sciname
    path: scientific_name
    from-parent: true
  - key-name: location
    path: location
    transform: location
  - key-name: ontology
    path: ontology_terms/[*]
    transform: filter
    filter-match-path: source
    filter-pattern: "^GO$"
    filter-value-path: term
`

func TestDecode_WholeObjectRuleSet(t *testing.T) {
	rs, err := Decode([]byte(genomeYAML), "genome.yaml")
	require.NoError(t, err)

	assert.Equal(t, SearchObjectType{Type: "Genome", Version: 1}, rs.SearchType)
	assert.Equal(t, StorageObjectType{StorageCode: "WS", Type: "KBaseGenomes.Genome", Version: 2},
		rs.StorageType)
	assert.False(t, rs.HasSubObjects())
	require.Len(t, rs.Rules, 6)

	// key name defaults to the first path element
	assert.Equal(t, "id", rs.Rules[0].Key())

	sciname := rs.Rules[1]
	assert.Equal(t, "sciname", sciname.Key())
	assert.True(t, sciname.FullText)
	assert.Equal(t, "scientific_name", sciname.Path.String())

	assert.Equal(t, TransformString, rs.Rules[2].Transform.Kind)
	assert.Equal(t, "Unknown", rs.Rules[3].DefaultValue)

	guidRule := rs.Rules[4]
	assert.Equal(t, TransformGUID, guidRule.Transform.Kind)
	assert.Equal(t, "Assembly", guidRule.Transform.TargetObjectType)
	assert.True(t, guidRule.NotIndexed)

	derived := rs.Rules[5]
	assert.True(t, derived.Derived())
	assert.Equal(t, "assembly_guid", derived.SourceKey)
	assert.Equal(t, TransformLookup, derived.Transform.Kind)
	assert.Equal(t, "oname", derived.Transform.Property)
}

func TestDecode_SubObjectRuleSet(t *testing.T) {
	rs, err := Decode([]byte(featureYAML), "feature.yaml")
	require.NoError(t, err)

	assert.True(t, rs.HasSubObjects())
	assert.Equal(t, "feature", rs.SubObjectType)
	assert.Equal(t, "features/[*]", rs.SubObjectPath.String())
	assert.Equal(t, "id", rs.SubObjectIDPath.String())

	assert.True(t, rs.Rules[1].FromParent)
	assert.Equal(t, TransformLocation, rs.Rules[2].Transform.Kind)

	filter := rs.Rules[3].Transform
	assert.Equal(t, TransformFilter, filter.Kind)
	assert.Equal(t, "source", filter.MatchPath)
	assert.Equal(t, "^GO$", filter.Pattern)
	assert.Equal(t, "term", filter.ValuePath)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"missing global type": `
version: 1
storage-type: WS
storage-object-type: T
indexing-rules: [{path: id}]`,
		"zero version": `
global-object-type: G
storage-type: WS
storage-object-type: T
indexing-rules: [{path: id}]`,
		"missing storage type": `
global-object-type: G
version: 1
indexing-rules: [{path: id}]`,
		"no rules": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T`,
		"sub-object without paths": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T
sub-object-type: feature
indexing-rules: [{path: id}]`,
		"derived rule with path": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T
indexing-rules: [{key-name: k, path: id, source-key: other}]`,
		"rule without path or source": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T
indexing-rules: [{key-name: k}]`,
		"guid without target": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T
indexing-rules: [{path: ref, transform: guid}]`,
		"filter without config": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T
indexing-rules: [{path: f, transform: filter}]`,
		"bad filter pattern": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T
indexing-rules:
  - path: f
    transform: filter
    filter-match-path: a
    filter-pattern: "["
    filter-value-path: b`,
		"lookup without property": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T
indexing-rules: [{key-name: k, source-key: s, transform: lookup}]`,
		"unknown transform": `
global-object-type: G
version: 1
storage-type: WS
storage-object-type: T
indexing-rules: [{path: f, transform: frobnicate}]`,
		"not yaml": `{{{`,
	}
	for name, doc := range cases {
		_, err := Decode([]byte(doc), name)
		assert.Error(t, err, name)
	}
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("/features/[*]/id")
	require.NoError(t, err)
	assert.Equal(t, []string{"features", "[*]", "id"}, p.Items)
	assert.Equal(t, "features/[*]/id", p.String())

	_, err = ParsePath("")
	assert.Error(t, err)
	_, err = ParsePath("a//b")
	assert.Error(t, err)
}
