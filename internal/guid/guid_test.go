package guid

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGUID_String_RoundTrip(t *testing.T) {
	cases := []string{
		"WS:42/7",
		"WS:42/7/3",
		"WS:42/7/3:feature/gene.17",
		"FS:0/obj",
		"FS:1/my-object/12:chunk/7",
	}
	for _, s := range cases {
		g, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, g.String(), "round trip must be exact")
	}
}

func TestGUID_Parse_Fields(t *testing.T) {
	g, err := Parse("WS:42/7/3:feature/gene.17")
	require.NoError(t, err)
	assert.Equal(t, "WS", g.StorageCode)
	assert.Equal(t, 42, g.AccessGroupID)
	assert.Equal(t, "7", g.ObjectID)
	assert.Equal(t, 3, g.Version)
	assert.Equal(t, "feature", g.SubObjectType)
	assert.Equal(t, "gene.17", g.SubObjectID)
	assert.True(t, g.HasVersion())
	assert.True(t, g.IsSubObject())
}

func TestGUID_Parse_Errors(t *testing.T) {
	cases := []string{
		"",
		"WS",
		":42/7",
		"WS:42",
		"WS:42/",
		"WS:x/7",
		"WS:42/7/0",
		"WS:42/7/x",
		"WS:42/7/1/2",
		"WS:42/7:feature",
		"WS:42/7:feature/",
		"WS:42/7::",
		"WS:42/7:f/x:extra/part",
		"WS:" + strings.Repeat("a", MaxLength),
	}
	for _, s := range cases {
		_, err := Parse(s)
		assert.Error(t, err, "%q should not parse", s)
	}
}

func TestGUID_Parent_DropsSubObject(t *testing.T) {
	g, err := Parse("WS:42/7/3:feature/gene.17")
	require.NoError(t, err)
	p := g.Parent()
	assert.Equal(t, "WS:42/7/3", p.String())
	assert.False(t, p.IsSubObject())
	// the original is untouched
	assert.True(t, g.IsSubObject())
}

func TestGUID_WithVersion_WithSubObject(t *testing.T) {
	g := New("WS", 42, "7")
	assert.False(t, g.HasVersion())
	assert.Equal(t, "WS:42/7/3:feature/f1",
		g.WithVersion(3).WithSubObject("feature", "f1").String())
}

func TestGUID_FromRef_AndRef(t *testing.T) {
	g, err := FromRef("WS", "42/7/3")
	require.NoError(t, err)
	assert.Equal(t, "WS:42/7/3", g.String())
	assert.Equal(t, "42/7/3", g.Ref())

	g, err = FromRef("WS", "42/7")
	require.NoError(t, err)
	assert.Equal(t, "42/7", g.Ref())

	_, err = FromRef("WS", "not/a/ref/at/all")
	assert.Error(t, err)
}

func TestGUID_Less_Ordering(t *testing.T) {
	guids := []GUID{
		{StorageCode: "WS", AccessGroupID: 2, ObjectID: "a"},
		{StorageCode: "FS", AccessGroupID: 9, ObjectID: "z"},
		{StorageCode: "WS", AccessGroupID: 1, ObjectID: "b", Version: 2},
		{StorageCode: "WS", AccessGroupID: 1, ObjectID: "b", Version: 1},
		{StorageCode: "WS", AccessGroupID: 1, ObjectID: "b", Version: 1, SubObjectType: "f", SubObjectID: "x"},
	}
	sort.Slice(guids, func(i, j int) bool { return guids[i].Less(guids[j]) })
	want := []string{
		"FS:9/z",
		"WS:1/b/1",
		"WS:1/b/1:f/x",
		"WS:1/b/2",
		"WS:2/a",
	}
	for i, g := range guids {
		assert.Equal(t, want[i], g.String())
	}
}
