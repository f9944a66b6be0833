package rules

import (
	"fmt"
	"strings"
)

// Path addresses a location in an object's JSON tree. Elements are object
// keys; "*" matches every key of an object and "[*]" every element of an
// array. The textual form is slash-separated with an optional leading slash:
// "features/[*]/id".
type Path struct {
	Items []string
}

// ParsePath parses the textual path form.
func ParsePath(s string) (*Path, error) {
	trimmed := strings.Trim(s, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("empty json path %q", s)
	}
	items := strings.Split(trimmed, "/")
	for _, it := range items {
		if it == "" {
			return nil, fmt.Errorf("empty element in json path %q", s)
		}
	}
	return &Path{Items: items}, nil
}

// String renders the canonical slash-separated form.
func (p *Path) String() string {
	return strings.Join(p.Items, "/")
}

// MatchesAny reports whether an element matches every key or index.
func MatchesAny(item string) bool {
	return item == "*" || item == "[*]"
}
