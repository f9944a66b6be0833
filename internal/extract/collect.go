package extract

import (
	"strconv"

	"github.com/reefdata/objsearch/internal/rules"
)

// collectNode is one level of the path-matching tree. Rules sharing a JSON
// path hang off the same node so a single document walk feeds all of them;
// one rule name may also receive contributions from several distinct paths
// without double-counting, since values are appended per keyword name.
type collectNode struct {
	rules    []*rules.Rule
	children map[string]*collectNode
}

func newCollectNode() *collectNode {
	return &collectNode{children: map[string]*collectNode{}}
}

// add registers a rule under its path.
func (n *collectNode) add(items []string, r *rules.Rule) {
	if len(items) == 0 {
		n.rules = append(n.rules, r)
		return
	}
	child, ok := n.children[items[0]]
	if !ok {
		child = newCollectNode()
		n.children[items[0]] = child
	}
	child.add(items[1:], r)
}

// walk visits the document tree, emitting each value that a registered path
// matches, once per (rule, match).
func (n *collectNode) walk(v any, emit func(rs []*rules.Rule, v any) error) error {
	if len(n.rules) > 0 {
		if err := emit(n.rules, v); err != nil {
			return err
		}
	}
	for item, child := range n.children {
		if rules.MatchesAny(item) {
			switch t := v.(type) {
			case map[string]any:
				for _, elem := range t {
					if err := child.walk(elem, emit); err != nil {
						return err
					}
				}
			case []any:
				for _, elem := range t {
					if err := child.walk(elem, emit); err != nil {
						return err
					}
				}
			}
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			if elem, ok := t[item]; ok {
				if err := child.walk(elem, emit); err != nil {
					return err
				}
			}
		case []any:
			if i, err := strconv.Atoi(item); err == nil && i >= 0 && i < len(t) {
				if err := child.walk(t[i], emit); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// buildCollectTree groups the non-derived rules for one document (sub-object
// or parent) by path.
func buildCollectTree(ruleList []*rules.Rule, fromParent bool) *collectNode {
	root := newCollectNode()
	for _, r := range ruleList {
		if r.Derived() || r.Path == nil || r.FromParent != fromParent {
			continue
		}
		root.add(r.Path.Items, r)
	}
	return root
}
