// Package query defines query parameters and the (path, params) pair that
// identifies a view.
package query

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

// DefaultIdentifier names the unfiltered query at a path.
const DefaultIdentifier = "default"

// Params restrict and order the children a query observes. The zero
// value is the default query: all data, ordered by priority. Params are
// values; every setter returns a modified copy.
type Params struct {
	limitSet bool
	limit    int
	viewFrom string

	startSet     bool
	startValue   node.Node
	startNameSet bool
	startName    string
	startAfter   bool

	endSet     bool
	endValue   node.Node
	endNameSet bool
	endName    string
	endBefore  bool

	index node.Index
}

// Default returns the default params.
func Default() Params { return Params{} }

// LimitToFirst keeps the first n children.
func (p Params) LimitToFirst(n int) Params {
	p.limitSet, p.limit, p.viewFrom = true, n, "l"
	return p
}

// LimitToLast keeps the last n children.
func (p Params) LimitToLast(n int) Params {
	p.limitSet, p.limit, p.viewFrom = true, n, "r"
	return p
}

// StartAt keeps children at or after value. key, when non-empty, breaks
// ties between children with equal index values.
func (p Params) StartAt(value node.Node, key string) Params {
	if value == nil {
		value = node.Empty
	}
	p.startSet = true
	p.startAfter = false
	p.startValue = value
	p.startNameSet = key != ""
	p.startName = key
	return p
}

// StartAfter keeps children strictly after value (and key).
func (p Params) StartAfter(value node.Node, key string) Params {
	var out Params
	if p.index.IsKey() {
		if s, ok := stringLeaf(value); ok {
			out = p.StartAt(node.NewLeaf(successor(s)), key)
			out.startAfter = true
			return out
		}
	}
	childKey := tree.MaxName
	if key != "" {
		childKey = successor(key)
	}
	out = p.StartAt(value, childKey)
	out.startAfter = true
	return out
}

// EndAt keeps children at or before value.
func (p Params) EndAt(value node.Node, key string) Params {
	if value == nil {
		value = node.Empty
	}
	p.endSet = true
	p.endBefore = false
	p.endValue = value
	p.endNameSet = key != ""
	p.endName = key
	return p
}

// EndBefore keeps children strictly before value (and key).
func (p Params) EndBefore(value node.Node, key string) Params {
	var out Params
	if p.index.IsKey() {
		if s, ok := stringLeaf(value); ok {
			out = p.EndAt(node.NewLeaf(predecessor(s)), key)
			out.endBefore = true
			return out
		}
	}
	childKey := tree.MinName
	if key != "" {
		childKey = predecessor(key)
	}
	out = p.EndAt(value, childKey)
	out.endBefore = true
	return out
}

// EqualTo keeps children whose index value equals value.
func (p Params) EqualTo(value node.Node, key string) Params {
	return p.StartAt(value, key).EndAt(value, key)
}

// OrderBy sets the child ordering.
func (p Params) OrderBy(index node.Index) Params {
	p.index = index
	return p
}

// OrderByKey orders children by key.
func (p Params) OrderByKey() Params { return p.OrderBy(node.KeyIndex) }

// OrderByValue orders children by their value.
func (p Params) OrderByValue() Params { return p.OrderBy(node.ValueIndex) }

// OrderByPriority orders children by priority.
func (p Params) OrderByPriority() Params { return p.OrderBy(node.PriorityIndex) }

// OrderByChild orders children by the value at path inside each child.
func (p Params) OrderByChild(path string) Params {
	return p.OrderBy(node.PathIndex(tree.ParsePath(path)))
}

func stringLeaf(n node.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	s, ok := n.Value(false).(string)
	return s, ok && n.IsLeaf()
}

// Index returns the ordering.
func (p Params) Index() node.Index { return p.index }

// HasStart reports whether a lower bound is set.
func (p Params) HasStart() bool { return p.startSet }

// HasEnd reports whether an upper bound is set.
func (p Params) HasEnd() bool { return p.endSet }

// HasLimit reports whether a limit is set.
func (p Params) HasLimit() bool { return p.limitSet }

// HasAnchoredLimit reports whether the limit counts from a fixed side.
func (p Params) HasAnchoredLimit() bool { return p.limitSet && p.viewFrom != "" }

// Limit returns the limit.
func (p Params) Limit() int { return p.limit }

// IsStartAfter reports whether the lower bound is exclusive.
func (p Params) IsStartAfter() bool { return p.startAfter }

// IsEndBefore reports whether the upper bound is exclusive.
func (p Params) IsEndBefore() bool { return p.endBefore }

// IsViewFromLeft reports whether a limit keeps the first children.
func (p Params) IsViewFromLeft() bool {
	if p.viewFrom == "" {
		return p.startSet
	}
	return p.viewFrom == "l"
}

// IndexStartValue returns the lower bound value.
func (p Params) IndexStartValue() node.Node {
	if p.startValue == nil {
		return node.Empty
	}
	return p.startValue
}

// IndexStartName returns the lower bound key, MinName when unset.
func (p Params) IndexStartName() string {
	if p.startNameSet {
		return p.startName
	}
	return tree.MinName
}

// IndexEndValue returns the upper bound value.
func (p Params) IndexEndValue() node.Node {
	if p.endValue == nil {
		return node.Empty
	}
	return p.endValue
}

// IndexEndName returns the upper bound key, MaxName when unset.
func (p Params) IndexEndName() string {
	if p.endNameSet {
		return p.endName
	}
	return tree.MaxName
}

// LoadsAllData reports whether the query observes every child.
func (p Params) LoadsAllData() bool {
	return !(p.startSet || p.endSet || p.limitSet)
}

// IsDefault reports whether the params are the default query.
func (p Params) IsDefault() bool {
	return p.LoadsAllData() && p.index.Equal(node.PriorityIndex)
}

// StartPost returns the post marking the lower bound.
func (p Params) StartPost() node.NamedNode {
	if !p.startSet {
		return p.index.MinPost()
	}
	return p.index.MakePost(p.IndexStartValue(), p.IndexStartName())
}

// EndPost returns the post marking the upper bound.
func (p Params) EndPost() node.NamedNode {
	if !p.endSet {
		return p.index.MaxPost()
	}
	return p.index.MakePost(p.IndexEndValue(), p.IndexEndName())
}

// WireObject returns the parameters in their wire form.
func (p Params) WireObject() map[string]any {
	obj := map[string]any{}
	if p.startSet {
		obj["sp"] = p.IndexStartValue().Value(false)
		if p.startNameSet {
			obj["sn"] = p.startName
		}
		obj["sin"] = !p.startAfter
	}
	if p.endSet {
		obj["ep"] = p.IndexEndValue().Value(false)
		if p.endNameSet {
			obj["en"] = p.endName
		}
		obj["ein"] = !p.endBefore
	}
	if p.limitSet {
		obj["l"] = p.limit
		vf := p.viewFrom
		if vf == "" {
			if p.IsViewFromLeft() {
				vf = "l"
			} else {
				vf = "r"
			}
		}
		obj["vf"] = vf
	}
	if !p.index.Equal(node.PriorityIndex) {
		obj["i"] = p.index.QueryDefinition()
	}
	return obj
}

// Identifier returns a stable string naming the params. Equal params have
// equal identifiers.
func (p Params) Identifier() string {
	obj := p.WireObject()
	if len(obj) == 0 {
		return DefaultIdentifier
	}
	// Map keys are sorted by encoding/json; the values are plain JSON.
	b, err := json.Marshal(obj)
	if err != nil {
		panic(fmt.Sprintf("query: params are not JSON encodable: %v", err))
	}
	return string(b)
}

func (p Params) String() string {
	return p.Identifier()
}

// Validate rejects contradictory or ill-typed parameters.
func (p Params) Validate() error {
	if p.limitSet && (p.limit <= 0 || p.limit > math.MaxInt32) {
		return invalidQuery("limit must be a positive 32-bit integer")
	}
	for _, v := range []node.Node{p.startValue, p.endValue} {
		if v != nil && node.HasServerValues(v) {
			return invalidQuery("query bounds cannot hold server values")
		}
	}
	switch {
	case p.index.IsKey():
		for _, b := range []struct {
			set     bool
			value   node.Node
			nameSet bool
			name    string
		}{
			{p.startSet, p.startValue, p.startNameSet, "start"},
			{p.endSet, p.endValue, p.endNameSet, "end"},
		} {
			if !b.set {
				continue
			}
			if b.nameSet {
				return invalidQuery("ordering by key accepts a single bound argument (" + b.name + ")")
			}
			if _, ok := stringLeaf(b.value); !ok {
				return invalidQuery("ordering by key requires string bounds (" + b.name + ")")
			}
		}
	case p.index.IsPriority():
		for _, v := range []node.Node{p.startValue, p.endValue} {
			if v == nil || v.IsEmpty() {
				continue
			}
			if _, isBool := v.Value(false).(bool); isBool || !v.IsLeaf() {
				return invalidQuery("ordering by priority requires null, number or string bounds")
			}
		}
	}
	return nil
}

func invalidQuery(msg string) error {
	return &tree.ValidationError{Code: tree.ErrCodeInvalidQuery, Message: msg}
}
