package node

import (
	"fmt"
	"sync"

	"github.com/roach88/treesync/internal/tree"
)

// Leaf is a primitive value: a bool, a float64 or a string. Written data
// may also hold a ServerValue placeholder.
type Leaf struct {
	value    any
	priority Node

	hashOnce   sync.Once
	hash       string
	hashV1Once sync.Once
	hashV1     string
}

// NewLeaf returns a leaf without priority. Integer kinds are stored as
// float64. It panics on any other type; FromValue is the validating entry
// point for user data.
func NewLeaf(value any) *Leaf {
	return newLeaf(value, Empty)
}

// NewLeafWithPriority returns a leaf carrying priority.
func NewLeafWithPriority(value any, priority Node) *Leaf {
	return newLeaf(value, priority)
}

func newLeaf(value any, priority Node) *Leaf {
	v, ok := leafValue(value)
	if !ok {
		panic(fmt.Sprintf("node: unsupported leaf value %T", value))
	}
	if priority == nil {
		priority = Empty
	}
	return &Leaf{value: v, priority: priority}
}

// leafValue normalizes primitive Go values to bool, float64 or string.
func leafValue(value any) (any, bool) {
	switch v := value.(type) {
	case bool, string, float64, ServerValue:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return nil, false
}

// Raw returns the leaf's primitive value.
func (l *Leaf) Raw() any { return l.value }

func (l *Leaf) kind() kind { return kindLeaf }
func (l *Leaf) IsLeaf() bool { return true }
func (l *Leaf) IsEmpty() bool { return false }
func (l *Leaf) Priority() Node { return l.priority }
func (l *Leaf) HasChild(string) bool { return false }
func (l *Leaf) NumChildren() int { return 0 }
func (l *Leaf) ForEachChild(func(string, Node) bool) bool { return false }

func (l *Leaf) UpdatePriority(priority Node) Node {
	return &Leaf{value: l.value, priority: priority}
}

func (l *Leaf) ImmediateChild(key string) Node {
	if key == tree.PriorityKey {
		return l.priority
	}
	return Empty
}

func (l *Leaf) Child(p tree.Path) Node {
	if p.IsEmpty() {
		return l
	}
	if p.Front() == tree.PriorityKey {
		return l.priority
	}
	return Empty
}

func (l *Leaf) UpdateImmediateChild(key string, child Node) Node {
	if key == tree.PriorityKey {
		return l.UpdatePriority(child)
	}
	if child.IsEmpty() {
		return l
	}
	return Empty.UpdateImmediateChild(key, child).UpdatePriority(l.priority)
}

func (l *Leaf) UpdateChild(p tree.Path, child Node) Node {
	if p.IsEmpty() {
		return child
	}
	front := p.Front()
	if child.IsEmpty() && front != tree.PriorityKey {
		return l
	}
	if front == tree.PriorityKey && p.Len() != 1 {
		panic("node: .priority must be the last segment of a path")
	}
	return l.UpdateImmediateChild(front, Empty.UpdateChild(p.PopFront(), child))
}

func (l *Leaf) Value(export bool) any {
	value := l.value
	if sv, ok := value.(ServerValue); ok {
		value = sv.Value()
	}
	if export && !l.priority.IsEmpty() {
		return map[string]any{
			tree.ValueKey:    value,
			tree.PriorityKey: l.priority.Value(false),
		}
	}
	return value
}

func (l *Leaf) Hash() string {
	l.hashOnce.Do(func() { l.hash = hashLeaf(l, HashVersionV2) })
	return l.hash
}

func (l *Leaf) HashV1() string {
	l.hashV1Once.Do(func() { l.hashV1 = hashLeaf(l, HashVersionV1) })
	return l.hashV1
}

func (l *Leaf) Equals(other Node) bool {
	o, ok := other.(*Leaf)
	if !ok {
		return false
	}
	return l.value == o.value && l.priority.Equals(o.priority)
}

// leafTypeRank orders leaf types: booleans, then numbers, then strings.
// Placeholders sort last.
func leafTypeRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case float64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}

func compareLeaves(a, b *Leaf) int {
	ra, rb := leafTypeRank(a.value), leafTypeRank(b.value)
	if ra != rb {
		return ra - rb
	}
	switch av := a.value.(type) {
	case bool:
		bv := b.value.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case float64:
		bv := b.value.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return tree.CompareUTF16(av, b.value.(string))
	default:
		return compareServerValues(av.(ServerValue), b.value.(ServerValue))
	}
}
