package node

import (
	"sync/atomic"

	"github.com/roach88/treesync/internal/sortedmap"
)

// IndexedNode pairs a Node with a child ordering. The ordered set of
// children is built on first use. When the ordering coincides with key
// order (the key index, or no child defines the index) the node's own
// key-ordered map is used instead.
type IndexedNode struct {
	node  Node
	index Index
	state atomic.Pointer[indexState]
}

type indexState struct {
	fallback bool
	set      sortedmap.Map[NamedNode, struct{}]
}

var fallbackState = &indexState{fallback: true}

// NewIndexedNode wraps n with the given ordering.
func NewIndexedNode(n Node, index Index) *IndexedNode {
	return &IndexedNode{node: n, index: index}
}

func newIndexedWithState(n Node, index Index, state *indexState) *IndexedNode {
	in := &IndexedNode{node: n, index: index}
	if state != nil {
		in.state.Store(state)
	}
	return in
}

// Node returns the wrapped node.
func (in *IndexedNode) Node() Node { return in.node }

// Index returns the ordering.
func (in *IndexedNode) Index() Index { return in.index }

// HasIndex reports whether the node is ordered by index.
func (in *IndexedNode) HasIndex(index Index) bool { return in.index.Equal(index) }

func (in *IndexedNode) ensureIndexed() *indexState {
	if s := in.state.Load(); s != nil {
		return s
	}
	s := buildIndexState(in.node, in.index)
	in.state.CompareAndSwap(nil, s)
	return in.state.Load()
}

func buildIndexState(n Node, index Index) *indexState {
	if index.IsKey() {
		return fallbackState
	}
	defined := n.ForEachChild(func(_ string, child Node) bool {
		return index.IsDefinedOn(child)
	})
	if !defined {
		return fallbackState
	}
	set := sortedmap.New[NamedNode, struct{}](index.Compare)
	n.ForEachChild(func(key string, child Node) bool {
		set = set.Insert(NamedNode{Name: key, Node: child}, struct{}{})
		return false
	})
	return &indexState{set: set}
}

// UpdateChild returns an indexed node with key set to child. The ordered
// set is updated incrementally when it has already been built.
func (in *IndexedNode) UpdateChild(key string, child Node) *IndexedNode {
	newNode := in.node.UpdateImmediateChild(key, child)
	s := in.state.Load()
	switch {
	case s == fallbackState && !in.index.IsDefinedOn(child):
		return newIndexedWithState(newNode, in.index, fallbackState)
	case s == nil || s.fallback:
		return NewIndexedNode(newNode, in.index)
	}
	existing := in.node.ImmediateChild(key)
	set := s.set.Remove(NamedNode{Name: key, Node: existing})
	if !child.IsEmpty() {
		set = set.Insert(NamedNode{Name: key, Node: child}, struct{}{})
	}
	return newIndexedWithState(newNode, in.index, &indexState{set: set})
}

// UpdatePriority returns an indexed node whose node has the new priority.
// A node's own priority does not affect the order of its children.
func (in *IndexedNode) UpdatePriority(priority Node) *IndexedNode {
	return newIndexedWithState(in.node.UpdatePriority(priority), in.index, in.state.Load())
}

// FirstChild returns the first child in index order.
func (in *IndexedNode) FirstChild() (NamedNode, bool) {
	c, ok := in.node.(*Children)
	if !ok {
		return NamedNode{}, false
	}
	s := in.ensureIndexed()
	if s.fallback {
		key := c.FirstChildName()
		return NamedNode{Name: key, Node: c.ImmediateChild(key)}, true
	}
	first, _ := s.set.MinKey()
	return first, true
}

// LastChild returns the last child in index order.
func (in *IndexedNode) LastChild() (NamedNode, bool) {
	c, ok := in.node.(*Children)
	if !ok {
		return NamedNode{}, false
	}
	s := in.ensureIndexed()
	if s.fallback {
		key := c.LastChildName()
		return NamedNode{Name: key, Node: c.ImmediateChild(key)}, true
	}
	last, _ := s.set.MaxKey()
	return last, true
}

// PredecessorChildName returns the name of the child sorting immediately
// before (key, child). The child must be present in the node.
func (in *IndexedNode) PredecessorChildName(key string, child Node) (string, bool) {
	c, ok := in.node.(*Children)
	if !ok {
		return "", false
	}
	s := in.ensureIndexed()
	if s.fallback {
		return c.children.PredecessorKey(key)
	}
	pred, found := s.set.PredecessorKey(NamedNode{Name: key, Node: child})
	return pred.Name, found
}

// ForEach visits children in index order, or reverse index order, until
// fn returns true.
func (in *IndexedNode) ForEach(reverse bool, fn func(NamedNode) bool) bool {
	c, ok := in.node.(*Children)
	if !ok {
		return false
	}
	s := in.ensureIndexed()
	if s.fallback {
		visit := func(key string, child Node) bool { return fn(NamedNode{Name: key, Node: child}) }
		if reverse {
			return c.children.Descend(visit)
		}
		return c.children.Ascend(visit)
	}
	visit := func(nn NamedNode, _ struct{}) bool { return fn(nn) }
	if reverse {
		return s.set.Descend(visit)
	}
	return s.set.Ascend(visit)
}

// AscendFrom visits children sorting at or after start in index order.
func (in *IndexedNode) AscendFrom(start NamedNode, fn func(NamedNode) bool) bool {
	s := in.ensureIndexed()
	if s.fallback {
		return in.ForEach(false, func(nn NamedNode) bool {
			if in.index.Compare(nn, start) < 0 {
				return false
			}
			return fn(nn)
		})
	}
	return s.set.AscendFrom(start, func(nn NamedNode, _ struct{}) bool { return fn(nn) })
}

// DescendFrom visits children sorting at or before start in reverse index
// order.
func (in *IndexedNode) DescendFrom(start NamedNode, fn func(NamedNode) bool) bool {
	s := in.ensureIndexed()
	if s.fallback {
		return in.ForEach(true, func(nn NamedNode) bool {
			if in.index.Compare(nn, start) > 0 {
				return false
			}
			return fn(nn)
		})
	}
	return s.set.DescendFrom(start, func(nn NamedNode, _ struct{}) bool { return fn(nn) })
}

// Children returns the children in index order.
func (in *IndexedNode) Children() []NamedNode {
	out := make([]NamedNode, 0, in.node.NumChildren())
	in.ForEach(false, func(nn NamedNode) bool {
		out = append(out, nn)
		return false
	})
	return out
}
