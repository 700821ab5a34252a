package write

import (
	"sort"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

// SparseSnapshotTree remembers nodes at arbitrary paths. It backs the
// on-disconnect write list. Unlike the other structures in this package
// it is mutable.
type SparseSnapshotTree struct {
	value    node.Node
	children map[string]*SparseSnapshotTree
}

// NewSparseSnapshotTree returns an empty tree.
func NewSparseSnapshotTree() *SparseSnapshotTree {
	return &SparseSnapshotTree{children: map[string]*SparseSnapshotTree{}}
}

// Find returns the node remembered at p.
func (s *SparseSnapshotTree) Find(p tree.Path) (node.Node, bool) {
	if s.value != nil {
		return s.value.Child(p), true
	}
	if p.IsEmpty() {
		return nil, false
	}
	child, ok := s.children[p.Front()]
	if !ok {
		return nil, false
	}
	return child.Find(p.PopFront())
}

// Remember stores data at p, replacing anything stored at or below p.
func (s *SparseSnapshotTree) Remember(p tree.Path, data node.Node) {
	switch {
	case p.IsEmpty():
		s.value = data
		clear(s.children)
	case s.value != nil:
		s.value = s.value.UpdateChild(p, data)
	default:
		key := p.Front()
		child, ok := s.children[key]
		if !ok {
			child = NewSparseSnapshotTree()
			s.children[key] = child
		}
		child.Remember(p.PopFront(), data)
	}
}

// Forget removes anything stored at or below p. It reports whether the
// tree is now empty and may be pruned by its parent.
func (s *SparseSnapshotTree) Forget(p tree.Path) bool {
	if p.IsEmpty() {
		s.value = nil
		clear(s.children)
		return true
	}
	if s.value != nil {
		if s.value.IsLeaf() {
			// A leaf cannot be partially forgotten.
			return false
		}
		value := s.value
		s.value = nil
		value.ForEachChild(func(key string, child node.Node) bool {
			s.Remember(tree.NewPath(key), child)
			return false
		})
		return s.Forget(p)
	}
	if len(s.children) > 0 {
		key := p.Front()
		if child, ok := s.children[key]; ok {
			if child.Forget(p.PopFront()) {
				delete(s.children, key)
			}
		}
		return len(s.children) == 0
	}
	return true
}

// ForEachTree visits every remembered node with its path below prefix.
// Siblings are visited in key order.
func (s *SparseSnapshotTree) ForEachTree(prefix tree.Path, fn func(p tree.Path, n node.Node)) {
	if s.value != nil {
		fn(prefix, s.value)
		return
	}
	keys := make([]string, 0, len(s.children))
	for k := range s.children {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return tree.CompareKeys(keys[i], keys[j]) < 0 })
	for _, k := range keys {
		s.children[k].ForEachTree(prefix.Child(k), fn)
	}
}

// IsEmpty reports whether nothing is remembered.
func (s *SparseSnapshotTree) IsEmpty() bool {
	return s.value == nil && len(s.children) == 0
}
