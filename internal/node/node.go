package node

import (
	"github.com/roach88/treesync/internal/tree"
)

// Node is an immutable snapshot of a subtree. It is a closed set of
// variants: Empty, *Leaf, *Children and the internal Max sentinel.
type Node interface {
	IsLeaf() bool
	IsEmpty() bool

	// Priority returns the node's priority, Empty when unset.
	Priority() Node
	UpdatePriority(priority Node) Node

	// ImmediateChild returns the child at key, Empty when absent.
	// The key ".priority" addresses the priority.
	ImmediateChild(key string) Node
	Child(p tree.Path) Node
	HasChild(key string) bool
	NumChildren() int

	// UpdateImmediateChild returns a node with key set to child; an Empty
	// child removes the key.
	UpdateImmediateChild(key string, child Node) Node
	UpdateChild(p tree.Path, child Node) Node

	// ForEachChild visits children in key order until fn returns true.
	ForEachChild(fn func(key string, child Node) bool) bool

	// Value converts the node to plain Go values. With export set,
	// priorities are included under ".priority" / ".value".
	Value(export bool) any

	// Hash returns the canonical (V2) data hash.
	Hash() string
	// HashV1 returns the legacy data hash.
	HashV1() string

	Equals(other Node) bool

	kind() kind
}

type kind int

const (
	kindEmpty kind = iota
	kindLeaf
	kindChildren
	kindMax
)

// NamedNode is a child together with its key.
type NamedNode struct {
	Name string
	Node Node
}

// Sentinel named nodes bounding every index.
var (
	MinNamedNode = NamedNode{Name: tree.MinName, Node: Empty}
	MaxNamedNode = NamedNode{Name: tree.MaxName, Node: Max}
)

// Compare orders nodes the way they sort as priorities or values:
// Empty < leaves (booleans < numbers < strings) < children < Max. All
// non-empty children nodes compare equal.
func Compare(a, b Node) int {
	ka, kb := a.kind(), b.kind()
	if ka != kb {
		return int(ka) - int(kb)
	}
	if ka == kindLeaf {
		return compareLeaves(a.(*Leaf), b.(*Leaf))
	}
	return 0
}

// Empty is the node without data.
var Empty Node = emptyNode{}

type emptyNode struct{}

func (emptyNode) kind() kind { return kindEmpty }
func (emptyNode) IsLeaf() bool { return false }
func (emptyNode) IsEmpty() bool { return true }
func (emptyNode) Priority() Node { return Empty }
func (emptyNode) UpdatePriority(Node) Node { return Empty }
func (emptyNode) ImmediateChild(string) Node { return Empty }
func (emptyNode) Child(tree.Path) Node { return Empty }
func (emptyNode) HasChild(string) bool { return false }
func (emptyNode) NumChildren() int { return 0 }
func (emptyNode) ForEachChild(func(string, Node) bool) bool { return false }
func (emptyNode) Value(bool) any { return nil }
func (emptyNode) Hash() string { return "" }
func (emptyNode) HashV1() string { return "" }
func (emptyNode) Equals(other Node) bool { return other.kind() == kindEmpty }

func (emptyNode) UpdateImmediateChild(key string, child Node) Node {
	if child.IsEmpty() || key == tree.PriorityKey {
		return Empty
	}
	return newChildren(emptyChildMap().Insert(key, child), Empty)
}

func (e emptyNode) UpdateChild(p tree.Path, child Node) Node {
	return updateChildOf(e, p, child)
}

// Max sorts after every other node. It only appears as a priority inside
// index posts.
var Max Node = maxNode{}

type maxNode struct{}

func (maxNode) kind() kind { return kindMax }
func (maxNode) IsLeaf() bool { return false }
func (maxNode) IsEmpty() bool { return false }
func (maxNode) Priority() Node { return Empty }
func (m maxNode) UpdatePriority(Node) Node { return m }
func (maxNode) ImmediateChild(string) Node { return Empty }
func (maxNode) Child(tree.Path) Node { return Empty }
func (maxNode) HasChild(string) bool { return false }
func (maxNode) NumChildren() int { return 0 }
func (m maxNode) UpdateImmediateChild(string, Node) Node { return m }
func (m maxNode) UpdateChild(tree.Path, Node) Node { return m }
func (maxNode) ForEachChild(func(string, Node) bool) bool { return false }
func (maxNode) Value(bool) any { return nil }
func (maxNode) Hash() string { return "" }
func (maxNode) HashV1() string { return "" }
func (maxNode) Equals(other Node) bool { return other.kind() == kindMax }

// updateChildOf implements UpdateChild for any node in terms of
// ImmediateChild and UpdateImmediateChild.
func updateChildOf(n Node, p tree.Path, child Node) Node {
	front := p.Front()
	if p.IsEmpty() {
		return child
	}
	if front == tree.PriorityKey && p.Len() != 1 {
		panic("node: .priority must be the last segment of a path")
	}
	newChild := n.ImmediateChild(front).UpdateChild(p.PopFront(), child)
	return n.UpdateImmediateChild(front, newChild)
}

// ChildrenOf returns the children of n as named nodes in key order.
func ChildrenOf(n Node) []NamedNode {
	out := make([]NamedNode, 0, n.NumChildren())
	n.ForEachChild(func(key string, child Node) bool {
		out = append(out, NamedNode{Name: key, Node: child})
		return false
	})
	return out
}
