// Package write holds pending local writes: the CompoundWrite overlay, the
// ordered WriteTree log with its per-path WriteTreeRef projections, and
// the SparseSnapshotTree used for on-disconnect writes.
package write

import (
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

// CompoundWrite is an immutable sparse overlay of node writes keyed by
// relative path. A write at a path absorbs any write stored below it, so
// no stored value ever has a stored descendant.
type CompoundWrite struct {
	writes *tree.ImmutableTree[node.Node]
}

// EmptyCompoundWrite returns an overlay without writes.
func EmptyCompoundWrite() CompoundWrite {
	return CompoundWrite{writes: tree.NewImmutableTree[node.Node]()}
}

// CompoundWriteFromMap builds an overlay from relative path strings.
func CompoundWriteFromMap(updates map[string]node.Node) CompoundWrite {
	cw := EmptyCompoundWrite()
	for _, k := range sortedKeys(updates) {
		cw = cw.AddWrite(tree.ParsePath(k), updates[k])
	}
	return cw
}

func (c CompoundWrite) overlay() *tree.ImmutableTree[node.Node] {
	if c.writes == nil {
		return tree.NewImmutableTree[node.Node]()
	}
	return c.writes
}

// AddWrite returns an overlay with n written at p.
func (c CompoundWrite) AddWrite(p tree.Path, n node.Node) CompoundWrite {
	t := c.overlay()
	if p.IsEmpty() {
		return CompoundWrite{writes: tree.NewImmutableTreeWithValue(n)}
	}
	if rootMost, value, ok := t.FindRootMostValueAndPath(p); ok {
		rel := tree.RelativePath(rootMost, p)
		return CompoundWrite{writes: t.Set(rootMost, value.UpdateChild(rel, n))}
	}
	return CompoundWrite{writes: t.SetTree(p, tree.NewImmutableTreeWithValue(n))}
}

// AddWrites layers every write of updates below p.
func (c CompoundWrite) AddWrites(p tree.Path, updates CompoundWrite) CompoundWrite {
	out := c
	updates.Foreach(func(rel tree.Path, n node.Node) {
		out = out.AddWrite(p.ChildPath(rel), n)
	})
	return out
}

// RemoveWrite drops the write at p and every write below it.
func (c CompoundWrite) RemoveWrite(p tree.Path) CompoundWrite {
	if p.IsEmpty() {
		return EmptyCompoundWrite()
	}
	return CompoundWrite{writes: c.overlay().SetTree(p, tree.NewImmutableTree[node.Node]())}
}

// HasCompleteWrite reports whether a write fully determines p.
func (c CompoundWrite) HasCompleteWrite(p tree.Path) bool {
	_, ok := c.CompleteNode(p)
	return ok
}

// RootWrite returns the write stored at the root, if any.
func (c CompoundWrite) RootWrite() (node.Node, bool) {
	return c.overlay().Value()
}

// CompleteNode returns the node at p when a write at p or above fully
// determines it.
func (c CompoundWrite) CompleteNode(p tree.Path) (node.Node, bool) {
	t := c.overlay()
	rootMost, value, ok := t.FindRootMostValueAndPath(p)
	if !ok {
		return nil, false
	}
	return value.Child(tree.RelativePath(rootMost, p)), true
}

// CompleteChildren returns the immediate children determined by writes.
func (c CompoundWrite) CompleteChildren() []node.NamedNode {
	t := c.overlay()
	if root, ok := t.Value(); ok {
		if root.IsLeaf() {
			return nil
		}
		return node.ChildrenOf(root)
	}
	var out []node.NamedNode
	t.ForeachChild(func(key string, n node.Node) {
		out = append(out, node.NamedNode{Name: key, Node: n})
	})
	return out
}

// ChildCompoundWrite returns the overlay relative to p.
func (c CompoundWrite) ChildCompoundWrite(p tree.Path) CompoundWrite {
	if p.IsEmpty() {
		return c
	}
	if shadowing, ok := c.CompleteNode(p); ok {
		return CompoundWrite{writes: tree.NewImmutableTreeWithValue(shadowing)}
	}
	return CompoundWrite{writes: c.overlay().Subtree(p)}
}

// ForEachChildWrite visits the overlay of each immediate child in key
// order. It does not include a write stored at the root.
func (c CompoundWrite) ForEachChildWrite(fn func(key string, child CompoundWrite)) {
	c.overlay().Children().Ascend(func(key string, sub *tree.ImmutableTree[node.Node]) bool {
		fn(key, CompoundWrite{writes: sub})
		return false
	})
}

// Foreach visits every stored write.
func (c CompoundWrite) Foreach(fn func(p tree.Path, n node.Node)) {
	c.overlay().Foreach(fn)
}

// IsEmpty reports whether the overlay holds no writes.
func (c CompoundWrite) IsEmpty() bool {
	return c.overlay().IsEmpty()
}

// Apply layers the overlay onto base.
func (c CompoundWrite) Apply(base node.Node) node.Node {
	return applySubtreeWrite(tree.Root(), c.overlay(), base)
}

func applySubtreeWrite(rel tree.Path, writes *tree.ImmutableTree[node.Node], n node.Node) node.Node {
	if value, ok := writes.Value(); ok {
		return n.UpdateChild(rel, value)
	}
	var priorityWrite node.Node
	writes.Children().Ascend(func(key string, sub *tree.ImmutableTree[node.Node]) bool {
		if key == tree.PriorityKey {
			v, ok := sub.Value()
			if !ok {
				panic("write: priority writes must have a value")
			}
			priorityWrite = v
			return false
		}
		n = applySubtreeWrite(rel.Child(key), sub, n)
		return false
	})
	if priorityWrite != nil && !n.Child(rel).IsEmpty() {
		n = n.UpdateChild(rel.Child(tree.PriorityKey), priorityWrite)
	}
	return n
}

// Equal reports whether both overlays hold the same writes.
func (c CompoundWrite) Equal(other CompoundWrite) bool {
	a := map[string]node.Node{}
	c.Foreach(func(p tree.Path, n node.Node) { a[p.String()] = n })
	b := map[string]node.Node{}
	other.Foreach(func(p tree.Path, n node.Node) { b[p.String()] = n })
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !v.Equals(w) {
			return false
		}
	}
	return true
}
