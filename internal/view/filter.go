package view

import (
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/tree"
)

// NodeFilter decides which children of a location a view holds. Each
// update method takes the previous snapshot and returns the filtered new
// one, tracking child changes in acc when acc is non-nil.
type NodeFilter interface {
	UpdateChild(snap *node.IndexedNode, key string, newChild node.Node, affectedPath tree.Path,
		source CompleteChildSource, acc *ChildChangeAccumulator) *node.IndexedNode
	UpdateFullNode(oldSnap, newSnap *node.IndexedNode, acc *ChildChangeAccumulator) *node.IndexedNode
	UpdatePriority(oldSnap *node.IndexedNode, newPriority node.Node) *node.IndexedNode

	// FiltersNodes reports whether the filter can drop children, in which
	// case its output is never complete for unknown children.
	FiltersNodes() bool
	// IndexedFilter returns the unfiltered filter with the same ordering.
	IndexedFilter() NodeFilter
	Index() node.Index
}

// FilterForParams returns the filter implementing params.
func FilterForParams(params query.Params) NodeFilter {
	switch {
	case params.LoadsAllData():
		return NewIndexedFilter(params.Index())
	case params.HasLimit():
		return NewLimitedFilter(params)
	default:
		return NewRangedFilter(params)
	}
}

// IndexedFilter keeps every child and only maintains the ordering.
type IndexedFilter struct {
	index node.Index
}

// NewIndexedFilter returns a filter that keeps every child.
func NewIndexedFilter(index node.Index) *IndexedFilter {
	return &IndexedFilter{index: index}
}

func (f *IndexedFilter) UpdateChild(snap *node.IndexedNode, key string, newChild node.Node, affectedPath tree.Path,
	_ CompleteChildSource, acc *ChildChangeAccumulator) *node.IndexedNode {
	if !snap.HasIndex(f.index) {
		panic("view: snapshot is not indexed by the filter's index")
	}
	oldChild := snap.Node().ImmediateChild(key)
	if oldChild.Child(affectedPath).Equals(newChild.Child(affectedPath)) &&
		oldChild.IsEmpty() == newChild.IsEmpty() {
		// The deep change was already applied or is irrelevant.
		return snap
	}
	if acc != nil {
		switch {
		case newChild.IsEmpty():
			if snap.Node().HasChild(key) {
				acc.Track(ChildRemovedChange(key, oldChild))
			} else if !snap.Node().IsLeaf() {
				panic("view: removing a missing child of a non-leaf")
			}
		case oldChild.IsEmpty():
			acc.Track(ChildAddedChange(key, newChild))
		default:
			acc.Track(ChildChangedChange(key, newChild, oldChild))
		}
	}
	if snap.Node().IsLeaf() && newChild.IsEmpty() {
		return snap
	}
	return snap.UpdateChild(key, newChild)
}

func (f *IndexedFilter) UpdateFullNode(oldSnap, newSnap *node.IndexedNode, acc *ChildChangeAccumulator) *node.IndexedNode {
	if acc != nil {
		oldNode, newNode := oldSnap.Node(), newSnap.Node()
		if !oldNode.IsLeaf() {
			oldNode.ForEachChild(func(key string, child node.Node) bool {
				if !newNode.HasChild(key) {
					acc.Track(ChildRemovedChange(key, child))
				}
				return false
			})
		}
		if !newNode.IsLeaf() {
			newNode.ForEachChild(func(key string, child node.Node) bool {
				if oldNode.HasChild(key) {
					if old := oldNode.ImmediateChild(key); !old.Equals(child) {
						acc.Track(ChildChangedChange(key, child, old))
					}
				} else {
					acc.Track(ChildAddedChange(key, child))
				}
				return false
			})
		}
	}
	if newSnap.HasIndex(f.index) {
		return newSnap
	}
	return node.NewIndexedNode(newSnap.Node(), f.index)
}

func (f *IndexedFilter) UpdatePriority(oldSnap *node.IndexedNode, newPriority node.Node) *node.IndexedNode {
	if oldSnap.Node().IsEmpty() {
		return oldSnap
	}
	return oldSnap.UpdatePriority(newPriority)
}

func (f *IndexedFilter) FiltersNodes() bool { return false }
func (f *IndexedFilter) IndexedFilter() NodeFilter { return f }
func (f *IndexedFilter) Index() node.Index { return f.index }

// RangedFilter keeps the children between a start and an end post.
type RangedFilter struct {
	indexed        *IndexedFilter
	index          node.Index
	startPost      node.NamedNode
	endPost        node.NamedNode
	startInclusive bool
	endInclusive   bool
}

// NewRangedFilter returns the filter for params' bounds.
func NewRangedFilter(params query.Params) *RangedFilter {
	return &RangedFilter{
		indexed:        NewIndexedFilter(params.Index()),
		index:          params.Index(),
		startPost:      params.StartPost(),
		endPost:        params.EndPost(),
		startInclusive: !params.IsStartAfter(),
		endInclusive:   !params.IsEndBefore(),
	}
}

// StartPost returns the lower bound.
func (f *RangedFilter) StartPost() node.NamedNode { return f.startPost }

// EndPost returns the upper bound.
func (f *RangedFilter) EndPost() node.NamedNode { return f.endPost }

// Matches reports whether nn lies within the bounds.
func (f *RangedFilter) Matches(nn node.NamedNode) bool {
	return f.matchesStart(nn) && f.matchesEnd(nn)
}

func (f *RangedFilter) matchesStart(nn node.NamedNode) bool {
	c := f.index.Compare(f.startPost, nn)
	if f.startInclusive {
		return c <= 0
	}
	return c < 0
}

func (f *RangedFilter) matchesEnd(nn node.NamedNode) bool {
	c := f.index.Compare(nn, f.endPost)
	if f.endInclusive {
		return c <= 0
	}
	return c < 0
}

func (f *RangedFilter) UpdateChild(snap *node.IndexedNode, key string, newChild node.Node, affectedPath tree.Path,
	source CompleteChildSource, acc *ChildChangeAccumulator) *node.IndexedNode {
	if !f.Matches(node.NamedNode{Name: key, Node: newChild}) {
		newChild = node.Empty
	}
	return f.indexed.UpdateChild(snap, key, newChild, affectedPath, source, acc)
}

func (f *RangedFilter) UpdateFullNode(oldSnap, newSnap *node.IndexedNode, acc *ChildChangeAccumulator) *node.IndexedNode {
	var filtered *node.IndexedNode
	if newSnap.Node().IsLeaf() {
		filtered = node.NewIndexedNode(node.Empty, f.index)
	} else {
		filtered = node.NewIndexedNode(newSnap.Node().UpdatePriority(node.Empty), f.index)
		newSnap.Node().ForEachChild(func(key string, child node.Node) bool {
			if !f.Matches(node.NamedNode{Name: key, Node: child}) {
				filtered = filtered.UpdateChild(key, node.Empty)
			}
			return false
		})
	}
	return f.indexed.UpdateFullNode(oldSnap, filtered, acc)
}

// UpdatePriority ignores the new priority: ranged views do not expose one.
func (f *RangedFilter) UpdatePriority(oldSnap *node.IndexedNode, _ node.Node) *node.IndexedNode {
	return oldSnap
}

func (f *RangedFilter) FiltersNodes() bool { return true }
func (f *RangedFilter) IndexedFilter() NodeFilter { return f.indexed }
func (f *RangedFilter) Index() node.Index { return f.index }

// LimitedFilter keeps at most limit in-range children counted from the
// start (or, viewing from the right, from the end) of the ordering.
type LimitedFilter struct {
	ranged  *RangedFilter
	index   node.Index
	limit   int
	reverse bool
}

// NewLimitedFilter returns the filter for params' limit and bounds.
func NewLimitedFilter(params query.Params) *LimitedFilter {
	return &LimitedFilter{
		ranged:  NewRangedFilter(params),
		index:   params.Index(),
		limit:   params.Limit(),
		reverse: !params.IsViewFromLeft(),
	}
}

// compare orders children from the retained boundary outward.
func (f *LimitedFilter) compare(a, b node.NamedNode) int {
	if f.reverse {
		return f.index.Compare(b, a)
	}
	return f.index.Compare(a, b)
}

func (f *LimitedFilter) UpdateChild(snap *node.IndexedNode, key string, newChild node.Node, affectedPath tree.Path,
	source CompleteChildSource, acc *ChildChangeAccumulator) *node.IndexedNode {
	if !f.ranged.Matches(node.NamedNode{Name: key, Node: newChild}) {
		newChild = node.Empty
	}
	switch {
	case snap.Node().ImmediateChild(key).Equals(newChild):
		return snap
	case snap.Node().NumChildren() < f.limit:
		return f.ranged.indexed.UpdateChild(snap, key, newChild, affectedPath, source, acc)
	default:
		return f.fullLimitUpdateChild(snap, key, newChild, source, acc)
	}
}

// fullLimitUpdateChild updates a window that already holds limit
// children, evicting or pulling in children at the window edge.
func (f *LimitedFilter) fullLimitUpdateChild(snap *node.IndexedNode, key string, childSnap node.Node,
	source CompleteChildSource, acc *ChildChangeAccumulator) *node.IndexedNode {
	if snap.Node().NumChildren() != f.limit {
		panic("view: limited window is not full")
	}
	newNamed := node.NamedNode{Name: key, Node: childSnap}
	var boundary node.NamedNode
	if f.reverse {
		boundary, _ = snap.FirstChild()
	} else {
		boundary, _ = snap.LastChild()
	}
	inRange := f.ranged.Matches(newNamed)

	if snap.Node().HasChild(key) {
		oldChild := snap.Node().ImmediateChild(key)
		next, ok := source.ChildAfterChild(f.index, boundary, f.reverse)
		for ok && (next.Name == key || snap.Node().HasChild(next.Name)) {
			// Skip children already in the window; the source may lag behind it.
			next, ok = source.ChildAfterChild(f.index, next, f.reverse)
		}
		compareNext := 1
		if ok {
			compareNext = f.compare(next, newNamed)
		}
		if inRange && !childSnap.IsEmpty() && compareNext >= 0 {
			if acc != nil {
				acc.Track(ChildChangedChange(key, childSnap, oldChild))
			}
			return snap.UpdateChild(key, childSnap)
		}
		if acc != nil {
			acc.Track(ChildRemovedChange(key, oldChild))
		}
		out := snap.UpdateChild(key, node.Empty)
		if ok && f.ranged.Matches(next) {
			if acc != nil {
				acc.Track(ChildAddedChange(next.Name, next.Node))
			}
			return out.UpdateChild(next.Name, next.Node)
		}
		return out
	}

	if childSnap.IsEmpty() || !inRange {
		return snap
	}
	if f.compare(boundary, newNamed) >= 0 {
		if acc != nil {
			acc.Track(ChildRemovedChange(boundary.Name, boundary.Node))
			acc.Track(ChildAddedChange(key, childSnap))
		}
		return snap.UpdateChild(key, childSnap).UpdateChild(boundary.Name, node.Empty)
	}
	return snap
}

func (f *LimitedFilter) UpdateFullNode(oldSnap, newSnap *node.IndexedNode, acc *ChildChangeAccumulator) *node.IndexedNode {
	var filtered *node.IndexedNode
	if newSnap.Node().IsLeaf() || newSnap.Node().IsEmpty() {
		filtered = node.NewIndexedNode(node.Empty, f.index)
	} else {
		ordered := newSnap
		if !ordered.HasIndex(f.index) {
			ordered = node.NewIndexedNode(newSnap.Node(), f.index)
		}
		filtered = node.NewIndexedNode(newSnap.Node().UpdatePriority(node.Empty), f.index)
		count := 0
		ordered.ForEach(f.reverse, func(nn node.NamedNode) bool {
			if count < f.limit && f.ranged.Matches(nn) {
				count++
			} else {
				filtered = filtered.UpdateChild(nn.Name, node.Empty)
			}
			return false
		})
	}
	return f.ranged.indexed.UpdateFullNode(oldSnap, filtered, acc)
}

// UpdatePriority ignores the new priority: limited views do not expose one.
func (f *LimitedFilter) UpdatePriority(oldSnap *node.IndexedNode, _ node.Node) *node.IndexedNode {
	return oldSnap
}

func (f *LimitedFilter) FiltersNodes() bool { return true }
func (f *LimitedFilter) IndexedFilter() NodeFilter { return f.ranged.indexed }
func (f *LimitedFilter) Index() node.Index { return f.index }
