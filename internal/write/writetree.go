package write

import (
	"fmt"
	"slices"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

// Tree is the ordered log of pending user writes. It keeps the combined
// overlay of all visible writes up to date so projections do not replay
// the log.
//
// Tree is not safe for concurrent use; it is owned by the serial queue.
type Tree struct {
	visible     CompoundWrite
	all         []Record
	lastWriteID int64
}

// NewTree returns an empty write log.
func NewTree() *Tree {
	return &Tree{visible: EmptyCompoundWrite()}
}

// ChildWrites returns the projection of the log at p.
func (wt *Tree) ChildWrites(p tree.Path) *Ref {
	return &Ref{path: p, tree: wt}
}

// LastWriteID returns the highest write id ever recorded.
func (wt *Tree) LastWriteID() int64 {
	return wt.lastWriteID
}

// Len returns the number of pending writes.
func (wt *Tree) Len() int {
	return len(wt.all)
}

// Records returns the pending writes in id order.
func (wt *Tree) Records() []Record {
	return slices.Clone(wt.all)
}

// AddOverwrite records an overwrite of p. Write ids must increase;
// re-adding the latest write with the same path and payload is a no-op.
func (wt *Tree) AddOverwrite(p tree.Path, n node.Node, writeID int64, visible bool) {
	if wt.isDuplicate(writeID, func(last Record) bool {
		return last.IsOverwrite() && last.Path.Equal(p) && last.Overwrite.Equals(n) && last.Visible == visible
	}) {
		return
	}
	wt.checkWriteID(writeID)
	wt.all = append(wt.all, Record{ID: writeID, Path: p, Overwrite: n, Visible: visible})
	if visible {
		wt.visible = wt.visible.AddWrite(p, n)
	}
	wt.lastWriteID = writeID
}

// AddMerge records a merge of changed children below p.
func (wt *Tree) AddMerge(p tree.Path, changed CompoundWrite, writeID int64) {
	if wt.isDuplicate(writeID, func(last Record) bool {
		return !last.IsOverwrite() && last.Path.Equal(p) && last.Merge.Equal(changed)
	}) {
		return
	}
	wt.checkWriteID(writeID)
	wt.all = append(wt.all, Record{ID: writeID, Path: p, Merge: changed, Visible: true})
	wt.visible = wt.visible.AddWrites(p, changed)
	wt.lastWriteID = writeID
}

func (wt *Tree) isDuplicate(writeID int64, same func(Record) bool) bool {
	if len(wt.all) == 0 {
		return false
	}
	last := wt.all[len(wt.all)-1]
	return last.ID == writeID && same(last)
}

func (wt *Tree) checkWriteID(writeID int64) {
	if writeID <= wt.lastWriteID {
		panic(fmt.Sprintf("write: write id %d is not greater than the last write id %d", writeID, wt.lastWriteID))
	}
}

// Write returns the pending write with the given id.
func (wt *Tree) Write(writeID int64) (Record, bool) {
	for _, r := range wt.all {
		if r.ID == writeID {
			return r, true
		}
	}
	return Record{}, false
}

// RemoveWrite drops a pending write and reports whether views must be
// re-evaluated. A write fully shadowed by a later visible write, or a
// hidden write, changes nothing that is shown. It panics when the id is
// unknown.
func (wt *Tree) RemoveWrite(writeID int64) bool {
	idx := slices.IndexFunc(wt.all, func(r Record) bool { return r.ID == writeID })
	if idx < 0 {
		panic(fmt.Sprintf("write: removeWrite called with unknown write id %d", writeID))
	}
	removed := wt.all[idx]
	wt.all = slices.Delete(wt.all, idx, idx+1)

	stillVisible := removed.Visible
	overlaps := false
	for i := len(wt.all) - 1; stillVisible && i >= 0; i-- {
		current := wt.all[i]
		if !current.Visible {
			continue
		}
		if i >= idx && current.ContainsPath(removed.Path) {
			stillVisible = false
		} else if removed.Path.Contains(current.Path) {
			overlaps = true
		}
	}

	switch {
	case !stillVisible:
		return false
	case overlaps:
		wt.resetTree()
		return true
	case removed.IsOverwrite():
		wt.visible = wt.visible.RemoveWrite(removed.Path)
	default:
		for _, p := range removed.MergePaths() {
			wt.visible = wt.visible.RemoveWrite(p)
		}
	}
	return true
}

// PurgeAllWrites drops every pending write and returns them. Write ids are
// not reused afterwards.
func (wt *Tree) PurgeAllWrites() []Record {
	purged := wt.all
	wt.all = nil
	wt.visible = EmptyCompoundWrite()
	return purged
}

func (wt *Tree) resetTree() {
	wt.visible = layerTree(wt.all, func(r Record) bool { return r.Visible }, tree.Root())
}

// ShadowingWrite returns the node written at or above p, if a single write
// fully determines it.
func (wt *Tree) ShadowingWrite(p tree.Path) (node.Node, bool) {
	return wt.visible.CompleteNode(p)
}

// CompleteWriteData returns the node at p determined by visible writes.
func (wt *Tree) CompleteWriteData(p tree.Path) (node.Node, bool) {
	return wt.visible.CompleteNode(p)
}

// CalcCompleteEventCache layers the pending writes onto the complete
// server cache at treePath. completeServerCache may be nil when unknown;
// the result is nil when writes alone cannot determine the node. Writes in
// exclude are skipped, and hidden writes are layered only when
// includeHidden is set.
func (wt *Tree) CalcCompleteEventCache(treePath tree.Path, completeServerCache node.Node, exclude []int64, includeHidden bool) node.Node {
	if len(exclude) == 0 && !includeHidden {
		if shadowing, ok := wt.visible.CompleteNode(treePath); ok {
			return shadowing
		}
		sub := wt.visible.ChildCompoundWrite(treePath)
		if sub.IsEmpty() {
			return completeServerCache
		}
		if completeServerCache == nil && !sub.HasCompleteWrite(tree.Root()) {
			return nil
		}
		base := completeServerCache
		if base == nil {
			base = node.Empty
		}
		return sub.Apply(base)
	}

	merge := wt.visible.ChildCompoundWrite(treePath)
	if !includeHidden && merge.IsEmpty() {
		return completeServerCache
	}
	if !includeHidden && completeServerCache == nil && !merge.HasCompleteWrite(tree.Root()) {
		return nil
	}
	filter := func(r Record) bool {
		return (r.Visible || includeHidden) &&
			!slices.Contains(exclude, r.ID) &&
			(r.Path.Contains(treePath) || treePath.Contains(r.Path))
	}
	mergeAtPath := layerTree(wt.all, filter, treePath)
	base := completeServerCache
	if base == nil {
		base = node.Empty
	}
	return mergeAtPath.Apply(base)
}

// CalcCompleteEventChildren returns a node holding every child at
// treePath that is complete given the writes and completeServerChildren,
// which may be nil.
func (wt *Tree) CalcCompleteEventChildren(treePath tree.Path, completeServerChildren node.Node) node.Node {
	complete := node.Empty
	if topLevel, ok := wt.visible.CompleteNode(treePath); ok {
		topLevel.ForEachChild(func(key string, child node.Node) bool {
			complete = complete.UpdateImmediateChild(key, child)
			return false
		})
		return complete
	}
	merge := wt.visible.ChildCompoundWrite(treePath)
	if completeServerChildren != nil {
		completeServerChildren.ForEachChild(func(key string, child node.Node) bool {
			n := merge.ChildCompoundWrite(tree.NewPath(key)).Apply(child)
			complete = complete.UpdateImmediateChild(key, n)
			return false
		})
	}
	for _, nn := range merge.CompleteChildren() {
		complete = complete.UpdateImmediateChild(nn.Name, nn.Node)
	}
	return complete
}

// CalcEventCacheAfterServerOverwrite returns the event cache node for
// childPath below treePath after the server cache changed there. The
// boolean is false when a write shadows the location, in which case the
// event cache need not change.
func (wt *Tree) CalcEventCacheAfterServerOverwrite(treePath, childPath tree.Path, existingServerSnap node.Node) (node.Node, bool) {
	p := treePath.ChildPath(childPath)
	if wt.visible.HasCompleteWrite(p) {
		return nil, false
	}
	childMerge := wt.visible.ChildCompoundWrite(p)
	if childMerge.IsEmpty() {
		return existingServerSnap.Child(childPath), true
	}
	return childMerge.Apply(existingServerSnap.Child(childPath)), true
}

// CalcCompleteChild returns the complete child at treePath/childKey, or
// false when neither the writes nor the server cache determine it.
func (wt *Tree) CalcCompleteChild(treePath tree.Path, childKey string, serverCache node.Node, serverCompleteForChild bool) (node.Node, bool) {
	p := treePath.Child(childKey)
	if shadowing, ok := wt.visible.CompleteNode(p); ok {
		return shadowing, true
	}
	if !serverCompleteForChild {
		return nil, false
	}
	childMerge := wt.visible.ChildCompoundWrite(p)
	return childMerge.Apply(serverCache.ImmediateChild(childKey)), true
}

// CalcIndexedSlice returns up to count children at treePath that sort
// strictly after (or before, with reverse) post under index, layering
// writes onto completeServerData, which may be nil.
func (wt *Tree) CalcIndexedSlice(treePath tree.Path, completeServerData node.Node, post node.NamedNode, count int, reverse bool, index node.Index) []node.NamedNode {
	merge := wt.visible.ChildCompoundWrite(treePath)
	var toIterate node.Node
	if shadowing, ok := merge.CompleteNode(tree.Root()); ok {
		toIterate = shadowing
	} else if completeServerData != nil {
		toIterate = merge.Apply(completeServerData)
	} else {
		return nil
	}
	if toIterate.IsEmpty() || toIterate.IsLeaf() {
		return nil
	}
	indexed := node.NewIndexedNode(toIterate, index)
	var out []node.NamedNode
	collect := func(nn node.NamedNode) bool {
		if index.Compare(nn, post) != 0 {
			out = append(out, nn)
		}
		return len(out) >= count
	}
	if reverse {
		indexed.DescendFrom(post, collect)
	} else {
		indexed.AscendFrom(post, collect)
	}
	return out
}

// layerTree combines the writes accepted by filter into an overlay
// relative to treeRoot.
func layerTree(writes []Record, filter func(Record) bool, treeRoot tree.Path) CompoundWrite {
	cw := EmptyCompoundWrite()
	for _, w := range writes {
		if !filter(w) {
			continue
		}
		if w.IsOverwrite() {
			switch {
			case treeRoot.Contains(w.Path):
				cw = cw.AddWrite(tree.RelativePath(treeRoot, w.Path), w.Overwrite)
			case w.Path.Contains(treeRoot):
				cw = cw.AddWrite(tree.Root(), w.Overwrite.Child(tree.RelativePath(w.Path, treeRoot)))
			}
			continue
		}
		switch {
		case treeRoot.Contains(w.Path):
			cw = cw.AddWrites(tree.RelativePath(treeRoot, w.Path), w.Merge)
		case w.Path.Contains(treeRoot):
			child := w.Merge.ChildCompoundWrite(tree.RelativePath(w.Path, treeRoot))
			cw = cw.AddWrites(tree.Root(), child)
		}
	}
	return cw
}
