package view

import (
	"fmt"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/operation"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/write"
)

// ProcessorResult is the outcome of applying one operation to a view.
type ProcessorResult struct {
	ViewCache ViewCache
	Changes   []Change
}

// Processor applies operations to a ViewCache through a filter. It is
// pure: it never mutates its inputs.
type Processor struct {
	filter NodeFilter
}

// NewProcessor returns a processor for filter.
func NewProcessor(filter NodeFilter) *Processor {
	return &Processor{filter: filter}
}

// Filter returns the processor's filter.
func (p *Processor) Filter() NodeFilter { return p.filter }

func (p *Processor) assertIndexed(vc ViewCache) {
	if !vc.eventCache.Indexed().HasIndex(p.filter.Index()) {
		panic("view: event cache is not indexed by the view's index")
	}
	if !vc.serverCache.Indexed().HasIndex(p.filter.Index()) {
		panic("view: server cache is not indexed by the view's index")
	}
}

// ApplyOperation applies op to old. writes is the write tree projected on
// the view path; completeCache, when non-nil, is complete server data at
// the view path from another view.
func (p *Processor) ApplyOperation(old ViewCache, op operation.Operation, writes *write.Ref, completeCache node.Node) ProcessorResult {
	acc := NewChildChangeAccumulator()
	var next ViewCache
	src := op.Source()

	switch o := op.(type) {
	case *operation.Overwrite:
		if src.FromUser {
			next = p.applyUserOverwrite(old, o.Path(), o.Snap, writes, completeCache, acc)
		} else {
			// A tagged overwrite, or a deep overwrite of a filtered server
			// cache, can carry data outside the view's window.
			filterServerNode := src.Tagged || (old.serverCache.IsFiltered() && !o.Path().IsEmpty())
			next = p.applyServerOverwrite(old, o.Path(), o.Snap, writes, completeCache, filterServerNode, acc)
		}
	case *operation.Merge:
		if src.FromUser {
			next = p.applyUserMerge(old, o.Path(), o.Children, writes, completeCache, acc)
		} else {
			filterServerNode := src.Tagged || old.serverCache.IsFiltered()
			next = p.applyServerMerge(old, o.Path(), o.Children, writes, completeCache, filterServerNode, acc)
		}
	case *operation.AckUserWrite:
		if o.Revert {
			next = p.revertUserWrite(old, o.Path(), writes, completeCache, acc)
		} else {
			next = p.ackUserWrite(old, o.Path(), o.AffectedTree, writes, completeCache, acc)
		}
	case *operation.ListenComplete:
		next = p.listenComplete(old, o.Path(), writes, acc)
	default:
		panic(fmt.Sprintf("view: unknown operation %T", op))
	}

	p.assertIndexed(next)
	changes := acc.Changes()
	changes = maybeAddValueChange(old, next, changes)
	return ProcessorResult{ViewCache: next, Changes: changes}
}

func maybeAddValueChange(old, next ViewCache, changes []Change) []Change {
	eventSnap := next.eventCache
	if !eventSnap.IsFullyInitialized() {
		return changes
	}
	n := eventSnap.Node()
	isLeafOrEmpty := n.IsLeaf() || n.IsEmpty()
	oldComplete := old.CompleteEventSnap()
	if len(changes) > 0 ||
		!old.eventCache.IsFullyInitialized() ||
		(isLeafOrEmpty && !n.Equals(oldComplete)) ||
		!n.Priority().Equals(oldComplete.Priority()) {
		changes = append(changes, ValueChange(n))
	}
	return changes
}

func (p *Processor) generateEventCacheAfterServerEvent(vc ViewCache, changePath tree.Path, writes *write.Ref,
	source CompleteChildSource, acc *ChildChangeAccumulator) ViewCache {
	oldEventSnap := vc.eventCache
	if _, shadowed := writes.ShadowingWrite(changePath); shadowed {
		// Pending writes hide the change from the event cache.
		return vc
	}

	var newEventCache *node.IndexedNode
	switch {
	case changePath.IsEmpty():
		if !vc.serverCache.IsFullyInitialized() {
			panic("view: a root server change must leave the server cache initialized")
		}
		var complete node.Node
		if vc.serverCache.IsFiltered() {
			serverChildren := vc.CompleteServerSnap()
			if serverChildren.IsLeaf() {
				serverChildren = node.Empty
			}
			complete = writes.CalcCompleteEventChildren(serverChildren)
		} else {
			complete = writes.CalcCompleteEventCache(vc.CompleteServerSnap())
		}
		newEventCache = p.filter.UpdateFullNode(oldEventSnap.Indexed(), node.NewIndexedNode(complete, p.filter.Index()), acc)

	case changePath.Front() == tree.PriorityKey:
		if changePath.Len() != 1 {
			panic("view: cannot descend into a priority")
		}
		newEventCache = oldEventSnap.Indexed()
		if priority, ok := writes.CalcEventCacheAfterServerOverwrite(changePath, vc.serverCache.Node()); ok {
			newEventCache = p.filter.UpdatePriority(oldEventSnap.Indexed(), priority)
		}

	default:
		childKey := changePath.Front()
		childChangePath := changePath.PopFront()
		var newEventChild node.Node
		var ok bool
		if oldEventSnap.IsCompleteForChild(childKey) {
			newEventChild = oldEventSnap.Node().ImmediateChild(childKey)
			if update, has := writes.CalcEventCacheAfterServerOverwrite(changePath, vc.serverCache.Node()); has {
				newEventChild = newEventChild.UpdateChild(childChangePath, update)
			}
			ok = true
		} else {
			sc := vc.serverCache
			newEventChild, ok = writes.CalcCompleteChild(childKey, sc.Node(), sc.IsCompleteForChild(childKey))
		}
		newEventCache = oldEventSnap.Indexed()
		if ok {
			newEventCache = p.filter.UpdateChild(oldEventSnap.Indexed(), childKey, newEventChild, childChangePath, source, acc)
		}
	}
	return vc.UpdateEventSnap(newEventCache,
		oldEventSnap.IsFullyInitialized() || changePath.IsEmpty(),
		p.filter.FiltersNodes())
}

func (p *Processor) applyServerOverwrite(old ViewCache, changePath tree.Path, changedSnap node.Node, writes *write.Ref,
	completeCache node.Node, filterServerNode bool, acc *ChildChangeAccumulator) ViewCache {
	oldServerSnap := old.serverCache
	serverFilter := p.filter
	if !filterServerNode {
		serverFilter = p.filter.IndexedFilter()
	}
	index := p.filter.Index()

	var newServerCache *node.IndexedNode
	switch {
	case changePath.IsEmpty():
		newServerCache = serverFilter.UpdateFullNode(oldServerSnap.Indexed(), node.NewIndexedNode(changedSnap, index), nil)
	case serverFilter.FiltersNodes() && !oldServerSnap.IsFiltered():
		// The filter needs the whole node to decide which children remain.
		updated := oldServerSnap.Node().UpdateChild(changePath, changedSnap)
		newServerCache = serverFilter.UpdateFullNode(oldServerSnap.Indexed(), node.NewIndexedNode(updated, index), nil)
	default:
		childKey := changePath.Front()
		if !oldServerSnap.IsCompleteForPath(changePath) && changePath.Len() > 1 {
			// A deep change below an unknown child cannot be applied.
			return old
		}
		childChangePath := changePath.PopFront()
		newChild := oldServerSnap.Node().ImmediateChild(childKey).UpdateChild(childChangePath, changedSnap)
		if childKey == tree.PriorityKey {
			newServerCache = serverFilter.UpdatePriority(oldServerSnap.Indexed(), newChild)
		} else {
			newServerCache = serverFilter.UpdateChild(oldServerSnap.Indexed(), childKey, newChild, childChangePath, NoCompleteChildSource, nil)
		}
	}
	next := old.UpdateServerSnap(newServerCache,
		oldServerSnap.IsFullyInitialized() || changePath.IsEmpty(),
		serverFilter.FiltersNodes())
	source := newWriteTreeSource(writes, next, completeCache)
	return p.generateEventCacheAfterServerEvent(next, changePath, writes, source, acc)
}

func (p *Processor) applyUserOverwrite(old ViewCache, changePath tree.Path, changedSnap node.Node, writes *write.Ref,
	completeCache node.Node, acc *ChildChangeAccumulator) ViewCache {
	oldEventSnap := old.eventCache
	source := newWriteTreeSource(writes, old, completeCache)

	if changePath.IsEmpty() {
		newEventCache := p.filter.UpdateFullNode(oldEventSnap.Indexed(), node.NewIndexedNode(changedSnap, p.filter.Index()), acc)
		return old.UpdateEventSnap(newEventCache, true, p.filter.FiltersNodes())
	}

	childKey := changePath.Front()
	if childKey == tree.PriorityKey {
		newEventCache := p.filter.UpdatePriority(oldEventSnap.Indexed(), changedSnap)
		return old.UpdateEventSnap(newEventCache, oldEventSnap.IsFullyInitialized(), oldEventSnap.IsFiltered())
	}

	childChangePath := changePath.PopFront()
	oldChild := oldEventSnap.Node().ImmediateChild(childKey)
	var newChild node.Node
	if childChangePath.IsEmpty() {
		newChild = changedSnap
	} else if childNode, ok := source.CompleteChild(childKey); ok {
		if childChangePath.Back() == tree.PriorityKey && childNode.Child(childChangePath.Parent()).IsEmpty() {
			// A priority cannot be set on a missing node.
			newChild = childNode
		} else {
			newChild = childNode.UpdateChild(childChangePath, changedSnap)
		}
	} else {
		newChild = node.Empty
	}
	if oldChild.Equals(newChild) {
		return old
	}
	newEventSnap := p.filter.UpdateChild(oldEventSnap.Indexed(), childKey, newChild, childChangePath, source, acc)
	return old.UpdateEventSnap(newEventSnap, oldEventSnap.IsFullyInitialized(), p.filter.FiltersNodes())
}

func (p *Processor) applyUserMerge(vc ViewCache, path tree.Path, changed write.CompoundWrite, writes *write.Ref,
	completeCache node.Node, acc *ChildChangeAccumulator) ViewCache {
	cur := vc
	// Children already in the event cache are updated before new children
	// are added, so a full limit window evicts against current data.
	for _, known := range []bool{true, false} {
		changed.Foreach(func(rel tree.Path, child node.Node) {
			writePath := path.ChildPath(rel)
			if vc.eventCache.IsCompleteForChild(writePath.Front()) == known {
				cur = p.applyUserOverwrite(cur, writePath, child, writes, completeCache, acc)
			}
		})
	}
	return cur
}

func applyMerge(n node.Node, merge write.CompoundWrite) node.Node {
	merge.Foreach(func(rel tree.Path, child node.Node) {
		n = n.UpdateChild(rel, child)
	})
	return n
}

func (p *Processor) applyServerMerge(vc ViewCache, path tree.Path, changed write.CompoundWrite, writes *write.Ref,
	completeCache node.Node, filterServerNode bool, acc *ChildChangeAccumulator) ViewCache {
	if vc.serverCache.Node().IsEmpty() && !vc.serverCache.IsFullyInitialized() {
		// Merges onto unknown data are dropped until a full overwrite
		// arrives.
		return vc
	}
	cur := vc
	mergeTree := changed
	if !path.IsEmpty() {
		mergeTree = write.EmptyCompoundWrite().AddWrites(path, changed)
	}
	serverNode := vc.serverCache.Node()

	mergeTree.ForEachChildWrite(func(key string, childTree write.CompoundWrite) {
		if serverNode.HasChild(key) {
			newChild := applyMerge(serverNode.ImmediateChild(key), childTree)
			cur = p.applyServerOverwrite(cur, tree.NewPath(key), newChild, writes, completeCache, filterServerNode, acc)
		}
	})
	mergeTree.ForEachChildWrite(func(key string, childTree write.CompoundWrite) {
		_, hasRoot := childTree.RootWrite()
		unknownDeepMerge := !vc.serverCache.IsCompleteForChild(key) && !hasRoot
		if !serverNode.HasChild(key) && !unknownDeepMerge {
			newChild := applyMerge(serverNode.ImmediateChild(key), childTree)
			cur = p.applyServerOverwrite(cur, tree.NewPath(key), newChild, writes, completeCache, filterServerNode, acc)
		}
	})
	return cur
}

func (p *Processor) ackUserWrite(vc ViewCache, ackPath tree.Path, affected *tree.ImmutableTree[bool], writes *write.Ref,
	completeCache node.Node, acc *ChildChangeAccumulator) ViewCache {
	if _, shadowed := writes.ShadowingWrite(ackPath); shadowed {
		return vc
	}
	filterServerNode := vc.serverCache.IsFiltered()
	serverCache := vc.serverCache

	if affected.HasValue() {
		switch {
		case (ackPath.IsEmpty() && serverCache.IsFullyInitialized()) || serverCache.IsCompleteForPath(ackPath):
			return p.applyServerOverwrite(vc, ackPath, serverCache.Node().Child(ackPath), writes, completeCache, filterServerNode, acc)
		case ackPath.IsEmpty():
			// A root overwrite over a filtered server cache: reapply the
			// children that are known.
			changed := write.EmptyCompoundWrite()
			serverCache.Node().ForEachChild(func(key string, child node.Node) bool {
				changed = changed.AddWrite(tree.NewPath(key), child)
				return false
			})
			return p.applyServerMerge(vc, ackPath, changed, writes, completeCache, filterServerNode, acc)
		default:
			return vc
		}
	}

	changed := write.EmptyCompoundWrite()
	affected.Foreach(func(mergePath tree.Path, _ bool) {
		serverCachePath := ackPath.ChildPath(mergePath)
		if serverCache.IsCompleteForPath(serverCachePath) {
			changed = changed.AddWrite(mergePath, serverCache.Node().Child(serverCachePath))
		}
	})
	return p.applyServerMerge(vc, ackPath, changed, writes, completeCache, filterServerNode, acc)
}

func (p *Processor) listenComplete(vc ViewCache, path tree.Path, writes *write.Ref, acc *ChildChangeAccumulator) ViewCache {
	sc := vc.serverCache
	next := vc.UpdateServerSnap(sc.Indexed(), sc.IsFullyInitialized() || path.IsEmpty(), sc.IsFiltered())
	return p.generateEventCacheAfterServerEvent(next, path, writes, NoCompleteChildSource, acc)
}

func (p *Processor) revertUserWrite(vc ViewCache, path tree.Path, writes *write.Ref, completeServerCache node.Node,
	acc *ChildChangeAccumulator) ViewCache {
	if _, shadowed := writes.ShadowingWrite(path); shadowed {
		return vc
	}
	source := newWriteTreeSource(writes, vc, completeServerCache)
	oldEventCache := vc.eventCache.Indexed()
	index := p.filter.Index()

	var newEventCache *node.IndexedNode
	if path.IsEmpty() || path.Front() == tree.PriorityKey {
		var newNode node.Node
		if vc.serverCache.IsFullyInitialized() {
			newNode = writes.CalcCompleteEventCache(vc.CompleteServerSnap())
		} else {
			newNode = writes.CalcCompleteEventChildren(vc.serverCache.Node())
		}
		newEventCache = p.filter.UpdateFullNode(oldEventCache, node.NewIndexedNode(newNode, index), acc)
	} else {
		childKey := path.Front()
		sc := vc.serverCache
		newChild, ok := writes.CalcCompleteChild(childKey, sc.Node(), sc.IsCompleteForChild(childKey))
		if !ok && sc.IsCompleteForChild(childKey) {
			newChild, ok = oldEventCache.Node().ImmediateChild(childKey), true
		}
		switch {
		case ok:
			newEventCache = p.filter.UpdateChild(oldEventCache, childKey, newChild, path.PopFront(), source, acc)
		case vc.eventCache.Node().HasChild(childKey):
			// No complete child remains: the reverted child is removed.
			newEventCache = p.filter.UpdateChild(oldEventCache, childKey, node.Empty, path.PopFront(), source, acc)
		default:
			newEventCache = oldEventCache
		}
		if newEventCache.Node().IsEmpty() && vc.serverCache.IsFullyInitialized() {
			// The server data may have been a leaf hidden by the write.
			complete := writes.CalcCompleteEventCache(vc.CompleteServerSnap())
			if complete != nil && complete.IsLeaf() {
				newEventCache = p.filter.UpdateFullNode(newEventCache, node.NewIndexedNode(complete, index), acc)
			}
		}
	}
	_, rootShadowed := writes.ShadowingWrite(tree.Root())
	complete := vc.serverCache.IsFullyInitialized() || rootShadowed
	return vc.UpdateEventSnap(newEventCache, complete, p.filter.FiltersNodes())
}
