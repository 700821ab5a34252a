package view

import (
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

// CacheNode is an indexed snapshot plus what is known about it. A fully
// initialized node is known to be complete unless it is filtered, in
// which case only the children it holds are complete.
type CacheNode struct {
	node             *node.IndexedNode
	fullyInitialized bool
	filtered         bool
}

// NewCacheNode returns a cache node.
func NewCacheNode(n *node.IndexedNode, fullyInitialized, filtered bool) CacheNode {
	return CacheNode{node: n, fullyInitialized: fullyInitialized, filtered: filtered}
}

// EmptyCacheNode is an uninitialized empty cache.
func EmptyCacheNode(index node.Index) CacheNode {
	return CacheNode{node: node.NewIndexedNode(node.Empty, index)}
}

// Indexed returns the cached snapshot with its ordering.
func (c CacheNode) Indexed() *node.IndexedNode { return c.node }

// Node returns the cached snapshot.
func (c CacheNode) Node() node.Node { return c.node.Node() }

// IsFullyInitialized reports whether the snapshot has been populated.
func (c CacheNode) IsFullyInitialized() bool { return c.fullyInitialized }

// IsFiltered reports whether the snapshot may omit children.
func (c CacheNode) IsFiltered() bool { return c.filtered }

// IsCompleteForPath reports whether the data at p is known.
func (c CacheNode) IsCompleteForPath(p tree.Path) bool {
	if p.IsEmpty() {
		return c.fullyInitialized && !c.filtered
	}
	return c.IsCompleteForChild(p.Front())
}

// IsCompleteForChild reports whether the child at key is known.
func (c CacheNode) IsCompleteForChild(key string) bool {
	return (c.fullyInitialized && !c.filtered) || c.node.Node().HasChild(key)
}

// ViewCache holds the two caches of a view: the event cache is what
// registrations have been told, the server cache is the last known server
// data.
type ViewCache struct {
	eventCache  CacheNode
	serverCache CacheNode
}

// NewViewCache returns a view cache.
func NewViewCache(eventCache, serverCache CacheNode) ViewCache {
	return ViewCache{eventCache: eventCache, serverCache: serverCache}
}

// EventCache returns the event cache.
func (v ViewCache) EventCache() CacheNode { return v.eventCache }

// ServerCache returns the server cache.
func (v ViewCache) ServerCache() CacheNode { return v.serverCache }

// UpdateEventSnap replaces the event cache.
func (v ViewCache) UpdateEventSnap(n *node.IndexedNode, complete, filtered bool) ViewCache {
	return ViewCache{eventCache: NewCacheNode(n, complete, filtered), serverCache: v.serverCache}
}

// UpdateServerSnap replaces the server cache.
func (v ViewCache) UpdateServerSnap(n *node.IndexedNode, complete, filtered bool) ViewCache {
	return ViewCache{eventCache: v.eventCache, serverCache: NewCacheNode(n, complete, filtered)}
}

// CompleteEventSnap returns the event cache, or nil when it has not been
// initialized.
func (v ViewCache) CompleteEventSnap() node.Node {
	if v.eventCache.fullyInitialized {
		return v.eventCache.Node()
	}
	return nil
}

// CompleteServerSnap returns the server cache, or nil when it has not
// been initialized.
func (v ViewCache) CompleteServerSnap() node.Node {
	if v.serverCache.fullyInitialized {
		return v.serverCache.Node()
	}
	return nil
}
