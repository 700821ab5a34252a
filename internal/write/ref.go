package write

import (
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

// Ref is a WriteTree projected onto one path. Views hold a Ref for their
// query path so their calculations never need absolute paths.
type Ref struct {
	path tree.Path
	tree *Tree
}

// Path returns the path the Ref is rooted at.
func (r *Ref) Path() tree.Path { return r.path }

// CalcCompleteEventCache layers visible writes onto completeServerCache.
func (r *Ref) CalcCompleteEventCache(completeServerCache node.Node) node.Node {
	return r.tree.CalcCompleteEventCache(r.path, completeServerCache, nil, false)
}

// CalcCompleteEventCacheExcluding layers writes onto completeServerCache
// while skipping the given ids.
func (r *Ref) CalcCompleteEventCacheExcluding(completeServerCache node.Node, exclude []int64, includeHidden bool) node.Node {
	return r.tree.CalcCompleteEventCache(r.path, completeServerCache, exclude, includeHidden)
}

// CalcCompleteEventChildren returns every child complete at the path.
func (r *Ref) CalcCompleteEventChildren(completeServerChildren node.Node) node.Node {
	return r.tree.CalcCompleteEventChildren(r.path, completeServerChildren)
}

// CalcEventCacheAfterServerOverwrite returns the new event cache node at
// childPath, or false when writes shadow it.
func (r *Ref) CalcEventCacheAfterServerOverwrite(childPath tree.Path, existingServerSnap node.Node) (node.Node, bool) {
	return r.tree.CalcEventCacheAfterServerOverwrite(r.path, childPath, existingServerSnap)
}

// ShadowingWrite returns the node written at or above path/p.
func (r *Ref) ShadowingWrite(p tree.Path) (node.Node, bool) {
	return r.tree.ShadowingWrite(r.path.ChildPath(p))
}

// CalcIndexedSlice returns up to count children after post.
func (r *Ref) CalcIndexedSlice(completeServerData node.Node, post node.NamedNode, count int, reverse bool, index node.Index) []node.NamedNode {
	return r.tree.CalcIndexedSlice(r.path, completeServerData, post, count, reverse, index)
}

// CalcNextNodeAfterPost returns the first child sorting after post, or
// before it with reverse.
func (r *Ref) CalcNextNodeAfterPost(completeServerData node.Node, post node.NamedNode, reverse bool, index node.Index) (node.NamedNode, bool) {
	slice := r.CalcIndexedSlice(completeServerData, post, 1, reverse, index)
	if len(slice) == 0 {
		return node.NamedNode{}, false
	}
	return slice[0], true
}

// CalcCompleteChild returns the complete child at key.
func (r *Ref) CalcCompleteChild(key string, serverCache node.Node, serverCompleteForChild bool) (node.Node, bool) {
	return r.tree.CalcCompleteChild(r.path, key, serverCache, serverCompleteForChild)
}

// Child returns the projection one level deeper.
func (r *Ref) Child(key string) *Ref {
	return &Ref{path: r.path.Child(key), tree: r.tree}
}
