// Package sortedmap implements a persistent ordered map backed by a
// left-leaning red-black tree.
//
// Every mutating operation returns a new Map and leaves the receiver
// untouched. Subtrees not on the modified search path are shared between
// the old and new versions, so an insert or remove allocates O(log n)
// nodes.
//
// The comparator must be a strict total order and must be the same for
// the whole lifetime of a map and all maps derived from it.
package sortedmap
