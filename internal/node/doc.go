// Package node defines the immutable snapshot model of the synchronized
// tree.
//
// A Node is one of:
//   - Empty: no data (and never a priority)
//   - *Leaf: a boolean, number or string with an optional priority
//   - *Children: a sorted map of non-empty child Nodes with an optional
//     priority
//
// Nodes are never mutated. Every Update method returns a new Node that
// shares unchanged children with the receiver, so holding a Node is safe
// from any goroutine.
//
// An Index defines a secondary child ordering (by key, priority, value or
// a nested child), and IndexedNode pairs a Node with such an ordering.
//
// Conversion from Go values is the validation boundary: FromValue rejects
// illegal keys, priorities and nesting depth with *tree.ValidationError.
package node
