package tree

import (
	"sort"

	"github.com/roach88/treesync/internal/sortedmap"
)

// ImmutableTree is a persistent tree keyed by path segments where any node
// may carry a value. Children are ordered with CompareKeys.
type ImmutableTree[T any] struct {
	value    T
	hasValue bool
	children sortedmap.Map[string, *ImmutableTree[T]]
}

// NewImmutableTree returns an empty tree.
func NewImmutableTree[T any]() *ImmutableTree[T] {
	return &ImmutableTree[T]{children: sortedmap.New[string, *ImmutableTree[T]](CompareKeys)}
}

// NewImmutableTreeWithValue returns a tree holding value at its root.
func NewImmutableTreeWithValue[T any](value T) *ImmutableTree[T] {
	t := NewImmutableTree[T]()
	t.value = value
	t.hasValue = true
	return t
}

// ImmutableTreeFromMap builds a tree from relative path strings.
func ImmutableTreeFromMap[T any](entries map[string]T) *ImmutableTree[T] {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := NewImmutableTree[T]()
	for _, k := range keys {
		t = t.Set(ParsePath(k), entries[k])
	}
	return t
}

// Value returns the value stored at the root of the tree.
func (t *ImmutableTree[T]) Value() (T, bool) {
	return t.value, t.hasValue
}

// HasValue reports whether the root carries a value.
func (t *ImmutableTree[T]) HasValue() bool {
	return t.hasValue
}

// Children returns the immediate subtrees keyed by segment.
func (t *ImmutableTree[T]) Children() sortedmap.Map[string, *ImmutableTree[T]] {
	return t.children
}

// IsEmpty reports whether the tree holds no values at all.
func (t *ImmutableTree[T]) IsEmpty() bool {
	return !t.hasValue && t.children.IsEmpty()
}

// FindRootMostMatchingPathAndValue returns the shallowest value along p
// that satisfies pred, with its path relative to the tree root.
func (t *ImmutableTree[T]) FindRootMostMatchingPathAndValue(p Path, pred func(T) bool) (Path, T, bool) {
	if t.hasValue && pred(t.value) {
		return Root(), t.value, true
	}
	if p.IsEmpty() {
		var zero T
		return Path{}, zero, false
	}
	front := p.Front()
	child, ok := t.children.Get(front)
	if !ok {
		var zero T
		return Path{}, zero, false
	}
	rel, v, found := child.FindRootMostMatchingPathAndValue(p.PopFront(), pred)
	if !found {
		return Path{}, v, false
	}
	return NewPath(front).ChildPath(rel), v, true
}

// FindRootMostValueAndPath returns the shallowest value along p.
func (t *ImmutableTree[T]) FindRootMostValueAndPath(p Path) (Path, T, bool) {
	return t.FindRootMostMatchingPathAndValue(p, func(T) bool { return true })
}

// Subtree returns the tree rooted at p, which is empty when nothing is
// stored there.
func (t *ImmutableTree[T]) Subtree(p Path) *ImmutableTree[T] {
	if p.IsEmpty() {
		return t
	}
	child, ok := t.children.Get(p.Front())
	if !ok {
		return NewImmutableTree[T]()
	}
	return child.Subtree(p.PopFront())
}

// Get returns the value stored exactly at p.
func (t *ImmutableTree[T]) Get(p Path) (T, bool) {
	if p.IsEmpty() {
		return t.value, t.hasValue
	}
	child, ok := t.children.Get(p.Front())
	if !ok {
		var zero T
		return zero, false
	}
	return child.Get(p.PopFront())
}

// Set returns a tree with value stored at p.
func (t *ImmutableTree[T]) Set(p Path, value T) *ImmutableTree[T] {
	if p.IsEmpty() {
		return &ImmutableTree[T]{value: value, hasValue: true, children: t.children}
	}
	front := p.Front()
	child, ok := t.children.Get(front)
	if !ok {
		child = NewImmutableTree[T]()
	}
	newChild := child.Set(p.PopFront(), value)
	return &ImmutableTree[T]{value: t.value, hasValue: t.hasValue, children: t.children.Insert(front, newChild)}
}

// Remove returns a tree without the value at p. Subtrees left empty are
// pruned.
func (t *ImmutableTree[T]) Remove(p Path) *ImmutableTree[T] {
	if p.IsEmpty() {
		if t.children.IsEmpty() {
			return NewImmutableTree[T]()
		}
		return &ImmutableTree[T]{children: t.children}
	}
	front := p.Front()
	child, ok := t.children.Get(front)
	if !ok {
		return t
	}
	newChild := child.Remove(p.PopFront())
	var children sortedmap.Map[string, *ImmutableTree[T]]
	if newChild.IsEmpty() {
		children = t.children.Remove(front)
	} else {
		children = t.children.Insert(front, newChild)
	}
	if !t.hasValue && children.IsEmpty() {
		return NewImmutableTree[T]()
	}
	return &ImmutableTree[T]{value: t.value, hasValue: t.hasValue, children: children}
}

// SetTree returns a tree with sub grafted at p, replacing whatever was
// there.
func (t *ImmutableTree[T]) SetTree(p Path, sub *ImmutableTree[T]) *ImmutableTree[T] {
	if p.IsEmpty() {
		return sub
	}
	front := p.Front()
	child, ok := t.children.Get(front)
	if !ok {
		child = NewImmutableTree[T]()
	}
	newChild := child.SetTree(p.PopFront(), sub)
	var children sortedmap.Map[string, *ImmutableTree[T]]
	if newChild.IsEmpty() {
		children = t.children.Remove(front)
	} else {
		children = t.children.Insert(front, newChild)
	}
	return &ImmutableTree[T]{value: t.value, hasValue: t.hasValue, children: children}
}

// Foreach visits every value; descendants are visited before their
// ancestors and siblings in key order.
func (t *ImmutableTree[T]) Foreach(fn func(p Path, value T)) {
	t.foreach(Root(), fn)
}

func (t *ImmutableTree[T]) foreach(p Path, fn func(Path, T)) {
	t.children.Ascend(func(key string, child *ImmutableTree[T]) bool {
		child.foreach(p.Child(key), fn)
		return false
	})
	if t.hasValue {
		fn(p, t.value)
	}
}

// ForeachChild visits the values stored at immediate children.
func (t *ImmutableTree[T]) ForeachChild(fn func(key string, value T)) {
	t.children.Ascend(func(key string, child *ImmutableTree[T]) bool {
		if child.hasValue {
			fn(key, child.value)
		}
		return false
	})
}

// ForeachOnPath visits every value on the way from the root down to p,
// shallowest first.
func (t *ImmutableTree[T]) ForeachOnPath(p Path, fn func(p Path, value T)) {
	t.foreachOnPath(p, Root(), fn)
}

func (t *ImmutableTree[T]) foreachOnPath(p, soFar Path, fn func(Path, T)) {
	if t.hasValue {
		fn(soFar, t.value)
	}
	if p.IsEmpty() {
		return
	}
	front := p.Front()
	child, ok := t.children.Get(front)
	if !ok {
		return
	}
	child.foreachOnPath(p.PopFront(), soFar.Child(front), fn)
}

// FindOnPath returns the first result of fn that reports ok, visiting
// values from the root down to p.
func FindOnPath[T, R any](t *ImmutableTree[T], p Path, fn func(p Path, value T) (R, bool)) (R, bool) {
	var soFar Path
	cur := t
	for {
		if cur.hasValue {
			if r, ok := fn(soFar, cur.value); ok {
				return r, true
			}
		}
		if p.IsEmpty() {
			var zero R
			return zero, false
		}
		front := p.Front()
		child, ok := cur.children.Get(front)
		if !ok {
			var zero R
			return zero, false
		}
		soFar = soFar.Child(front)
		p = p.PopFront()
		cur = child
	}
}

// Fold reduces the tree bottom-up. fn receives the path of each subtree,
// its value (if any) and the folded results of its children in key order.
func Fold[T, R any](t *ImmutableTree[T], fn func(p Path, value T, hasValue bool, children []R) R) R {
	return fold(t, Root(), fn)
}

func fold[T, R any](t *ImmutableTree[T], p Path, fn func(Path, T, bool, []R) R) R {
	acc := make([]R, 0, t.children.Len())
	t.children.Ascend(func(key string, child *ImmutableTree[T]) bool {
		acc = append(acc, fold(child, p.Child(key), fn))
		return false
	})
	return fn(p, t.value, t.hasValue, acc)
}
