package sortedmap

import (
	"errors"
	"fmt"
)

// Comparator orders keys. It returns a negative number when a sorts before
// b, zero when they are equal and a positive number otherwise.
type Comparator[K any] func(a, b K) int

type llrbNode[K, V any] struct {
	key   K
	value V
	red   bool
	left  *llrbNode[K, V]
	right *llrbNode[K, V]
	size  int
}

// Map is an immutable sorted map. The zero value is not usable; create
// maps with New.
type Map[K, V any] struct {
	cmp  Comparator[K]
	root *llrbNode[K, V]
}

// New returns an empty map ordered by cmp.
func New[K, V any](cmp Comparator[K]) Map[K, V] {
	return Map[K, V]{cmp: cmp}
}

// Comparator returns the ordering used by the map.
func (m Map[K, V]) Comparator() Comparator[K] {
	return m.cmp
}

// Len returns the number of entries.
func (m Map[K, V]) Len() int {
	return m.root.count()
}

// IsEmpty reports whether the map has no entries.
func (m Map[K, V]) IsEmpty() bool {
	return m.root == nil
}

// Get returns the value stored under key.
func (m Map[K, V]) Get(key K) (V, bool) {
	n := m.root
	for n != nil {
		c := m.cmp(key, n.key)
		switch {
		case c == 0:
			return n.value, true
		case c < 0:
			n = n.left
		default:
			n = n.right
		}
	}
	var zero V
	return zero, false
}

// Contains reports whether key is present.
func (m Map[K, V]) Contains(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Insert returns a map with key set to value.
func (m Map[K, V]) Insert(key K, value V) Map[K, V] {
	root := m.root.insert(key, value, m.cmp)
	return Map[K, V]{cmp: m.cmp, root: root.withColor(false)}
}

// Remove returns a map without key. Removing a missing key returns an
// equivalent map.
func (m Map[K, V]) Remove(key K) Map[K, V] {
	if !m.Contains(key) {
		return m
	}
	root := m.root.remove(key, m.cmp)
	if root != nil {
		root = root.withColor(false)
	}
	return Map[K, V]{cmp: m.cmp, root: root}
}

// MinKey returns the smallest key.
func (m Map[K, V]) MinKey() (K, bool) {
	if m.root == nil {
		var zero K
		return zero, false
	}
	return m.root.min().key, true
}

// MaxKey returns the largest key.
func (m Map[K, V]) MaxKey() (K, bool) {
	if m.root == nil {
		var zero K
		return zero, false
	}
	n := m.root
	for n.right != nil {
		n = n.right
	}
	return n.key, true
}

// PredecessorKey returns the key immediately before key. The boolean is
// false when key is the first entry. key must be present in the map.
func (m Map[K, V]) PredecessorKey(key K) (K, bool) {
	var zero K
	var rightParent *llrbNode[K, V]
	n := m.root
	for n != nil {
		c := m.cmp(key, n.key)
		if c == 0 {
			if n.left != nil {
				p := n.left
				for p.right != nil {
					p = p.right
				}
				return p.key, true
			}
			if rightParent != nil {
				return rightParent.key, true
			}
			return zero, false
		}
		if c < 0 {
			n = n.left
		} else {
			rightParent = n
			n = n.right
		}
	}
	panic(fmt.Sprintf("sortedmap: PredecessorKey called with missing key %v", key))
}

// Ascend calls fn for each entry in ascending order until fn returns true.
// It reports whether iteration was stopped early.
func (m Map[K, V]) Ascend(fn func(key K, value V) bool) bool {
	return m.root.inorder(fn)
}

// Descend calls fn for each entry in descending order until fn returns
// true. It reports whether iteration was stopped early.
func (m Map[K, V]) Descend(fn func(key K, value V) bool) bool {
	return m.root.reverseOrder(fn)
}

// AscendFrom iterates entries with keys >= from in ascending order.
func (m Map[K, V]) AscendFrom(from K, fn func(key K, value V) bool) bool {
	return m.root.ascendFrom(from, m.cmp, fn)
}

// DescendFrom iterates entries with keys <= from in descending order.
func (m Map[K, V]) DescendFrom(from K, fn func(key K, value V) bool) bool {
	return m.root.descendFrom(from, m.cmp, fn)
}

// Keys returns all keys in ascending order.
func (m Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	m.Ascend(func(k K, _ V) bool {
		keys = append(keys, k)
		return false
	})
	return keys
}

// Check validates the red-black invariants of the tree: no red node has a
// red child, red links lean left, and every root-to-leaf path has the same
// number of black nodes. It also verifies key order and cached sizes.
func (m Map[K, V]) Check() error {
	if m.root == nil {
		return nil
	}
	if m.root.red {
		return errors.New("root is red")
	}
	if _, err := m.root.check(m.cmp); err != nil {
		return err
	}
	var prev *K
	var orderErr error
	m.Ascend(func(k K, _ V) bool {
		if prev != nil && m.cmp(*prev, k) >= 0 {
			orderErr = fmt.Errorf("keys out of order: %v before %v", *prev, k)
			return true
		}
		kk := k
		prev = &kk
		return false
	})
	return orderErr
}

func (n *llrbNode[K, V]) count() int {
	if n == nil {
		return 0
	}
	return n.size
}

func isRed[K, V any](n *llrbNode[K, V]) bool {
	return n != nil && n.red
}

func newNode[K, V any](key K, value V, red bool, left, right *llrbNode[K, V]) *llrbNode[K, V] {
	return &llrbNode[K, V]{
		key:   key,
		value: value,
		red:   red,
		left:  left,
		right: right,
		size:  left.count() + right.count() + 1,
	}
}

func (n *llrbNode[K, V]) withChildren(left, right *llrbNode[K, V]) *llrbNode[K, V] {
	return newNode(n.key, n.value, n.red, left, right)
}

func (n *llrbNode[K, V]) withColor(red bool) *llrbNode[K, V] {
	if n == nil {
		return nil
	}
	if n.red == red {
		return n
	}
	return newNode(n.key, n.value, red, n.left, n.right)
}

func (n *llrbNode[K, V]) min() *llrbNode[K, V] {
	for n.left != nil {
		n = n.left
	}
	return n
}

func (n *llrbNode[K, V]) insert(key K, value V, cmp Comparator[K]) *llrbNode[K, V] {
	if n == nil {
		return newNode[K, V](key, value, true, nil, nil)
	}
	c := cmp(key, n.key)
	var out *llrbNode[K, V]
	switch {
	case c < 0:
		out = n.withChildren(n.left.insert(key, value, cmp), n.right)
	case c == 0:
		out = newNode(n.key, value, n.red, n.left, n.right)
	default:
		out = n.withChildren(n.left, n.right.insert(key, value, cmp))
	}
	return out.fixUp()
}

func (n *llrbNode[K, V]) removeMin() *llrbNode[K, V] {
	if n.left == nil {
		return nil
	}
	if !isRed(n.left) && !isRed(n.left.left) {
		n = n.moveRedLeft()
	}
	n = n.withChildren(n.left.removeMin(), n.right)
	return n.fixUp()
}

func (n *llrbNode[K, V]) remove(key K, cmp Comparator[K]) *llrbNode[K, V] {
	if n == nil {
		return nil
	}
	if cmp(key, n.key) < 0 {
		if n.left != nil && !isRed(n.left) && !isRed(n.left.left) {
			n = n.moveRedLeft()
		}
		n = n.withChildren(n.left.remove(key, cmp), n.right)
	} else {
		if isRed(n.left) {
			n = n.rotateRight()
		}
		if n.right != nil && !isRed(n.right) && !isRed(n.right.left) {
			n = n.moveRedRight()
		}
		if cmp(key, n.key) == 0 {
			if n.right == nil {
				return nil
			}
			smallest := n.right.min()
			n = newNode(smallest.key, smallest.value, n.red, n.left, n.right.removeMin())
		} else {
			n = n.withChildren(n.left, n.right.remove(key, cmp))
		}
	}
	return n.fixUp()
}

func (n *llrbNode[K, V]) fixUp() *llrbNode[K, V] {
	if isRed(n.right) && !isRed(n.left) {
		n = n.rotateLeft()
	}
	if isRed(n.left) && isRed(n.left.left) {
		n = n.rotateRight()
	}
	if isRed(n.left) && isRed(n.right) {
		n = n.colorFlip()
	}
	return n
}

func (n *llrbNode[K, V]) moveRedLeft() *llrbNode[K, V] {
	n = n.colorFlip()
	if n.right != nil && isRed(n.right.left) {
		n = n.withChildren(n.left, n.right.rotateRight())
		n = n.rotateLeft()
		n = n.colorFlip()
	}
	return n
}

func (n *llrbNode[K, V]) moveRedRight() *llrbNode[K, V] {
	n = n.colorFlip()
	if n.left != nil && isRed(n.left.left) {
		n = n.rotateRight()
		n = n.colorFlip()
	}
	return n
}

func (n *llrbNode[K, V]) rotateLeft() *llrbNode[K, V] {
	r := n.right
	nl := newNode(n.key, n.value, true, n.left, r.left)
	return newNode(r.key, r.value, n.red, nl, r.right)
}

func (n *llrbNode[K, V]) rotateRight() *llrbNode[K, V] {
	l := n.left
	nr := newNode(n.key, n.value, true, l.right, n.right)
	return newNode(l.key, l.value, n.red, l.left, nr)
}

func (n *llrbNode[K, V]) colorFlip() *llrbNode[K, V] {
	left := n.left.withColor(!isRed(n.left))
	right := n.right.withColor(!isRed(n.right))
	return newNode(n.key, n.value, !n.red, left, right)
}

func (n *llrbNode[K, V]) inorder(fn func(K, V) bool) bool {
	if n == nil {
		return false
	}
	return n.left.inorder(fn) || fn(n.key, n.value) || n.right.inorder(fn)
}

func (n *llrbNode[K, V]) reverseOrder(fn func(K, V) bool) bool {
	if n == nil {
		return false
	}
	return n.right.reverseOrder(fn) || fn(n.key, n.value) || n.left.reverseOrder(fn)
}

func (n *llrbNode[K, V]) ascendFrom(from K, cmp Comparator[K], fn func(K, V) bool) bool {
	if n == nil {
		return false
	}
	if cmp(n.key, from) < 0 {
		return n.right.ascendFrom(from, cmp, fn)
	}
	return n.left.ascendFrom(from, cmp, fn) || fn(n.key, n.value) || n.right.inorder(fn)
}

func (n *llrbNode[K, V]) descendFrom(from K, cmp Comparator[K], fn func(K, V) bool) bool {
	if n == nil {
		return false
	}
	if cmp(n.key, from) > 0 {
		return n.left.descendFrom(from, cmp, fn)
	}
	return n.right.descendFrom(from, cmp, fn) || fn(n.key, n.value) || n.left.reverseOrder(fn)
}

// check returns the black height of n.
func (n *llrbNode[K, V]) check(cmp Comparator[K]) (int, error) {
	if n == nil {
		return 0, nil
	}
	if n.red && isRed(n.left) {
		return 0, fmt.Errorf("red node %v has a red child", n.key)
	}
	if isRed(n.right) {
		return 0, fmt.Errorf("right child of %v is red", n.key)
	}
	if n.size != n.left.count()+n.right.count()+1 {
		return 0, fmt.Errorf("size of %v is %d, want %d", n.key, n.size, n.left.count()+n.right.count()+1)
	}
	lh, err := n.left.check(cmp)
	if err != nil {
		return 0, err
	}
	rh, err := n.right.check(cmp)
	if err != nil {
		return 0, err
	}
	if lh != rh {
		return 0, fmt.Errorf("black heights differ below %v: %d != %d", n.key, lh, rh)
	}
	if !n.red {
		lh++
	}
	return lh, nil
}
