package node

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/roach88/treesync/internal/sortedmap"
	"github.com/roach88/treesync/internal/tree"
)

// Children is an interior node. It always has at least one child; a node
// whose last child is removed becomes Empty.
type Children struct {
	children sortedmap.Map[string, Node]
	priority Node

	hashOnce   sync.Once
	hash       string
	hashV1Once sync.Once
	hashV1     string
}

var arrayIndexKey = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

func emptyChildMap() sortedmap.Map[string, Node] {
	return sortedmap.New[string, Node](tree.CompareKeys)
}

func newChildren(children sortedmap.Map[string, Node], priority Node) Node {
	if children.IsEmpty() {
		return Empty
	}
	if priority == nil {
		priority = Empty
	}
	return &Children{children: children, priority: priority}
}

func (c *Children) kind() kind { return kindChildren }
func (c *Children) IsLeaf() bool { return false }
func (c *Children) IsEmpty() bool { return false }
func (c *Children) Priority() Node { return c.priority }
func (c *Children) NumChildren() int { return c.children.Len() }
func (c *Children) HasChild(key string) bool { return c.children.Contains(key) }

func (c *Children) UpdatePriority(priority Node) Node {
	return &Children{children: c.children, priority: priority}
}

func (c *Children) ImmediateChild(key string) Node {
	if key == tree.PriorityKey {
		return c.priority
	}
	if child, ok := c.children.Get(key); ok {
		return child
	}
	return Empty
}

func (c *Children) Child(p tree.Path) Node {
	if p.IsEmpty() {
		return c
	}
	return c.ImmediateChild(p.Front()).Child(p.PopFront())
}

func (c *Children) UpdateImmediateChild(key string, child Node) Node {
	if key == tree.PriorityKey {
		return c.UpdatePriority(child)
	}
	if child.IsEmpty() {
		if !c.children.Contains(key) {
			return c
		}
		return newChildren(c.children.Remove(key), c.priority)
	}
	return newChildren(c.children.Insert(key, child), c.priority)
}

func (c *Children) UpdateChild(p tree.Path, child Node) Node {
	return updateChildOf(c, p, child)
}

func (c *Children) ForEachChild(fn func(key string, child Node) bool) bool {
	return c.children.Ascend(fn)
}

// FirstChildName returns the smallest key.
func (c *Children) FirstChildName() string {
	k, _ := c.children.MinKey()
	return k
}

// LastChildName returns the largest key.
func (c *Children) LastChildName() string {
	k, _ := c.children.MaxKey()
	return k
}

func (c *Children) Value(export bool) any {
	obj := make(map[string]any, c.children.Len())
	maxKey := 0
	allIntegerKeys := true
	c.children.Ascend(func(key string, child Node) bool {
		obj[key] = child.Value(export)
		if allIntegerKeys && arrayIndexKey.MatchString(key) {
			n, err := strconv.Atoi(key)
			if err != nil {
				allIntegerKeys = false
			} else if n > maxKey {
				maxKey = n
			}
		} else {
			allIntegerKeys = false
		}
		return false
	})
	if !export && allIntegerKeys && maxKey < 2*len(obj) {
		arr := make([]any, maxKey+1)
		for k, v := range obj {
			i, _ := strconv.Atoi(k)
			arr[i] = v
		}
		return arr
	}
	if export && !c.priority.IsEmpty() {
		obj[tree.PriorityKey] = c.priority.Value(false)
	}
	return obj
}

func (c *Children) Hash() string {
	c.hashOnce.Do(func() { c.hash = hashChildren(c, HashVersionV2) })
	return c.hash
}

func (c *Children) HashV1() string {
	c.hashV1Once.Do(func() { c.hashV1 = hashChildren(c, HashVersionV1) })
	return c.hashV1
}

func (c *Children) Equals(other Node) bool {
	o, ok := other.(*Children)
	if !ok {
		return false
	}
	if c == o {
		return true
	}
	if !c.priority.Equals(o.priority) || c.children.Len() != o.children.Len() {
		return false
	}
	mine := ChildrenOf(c)
	theirs := ChildrenOf(o)
	for i := range mine {
		if mine[i].Name != theirs[i].Name || !mine[i].Node.Equals(theirs[i].Node) {
			return false
		}
	}
	return true
}
