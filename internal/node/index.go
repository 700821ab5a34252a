package node

import (
	"fmt"
	"strings"

	"github.com/roach88/treesync/internal/tree"
)

type indexKind int

const (
	indexPriority indexKind = iota
	indexKey
	indexValue
	indexPath
)

// Index is a child ordering. The zero value is the priority index.
type Index struct {
	kind indexKind
	path tree.Path
}

// The built-in indexes.
var (
	PriorityIndex = Index{kind: indexPriority}
	KeyIndex      = Index{kind: indexKey}
	ValueIndex    = Index{kind: indexValue}
)

// PathIndex orders children by the value found at p inside each child.
func PathIndex(p tree.Path) Index {
	if p.IsEmpty() || p.Front() == tree.PriorityKey {
		panic("node: PathIndex requires a non-empty path that does not start with .priority")
	}
	return Index{kind: indexPath, path: p}
}

// IsKey reports whether the index orders by key.
func (i Index) IsKey() bool { return i.kind == indexKey }

// IsPriority reports whether the index orders by priority.
func (i Index) IsPriority() bool { return i.kind == indexPriority }

// Equal reports whether both indexes produce the same ordering.
func (i Index) Equal(other Index) bool {
	return i.kind == other.kind && i.path.Equal(other.path)
}

// Compare orders two named nodes under the index. Ties are broken by key.
func (i Index) Compare(a, b NamedNode) int {
	var c int
	switch i.kind {
	case indexKey:
		return tree.CompareKeys(a.Name, b.Name)
	case indexPriority:
		c = Compare(a.Node.Priority(), b.Node.Priority())
	case indexValue:
		c = Compare(a.Node, b.Node)
	case indexPath:
		c = Compare(a.Node.Child(i.path), b.Node.Child(i.path))
	}
	if c != 0 {
		return c
	}
	return tree.CompareKeys(a.Name, b.Name)
}

// IsDefinedOn reports whether n carries a value the index can order by.
func (i Index) IsDefinedOn(n Node) bool {
	switch i.kind {
	case indexPriority:
		return !n.Priority().IsEmpty()
	case indexPath:
		return !n.Child(i.path).IsEmpty()
	}
	return true
}

// IndexedValueChanged reports whether replacing oldNode with newNode can
// move the child within the ordering.
func (i Index) IndexedValueChanged(oldNode, newNode Node) bool {
	switch i.kind {
	case indexKey:
		return false
	case indexPriority:
		return !oldNode.Priority().Equals(newNode.Priority())
	case indexValue:
		return !oldNode.Equals(newNode)
	default:
		return !oldNode.Child(i.path).Equals(newNode.Child(i.path))
	}
}

// MinPost sorts before every child.
func (i Index) MinPost() NamedNode {
	return MinNamedNode
}

// MaxPost sorts after every child.
func (i Index) MaxPost() NamedNode {
	return i.MakePost(Max, tree.MaxName)
}

// MakePost builds a post that sorts where a child with the given indexed
// value and name would. For the key index the indexed value must be a
// string leaf (or Max) and name is ignored.
func (i Index) MakePost(value Node, name string) NamedNode {
	switch i.kind {
	case indexKey:
		if value.kind() == kindMax {
			return NamedNode{Name: tree.MaxName, Node: Max}
		}
		key, ok := value.Value(false).(string)
		if !ok {
			panic("node: key index posts require a string value")
		}
		return NamedNode{Name: key, Node: Empty}
	case indexPriority:
		return NamedNode{Name: name, Node: &Leaf{value: "[PRIORITY-POST]", priority: value}}
	case indexValue:
		return NamedNode{Name: name, Node: value}
	default:
		return NamedNode{Name: name, Node: Empty.UpdateChild(i.path, value)}
	}
}

// QueryDefinition is the wire name of the index.
func (i Index) QueryDefinition() string {
	switch i.kind {
	case indexKey:
		return ".key"
	case indexPriority:
		return ".priority"
	case indexValue:
		return ".value"
	default:
		return strings.Join(i.path.Segments(), "/")
	}
}

// String implements fmt.Stringer.
func (i Index) String() string {
	return fmt.Sprintf("Index(%s)", i.QueryDefinition())
}

// IndexFromQueryDefinition parses the wire name of an index.
func IndexFromQueryDefinition(def string) Index {
	switch def {
	case ".key":
		return KeyIndex
	case ".priority", "":
		return PriorityIndex
	case ".value":
		return ValueIndex
	}
	return PathIndex(tree.ParsePath(def))
}
