// Package operation describes the mutations applied to views: overwrites,
// merges, write acknowledgements and listen completions.
package operation

import (
	"fmt"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/write"
)

// Source says where an operation came from.
type Source struct {
	FromUser   bool
	FromServer bool

	// QueryID identifies the target view of a tagged server operation.
	QueryID string
	Tagged  bool
}

// Operation sources.
var (
	UserSource   = Source{FromUser: true}
	ServerSource = Source{FromServer: true}
)

// TaggedServerSource targets the view of one filtered query.
func TaggedServerSource(queryID string) Source {
	return Source{FromServer: true, QueryID: queryID, Tagged: true}
}

func (s Source) String() string {
	switch {
	case s.Tagged:
		return "server(" + s.QueryID + ")"
	case s.FromServer:
		return "server"
	case s.FromUser:
		return "user"
	}
	return "unknown"
}

// Operation is one of *Overwrite, *Merge, *AckUserWrite or
// *ListenComplete. Path is relative to the view or sync point the
// operation is applied to.
type Operation interface {
	Source() Source
	Path() tree.Path

	// ForChild returns the operation as seen by the child key of the
	// current root, or nil when it does not affect that child.
	ForChild(key string) Operation

	fmt.Stringer
	isOperation()
}

// Overwrite replaces the node at Path.
type Overwrite struct {
	source Source
	path   tree.Path
	Snap   node.Node
}

// NewOverwrite returns an overwrite operation.
func NewOverwrite(source Source, path tree.Path, snap node.Node) *Overwrite {
	return &Overwrite{source: source, path: path, Snap: snap}
}

func (o *Overwrite) Source() Source { return o.source }
func (o *Overwrite) Path() tree.Path { return o.path }
func (o *Overwrite) isOperation() {}

func (o *Overwrite) ForChild(key string) Operation {
	if o.path.IsEmpty() {
		return NewOverwrite(o.source, tree.Root(), o.Snap.ImmediateChild(key))
	}
	return NewOverwrite(o.source, o.path.PopFront(), o.Snap)
}

func (o *Overwrite) String() string {
	return fmt.Sprintf("Overwrite{path=%s source=%s}", o.path, o.source)
}

// Merge overwrites several children below Path.
type Merge struct {
	source   Source
	path     tree.Path
	Children write.CompoundWrite
}

// NewMerge returns a merge operation.
func NewMerge(source Source, path tree.Path, children write.CompoundWrite) *Merge {
	return &Merge{source: source, path: path, Children: children}
}

func (m *Merge) Source() Source { return m.source }
func (m *Merge) Path() tree.Path { return m.path }
func (m *Merge) isOperation() {}

func (m *Merge) ForChild(key string) Operation {
	if !m.path.IsEmpty() {
		if m.path.Front() != key {
			return nil
		}
		return NewMerge(m.source, m.path.PopFront(), m.Children)
	}
	child := m.Children.ChildCompoundWrite(tree.NewPath(key))
	if child.IsEmpty() {
		return nil
	}
	if snap, ok := child.RootWrite(); ok {
		return NewOverwrite(m.source, tree.Root(), snap)
	}
	return NewMerge(m.source, tree.Root(), child)
}

func (m *Merge) String() string {
	return fmt.Sprintf("Merge{path=%s source=%s}", m.path, m.source)
}

// AckUserWrite removes the optimistic effect of an acknowledged or
// rejected write. AffectedTree marks every path the write touched; Revert
// is set when the server rejected it.
type AckUserWrite struct {
	path         tree.Path
	AffectedTree *tree.ImmutableTree[bool]
	Revert       bool
}

// NewAckUserWrite returns an acknowledgement operation.
func NewAckUserWrite(path tree.Path, affected *tree.ImmutableTree[bool], revert bool) *AckUserWrite {
	return &AckUserWrite{path: path, AffectedTree: affected, Revert: revert}
}

func (a *AckUserWrite) Source() Source { return UserSource }
func (a *AckUserWrite) Path() tree.Path { return a.path }
func (a *AckUserWrite) isOperation() {}

func (a *AckUserWrite) ForChild(key string) Operation {
	if !a.path.IsEmpty() {
		if a.path.Front() != key {
			panic("operation: ack ForChild called with a key off the operation path")
		}
		return NewAckUserWrite(a.path.PopFront(), a.AffectedTree, a.Revert)
	}
	if a.AffectedTree.HasValue() {
		if !a.AffectedTree.Children().IsEmpty() {
			panic("operation: affected tree with a root value must not have children")
		}
		return a
	}
	return NewAckUserWrite(tree.Root(), a.AffectedTree.Subtree(tree.NewPath(key)), a.Revert)
}

func (a *AckUserWrite) String() string {
	return fmt.Sprintf("AckUserWrite{path=%s revert=%t}", a.path, a.Revert)
}

// ListenComplete marks the server data at Path as complete.
type ListenComplete struct {
	source Source
	path   tree.Path
}

// NewListenComplete returns a listen completion.
func NewListenComplete(source Source, path tree.Path) *ListenComplete {
	return &ListenComplete{source: source, path: path}
}

func (l *ListenComplete) Source() Source { return l.source }
func (l *ListenComplete) Path() tree.Path { return l.path }
func (l *ListenComplete) isOperation() {}

func (l *ListenComplete) ForChild(string) Operation {
	if l.path.IsEmpty() {
		return NewListenComplete(l.source, tree.Root())
	}
	return NewListenComplete(l.source, l.path.PopFront())
}

func (l *ListenComplete) String() string {
	return fmt.Sprintf("ListenComplete{path=%s source=%s}", l.path, l.source)
}
