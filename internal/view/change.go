// Package view materializes one query: a ViewCache of event and server
// data, the filters that bound it, the processor that applies operations
// to it, and the events generated for its registrations.
package view

import (
	"fmt"

	"github.com/roach88/treesync/internal/node"
)

// EventType enumerates change and event kinds. The declaration order is
// the order in which a batch of events is raised.
type EventType int

const (
	ChildRemoved EventType = iota
	ChildAdded
	ChildChanged
	ChildMoved
	Value
	Cancel
)

var eventTypeNames = [...]string{
	ChildRemoved: "child_removed",
	ChildAdded:   "child_added",
	ChildChanged: "child_changed",
	ChildMoved:   "child_moved",
	Value:        "value",
	Cancel:       "cancel",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, bool) {
	for i, name := range eventTypeNames {
		if name == s {
			return EventType(i), true
		}
	}
	return 0, false
}

// Change is one difference between two event caches.
type Change struct {
	Type EventType

	// Snap is the new child, or the whole event cache for Value.
	Snap node.Node
	// ChildName is empty for Value changes.
	ChildName string
	// OldSnap is set for ChildChanged and ChildRemoved.
	OldSnap node.Node
	// PrevName is filled in when the change is materialized into an event.
	PrevName string
	HasPrev  bool
}

// ValueChange reports the complete event cache.
func ValueChange(snap node.Node) Change {
	return Change{Type: Value, Snap: snap}
}

// ChildAddedChange reports a child entering the view.
func ChildAddedChange(name string, snap node.Node) Change {
	return Change{Type: ChildAdded, ChildName: name, Snap: snap}
}

// ChildRemovedChange reports a child leaving the view.
func ChildRemovedChange(name string, old node.Node) Change {
	return Change{Type: ChildRemoved, ChildName: name, Snap: old}
}

// ChildChangedChange reports a child whose data changed.
func ChildChangedChange(name string, snap, old node.Node) Change {
	return Change{Type: ChildChanged, ChildName: name, Snap: snap, OldSnap: old}
}

// ChildMovedChange reports a child whose position changed.
func ChildMovedChange(name string, snap node.Node) Change {
	return Change{Type: ChildMoved, ChildName: name, Snap: snap}
}

func (c Change) String() string {
	if c.Type == Value {
		return c.Type.String()
	}
	return c.Type.String() + "(" + c.ChildName + ")"
}

// ChildChangeAccumulator collapses the child changes made while one
// operation is processed into at most one change per child.
type ChildChangeAccumulator struct {
	order   []string
	changes map[string]Change
}

// NewChildChangeAccumulator returns an empty accumulator.
func NewChildChangeAccumulator() *ChildChangeAccumulator {
	return &ChildChangeAccumulator{changes: map[string]Change{}}
}

// Track records c, combining it with an earlier change to the same child.
// It panics on combinations that cannot arise from a consistent cache.
func (a *ChildChangeAccumulator) Track(c Change) {
	if c.Type != ChildAdded && c.Type != ChildChanged && c.Type != ChildRemoved {
		panic("view: only child changes can be tracked")
	}
	if c.ChildName == "" {
		panic("view: tracked change needs a child name")
	}
	old, ok := a.changes[c.ChildName]
	if !ok {
		a.order = append(a.order, c.ChildName)
		a.changes[c.ChildName] = c
		return
	}
	name := c.ChildName
	switch {
	case c.Type == ChildAdded && old.Type == ChildRemoved:
		a.changes[name] = ChildChangedChange(name, c.Snap, old.Snap)
	case c.Type == ChildRemoved && old.Type == ChildAdded:
		delete(a.changes, name)
	case c.Type == ChildRemoved && old.Type == ChildChanged:
		a.changes[name] = ChildRemovedChange(name, old.OldSnap)
	case c.Type == ChildChanged && old.Type == ChildAdded:
		a.changes[name] = ChildAddedChange(name, c.Snap)
	case c.Type == ChildChanged && old.Type == ChildChanged:
		a.changes[name] = ChildChangedChange(name, c.Snap, old.OldSnap)
	default:
		panic(fmt.Sprintf("view: illegal combination of changes %s and %s", c, old))
	}
}

// Changes returns the collapsed changes in the order children were first
// touched.
func (a *ChildChangeAccumulator) Changes() []Change {
	out := make([]Change, 0, len(a.changes))
	seen := make(map[string]bool, len(a.changes))
	for _, name := range a.order {
		if c, ok := a.changes[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, c)
		}
	}
	return out
}
