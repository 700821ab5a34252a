package view

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/tree"
)

// DataSnapshot is an immutable view of the data at a location, with its
// children in the query's order.
type DataSnapshot struct {
	path    tree.Path
	indexed *node.IndexedNode
}

// NewDataSnapshot returns a snapshot of n at path.
func NewDataSnapshot(path tree.Path, n node.Node, index node.Index) DataSnapshot {
	return DataSnapshot{path: path, indexed: node.NewIndexedNode(n, index)}
}

// Path returns the snapshot location.
func (s DataSnapshot) Path() tree.Path { return s.path }

// Key returns the last path segment, "" at the root.
func (s DataSnapshot) Key() string { return s.path.Back() }

// Node returns the snapshot data.
func (s DataSnapshot) Node() node.Node {
	if s.indexed == nil {
		return node.Empty
	}
	return s.indexed.Node()
}

// Exists reports whether the location holds data.
func (s DataSnapshot) Exists() bool { return !s.Node().IsEmpty() }

// Val returns the data as plain Go values.
func (s DataSnapshot) Val() any { return s.Node().Value(false) }

// ExportVal returns the data including priorities.
func (s DataSnapshot) ExportVal() any { return s.Node().Value(true) }

// Priority returns the priority as a plain value.
func (s DataSnapshot) Priority() any { return s.Node().Priority().Value(false) }

// NumChildren returns the number of children.
func (s DataSnapshot) NumChildren() int { return s.Node().NumChildren() }

// Child returns the snapshot of the data at the relative path p.
func (s DataSnapshot) Child(p string) DataSnapshot {
	rel := tree.ParsePath(p)
	return DataSnapshot{
		path:    s.path.ChildPath(rel),
		indexed: node.NewIndexedNode(s.Node().Child(rel), node.PriorityIndex),
	}
}

// ForEach visits children in query order until fn returns true.
func (s DataSnapshot) ForEach(fn func(child DataSnapshot) bool) bool {
	if s.indexed == nil {
		return false
	}
	return s.indexed.ForEach(false, func(nn node.NamedNode) bool {
		return fn(DataSnapshot{
			path:    s.path.Child(nn.Name),
			indexed: node.NewIndexedNode(nn.Node, node.PriorityIndex),
		})
	})
}

// Event is delivered to a registration. Cancel events carry Err and no
// snapshot.
type Event struct {
	Type         EventType
	Registration EventRegistration
	Snapshot     DataSnapshot

	// PrevName is the key of the preceding sibling in query order, set
	// for child_added, child_changed and child_moved when HasPrev is true.
	PrevName string
	HasPrev  bool

	Err  error
	Path tree.Path

	// Query is the key of the query whose view produced the event.
	Query string
}

func (e Event) String() string {
	switch e.Type {
	case Cancel:
		return fmt.Sprintf("cancel %s: %v", e.Path, e.Err)
	case Value:
		return fmt.Sprintf("value %s", e.Snapshot.Path())
	default:
		if e.HasPrev {
			return fmt.Sprintf("%s %s prev=%s", e.Type, e.Snapshot.Path(), e.PrevName)
		}
		return fmt.Sprintf("%s %s", e.Type, e.Snapshot.Path())
	}
}

// EventRegistration receives the events of one listener. Registrations
// are identified by ID; removing a registration removes every
// registration with the same ID.
type EventRegistration interface {
	ID() string
	RespondsTo(t EventType) bool
	Deliver(ev Event)
}

// CallbackRegistration delivers events of selected types to a function.
type CallbackRegistration struct {
	id    string
	types map[EventType]bool
	fn    func(Event)
}

// NewCallbackRegistration returns a registration for the given event
// types. Cancel events are always delivered.
func NewCallbackRegistration(fn func(Event), types ...EventType) *CallbackRegistration {
	set := make(map[EventType]bool, len(types)+1)
	for _, t := range types {
		set[t] = true
	}
	set[Cancel] = true
	return &CallbackRegistration{id: uuid.NewString(), types: set, fn: fn}
}

func (r *CallbackRegistration) ID() string { return r.id }
func (r *CallbackRegistration) RespondsTo(t EventType) bool { return r.types[t] }

func (r *CallbackRegistration) Deliver(ev Event) {
	if r.fn != nil {
		r.fn(ev)
	}
}

// EventGenerator turns changes into ordered events for registrations.
type EventGenerator struct {
	query query.Spec
	key   string
	index node.Index
}

// NewEventGenerator returns a generator for q.
func NewEventGenerator(q query.Spec) *EventGenerator {
	return &EventGenerator{query: q, key: q.Key(), index: q.Params.Index()}
}

// GenerateEventsForChanges returns the events for changes, grouped by
// type in EventType order and sorted by index within each type. A
// child_changed that moves the child also produces a child_moved.
func (g *EventGenerator) GenerateEventsForChanges(changes []Change, eventCache *node.IndexedNode, registrations []EventRegistration) []Event {
	var moves []Change
	for _, c := range changes {
		if c.Type == ChildChanged && g.index.IndexedValueChanged(c.OldSnap, c.Snap) {
			moves = append(moves, ChildMovedChange(c.ChildName, c.Snap))
		}
	}
	var events []Event
	for _, t := range []EventType{ChildRemoved, ChildAdded, ChildChanged} {
		events = g.generateEventsForType(events, t, changes, eventCache, registrations)
	}
	events = g.generateEventsForType(events, ChildMoved, moves, eventCache, registrations)
	events = g.generateEventsForType(events, Value, changes, eventCache, registrations)
	return events
}

func (g *EventGenerator) generateEventsForType(events []Event, t EventType, changes []Change,
	eventCache *node.IndexedNode, registrations []EventRegistration) []Event {
	var filtered []Change
	for _, c := range changes {
		if c.Type == t {
			filtered = append(filtered, c)
		}
	}
	slices.SortStableFunc(filtered, func(a, b Change) int {
		if a.ChildName == "" || b.ChildName == "" {
			return 0
		}
		return g.index.Compare(
			node.NamedNode{Name: a.ChildName, Node: a.Snap},
			node.NamedNode{Name: b.ChildName, Node: b.Snap})
	})
	for _, c := range filtered {
		c = g.materialize(c, eventCache)
		for _, reg := range registrations {
			if reg.RespondsTo(t) {
				events = append(events, g.createEvent(c, reg))
			}
		}
	}
	return events
}

func (g *EventGenerator) materialize(c Change, eventCache *node.IndexedNode) Change {
	if c.Type == Value || c.Type == ChildRemoved {
		return c
	}
	c.PrevName, c.HasPrev = eventCache.PredecessorChildName(c.ChildName, c.Snap)
	return c
}

func (g *EventGenerator) createEvent(c Change, reg EventRegistration) Event {
	path := g.query.Path
	if c.Type != Value {
		path = path.Child(c.ChildName)
	}
	return Event{
		Type:         c.Type,
		Registration: reg,
		Snapshot:     NewDataSnapshot(path, c.Snap, g.index),
		PrevName:     c.PrevName,
		HasPrev:      c.HasPrev,
		Path:         path,
		Query:        g.key,
	}
}

// CancelEvent returns the cancel event for reg listening to q.
func CancelEvent(reg EventRegistration, err error, q query.Spec) Event {
	return Event{Type: Cancel, Registration: reg, Err: err, Path: q.Path, Query: q.Key()}
}
