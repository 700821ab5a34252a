package view

import (
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/operation"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/write"
)

// View is the materialized state of one query together with the
// registrations listening to it.
type View struct {
	query         query.Spec
	processor     *Processor
	viewCache     ViewCache
	registrations []EventRegistration
	generator     *EventGenerator
}

// New returns a view for q seeded with initial. The initial caches are
// re-filtered for q, so a complete cache from another view can be used.
func New(q query.Spec, initial ViewCache) *View {
	index := q.Params.Index()
	indexFilter := NewIndexedFilter(index)
	filter := FilterForParams(q.Params)
	empty := node.NewIndexedNode(node.Empty, index)

	serverCache := indexFilter.UpdateFullNode(empty, initial.serverCache.Indexed(), nil)
	eventCache := filter.UpdateFullNode(empty, initial.eventCache.Indexed(), nil)

	return &View{
		query:     q,
		processor: NewProcessor(filter),
		viewCache: NewViewCache(
			NewCacheNode(eventCache, initial.eventCache.IsFullyInitialized(), filter.FiltersNodes()),
			NewCacheNode(serverCache, initial.serverCache.IsFullyInitialized(), indexFilter.FiltersNodes()),
		),
		generator: NewEventGenerator(q),
	}
}

// Query returns the view's query.
func (v *View) Query() query.Spec { return v.query }

// Cache returns the current view cache.
func (v *View) Cache() ViewCache { return v.viewCache }

// ServerCache returns the server cache node.
func (v *View) ServerCache() node.Node { return v.viewCache.serverCache.Node() }

// EventCache returns the event cache node.
func (v *View) EventCache() node.Node { return v.viewCache.eventCache.Node() }

// CompleteServerCache returns the server data at the relative path p when
// the view knows it, or nil.
func (v *View) CompleteServerCache(p tree.Path) node.Node {
	cache := v.viewCache.CompleteServerSnap()
	if cache == nil {
		return nil
	}
	if v.query.LoadsAllData() || (!p.IsEmpty() && !cache.ImmediateChild(p.Front()).IsEmpty()) {
		return cache.Child(p)
	}
	return nil
}

// IsEmpty reports whether no registration listens to the view.
func (v *View) IsEmpty() bool { return len(v.registrations) == 0 }

// Registrations returns the registered listeners.
func (v *View) Registrations() []EventRegistration { return v.registrations }

// HasRegistration reports whether a registration with reg's ID exists.
func (v *View) HasRegistration(reg EventRegistration) bool {
	for _, r := range v.registrations {
		if r.ID() == reg.ID() {
			return true
		}
	}
	return false
}

// AddEventRegistration adds reg.
func (v *View) AddEventRegistration(reg EventRegistration) {
	v.registrations = append(v.registrations, reg)
}

// RemoveEventRegistration removes reg, or every registration when reg is
// nil. With a non-nil cancelErr every registration is removed and the
// returned cancel events are addressed to them.
func (v *View) RemoveEventRegistration(reg EventRegistration, cancelErr error) []Event {
	var cancelEvents []Event
	if cancelErr != nil {
		if reg != nil {
			panic("view: a cancel removes every registration")
		}
		for _, r := range v.registrations {
			if r.RespondsTo(Cancel) {
				cancelEvents = append(cancelEvents, CancelEvent(r, cancelErr, v.query))
			}
		}
	}
	if reg == nil {
		v.registrations = nil
		return cancelEvents
	}
	remaining := v.registrations[:0:0]
	for _, r := range v.registrations {
		if r.ID() != reg.ID() {
			remaining = append(remaining, r)
		}
	}
	v.registrations = remaining
	return cancelEvents
}

// ApplyOperation applies op and returns the events for all
// registrations.
func (v *View) ApplyOperation(op operation.Operation, writes *write.Ref, completeServerCache node.Node) []Event {
	old := v.viewCache
	result := v.processor.ApplyOperation(old, op, writes, completeServerCache)
	if old.serverCache.IsFullyInitialized() && !result.ViewCache.serverCache.IsFullyInitialized() {
		panic("view: a complete server cache cannot become incomplete")
	}
	v.viewCache = result.ViewCache
	return v.generateEventsForChanges(result.Changes, result.ViewCache.eventCache.Indexed(), nil)
}

// InitialEvents returns the events that bring a new registration up to
// date: a child_added per child and, once complete, a value event.
func (v *View) InitialEvents(reg EventRegistration) []Event {
	eventSnap := v.viewCache.eventCache
	var changes []Change
	if !eventSnap.Node().IsLeaf() {
		eventSnap.Node().ForEachChild(func(key string, child node.Node) bool {
			changes = append(changes, ChildAddedChange(key, child))
			return false
		})
	}
	if eventSnap.IsFullyInitialized() {
		changes = append(changes, ValueChange(eventSnap.Node()))
	}
	return v.generateEventsForChanges(changes, eventSnap.Indexed(), reg)
}

func (v *View) generateEventsForChanges(changes []Change, eventCache *node.IndexedNode, reg EventRegistration) []Event {
	registrations := v.registrations
	if reg != nil {
		registrations = []EventRegistration{reg}
	}
	return v.generator.GenerateEventsForChanges(changes, eventCache, registrations)
}
