package synctree

import (
	"sort"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/operation"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/view"
	"github.com/roach88/treesync/internal/write"
)

// SyncPoint holds the views of every query active at one path, keyed by
// query identifier.
type SyncPoint struct {
	views map[string]*view.View
}

// NewSyncPoint returns an empty sync point.
func NewSyncPoint() *SyncPoint {
	return &SyncPoint{views: map[string]*view.View{}}
}

// IsEmpty reports whether the sync point has no views.
func (sp *SyncPoint) IsEmpty() bool { return len(sp.views) == 0 }

// Views returns the views ordered by query identifier.
func (sp *SyncPoint) Views() []*view.View {
	ids := make([]string, 0, len(sp.views))
	for id := range sp.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*view.View, 0, len(ids))
	for _, id := range ids {
		out = append(out, sp.views[id])
	}
	return out
}

// ApplyOperation applies op to the targeted view of a tagged operation,
// or to every view otherwise.
func (sp *SyncPoint) ApplyOperation(op operation.Operation, writes *write.Ref, completeServerCache node.Node) []view.Event {
	src := op.Source()
	if src.Tagged {
		v, ok := sp.views[src.QueryID]
		if !ok {
			panic("synctree: tagged operation for a query without a view: " + src.QueryID)
		}
		return v.ApplyOperation(op, writes, completeServerCache)
	}
	var events []view.Event
	for _, v := range sp.Views() {
		events = append(events, v.ApplyOperation(op, writes, completeServerCache)...)
	}
	return events
}

// View returns the existing view for q, or a new unregistered view seeded
// from the writes and the given server cache.
func (sp *SyncPoint) View(q query.Spec, writes *write.Ref, serverCache node.Node, serverCacheComplete bool) *view.View {
	if v, ok := sp.views[q.Identifier()]; ok {
		return v
	}
	var completeServer node.Node
	if serverCacheComplete {
		completeServer = serverCache
	}
	eventCache := writes.CalcCompleteEventCache(completeServer)
	eventCacheComplete := eventCache != nil
	if !eventCacheComplete {
		eventCache = writes.CalcCompleteEventChildren(serverCache)
	}
	index := q.Params.Index()
	return view.New(q, view.NewViewCache(
		view.NewCacheNode(node.NewIndexedNode(eventCache, index), eventCacheComplete, false),
		view.NewCacheNode(node.NewIndexedNode(serverCache, index), serverCacheComplete, false),
	))
}

// AddEventRegistration registers reg on q's view, creating the view when
// needed, and returns the events that bring reg up to date.
func (sp *SyncPoint) AddEventRegistration(q query.Spec, reg view.EventRegistration, writes *write.Ref,
	serverCache node.Node, serverCacheComplete bool) []view.Event {
	v := sp.View(q, writes, serverCache, serverCacheComplete)
	if _, ok := sp.views[q.Identifier()]; !ok {
		sp.views[q.Identifier()] = v
	}
	v.AddEventRegistration(reg)
	return v.InitialEvents(reg)
}

// RemoveEventRegistration removes reg (every registration when nil) from
// q's view, or from every view when q is the default query. It returns
// the filtered queries whose views were removed and any cancel events.
// When the last complete view goes away the default query is reported
// as removed as well.
func (sp *SyncPoint) RemoveEventRegistration(q query.Spec, reg view.EventRegistration, cancelErr error) ([]query.Spec, []view.Event) {
	var removed []query.Spec
	var events []view.Event
	hadCompleteView := sp.HasCompleteView()

	remove := func(id string, v *view.View) {
		events = append(events, v.RemoveEventRegistration(reg, cancelErr)...)
		if v.IsEmpty() {
			delete(sp.views, id)
			if !v.Query().LoadsAllData() {
				removed = append(removed, v.Query())
			}
		}
	}
	if q.IsDefault() {
		for _, v := range sp.Views() {
			remove(v.Query().Identifier(), v)
		}
	} else if v, ok := sp.views[q.Identifier()]; ok {
		remove(q.Identifier(), v)
	}

	if hadCompleteView && !sp.HasCompleteView() {
		removed = append(removed, query.DefaultSpec(q.Path))
	}
	return removed, events
}

// QueryViews returns the views of filtered queries.
func (sp *SyncPoint) QueryViews() []*view.View {
	var out []*view.View
	for _, v := range sp.Views() {
		if !v.Query().LoadsAllData() {
			out = append(out, v)
		}
	}
	return out
}

// CompleteServerCache returns server data at the relative path p from any
// view that knows it.
func (sp *SyncPoint) CompleteServerCache(p tree.Path) node.Node {
	for _, v := range sp.Views() {
		if c := v.CompleteServerCache(p); c != nil {
			return c
		}
	}
	return nil
}

// ViewForQuery returns the view serving q. Queries that load all data are
// served by any complete view.
func (sp *SyncPoint) ViewForQuery(q query.Spec) *view.View {
	if q.LoadsAllData() {
		return sp.CompleteView()
	}
	return sp.views[q.Identifier()]
}

// ViewExistsForQuery reports whether a view serves q.
func (sp *SyncPoint) ViewExistsForQuery(q query.Spec) bool {
	return sp.ViewForQuery(q) != nil
}

// HasCompleteView reports whether a view loads all data at the path.
func (sp *SyncPoint) HasCompleteView() bool {
	return sp.CompleteView() != nil
}

// CompleteView returns a view that loads all data, or nil.
func (sp *SyncPoint) CompleteView() *view.View {
	for _, v := range sp.Views() {
		if v.Query().LoadsAllData() {
			return v
		}
	}
	return nil
}
