// Package synctree routes operations to the views of every active query.
// A SyncTree owns the pending write tree and a tree of sync points keyed
// by path; all methods must be called from a single goroutine.
package synctree

import (
	"errors"
	"fmt"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/operation"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/view"
	"github.com/roach88/treesync/internal/write"
)

// StatusOK is the listen completion status of a successful listen.
const StatusOK = "ok"

// ListenProvider starts and stops server listens. Tag is 0 for queries
// that listen as the default query at their path. onComplete must be
// invoked on the goroutine that owns the SyncTree.
type ListenProvider interface {
	StartListening(q query.Spec, tag int64, hash func() string, onComplete func(status string) []view.Event) []view.Event
	StopListening(q query.Spec, tag int64)
}

// Persistence supplies cached server data when a view is created.
type Persistence interface {
	// ServerCache returns the cached node at path and whether it is the
	// complete server data there. It returns nil when nothing is cached.
	ServerCache(path tree.Path) (node.Node, bool)
}

// ListenError reports a listen the server refused. It is delivered to
// every registration of the query in a cancel event.
type ListenError struct {
	Code  string
	Query query.Spec
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("listen at %s failed: %s", e.Query.Path, e.Code)
}

// IsListenError reports whether err is, or wraps, a ListenError.
func IsListenError(err error) bool {
	var le *ListenError
	return errors.As(err, &le)
}

// Option configures a SyncTree.
type Option func(*SyncTree)

// WithPersistence seeds new views from p.
func WithPersistence(p Persistence) Option {
	return func(st *SyncTree) { st.persistence = p }
}

// WithHashVersion selects the hash sent with listens. Default: V2.
func WithHashVersion(v node.HashVersion) Option {
	return func(st *SyncTree) { st.hashVersion = v }
}

// SyncTree applies user writes and server operations to sync points.
type SyncTree struct {
	root        *tree.ImmutableTree[*SyncPoint]
	writes      *write.Tree
	provider    ListenProvider
	persistence Persistence
	hashVersion node.HashVersion

	nextTag    int64
	tagToQuery map[int64]query.Spec
	queryToTag map[string]int64
}

// New returns an empty sync tree that listens through provider.
func New(provider ListenProvider, opts ...Option) *SyncTree {
	st := &SyncTree{
		root:        tree.NewImmutableTree[*SyncPoint](),
		writes:      write.NewTree(),
		provider:    provider,
		hashVersion: node.HashVersionV2,
		nextTag:     1,
		tagToQuery:  map[int64]query.Spec{},
		queryToTag:  map[string]int64{},
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// WriteTree returns the pending write tree.
func (st *SyncTree) WriteTree() *write.Tree { return st.writes }

// SyncPoint returns the sync point at path, or nil.
func (st *SyncTree) SyncPoint(path tree.Path) *SyncPoint {
	sp, _ := st.root.Get(path)
	return sp
}

// TagForQuery returns the tag of a filtered query with a view.
func (st *SyncTree) TagForQuery(q query.Spec) (int64, bool) {
	tag, ok := st.queryToTag[q.Key()]
	return tag, ok
}

// QueryForTag returns the query registered under tag.
func (st *SyncTree) QueryForTag(tag int64) (query.Spec, bool) {
	q, ok := st.tagToQuery[tag]
	return q, ok
}

// ApplyUserOverwrite records an optimistic overwrite and applies it to
// affected views. Hidden writes only affect CalcCompleteEventCache.
func (st *SyncTree) ApplyUserOverwrite(path tree.Path, data node.Node, writeID int64, visible bool) []view.Event {
	st.writes.AddOverwrite(path, data, writeID, visible)
	if !visible {
		return nil
	}
	return st.applyOperationToSyncPoints(operation.NewOverwrite(operation.UserSource, path, data))
}

// ApplyUserMerge records an optimistic merge and applies it.
func (st *SyncTree) ApplyUserMerge(path tree.Path, changed write.CompoundWrite, writeID int64) []view.Event {
	st.writes.AddMerge(path, changed, writeID)
	return st.applyOperationToSyncPoints(operation.NewMerge(operation.UserSource, path, changed))
}

// AckUserWrite removes a pending write once the server accepted it, or
// reverts it when revert is set.
func (st *SyncTree) AckUserWrite(writeID int64, revert bool) []view.Event {
	rec, ok := st.writes.Write(writeID)
	if !ok {
		panic(fmt.Sprintf("synctree: ack for unknown write %d", writeID))
	}
	if !st.writes.RemoveWrite(writeID) {
		return nil
	}
	affected := tree.NewImmutableTree[bool]()
	if rec.IsOverwrite() {
		affected = affected.Set(tree.Root(), true)
	} else {
		for _, p := range rec.MergePaths() {
			affected = affected.Set(p, true)
		}
	}
	return st.applyOperationToSyncPoints(operation.NewAckUserWrite(rec.Path, affected, revert))
}

// RemoveAllWrites reverts every pending write and returns the removed
// records with the resulting events.
func (st *SyncTree) RemoveAllWrites() ([]write.Record, []view.Event) {
	purged := st.writes.PurgeAllWrites()
	if len(purged) == 0 {
		return nil, nil
	}
	op := operation.NewAckUserWrite(tree.Root(), tree.NewImmutableTreeWithValue(true), true)
	return purged, st.applyOperationToSyncPoints(op)
}

// ApplyServerOverwrite applies server data at path.
func (st *SyncTree) ApplyServerOverwrite(path tree.Path, data node.Node) []view.Event {
	return st.applyOperationToSyncPoints(operation.NewOverwrite(operation.ServerSource, path, data))
}

// ApplyServerMerge applies a server update of several children of path.
func (st *SyncTree) ApplyServerMerge(path tree.Path, changed write.CompoundWrite) []view.Event {
	return st.applyOperationToSyncPoints(operation.NewMerge(operation.ServerSource, path, changed))
}

// ApplyListenComplete marks the server data at path as complete.
func (st *SyncTree) ApplyListenComplete(path tree.Path) []view.Event {
	return st.applyOperationToSyncPoints(operation.NewListenComplete(operation.ServerSource, path))
}

// ApplyTaggedQueryOverwrite applies server data for the query with tag.
// Unknown tags are ignored: the query may have been removed while the
// data was in flight.
func (st *SyncTree) ApplyTaggedQueryOverwrite(path tree.Path, data node.Node, tag int64) []view.Event {
	q, ok := st.tagToQuery[tag]
	if !ok {
		return nil
	}
	rel := tree.RelativePath(q.Path, path)
	return st.applyTaggedOperation(q.Path, operation.NewOverwrite(operation.TaggedServerSource(q.Identifier()), rel, data))
}

// ApplyTaggedQueryMerge applies a server merge for the query with tag.
func (st *SyncTree) ApplyTaggedQueryMerge(path tree.Path, changed write.CompoundWrite, tag int64) []view.Event {
	q, ok := st.tagToQuery[tag]
	if !ok {
		return nil
	}
	rel := tree.RelativePath(q.Path, path)
	return st.applyTaggedOperation(q.Path, operation.NewMerge(operation.TaggedServerSource(q.Identifier()), rel, changed))
}

// ApplyTaggedListenComplete marks the data of the query with tag as
// complete.
func (st *SyncTree) ApplyTaggedListenComplete(path tree.Path, tag int64) []view.Event {
	q, ok := st.tagToQuery[tag]
	if !ok {
		return nil
	}
	rel := tree.RelativePath(q.Path, path)
	return st.applyTaggedOperation(q.Path, operation.NewListenComplete(operation.TaggedServerSource(q.Identifier()), rel))
}

func (st *SyncTree) applyTaggedOperation(queryPath tree.Path, op operation.Operation) []view.Event {
	sp, ok := st.root.Get(queryPath)
	if !ok {
		panic("synctree: tagged operation for an untracked path " + queryPath.String())
	}
	return sp.ApplyOperation(op, st.writes.ChildWrites(queryPath), nil)
}

func (st *SyncTree) applyOperationToSyncPoints(op operation.Operation) []view.Event {
	return st.applyOperationHelper(op, st.root, nil, st.writes.ChildWrites(tree.Root()))
}

// applyOperationHelper walks down the operation path, then applies the
// operation to the whole subtree below it. Sync points on the way apply it
// after their descendants.
func (st *SyncTree) applyOperationHelper(op operation.Operation, spTree *tree.ImmutableTree[*SyncPoint],
	serverCache node.Node, writes *write.Ref) []view.Event {
	if op.Path().IsEmpty() {
		return st.applyOperationDescendantsHelper(op, spTree, serverCache, writes)
	}
	sp, hasSP := spTree.Value()
	if serverCache == nil && hasSP {
		serverCache = sp.CompleteServerCache(tree.Root())
	}
	var events []view.Event
	childName := op.Path().Front()
	childOp := op.ForChild(childName)
	if childTree, ok := spTree.Children().Get(childName); ok && childOp != nil {
		events = st.applyOperationHelper(childOp, childTree, childOf(serverCache, childName), writes.Child(childName))
	}
	if hasSP {
		events = append(events, sp.ApplyOperation(op, writes, serverCache)...)
	}
	return events
}

func (st *SyncTree) applyOperationDescendantsHelper(op operation.Operation, spTree *tree.ImmutableTree[*SyncPoint],
	serverCache node.Node, writes *write.Ref) []view.Event {
	sp, hasSP := spTree.Value()
	if serverCache == nil && hasSP {
		serverCache = sp.CompleteServerCache(tree.Root())
	}
	var events []view.Event
	spTree.Children().Ascend(func(childName string, childTree *tree.ImmutableTree[*SyncPoint]) bool {
		if childOp := op.ForChild(childName); childOp != nil {
			events = append(events, st.applyOperationDescendantsHelper(childOp, childTree,
				childOf(serverCache, childName), writes.Child(childName))...)
		}
		return false
	})
	if hasSP {
		events = append(events, sp.ApplyOperation(op, writes, serverCache)...)
	}
	return events
}

func childOf(n node.Node, key string) node.Node {
	if n == nil {
		return nil
	}
	return n.ImmediateChild(key)
}

// AddEventRegistration registers reg for q and returns its initial
// events. A new view starts a listen unless an ancestor already listens
// to all data.
func (st *SyncTree) AddEventRegistration(q query.Spec, reg view.EventRegistration) []view.Event {
	path := q.Path
	var serverCache node.Node
	foundAncestorDefaultView := false
	st.root.ForeachOnPath(path, func(spPath tree.Path, sp *SyncPoint) {
		if serverCache == nil {
			serverCache = sp.CompleteServerCache(tree.RelativePath(spPath, path))
		}
		foundAncestorDefaultView = foundAncestorDefaultView || sp.HasCompleteView()
	})

	sp, ok := st.root.Get(path)
	if !ok {
		sp = NewSyncPoint()
		st.root = st.root.Set(path, sp)
	}

	serverCacheComplete := serverCache != nil
	if !serverCacheComplete {
		serverCache = node.Empty
		if st.persistence != nil {
			if cached, complete := st.persistence.ServerCache(path); cached != nil {
				serverCache, serverCacheComplete = cached, complete
			}
		}
	}
	if !serverCacheComplete {
		// Complete children from descendant sync points seed the cache.
		st.root.Subtree(path).Children().Ascend(func(childName string, child *tree.ImmutableTree[*SyncPoint]) bool {
			if csp, ok := child.Value(); ok {
				if complete := csp.CompleteServerCache(tree.Root()); complete != nil {
					serverCache = serverCache.UpdateImmediateChild(childName, complete)
				}
			}
			return false
		})
	}

	viewExists := sp.ViewExistsForQuery(q)
	if !viewExists && !q.LoadsAllData() {
		key := q.Key()
		if _, dup := st.queryToTag[key]; dup {
			panic("synctree: query " + key + " already has a tag")
		}
		tag := st.nextTag
		st.nextTag++
		st.queryToTag[key] = tag
		st.tagToQuery[tag] = q
	}

	events := sp.AddEventRegistration(q, reg, st.writes.ChildWrites(path), serverCache, serverCacheComplete)
	if !viewExists && !foundAncestorDefaultView {
		events = append(events, st.setupListener(q, sp.ViewForQuery(q))...)
	}
	return events
}

// RemoveEventRegistration removes reg (every registration when nil) from
// q. With cancelErr set the registrations receive cancel events and the
// server listen is not stopped, since the server already dropped it.
func (st *SyncTree) RemoveEventRegistration(q query.Spec, reg view.EventRegistration, cancelErr error) []view.Event {
	path := q.Path
	sp, ok := st.root.Get(path)
	if !ok || !(q.IsDefault() || sp.ViewExistsForQuery(q)) {
		return nil
	}
	removed, events := sp.RemoveEventRegistration(q, reg, cancelErr)
	if sp.IsEmpty() {
		st.root = st.root.Remove(path)
	}

	removingDefault := false
	for _, r := range removed {
		if r.LoadsAllData() {
			removingDefault = true
			break
		}
	}
	_, covered := tree.FindOnPath(st.root, path, func(_ tree.Path, parent *SyncPoint) (bool, bool) {
		return true, parent.HasCompleteView()
	})

	if removingDefault && !covered {
		// Descendant listens were shadowed by the removed default listen.
		// Their views already hold the data, so the events a restarted
		// listen raises are dropped.
		subtree := st.root.Subtree(path)
		if !subtree.IsEmpty() {
			for _, v := range collectDistinctViews(subtree) {
				st.startListening(v.Query(), v)
			}
		}
	}
	if !covered && len(removed) > 0 && cancelErr == nil {
		if removingDefault {
			st.provider.StopListening(queryForListening(q), 0)
		} else {
			for _, r := range removed {
				tag := st.queryToTag[r.Key()]
				st.provider.StopListening(queryForListening(r), tag)
			}
		}
	}
	st.removeTags(removed)
	return events
}

func (st *SyncTree) removeTags(queries []query.Spec) {
	for _, q := range queries {
		if q.LoadsAllData() {
			continue
		}
		key := q.Key()
		if tag, ok := st.queryToTag[key]; ok {
			delete(st.queryToTag, key)
			delete(st.tagToQuery, tag)
		}
	}
}

// collectDistinctViews returns the views that need their own listen in
// subtree: a complete view shadows everything below it.
func collectDistinctViews(subtree *tree.ImmutableTree[*SyncPoint]) []*view.View {
	return tree.Fold(subtree, func(_ tree.Path, sp *SyncPoint, hasSP bool, children [][]*view.View) []*view.View {
		if hasSP && sp.HasCompleteView() {
			return []*view.View{sp.CompleteView()}
		}
		var out []*view.View
		if hasSP {
			out = append(out, sp.QueryViews()...)
		}
		for _, c := range children {
			out = append(out, c...)
		}
		return out
	})
}

func queryForListening(q query.Spec) query.Spec {
	if q.LoadsAllData() && !q.IsDefault() {
		return q.Default()
	}
	return q
}

func (st *SyncTree) startListening(q query.Spec, v *view.View) []view.Event {
	tag := st.queryToTag[q.Key()]
	hash := func() string { return node.HashOf(v.ServerCache(), st.hashVersion) }
	onComplete := func(status string) []view.Event {
		if status == StatusOK {
			if tag != 0 {
				return st.ApplyTaggedListenComplete(q.Path, tag)
			}
			return st.ApplyListenComplete(q.Path)
		}
		return st.RemoveEventRegistration(q, nil, &ListenError{Code: status, Query: q})
	}
	return st.provider.StartListening(queryForListening(q), tag, hash, onComplete)
}

func (st *SyncTree) setupListener(q query.Spec, v *view.View) []view.Event {
	events := st.startListening(q, v)
	if _, tagged := st.queryToTag[q.Key()]; tagged {
		return events
	}
	// A default listen shadows every listen below it.
	subtree := st.root.Subtree(q.Path)
	stop := tree.Fold(subtree, func(rel tree.Path, sp *SyncPoint, hasSP bool, children [][]query.Spec) []query.Spec {
		if !rel.IsEmpty() && hasSP && sp.HasCompleteView() {
			return []query.Spec{sp.CompleteView().Query()}
		}
		var out []query.Spec
		if hasSP {
			for _, qv := range sp.QueryViews() {
				out = append(out, qv.Query())
			}
		}
		for _, c := range children {
			out = append(out, c...)
		}
		return out
	})
	for _, sq := range stop {
		st.provider.StopListening(queryForListening(sq), st.queryToTag[sq.Key()])
	}
	return events
}

// CalcCompleteEventCache returns the data at path as the user sees it,
// including hidden writes and skipping the writes in exclude. It is nil
// when the data is not known.
func (st *SyncTree) CalcCompleteEventCache(path tree.Path, exclude []int64) node.Node {
	return st.writes.CalcCompleteEventCache(path, st.ServerCacheAt(path), exclude, true)
}

// ServerCacheAt returns the server data at path known to any view, or
// nil.
func (st *SyncTree) ServerCacheAt(path tree.Path) node.Node {
	cache, _ := tree.FindOnPath(st.root, path, func(spPath tree.Path, sp *SyncPoint) (node.Node, bool) {
		c := sp.CompleteServerCache(tree.RelativePath(spPath, path))
		return c, c != nil
	})
	return cache
}
