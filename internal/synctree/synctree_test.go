package synctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/view"
	"github.com/roach88/treesync/internal/write"
)

func p(s string) tree.Path { return tree.ParsePath(s) }

func n(v any) node.Node { return node.MustFromValue(v) }

func newTestTree(t *testing.T, opts ...Option) (*SyncTree, *testutil.FakeListenProvider) {
	t.Helper()
	provider := testutil.NewFakeListenProvider()
	return New(provider, opts...), provider
}

type memoryPersistence map[string]node.Node

func (m memoryPersistence) ServerCache(path tree.Path) (node.Node, bool) {
	cached, ok := m[path.String()]
	return cached, ok
}

func TestSyncTree_OptimisticWriteScenario(t *testing.T) {
	st, provider := newTestTree(t)
	q := query.DefaultSpec(p("/x"))
	rec := testutil.NewRecorder()

	assert.Empty(t, st.AddEventRegistration(q, rec), "nothing is known before the server answers")
	assert.Equal(t, []string{"start /x$default tag=0"}, provider.Log())

	events := st.ApplyServerOverwrite(p("/x"), n(map[string]any{"a": 1, "b": 2}))
	assert.Equal(t, []string{"child_added a", "child_added b", "value"}, testutil.Describe(events))

	events = st.ApplyUserOverwrite(p("/x/a"), n(5), 1, true)
	assert.Equal(t, []string{"child_changed a", "value"}, testutil.Describe(events))
	v := st.SyncPoint(p("/x")).ViewForQuery(q)
	assert.Equal(t, map[string]any{"a": 5.0, "b": 2.0}, v.EventCache().Value(false))
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, v.ServerCache().Value(false))

	events = st.ApplyServerOverwrite(p("/x"), n(map[string]any{"a": 1, "b": 2, "c": 3}))
	events = append(events, provider.Complete(q, StatusOK)...)
	assert.Equal(t, []string{"child_added c", "value"}, testutil.Describe(events))
	assert.Equal(t, map[string]any{"a": 5.0, "b": 2.0, "c": 3.0}, v.EventCache().Value(false))

	events = st.AckUserWrite(1, false)
	require.Equal(t, []string{"child_changed a", "value"}, testutil.Describe(events))
	assert.Equal(t, 1.0, events[0].Snapshot.Val())
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}, v.EventCache().Value(false))
	assert.Equal(t, 0, st.WriteTree().Len())
}

func TestSyncTree_EventsAddressRegistrations(t *testing.T) {
	st, _ := newTestTree(t)
	q := query.DefaultSpec(p("/x"))
	values := testutil.NewRecorder(view.Value)
	children := testutil.NewRecorder(view.ChildAdded)
	st.AddEventRegistration(q, values)
	st.AddEventRegistration(q, children)

	events := st.ApplyServerOverwrite(p("/x/a"), n(1))
	testutil.Deliver(events)
	assert.Equal(t, []string{"child_added a"}, children.Describe())
	assert.Empty(t, values.Describe(), "the location is not complete yet")

	testutil.Deliver(st.ApplyListenComplete(p("/x")))
	assert.Equal(t, []string{"value"}, values.Describe())
}

func TestSyncTree_SecondRegistrationGetsInitialEvents(t *testing.T) {
	st, provider := newTestTree(t)
	q := query.DefaultSpec(p("/x"))
	st.AddEventRegistration(q, testutil.NewRecorder())
	st.ApplyServerOverwrite(p("/x"), n(map[string]any{"a": 1}))

	late := testutil.NewRecorder()
	events := st.AddEventRegistration(q, late)
	assert.Equal(t, []string{"child_added a", "value"}, testutil.Describe(events))
	for _, ev := range events {
		assert.Equal(t, late.ID(), ev.Registration.ID())
	}
	assert.Len(t, provider.Log(), 1, "the existing listen is reused")
}

func TestSyncTree_DescendantOfCompleteViewDoesNotListen(t *testing.T) {
	st, provider := newTestTree(t)
	st.AddEventRegistration(query.DefaultSpec(p("/x")), testutil.NewRecorder())
	st.ApplyServerOverwrite(p("/x"), n(map[string]any{"a": 1}))

	events := st.AddEventRegistration(query.DefaultSpec(p("/x/a")), testutil.NewRecorder())
	assert.Equal(t, []string{"value"}, testutil.Describe(events))
	assert.Equal(t, 1.0, events[0].Snapshot.Val())
	assert.Equal(t, []string{"start /x$default tag=0"}, provider.Log())
}

func TestSyncTree_FilteredQueriesGetTags(t *testing.T) {
	st, provider := newTestTree(t)
	limited := query.New(p("/x"), query.Default().OrderByKey().LimitToFirst(2))
	ordered := query.New(p("/y"), query.Default().OrderByValue())
	ranged := query.New(p("/z"), query.Default().StartAt(n(3), ""))

	st.AddEventRegistration(limited, testutil.NewRecorder())
	st.AddEventRegistration(ordered, testutil.NewRecorder())
	st.AddEventRegistration(ranged, testutil.NewRecorder())

	tag, ok := st.TagForQuery(limited)
	require.True(t, ok)
	assert.Equal(t, int64(1), tag)
	tag, ok = st.TagForQuery(ranged)
	require.True(t, ok)
	assert.Equal(t, int64(2), tag)
	_, ok = st.TagForQuery(ordered)
	assert.False(t, ok, "a query loading all data listens as the default query")

	got, ok := st.QueryForTag(2)
	require.True(t, ok)
	assert.Equal(t, ranged.Key(), got.Key())

	assert.Equal(t, []string{
		"start " + limited.Key() + " tag=1",
		"start /y$default tag=0",
		"start " + ranged.Key() + " tag=2",
	}, provider.Log())

	st.RemoveEventRegistration(limited, nil, nil)
	_, ok = st.TagForQuery(limited)
	assert.False(t, ok)
	_, ok = st.QueryForTag(1)
	assert.False(t, ok)
	assert.Equal(t, "stop "+limited.Key()+" tag=1", provider.Log()[3])
	assert.Nil(t, st.SyncPoint(p("/x")))

	// Tags are never reused.
	st.AddEventRegistration(limited, testutil.NewRecorder())
	tag, _ = st.TagForQuery(limited)
	assert.Equal(t, int64(3), tag)
}

func TestSyncTree_DefaultListenShadowsDescendants(t *testing.T) {
	st, provider := newTestTree(t)
	child := query.New(p("/x/y"), query.Default().LimitToLast(1))
	parent := query.DefaultSpec(p("/x"))
	rec := testutil.NewRecorder()

	st.AddEventRegistration(child, testutil.NewRecorder())
	st.AddEventRegistration(parent, rec)
	assert.Equal(t, []string{
		"start " + child.Key() + " tag=1",
		"start /x$default tag=0",
		"stop " + child.Key() + " tag=1",
	}, provider.Log())
	assert.Equal(t, []string{"/x$default"}, provider.Active())

	assert.Empty(t, st.RemoveEventRegistration(parent, rec, nil), "restarted listens raise no events")
	assert.Equal(t, []string{
		"start " + child.Key() + " tag=1",
		"stop /x$default tag=0",
	}, provider.Log()[3:])
	assert.Equal(t, []string{child.Key()}, provider.Active())
}

func TestSyncTree_ListenFailureCancelsRegistrations(t *testing.T) {
	st, provider := newTestTree(t)
	q := query.DefaultSpec(p("/x"))
	first, second := testutil.NewRecorder(), testutil.NewRecorder(view.Value)
	st.AddEventRegistration(q, first)
	st.AddEventRegistration(q, second)
	other := query.New(p("/y"), query.Default().LimitToFirst(1))
	st.AddEventRegistration(other, testutil.NewRecorder())

	events := provider.Complete(q, "permission_denied")
	require.Equal(t, []string{"cancel", "cancel"}, testutil.Describe(events))
	for _, ev := range events {
		assert.True(t, IsListenError(ev.Err))
		var le *ListenError
		require.ErrorAs(t, ev.Err, &le)
		assert.Equal(t, "permission_denied", le.Code)
		assert.Equal(t, "/x", ev.Path.String())
	}
	assert.Nil(t, st.SyncPoint(p("/x")))
	assert.NotNil(t, st.SyncPoint(p("/y")), "sibling queries are unaffected")
	assert.Equal(t, []string{other.Key()}, provider.Active())
	for _, line := range provider.Log() {
		assert.NotEqual(t, "stop /x$default tag=0", line, "a refused listen is not stopped")
	}
}

func TestSyncTree_TaggedOperations(t *testing.T) {
	st, provider := newTestTree(t)
	q := query.New(p("/x"), query.Default().OrderByKey().LimitToFirst(2))
	st.AddEventRegistration(q, testutil.NewRecorder())
	listen, ok := provider.Listen(q)
	require.True(t, ok)
	tag := listen.Tag

	events := st.ApplyTaggedQueryOverwrite(p("/x"), n(map[string]any{"a": 1, "b": 2, "c": 3}), tag)
	assert.Equal(t, []string{"child_added a", "child_added b", "value"}, testutil.Describe(events))

	// The filtered server cache never held c, so the window shrinks until
	// the server sends the next child.
	events = st.ApplyTaggedQueryOverwrite(p("/x/a"), node.Empty, tag)
	assert.Equal(t, []string{"child_removed a", "value"}, testutil.Describe(events))
	events = st.ApplyTaggedQueryOverwrite(p("/x/c"), n(3), tag)
	assert.Equal(t, []string{"child_added c", "value"}, testutil.Describe(events))

	merge := write.CompoundWriteFromMap(map[string]node.Node{"b": n(20)})
	events = st.ApplyTaggedQueryMerge(p("/x"), merge, tag)
	assert.Equal(t, []string{"child_changed b", "value"}, testutil.Describe(events))

	assert.Nil(t, st.ApplyTaggedQueryOverwrite(p("/x"), n(1), 99), "unknown tags are ignored")
	assert.Nil(t, st.ApplyTaggedListenComplete(p("/x"), 99))

	v := st.SyncPoint(p("/x")).ViewForQuery(q)
	assert.Equal(t, map[string]any{"b": 20.0, "c": 3.0}, v.EventCache().Value(false))
	assert.Equal(t, listen.Hash(), v.ServerCache().Hash())
}

func TestSyncTree_UserMergeAndRemoveAllWrites(t *testing.T) {
	st, _ := newTestTree(t)
	q := query.DefaultSpec(p("/x"))
	st.AddEventRegistration(q, testutil.NewRecorder())
	st.ApplyServerOverwrite(p("/x"), n(map[string]any{"a": 1}))

	merge := write.CompoundWriteFromMap(map[string]node.Node{"b": n(2), "c": n(3)})
	events := st.ApplyUserMerge(p("/x"), merge, 1)
	assert.Equal(t, []string{"child_added b", "child_added c", "value"}, testutil.Describe(events))

	records, events := st.RemoveAllWrites()
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, []string{"child_removed b", "child_removed c", "value"}, testutil.Describe(events))

	v := st.SyncPoint(p("/x")).ViewForQuery(q)
	assert.Equal(t, map[string]any{"a": 1.0}, v.EventCache().Value(false))

	records, events = st.RemoveAllWrites()
	assert.Empty(t, records)
	assert.Empty(t, events)
}

func TestSyncTree_AckRevertRestoresServerData(t *testing.T) {
	st, _ := newTestTree(t)
	q := query.DefaultSpec(p("/x"))
	st.AddEventRegistration(q, testutil.NewRecorder())
	st.ApplyServerOverwrite(p("/x"), n(map[string]any{"a": 1}))

	st.ApplyUserOverwrite(p("/x"), n("local"), 1, true)
	events := st.AckUserWrite(1, true)
	assert.Equal(t, []string{"child_added a", "value"}, testutil.Describe(events))

	v := st.SyncPoint(p("/x")).ViewForQuery(q)
	assert.True(t, v.EventCache().Equals(v.ServerCache()))
	assert.Panics(t, func() { st.AckUserWrite(1, false) }, "the write is gone")
}

func TestSyncTree_HiddenWritesAndCompleteEventCache(t *testing.T) {
	st, _ := newTestTree(t)
	q := query.DefaultSpec(p("/x"))
	st.AddEventRegistration(q, testutil.NewRecorder())
	st.ApplyServerOverwrite(p("/x"), n(map[string]any{"a": 1}))

	assert.Empty(t, st.ApplyUserOverwrite(p("/x/b"), n(2), 1, false), "hidden writes raise no events")
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, st.CalcCompleteEventCache(p("/x"), nil).Value(false))
	assert.Equal(t, map[string]any{"a": 1.0}, st.CalcCompleteEventCache(p("/x"), []int64{1}).Value(false))

	v := st.SyncPoint(p("/x")).ViewForQuery(q)
	assert.Equal(t, map[string]any{"a": 1.0}, v.EventCache().Value(false))

	assert.Equal(t, 1.0, st.ServerCacheAt(p("/x/a")).Value(false))
	assert.Nil(t, st.ServerCacheAt(p("/y")))
}

func TestSyncTree_PersistenceSeedsNewViews(t *testing.T) {
	cached := n(map[string]any{"a": 1})
	st, provider := newTestTree(t, WithPersistence(memoryPersistence{"/x": cached}))
	q := query.DefaultSpec(p("/x"))

	events := st.AddEventRegistration(q, testutil.NewRecorder())
	assert.Equal(t, []string{"child_added a", "value"}, testutil.Describe(events))

	listen, ok := provider.Listen(q)
	require.True(t, ok)
	assert.Equal(t, cached.Hash(), listen.Hash(), "the listen reports the cached data hash")
}

func TestSyncPoint_RemoveLastCompleteViewReportsDefault(t *testing.T) {
	sp := NewSyncPoint()
	wt := write.NewTree()
	q := query.New(p("/x"), query.Default().OrderByValue())
	rec := testutil.NewRecorder()
	sp.AddEventRegistration(q, rec, wt.ChildWrites(p("/x")), node.Empty, false)
	assert.True(t, sp.HasCompleteView())

	removed, events := sp.RemoveEventRegistration(q, rec, nil)
	assert.Empty(t, events)
	require.Len(t, removed, 1)
	assert.True(t, removed[0].IsDefault())
	assert.True(t, sp.IsEmpty())
}
