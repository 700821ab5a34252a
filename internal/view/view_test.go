package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/operation"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/write"
)

func p(s string) tree.Path { return tree.ParsePath(s) }

func n(v any) node.Node { return node.MustFromValue(v) }

// describe renders events compactly for comparison.
func describe(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		s := ev.Type.String()
		if ev.Type != Value && ev.Type != Cancel {
			s += " " + ev.Snapshot.Key()
		}
		out = append(out, s)
	}
	return out
}

func newTestView(t *testing.T, at string, params query.Params) (*View, *write.Tree) {
	t.Helper()
	require.NoError(t, params.Validate())
	v := New(query.New(p(at), params), NewViewCache(
		EmptyCacheNode(params.Index()),
		EmptyCacheNode(params.Index()),
	))
	v.AddEventRegistration(NewCallbackRegistration(nil,
		ChildAdded, ChildRemoved, ChildChanged, ChildMoved, Value))
	return v, write.NewTree()
}

func serverOverwrite(v *View, wt *write.Tree, rel string, value any) []Event {
	op := operation.NewOverwrite(operation.ServerSource, p(rel), n(value))
	return v.ApplyOperation(op, wt.ChildWrites(v.Query().Path), nil)
}

func TestView_ServerOverwriteRaisesInitialEvents(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default())
	events := serverOverwrite(v, wt, "", map[string]any{"a": 1, "b": 2})
	assert.Equal(t, []string{"child_added a", "child_added b", "value"}, describe(events))
	assert.True(t, events[1].HasPrev)
	assert.Equal(t, "a", events[1].PrevName)
	assert.False(t, events[0].HasPrev)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, events[2].Snapshot.Val())
	for _, ev := range events {
		assert.Equal(t, "/x$default", ev.Query)
	}
}

func TestView_CancelEventsCarryQueryKey(t *testing.T) {
	params := query.Default().OrderByKey().LimitToFirst(1)
	v, _ := newTestView(t, "/x", params)
	events := v.RemoveEventRegistration(nil, assert.AnError)
	require.Len(t, events, 1)
	assert.Equal(t, Cancel, events[0].Type)
	assert.Equal(t, query.New(p("/x"), params).Key(), events[0].Query)
	assert.Equal(t, "/x", events[0].Path.String())
}

func TestView_OptimisticWriteListenCompleteAndAck(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default())
	ref := wt.ChildWrites(p("/x"))
	serverOverwrite(v, wt, "", map[string]any{"a": 1, "b": 2})

	wt.AddOverwrite(p("/x/a"), n(5), 1, true)
	events := v.ApplyOperation(operation.NewOverwrite(operation.UserSource, p("/a"), n(5)), ref, nil)
	assert.Equal(t, []string{"child_changed a", "value"}, describe(events))
	assert.Equal(t, map[string]any{"a": 5.0, "b": 2.0}, v.EventCache().Value(false))
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, v.ServerCache().Value(false))

	events = serverOverwrite(v, wt, "", map[string]any{"a": 1, "b": 2, "c": 3})
	events = append(events, v.ApplyOperation(operation.NewListenComplete(operation.ServerSource, tree.Root()), ref, nil)...)
	assert.Equal(t, []string{"child_added c", "value"}, describe(events))
	assert.Equal(t, "b", events[0].PrevName)
	assert.Equal(t, map[string]any{"a": 5.0, "b": 2.0, "c": 3.0}, v.EventCache().Value(false))

	require.True(t, wt.RemoveWrite(1))
	affected := tree.NewImmutableTreeWithValue(true)
	events = v.ApplyOperation(operation.NewAckUserWrite(p("/a"), affected, false), ref, nil)
	assert.Equal(t, []string{"child_changed a", "value"}, describe(events))
	assert.Equal(t, 1.0, events[0].Snapshot.Val())
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}, v.EventCache().Value(false))
}

func TestView_AckThenRevertRestoresServerData(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default())
	ref := wt.ChildWrites(p("/x"))
	serverOverwrite(v, wt, "", map[string]any{"a": 1, "b": map[string]any{"c": 2}})
	before := v.ServerCache()

	wt.AddOverwrite(p("/x/b/c"), n("local"), 1, true)
	v.ApplyOperation(operation.NewOverwrite(operation.UserSource, p("/b/c"), n("local")), ref, nil)
	assert.Equal(t, "local", v.EventCache().Child(p("/b/c")).Value(false))

	require.True(t, wt.RemoveWrite(1))
	events := v.ApplyOperation(operation.NewAckUserWrite(p("/b/c"), tree.NewImmutableTreeWithValue(true), true), ref, nil)
	assert.Equal(t, []string{"child_changed b", "value"}, describe(events))
	assert.True(t, v.EventCache().Equals(before))
	assert.True(t, v.ServerCache().Equals(before))
}

func TestView_RevertOfNewChildRemovesIt(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default())
	ref := wt.ChildWrites(p("/x"))
	serverOverwrite(v, wt, "", map[string]any{"a": 1})

	wt.AddOverwrite(p("/x/z"), n(9), 1, true)
	events := v.ApplyOperation(operation.NewOverwrite(operation.UserSource, p("/z"), n(9)), ref, nil)
	assert.Equal(t, []string{"child_added z", "value"}, describe(events))

	wt.RemoveWrite(1)
	events = v.ApplyOperation(operation.NewAckUserWrite(p("/z"), tree.NewImmutableTreeWithValue(true), true), ref, nil)
	assert.Equal(t, []string{"child_removed z", "value"}, describe(events))
	assert.True(t, v.EventCache().Equals(v.ServerCache()))
}

func TestView_RangedStartAtIgnoresOutOfRangeUpdates(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default().OrderByKey().StartAt(node.NewLeaf("b"), ""))
	events := serverOverwrite(v, wt, "", map[string]any{"a": 1, "b": 2, "c": 3})
	assert.Equal(t, []string{"child_added b", "child_added c", "value"}, describe(events))
	assert.Equal(t, map[string]any{"b": 2.0, "c": 3.0}, v.EventCache().Value(false))

	events = serverOverwrite(v, wt, "/a", 99)
	assert.Empty(t, events)
	assert.Equal(t, map[string]any{"b": 2.0, "c": 3.0}, v.EventCache().Value(false))

	events = serverOverwrite(v, wt, "/d", 4)
	assert.Equal(t, []string{"child_added d", "value"}, describe(events))
}

func TestView_LimitEvictsFurthestChild(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default().OrderByKey().LimitToFirst(2))
	serverOverwrite(v, wt, "", map[string]any{"a": 1, "b": 2})
	assert.Equal(t, 2, v.EventCache().NumChildren())

	events := serverOverwrite(v, wt, "/0", "zero")
	assert.Equal(t, []string{"child_removed b", "child_added 0", "value"}, describe(events))
	assert.Equal(t, map[string]any{"0": "zero", "a": 1.0}, v.EventCache().Value(false))

	events = serverOverwrite(v, wt, "/c", 3)
	assert.Empty(t, events, "a child beyond the window does not enter it")
	assert.Equal(t, 2, v.EventCache().NumChildren())
}

func TestView_LimitPullsInNextChildOnRemoval(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default().OrderByKey().LimitToFirst(2))
	serverOverwrite(v, wt, "", map[string]any{"a": 1, "b": 2, "c": 3})
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, v.EventCache().Value(false))

	events := serverOverwrite(v, wt, "/a", nil)
	assert.Equal(t, []string{"child_removed a", "child_added c", "value"}, describe(events))
	assert.Equal(t, map[string]any{"b": 2.0, "c": 3.0}, v.EventCache().Value(false))
}

func TestView_LimitToLastKeepsTail(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default().OrderByValue().LimitToLast(2))
	serverOverwrite(v, wt, "", map[string]any{"a": 30, "b": 10, "c": 20})
	assert.Equal(t, map[string]any{"a": 30.0, "c": 20.0}, v.EventCache().Value(false))

	events := serverOverwrite(v, wt, "/b", 40)
	assert.Equal(t, []string{"child_removed c", "child_added b", "value"}, describe(events))
	assert.Equal(t, "a", events[1].PrevName)
}

func TestView_ValueOrderedChangeRaisesMove(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default().OrderByValue())
	serverOverwrite(v, wt, "", map[string]any{"a": 1, "b": 2})

	events := serverOverwrite(v, wt, "/a", 3)
	assert.Equal(t, []string{"child_changed a", "child_moved a", "value"}, describe(events))
	assert.Equal(t, "b", events[1].PrevName)
}

func TestView_ServerMergeOnUnknownDataIsDropped(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default())
	merge := write.CompoundWriteFromMap(map[string]node.Node{"a": n(1)})
	events := v.ApplyOperation(operation.NewMerge(operation.ServerSource, tree.Root(), merge), wt.ChildWrites(p("/x")), nil)
	assert.Empty(t, events)
	assert.False(t, v.Cache().ServerCache().IsFullyInitialized())

	serverOverwrite(v, wt, "", map[string]any{"b": 2})
	events = v.ApplyOperation(operation.NewMerge(operation.ServerSource, tree.Root(), merge), wt.ChildWrites(p("/x")), nil)
	assert.Equal(t, []string{"child_added a", "value"}, describe(events))
}

func TestView_InitialEvents(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default())
	serverOverwrite(v, wt, "", map[string]any{"b": 2, "a": 1})

	var got []Event
	reg := NewCallbackRegistration(func(ev Event) { got = append(got, ev) }, ChildAdded)
	v.AddEventRegistration(reg)
	events := v.InitialEvents(reg)
	assert.Equal(t, []string{"child_added a", "child_added b"}, describe(events))
	for _, ev := range events {
		assert.Same(t, reg, ev.Registration)
	}
}

func TestView_RemoveEventRegistration(t *testing.T) {
	v, _ := newTestView(t, "/x", query.Default())
	extra := NewCallbackRegistration(nil, Value)
	v.AddEventRegistration(extra)
	assert.Len(t, v.Registrations(), 2)

	assert.Empty(t, v.RemoveEventRegistration(extra, nil))
	assert.Len(t, v.Registrations(), 1)
	assert.False(t, v.HasRegistration(extra))

	cancels := v.RemoveEventRegistration(nil, assert.AnError)
	require.Len(t, cancels, 1)
	assert.Equal(t, Cancel, cancels[0].Type)
	assert.ErrorIs(t, cancels[0].Err, assert.AnError)
	assert.True(t, v.IsEmpty())
}

func TestView_CompleteServerCache(t *testing.T) {
	v, wt := newTestView(t, "/x", query.Default().OrderByKey().LimitToFirst(1))
	assert.Nil(t, v.CompleteServerCache(tree.Root()))
	serverOverwrite(v, wt, "", map[string]any{"a": map[string]any{"b": 1}})
	assert.Nil(t, v.CompleteServerCache(tree.Root()), "a filtered view never knows the whole location")
	assert.Equal(t, 1.0, v.CompleteServerCache(p("/a/b")).Value(false))
	assert.Nil(t, v.CompleteServerCache(p("/z")))
}
