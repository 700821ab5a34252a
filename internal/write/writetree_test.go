package write

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

func TestTree_CalcCompleteEventCacheLayersWrites(t *testing.T) {
	wt := NewTree()
	server := n(map[string]any{"a": 1, "b": 2})

	wt.AddOverwrite(p("/x/a"), n(5), 1, true)
	got := wt.CalcCompleteEventCache(p("/x"), server, nil, false)
	assert.Equal(t, map[string]any{"a": 5.0, "b": 2.0}, got.Value(false))

	wt.AddMerge(p("/x"), CompoundWriteFromMap(map[string]node.Node{"b": n(20), "c": n(30)}), 2)
	got = wt.CalcCompleteEventCache(p("/x"), server, nil, false)
	assert.Equal(t, map[string]any{"a": 5.0, "b": 20.0, "c": 30.0}, got.Value(false))

	assert.Nil(t, wt.CalcCompleteEventCache(p("/x"), nil, nil, false), "partial writes without server data are incomplete")
	assert.Equal(t, 5.0, wt.CalcCompleteEventCache(p("/x/a"), nil, nil, false).Value(false))
	assert.Equal(t, server, wt.CalcCompleteEventCache(p("/y"), server, nil, false))
}

func TestTree_LaterWritesWin(t *testing.T) {
	wt := NewTree()
	wt.AddOverwrite(p("/a"), n(map[string]any{"b": 1, "c": 1}), 1, true)
	wt.AddOverwrite(p("/a/b"), n(2), 2, true)
	got, ok := wt.ShadowingWrite(p("/a"))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"b": 2.0, "c": 1.0}, got.Value(false))

	wt.AddOverwrite(p("/a"), n("flat"), 3, true)
	got, _ = wt.ShadowingWrite(p("/a/b"))
	assert.True(t, got.IsEmpty())
}

func TestTree_OverwriteIsIdempotent(t *testing.T) {
	server := n(map[string]any{"a": 1})

	once := NewTree()
	once.AddOverwrite(p("/a"), n(5), 1, true)

	twice := NewTree()
	twice.AddOverwrite(p("/a"), n(5), 1, true)
	twice.AddOverwrite(p("/a"), n(5), 1, true)

	assert.Equal(t, 1, twice.Len())
	assert.True(t, once.CalcCompleteEventCache(tree.Root(), server, nil, false).
		Equals(twice.CalcCompleteEventCache(tree.Root(), server, nil, false)))
}

func TestTree_WriteIDsMustIncrease(t *testing.T) {
	wt := NewTree()
	wt.AddOverwrite(p("/a"), n(1), 2, true)
	assert.Panics(t, func() { wt.AddOverwrite(p("/a"), n(2), 2, true) })
	assert.Panics(t, func() { wt.AddOverwrite(p("/b"), n(1), 1, true) })
	assert.Panics(t, func() { wt.RemoveWrite(99) })
}

func TestTree_RemoveWrite(t *testing.T) {
	t.Run("visible write needs reevaluation", func(t *testing.T) {
		wt := NewTree()
		wt.AddOverwrite(p("/a"), n(1), 1, true)
		assert.True(t, wt.RemoveWrite(1))
		_, ok := wt.ShadowingWrite(p("/a"))
		assert.False(t, ok)
		assert.Equal(t, 0, wt.Len())
	})

	t.Run("shadowed write is bookkeeping only", func(t *testing.T) {
		wt := NewTree()
		wt.AddOverwrite(p("/a/b"), n(1), 1, true)
		wt.AddOverwrite(p("/a"), n(map[string]any{"b": 2}), 2, true)
		assert.False(t, wt.RemoveWrite(1))
		got, _ := wt.ShadowingWrite(p("/a/b"))
		assert.Equal(t, 2.0, got.Value(false))
	})

	t.Run("hidden write is bookkeeping only", func(t *testing.T) {
		wt := NewTree()
		wt.AddOverwrite(p("/a"), n(1), 1, false)
		assert.False(t, wt.RemoveWrite(1))
	})

	t.Run("overlapping writes are relayered", func(t *testing.T) {
		wt := NewTree()
		wt.AddOverwrite(p("/a"), n(map[string]any{"b": 1, "c": 1}), 1, true)
		wt.AddOverwrite(p("/a/b"), n(2), 2, true)
		assert.True(t, wt.RemoveWrite(1))
		_, ok := wt.ShadowingWrite(p("/a/c"))
		assert.False(t, ok)
		got, ok := wt.ShadowingWrite(p("/a/b"))
		require.True(t, ok)
		assert.Equal(t, 2.0, got.Value(false))
	})

	t.Run("merge children are removed", func(t *testing.T) {
		wt := NewTree()
		wt.AddMerge(p("/m"), CompoundWriteFromMap(map[string]node.Node{"x": n(1), "y/z": n(2)}), 1)
		wt.AddOverwrite(p("/other"), n(3), 2, true)
		assert.True(t, wt.RemoveWrite(1))
		assert.False(t, wt.ChildWrites(p("/m")).CalcCompleteEventChildren(nil).NumChildren() > 0)
		_, ok := wt.ShadowingWrite(p("/other"))
		assert.True(t, ok)
	})
}

func TestTree_ExcludeAndHiddenWrites(t *testing.T) {
	wt := NewTree()
	server := n(map[string]any{"a": 1})
	wt.AddOverwrite(p("/a"), n(2), 1, true)
	wt.AddOverwrite(p("/b"), n(3), 2, false)

	visible := wt.CalcCompleteEventCache(tree.Root(), server, nil, false)
	assert.Equal(t, map[string]any{"a": 2.0}, visible.Value(false))

	withHidden := wt.CalcCompleteEventCache(tree.Root(), server, nil, true)
	assert.Equal(t, map[string]any{"a": 2.0, "b": 3.0}, withHidden.Value(false))

	excluded := wt.CalcCompleteEventCache(tree.Root(), server, []int64{1}, false)
	assert.Equal(t, map[string]any{"a": 1.0}, excluded.Value(false))
}

func TestTree_CalcCompleteEventChildren(t *testing.T) {
	wt := NewTree()
	wt.AddOverwrite(p("/x/b/c"), n(9), 1, true)
	wt.AddOverwrite(p("/x/d"), n(4), 2, true)
	server := n(map[string]any{"a": 1, "b": map[string]any{"c": 2, "e": 3}})

	got := wt.ChildWrites(p("/x")).CalcCompleteEventChildren(server)
	assert.Equal(t, map[string]any{
		"a": 1.0,
		"b": map[string]any{"c": 9.0, "e": 3.0},
		"d": 4.0,
	}, got.Value(false))

	onlyWrites := wt.ChildWrites(p("/x")).CalcCompleteEventChildren(nil)
	assert.Equal(t, map[string]any{"d": 4.0}, onlyWrites.Value(false))
}

func TestTree_CalcEventCacheAfterServerOverwrite(t *testing.T) {
	wt := NewTree()
	wt.AddOverwrite(p("/x/a"), n(5), 1, true)
	ref := wt.ChildWrites(p("/x"))
	server := n(map[string]any{"a": 1, "b": map[string]any{"c": 2}})

	_, ok := ref.CalcEventCacheAfterServerOverwrite(p("/a"), server)
	assert.False(t, ok, "shadowed by a write")

	got, ok := ref.CalcEventCacheAfterServerOverwrite(p("/b"), server)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"c": 2.0}, got.Value(false))

	whole, ok := ref.CalcEventCacheAfterServerOverwrite(tree.Root(), server)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 5.0, "b": map[string]any{"c": 2.0}}, whole.Value(false))
}

func TestTree_CalcCompleteChild(t *testing.T) {
	wt := NewTree()
	wt.AddOverwrite(p("/x/a"), n(5), 1, true)
	ref := wt.ChildWrites(p("/x"))
	server := n(map[string]any{"b": 2})

	got, ok := ref.CalcCompleteChild("a", server, false)
	require.True(t, ok)
	assert.Equal(t, 5.0, got.Value(false))

	_, ok = ref.CalcCompleteChild("b", server, false)
	assert.False(t, ok)

	got, ok = ref.CalcCompleteChild("b", server, true)
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Value(false))
}

func TestRef_CalcNextNodeAfterPost(t *testing.T) {
	wt := NewTree()
	wt.AddOverwrite(p("/x/c"), n(3), 1, true)
	ref := wt.ChildWrites(p("/x"))
	server := n(map[string]any{"a": 1, "d": 4})

	next, ok := ref.CalcNextNodeAfterPost(server, node.NamedNode{Name: "a", Node: n(1)}, false, node.KeyIndex)
	require.True(t, ok)
	assert.Equal(t, "c", next.Name)

	prev, ok := ref.CalcNextNodeAfterPost(server, node.NamedNode{Name: "d", Node: n(4)}, true, node.KeyIndex)
	require.True(t, ok)
	assert.Equal(t, "c", prev.Name)

	_, ok = ref.CalcNextNodeAfterPost(server, node.NamedNode{Name: "d", Node: n(4)}, false, node.KeyIndex)
	assert.False(t, ok)

	_, ok = ref.CalcNextNodeAfterPost(nil, node.NamedNode{Name: "a", Node: n(1)}, false, node.KeyIndex)
	assert.False(t, ok, "no complete data to iterate")
}

func TestTree_PurgeAllWrites(t *testing.T) {
	wt := NewTree()
	wt.AddOverwrite(p("/a"), n(1), 1, true)
	wt.AddOverwrite(p("/b"), n(1), 2, true)
	purged := wt.PurgeAllWrites()
	assert.Len(t, purged, 2)
	assert.Equal(t, 0, wt.Len())
	assert.Equal(t, int64(2), wt.LastWriteID())
	assert.Panics(t, func() { wt.AddOverwrite(p("/c"), n(1), 2, true) })
}

func TestSparseSnapshotTree(t *testing.T) {
	s := NewSparseSnapshotTree()
	assert.True(t, s.IsEmpty())

	s.Remember(p("/a/b"), n(1))
	s.Remember(p("/c"), n(map[string]any{"d": 1, "e": 2}))
	got, ok := s.Find(p("/c/d"))
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Value(false))
	_, ok = s.Find(p("/a"))
	assert.False(t, ok)

	assert.False(t, s.Forget(p("/c/d")))
	_, ok = s.Find(p("/c/d"))
	assert.False(t, ok)
	got, ok = s.Find(p("/c/e"))
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Value(false))

	var visited []string
	s.ForEachTree(tree.Root(), func(path tree.Path, _ node.Node) { visited = append(visited, path.String()) })
	assert.Equal(t, []string{"/a/b", "/c/e"}, visited)

	s.Remember(p("/a/x"), n("leaf"))
	assert.False(t, s.Forget(p("/a/x/y")), "a leaf cannot be partially forgotten")

	assert.True(t, s.Forget(tree.Root()))
	assert.True(t, s.IsEmpty())
}
