package tree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImmutableTree_SetGetRemove(t *testing.T) {
	empty := NewImmutableTree[int]()
	assert.True(t, empty.IsEmpty())

	tr := empty.Set(ParsePath("/a/b"), 1).Set(ParsePath("/a/c"), 2)
	v, ok := tr.Get(ParsePath("/a/b"))
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = tr.Get(ParsePath("/a"))
	assert.False(t, ok)
	assert.True(t, empty.IsEmpty(), "Set must not mutate the receiver")

	tr2 := tr.Remove(ParsePath("/a/b"))
	_, ok = tr2.Get(ParsePath("/a/b"))
	assert.False(t, ok)
	_, ok = tr.Get(ParsePath("/a/b"))
	assert.True(t, ok)

	tr3 := tr2.Remove(ParsePath("/a/c"))
	assert.True(t, tr3.IsEmpty(), "empty branches are pruned")
}

func TestImmutableTree_FindRootMost(t *testing.T) {
	tr := NewImmutableTree[string]().
		Set(ParsePath("/a/b/c"), "deep").
		Set(ParsePath("/a"), "shallow")

	p, v, ok := tr.FindRootMostValueAndPath(ParsePath("/a/b/c/d"))
	require.True(t, ok)
	assert.Equal(t, "/a", p.String())
	assert.Equal(t, "shallow", v)

	p, v, ok = tr.FindRootMostMatchingPathAndValue(ParsePath("/a/b/c"), func(s string) bool { return s == "deep" })
	require.True(t, ok)
	assert.Equal(t, "/a/b/c", p.String())
	assert.Equal(t, "deep", v)

	_, _, ok = tr.FindRootMostValueAndPath(ParsePath("/z"))
	assert.False(t, ok)
}

func TestImmutableTree_SubtreeAndSetTree(t *testing.T) {
	tr := NewImmutableTree[int]().Set(ParsePath("/a/b"), 1).Set(ParsePath("/a/c/d"), 2)
	sub := tr.Subtree(ParsePath("/a"))
	v, ok := sub.Get(ParsePath("/c/d"))
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.True(t, tr.Subtree(ParsePath("/nope")).IsEmpty())

	grafted := NewImmutableTree[int]().SetTree(ParsePath("/x/y"), sub)
	v, ok = grafted.Get(ParsePath("/x/y/b"))
	require.True(t, ok)
	assert.Equal(t, 1, v)

	cleared := tr.SetTree(ParsePath("/a"), NewImmutableTree[int]())
	assert.True(t, cleared.IsEmpty())
}

func TestImmutableTree_Traversals(t *testing.T) {
	tr := ImmutableTreeFromMap(map[string]int{
		"a":     1,
		"b/c":   2,
		"b/d":   3,
		"10":    4,
		"2":     5,
		"b/c/e": 6,
	})

	var visited []string
	tr.Foreach(func(p Path, v int) { visited = append(visited, p.String()) })
	assert.Equal(t, []string{"/2", "/10", "/a", "/b/c/e", "/b/c", "/b/d"}, visited)

	var children []string
	tr.ForeachChild(func(k string, _ int) { children = append(children, k) })
	assert.Equal(t, []string{"2", "10", "a"}, children)

	var onPath []string
	tr.ForeachOnPath(ParsePath("/b/c/e/f"), func(p Path, _ int) { onPath = append(onPath, p.String()) })
	assert.Equal(t, []string{"/b/c", "/b/c/e"}, onPath)

	found, ok := FindOnPath(tr, ParsePath("/b/c/e"), func(p Path, v int) (string, bool) {
		return p.String(), v > 5
	})
	require.True(t, ok)
	assert.Equal(t, "/b/c/e", found)

	joined := Fold(tr, func(p Path, v int, has bool, children []string) string {
		parts := append([]string{}, children...)
		if has {
			parts = append(parts, p.String())
		}
		return strings.Join(parts, ",")
	})
	assert.Equal(t, "/2,/10,/a,/b/c/e,/b/c,/b/d", joined)
}
