package query

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

func leaf(v any) node.Node { return node.NewLeaf(v) }

func TestParams_DefaultIdentifier(t *testing.T) {
	p := Default()
	assert.True(t, p.IsDefault())
	assert.True(t, p.LoadsAllData())
	assert.Equal(t, DefaultIdentifier, p.Identifier())
	assert.Equal(t, "/a$default", DefaultSpec(tree.ParsePath("/a")).Key())

	byKey := Default().OrderByKey()
	assert.True(t, byKey.LoadsAllData())
	assert.False(t, byKey.IsDefault())
	assert.Equal(t, `{"i":".key"}`, byKey.Identifier())
}

func TestParams_IdentifierIsStable(t *testing.T) {
	a := Default().OrderByChild("score").StartAt(leaf(10), "").LimitToFirst(3)
	b := Default().LimitToFirst(3).OrderByChild("score").StartAt(leaf(10), "")
	assert.Equal(t, a.Identifier(), b.Identifier())
	assert.Equal(t, `{"i":"score","l":3,"sin":true,"sp":10,"vf":"l"}`, a.Identifier())

	c := Default().OrderByChild("score").StartAt(leaf(11), "").LimitToFirst(3)
	assert.NotEqual(t, a.Identifier(), c.Identifier())
}

func TestParams_Bounds(t *testing.T) {
	p := Default().OrderByValue().StartAt(leaf(1), "k").EndAt(leaf(5), "")
	assert.True(t, p.HasStart())
	assert.True(t, p.HasEnd())
	assert.Equal(t, "k", p.IndexStartName())
	assert.Equal(t, tree.MaxName, p.IndexEndName())
	assert.Equal(t, 1.0, p.IndexStartValue().Value(false))
	assert.True(t, p.IsViewFromLeft())

	wire := p.WireObject()
	assert.Equal(t, true, wire["sin"])
	assert.Equal(t, "k", wire["sn"])
	_, hasEndName := wire["en"]
	assert.False(t, hasEndName)

	last := Default().LimitToLast(2)
	assert.False(t, last.IsViewFromLeft())
	assert.True(t, last.HasAnchoredLimit())
	assert.Equal(t, 2, last.Limit())
}

func TestParams_StartAfterEndBefore(t *testing.T) {
	byKey := Default().OrderByKey().StartAfter(leaf("b"), "")
	assert.True(t, byKey.IsStartAfter())
	assert.Equal(t, "b-", byKey.IndexStartValue().Value(false))
	assert.Equal(t, false, byKey.WireObject()["sin"])

	byValue := Default().OrderByValue().StartAfter(leaf(3), "")
	assert.Equal(t, tree.MaxName, byValue.IndexStartName())

	named := Default().OrderByValue().EndBefore(leaf(3), "5")
	assert.Equal(t, "4", named.IndexEndName())
	assert.True(t, named.IsEndBefore())

	unnamed := Default().OrderByValue().EndBefore(leaf(3), "")
	assert.Equal(t, tree.MinName, unnamed.IndexEndName())
}

func TestParams_EqualTo(t *testing.T) {
	p := Default().OrderByChild("a/b").EqualTo(leaf("x"), "")
	assert.True(t, p.IndexStartValue().Equals(p.IndexEndValue()))
	assert.Equal(t, "a/b", p.WireObject()["i"])
	require.NoError(t, p.Validate())
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		ok     bool
	}{
		{"default", Default(), true},
		{"zero limit", Default().LimitToFirst(0), false},
		{"negative limit", Default().LimitToLast(-1), false},
		{"key index string", Default().OrderByKey().StartAt(leaf("a"), ""), true},
		{"key index number", Default().OrderByKey().StartAt(leaf(1), ""), false},
		{"key index with name", Default().OrderByKey().EndAt(leaf("a"), "b"), false},
		{"priority bool", Default().StartAt(leaf(true), ""), false},
		{"priority null", Default().StartAt(nil, "a"), true},
		{"priority string", Default().EndAt(leaf("p"), ""), true},
		{"value bool", Default().OrderByValue().StartAt(leaf(true), ""), true},
		{"server value bound", Default().OrderByValue().StartAt(leaf(node.ServerTimestamp()), ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, tree.HasCode(err, tree.ErrCodeInvalidQuery))
		})
	}
}

func TestSuccessorPredecessor(t *testing.T) {
	assert.Equal(t, "a-", successor("a"))
	assert.Equal(t, "11", successor("10"))
	assert.Equal(t, "-", successor(strconv.Itoa(math.MaxInt32)))

	assert.Equal(t, "9", predecessor("10"))
	assert.Equal(t, "a", predecessor("a-"))
	assert.Equal(t, strconv.Itoa(math.MaxInt32), predecessor("-"))
	assert.Equal(t, tree.MinName, predecessor(strconv.Itoa(math.MinInt32)))

	prev := predecessor("b")
	assert.Len(t, prev, maxKeyLen)
	assert.Equal(t, byte('a'), prev[0])
	assert.Less(t, tree.CompareKeys(prev, "b"), 0)
}
