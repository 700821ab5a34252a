package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/tree"
)

func TestFromValue_ServerValues(t *testing.T) {
	ts, err := FromValue(map[string]any{".sv": "timestamp"})
	require.NoError(t, err)
	require.True(t, ts.IsLeaf())
	assert.Equal(t, ServerTimestamp(), ts.(*Leaf).Raw())
	assert.Equal(t, map[string]any{".sv": "timestamp"}, ts.Value(false))

	inc, err := FromValue(map[string]any{"n": map[string]any{".sv": map[string]any{"increment": 2}}})
	require.NoError(t, err)
	assert.Equal(t, ServerIncrement(2), inc.ImmediateChild("n").(*Leaf).Raw())
	assert.True(t, HasServerValues(inc))
	assert.False(t, HasServerValues(MustFromValue(map[string]any{"n": 1})))
}

func TestFromValue_InvalidServerValues(t *testing.T) {
	for name, v := range map[string]any{
		"unknown op":      map[string]any{".sv": "now"},
		"extra key":       map[string]any{".sv": "timestamp", "a": 1},
		"with priority":   map[string]any{".sv": "timestamp", ".priority": 1},
		"string delta":    map[string]any{".sv": map[string]any{"increment": "x"}},
		"unknown complex": map[string]any{".sv": map[string]any{"decrement": 1}},
		"not an op":       map[string]any{".sv": 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromValue(v)
			require.Error(t, err)
			assert.True(t, tree.HasCode(err, tree.ErrCodeInvalidValue))
		})
	}
}

func TestServerValues_CanonicalRoundTrip(t *testing.T) {
	n := MustFromValue(map[string]any{
		"at":    map[string]any{".value": map[string]any{".sv": "timestamp"}, ".priority": 1},
		"count": map[string]any{".sv": map[string]any{"increment": 1.5}},
	})
	data := MarshalCanonical(n, true)
	assert.Equal(t, `{"at":{".priority":1,".value":{".sv":"timestamp"}},"count":{".sv":{"increment":1.5}}}`, string(data))

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.True(t, n.Equals(back))
}

func TestResolveServerValues(t *testing.T) {
	sv := ServerValues{Timestamp: 1500}
	existing := MustFromValue(map[string]any{"count": 5, "name": "x"})
	written := MustFromValue(map[string]any{
		"at":    map[string]any{".sv": "timestamp"},
		"count": map[string]any{".sv": map[string]any{"increment": 2}},
		"name":  map[string]any{".sv": map[string]any{"increment": 2}},
		"fresh": map[string]any{".sv": map[string]any{"increment": 3}},
		"plain": "y",
	})

	resolved := ResolveServerValues(written, existing, sv)
	assert.Equal(t, map[string]any{
		"at":    1500.0,
		"count": 7.0,
		"name":  2.0,
		"fresh": 3.0,
		"plain": "y",
	}, resolved.Value(false))
	assert.False(t, HasServerValues(resolved))
	assert.True(t, HasServerValues(written), "the written node is unchanged")
}

func TestResolveServerValues_Priority(t *testing.T) {
	written := NewLeafWithPriority("v", NewLeaf(ServerTimestamp()))
	resolved := ResolveServerValues(written, nil, ServerValues{Timestamp: 42})
	assert.Equal(t, 42.0, resolved.Priority().Value(false))
	assert.Equal(t, "v", resolved.Value(false))
}

func TestResolveServerValues_NothingToResolve(t *testing.T) {
	n := MustFromValue(map[string]any{"a": 1, "b": map[string]any{"c": "d"}})
	assert.Same(t, n, ResolveServerValues(n, Empty, ServerValues{Timestamp: 1}))
}

func TestGenerateServerValues(t *testing.T) {
	sv := GenerateServerValues(time.UnixMilli(1000), 500*time.Millisecond)
	assert.Equal(t, int64(1500), sv.Timestamp)
}
