package node

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/tree"
)

func TestNode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"null", `null`},
		{"bool", `true`},
		{"number", `3.25`},
		{"string", `"hello"`},
		{"object", `{"a":1,"b":{"c":"x","d":false}}`},
		{"array", `[1,"two",{"three":3}]`},
		{"sparse array", `{"0":"a","2":"c"}`},
		{"mixed keys", `{"1":1,"a":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var want any
			require.NoError(t, json.Unmarshal([]byte(tt.json), &want))

			n, err := FromJSON([]byte(tt.json))
			require.NoError(t, err)
			got := n.Value(false)
			if tt.name == "sparse array" {
				want = []any{"a", nil, "c"}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNode_EmptyChildrenAreDropped(t *testing.T) {
	n := MustFromValue(map[string]any{"a": map[string]any{}, "b": nil, "c": 1})
	assert.Equal(t, 1, n.NumChildren())
	assert.False(t, n.HasChild("a"))

	assert.True(t, MustFromValue(map[string]any{"a": nil}).IsEmpty())
	assert.True(t, MustFromValue(map[string]any{"x": map[string]any{}, ".priority": 5}).IsEmpty(),
		"an empty node never carries a priority")
}

func TestNode_IntegersBecomeFloats(t *testing.T) {
	n := MustFromValue(map[string]any{"i": 5, "u": uint8(7), "n": json.Number("1.5")})
	assert.Equal(t, map[string]any{"i": 5.0, "n": 1.5, "u": 7.0}, n.Value(false))
}

func TestNode_ExportFormat(t *testing.T) {
	n := MustFromValue(map[string]any{
		".priority": "p",
		"a":         map[string]any{".value": 1, ".priority": 2},
		"b":         true,
	})
	assert.Equal(t, "p", n.Priority().Value(false))
	assert.Equal(t, 2.0, n.ImmediateChild("a").Priority().Value(false))

	want := map[string]any{
		".priority": "p",
		"a":         map[string]any{".value": 1.0, ".priority": 2.0},
		"b":         true,
	}
	assert.Equal(t, want, n.Value(true))
	assert.Equal(t, map[string]any{"a": 1.0, "b": true}, n.Value(false))
}

func TestNode_UpdateChild(t *testing.T) {
	n := MustFromValue(map[string]any{"a": map[string]any{"b": 1}})

	updated := n.UpdateChild(tree.ParsePath("/a/c"), NewLeaf("x"))
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1.0, "c": "x"}}, updated.Value(false))
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1.0}}, n.Value(false), "receiver unchanged")

	removed := updated.UpdateChild(tree.ParsePath("/a/b"), Empty).UpdateChild(tree.ParsePath("/a/c"), Empty)
	assert.True(t, removed.IsEmpty(), "removing the last value removes the parent")

	leaf := NewLeaf(1.0)
	assert.Same(t, leaf, leaf.UpdateChild(tree.ParsePath("/x"), Empty))
	replaced := leaf.UpdateChild(tree.ParsePath("/x/y"), NewLeaf(true))
	assert.Equal(t, map[string]any{"x": map[string]any{"y": true}}, replaced.Value(false))

	withPriority := n.UpdateChild(tree.ParsePath("/a/.priority"), NewLeaf(3.0))
	assert.Equal(t, 3.0, withPriority.Child(tree.ParsePath("/a/.priority")).Value(false))
	assert.Panics(t, func() { n.UpdateChild(tree.ParsePath("/.priority/x"), NewLeaf(1.0)) })
}

func TestNode_EmptyIgnoresPriority(t *testing.T) {
	assert.True(t, Empty.UpdatePriority(NewLeaf(1.0)).IsEmpty())
	assert.True(t, Empty.UpdateImmediateChild(tree.PriorityKey, NewLeaf(1.0)).IsEmpty())
	n := MustFromValue(map[string]any{"a": 1}).UpdatePriority(NewLeaf("p"))
	assert.True(t, n.UpdateImmediateChild("a", Empty).Priority().IsEmpty())
}

func TestNode_Equals(t *testing.T) {
	a := MustFromValue(map[string]any{"x": 1, "y": map[string]any{"z": "q"}})
	b := MustFromValue(map[string]any{"y": map[string]any{"z": "q"}, "x": 1.0})
	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(b.UpdatePriority(NewLeaf(1.0))))
	assert.False(t, a.Equals(Empty))
	assert.True(t, Empty.Equals(MustFromValue(nil)))
	assert.False(t, NewLeaf(1.0).Equals(NewLeaf("1")))
}

func TestCompare(t *testing.T) {
	ordered := []Node{
		Empty,
		NewLeaf(false),
		NewLeaf(true),
		NewLeaf(-10.0),
		NewLeaf(2.0),
		NewLeaf("10"),
		NewLeaf("a"),
		MustFromValue(map[string]any{"a": 1}),
		Max,
	}
	for i := range ordered {
		for j := range ordered {
			got := Compare(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Negative(t, got, "%d < %d", i, j)
			case i > j:
				assert.Positive(t, got, "%d > %d", i, j)
			default:
				assert.Zero(t, got)
			}
		}
	}
	assert.Zero(t, Compare(MustFromValue(map[string]any{"a": 1}), MustFromValue(map[string]any{"b": 2})))
}

func TestFromValue_Validation(t *testing.T) {
	tests := []struct {
		name  string
		value any
		code  tree.ValidationErrorCode
	}{
		{"bad key", map[string]any{"a.b": 1}, tree.ErrCodeInvalidKey},
		{"slash key", map[string]any{"a/b": 1}, tree.ErrCodeInvalidKey},
		{"nan", math.NaN(), tree.ErrCodeInvalidValue},
		{"inf", map[string]any{"a": math.Inf(1)}, tree.ErrCodeInvalidValue},
		{"bool priority", map[string]any{"a": 1, ".priority": true}, tree.ErrCodeInvalidPriority},
		{"object priority", map[string]any{"a": 1, ".priority": map[string]any{"x": 1}}, tree.ErrCodeInvalidPriority},
		{"value with siblings", map[string]any{".value": 1, "b": 2}, tree.ErrCodeInvalidValue},
		{"server value", map[string]any{".sv": "timestamp"}, tree.ErrCodeInvalidValue},
		{"unsupported", struct{}{}, tree.ErrCodeInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromValue(tt.value)
			require.Error(t, err)
			assert.True(t, tree.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestFromValue_ErrorPath(t *testing.T) {
	_, err := FromValue(map[string]any{"users": map[string]any{"alice": map[string]any{"bad#": 1}}})
	require.Error(t, err)
	var ve *tree.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "/users/alice", ve.Path)
}

func TestFromValue_MaxDepth(t *testing.T) {
	var v any = "leaf"
	for i := 0; i < MaxDepth+1; i++ {
		v = map[string]any{"n": v}
	}
	_, err := FromValue(v)
	require.Error(t, err)
	assert.True(t, tree.HasCode(err, tree.ErrCodeMaxDepth))
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte(`{"a":`))
	require.Error(t, err)
	assert.True(t, tree.HasCode(err, tree.ErrCodeInvalidValue))
}

func TestHash(t *testing.T) {
	tests := []struct {
		name string
		node Node
		v1   string
		v2   string
	}{
		{"empty", Empty, "", ""},
		{"number", NewLeaf(1.0), "YPVfR2bXt/lcDjiQZ8pOkAd3qkQ=", "YPVfR2bXt/lcDjiQZ8pOkAd3qkQ="},
		{"bool", NewLeaf(true), "E5z61QM0lN/U2WsOnusszCTkR8M=", "E5z61QM0lN/U2WsOnusszCTkR8M="},
		{"string", NewLeaf("a"), "eMfSk0nU+CieTkCbO5r7cKNp7qU=", "piCHJhBI0KNZj5OSqwR97doXPgs="},
		{"quoted string", NewLeaf(`say "hi"`), "RYqebVtjJE2aQi4M+YjcvdHQh/0=", "UbrMH0Xc7YmgMDN4ER+4DtbfTeE="},
		{"leaf priority", NewLeafWithPriority(1.0, NewLeaf("p")), "", "G0XAwj6BRvyhM5nI0H2Jwd78Ds0="},
		{
			"children",
			MustFromValue(map[string]any{"a": 1, "b": "x"}),
			"",
			"6SynFoiqloJwCSIYY/hrz7x9OnY=",
		},
		{
			"children priority",
			MustFromValue(map[string]any{"a": 1, "b": "x", ".priority": 2}),
			"",
			"WuVEtSRxqvtvBL8X3vU27ppFpJg=",
		},
		{
			"priority order",
			MustFromValue(map[string]any{
				"a": map[string]any{".value": 1, ".priority": 2},
				"b": map[string]any{".value": 1, ".priority": 1},
			}),
			"",
			"Hbshog8epOUNdSPDO3e8VIoAsfw=",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.v2, tt.node.Hash())
			assert.Equal(t, tt.v2, HashOf(tt.node, HashVersionV2))
			if tt.v1 != "" || tt.name == "empty" {
				assert.Equal(t, tt.v1, tt.node.HashV1())
			}
		})
	}
}

func TestHashRepresentation(t *testing.T) {
	assert.Equal(t, "number:3ff0000000000000", HashRepresentation(NewLeaf(1.0), HashVersionV2))
	assert.Equal(t, `priority:string:"p":string:"v"`, HashRepresentation(NewLeafWithPriority("v", NewLeaf("p")), HashVersionV2))
	assert.Equal(t, `priority:string:p:string:v`, HashRepresentation(NewLeafWithPriority("v", NewLeaf("p")), HashVersionV1))
	assert.Equal(t, `string:"a\\b"`, HashRepresentation(NewLeaf(`a\b`), HashVersionV2))

	rep := HashRepresentation(MustFromValue(map[string]any{"a": 1, "b": nil}), HashVersionV2)
	assert.True(t, strings.HasPrefix(rep, ":a:"))
	assert.NotContains(t, rep, ":b:")
}

func TestMarshalCanonical(t *testing.T) {
	n := MustFromValue(map[string]any{
		"b":  "<tag>&",
		"a":  0.5,
		"10": true,
		"2":  map[string]any{".value": 1e21, ".priority": 3},
		"e":  "é",
	})
	assert.Equal(t, `{"2":1e+21,"10":true,"a":0.5,"b":"<tag>&","e":"é"}`, string(MarshalCanonical(n, false)))
	assert.Equal(t,
		`{"2":{".priority":3,".value":1e+21},"10":true,"a":0.5,"b":"<tag>&","e":"é"}`,
		string(MarshalCanonical(n, true)))
	assert.Equal(t, "null", string(MarshalCanonical(Empty, true)))

	withPriority := MustFromValue(map[string]any{"a": 1, ".priority": "p"})
	assert.Equal(t, `{".priority":"p","a":1}`, string(MarshalCanonical(withPriority, true)))
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		0:        "0",
		1:        "1",
		-2.5:     "-2.5",
		1e21:     "1e+21",
		1e-7:     "1e-7",
		123456.0: "123456",
		0.000001: "0.000001",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatNumber(in))
	}
}
