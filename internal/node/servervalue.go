package node

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/treesync/internal/tree"
)

// ServerValueKey marks a placeholder in written data: {".sv": ...}.
const ServerValueKey = ".sv"

// Placeholder operations.
const (
	OpTimestamp = "timestamp"
	OpIncrement = "increment"
)

// ServerValue is a placeholder the server replaces when it applies a
// write: its clock, or the stored number plus Delta. Written data keeps
// placeholders for the server and the pending write log; views only ever
// see resolved values.
type ServerValue struct {
	Op    string
	Delta float64
}

// ServerTimestamp returns the placeholder for the server's clock.
func ServerTimestamp() ServerValue { return ServerValue{Op: OpTimestamp} }

// ServerIncrement returns the placeholder that adds delta to the stored
// number.
func ServerIncrement(delta float64) ServerValue {
	return ServerValue{Op: OpIncrement, Delta: delta}
}

// Value renders the placeholder as it travels on the wire.
func (sv ServerValue) Value() map[string]any {
	if sv.Op == OpIncrement {
		return map[string]any{ServerValueKey: map[string]any{OpIncrement: sv.Delta}}
	}
	return map[string]any{ServerValueKey: sv.Op}
}

func (sv ServerValue) String() string {
	if sv.Op == OpIncrement {
		return fmt.Sprintf("increment(%s)", FormatNumber(sv.Delta))
	}
	return sv.Op
}

func compareServerValues(a, b ServerValue) int {
	if a.Op != b.Op {
		if a.Op < b.Op {
			return -1
		}
		return 1
	}
	switch {
	case a.Delta < b.Delta:
		return -1
	case a.Delta > b.Delta:
		return 1
	}
	return 0
}

// serverValueFromMap parses {".sv": "timestamp"} or
// {".sv": {"increment": n}}. No other key may sit next to ".sv".
func serverValueFromMap(m map[string]any, at tree.Path) (ServerValue, error) {
	if len(m) != 1 {
		return ServerValue{}, invalidValue(at, "\".sv\" may not be combined with other keys")
	}
	switch op := m[ServerValueKey].(type) {
	case string:
		if op != OpTimestamp {
			return ServerValue{}, invalidValue(at, fmt.Sprintf("unknown server value %q", op))
		}
		return ServerTimestamp(), nil
	case map[string]any:
		raw, ok := op[OpIncrement]
		if !ok || len(op) != 1 {
			return ServerValue{}, invalidValue(at, "unknown server value operation")
		}
		delta, isNumber, err := primitive(raw, at)
		if err != nil {
			return ServerValue{}, err
		}
		f, isFloat := delta.(float64)
		if !isNumber || !isFloat {
			return ServerValue{}, invalidValue(at, "increment requires a number")
		}
		return ServerIncrement(f), nil
	}
	return ServerValue{}, invalidValue(at, "invalid server value")
}

// ServerValues is what the client knows of the server when it resolves
// placeholders locally.
type ServerValues struct {
	// Timestamp is the estimated server time in milliseconds.
	Timestamp int64
}

// GenerateServerValues estimates the server's values from the local
// time now and the measured offset of the server clock.
func GenerateServerValues(now time.Time, offset time.Duration) ServerValues {
	return ServerValues{Timestamp: now.Add(offset).UnixMilli()}
}

// HasServerValues reports whether n or its priorities hold a placeholder.
func HasServerValues(n Node) bool {
	switch t := n.(type) {
	case *Leaf:
		_, deferred := t.value.(ServerValue)
		return deferred || HasServerValues(t.priority)
	case *Children:
		if HasServerValues(t.priority) {
			return true
		}
		return t.ForEachChild(func(_ string, child Node) bool {
			return HasServerValues(child)
		})
	}
	return false
}

// ResolveServerValues replaces the placeholders in n. existing is the
// current data at n's location; increments add to the number stored
// there and start from zero otherwise. n is returned as is when it holds
// no placeholder.
func ResolveServerValues(n Node, existing Node, sv ServerValues) Node {
	if existing == nil {
		existing = Empty
	}
	switch t := n.(type) {
	case *Leaf:
		value := resolveLeafValue(t.value, existing, sv)
		priority := resolvePriority(t.priority, existing, sv)
		if value == t.value && priority == t.priority {
			return t
		}
		return &Leaf{value: value, priority: priority}
	case *Children:
		var out Node = t
		if priority := resolvePriority(t.priority, existing, sv); priority != t.priority {
			out = out.UpdatePriority(priority)
		}
		t.ForEachChild(func(key string, child Node) bool {
			resolved := ResolveServerValues(child, existing.ImmediateChild(key), sv)
			if resolved != child {
				out = out.UpdateImmediateChild(key, resolved)
			}
			return false
		})
		return out
	}
	return n
}

func resolvePriority(priority Node, existing Node, sv ServerValues) Node {
	leaf, ok := priority.(*Leaf)
	if !ok {
		return priority
	}
	value := resolveLeafValue(leaf.value, existing.ImmediateChild(tree.PriorityKey), sv)
	if value == leaf.value {
		return priority
	}
	return NewLeaf(value)
}

func resolveLeafValue(value any, existing Node, sv ServerValues) any {
	placeholder, ok := value.(ServerValue)
	if !ok {
		return value
	}
	switch placeholder.Op {
	case OpTimestamp:
		return float64(sv.Timestamp)
	case OpIncrement:
		if leaf, isLeaf := existing.(*Leaf); isLeaf {
			if current, isNumber := leaf.value.(float64); isNumber {
				sum := current + placeholder.Delta
				if !math.IsInf(sum, 0) {
					return sum
				}
			}
		}
		return placeholder.Delta
	}
	return value
}
