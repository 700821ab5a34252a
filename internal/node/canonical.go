package node

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/treesync/internal/tree"
)

// MarshalCanonical renders n as deterministic JSON for traces and
// command output.
//
// Differences from json.Marshal of n.Value:
//  1. Object members appear in key order (integer keys first)
//  2. Children are always objects, never arrays
//  3. No HTML escaping
//  4. Strings are NFC normalized
//  5. Numbers use the shortest round-trip form ("1", "0.5", "1e+21")
//
// With export set, priorities are included as ".priority" members and
// leaves with a priority become {".priority":p,".value":v}.
func MarshalCanonical(n Node, export bool) []byte {
	var buf bytes.Buffer
	writeCanonical(&buf, n, export)
	return buf.Bytes()
}

func writeCanonical(buf *bytes.Buffer, n Node, export bool) {
	switch t := n.(type) {
	case *Leaf:
		if export && !t.priority.IsEmpty() {
			buf.WriteString(`{".priority":`)
			writeCanonical(buf, t.priority, false)
			buf.WriteString(`,".value":`)
			writeCanonicalScalar(buf, t.value)
			buf.WriteByte('}')
			return
		}
		writeCanonicalScalar(buf, t.value)
	case *Children:
		entries := ChildrenOf(t)
		if export && !t.priority.IsEmpty() {
			entries = append(entries, NamedNode{Name: tree.PriorityKey, Node: t.priority})
			sort.SliceStable(entries, func(i, j int) bool {
				return tree.CompareKeys(entries[i].Name, entries[j].Name) < 0
			})
		}
		buf.WriteByte('{')
		for i, e := range entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, e.Name)
			buf.WriteByte(':')
			writeCanonical(buf, e.Node, export && e.Name != tree.PriorityKey)
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
}

func writeCanonicalScalar(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case float64:
		buf.WriteString(FormatNumber(val))
	case string:
		writeCanonicalString(buf, val)
	case ServerValue:
		buf.WriteString(`{".sv":`)
		if val.Op == OpIncrement {
			buf.WriteString(`{"increment":`)
			buf.WriteString(FormatNumber(val.Delta))
			buf.WriteByte('}')
		} else {
			writeCanonicalString(buf, val.Op)
		}
		buf.WriteByte('}')
	}
}

func writeCanonicalString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(norm.NFC.String(s))
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
}

// FormatNumber renders f the way JavaScript prints numbers: plain decimal
// between 1e-6 and 1e21, exponent form outside that range.
func FormatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	digits := strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + digits
}
