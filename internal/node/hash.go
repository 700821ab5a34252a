package node

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strings"
)

// HashVersion selects the textual representation that is hashed.
type HashVersion int

const (
	// HashVersionV1 writes strings raw.
	HashVersionV1 HashVersion = 1
	// HashVersionV2 quotes strings and escapes backslashes and quotes.
	// It is the canonical version.
	HashVersionV2 HashVersion = 2
)

// HashOf returns the data hash of n in the given version.
func HashOf(n Node, v HashVersion) string {
	if v == HashVersionV1 {
		return n.HashV1()
	}
	return n.Hash()
}

// HashRepresentation returns the text that is hashed for n. Empty nodes
// have an empty representation.
func HashRepresentation(n Node, v HashVersion) string {
	switch t := n.(type) {
	case *Leaf:
		return leafRepresentation(t, v)
	case *Children:
		return childrenRepresentation(t, v)
	}
	return ""
}

func hashLeaf(l *Leaf, v HashVersion) string {
	return sha1Base64(leafRepresentation(l, v))
}

func hashChildren(c *Children, v HashVersion) string {
	rep := childrenRepresentation(c, v)
	if rep == "" {
		return ""
	}
	return sha1Base64(rep)
}

func leafRepresentation(l *Leaf, v HashVersion) string {
	var b strings.Builder
	writePriority(&b, l.priority, v)
	writeTyped(&b, l.value, v)
	return b.String()
}

func childrenRepresentation(c *Children, v HashVersion) string {
	var b strings.Builder
	writePriority(&b, c.priority, v)
	for _, child := range byPriority(c) {
		h := HashOf(child.Node, v)
		if h == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(child.Name)
		b.WriteByte(':')
		b.WriteString(h)
	}
	return b.String()
}

func writePriority(b *strings.Builder, priority Node, v HashVersion) {
	leaf, ok := priority.(*Leaf)
	if !ok {
		return
	}
	b.WriteString("priority:")
	writeTyped(b, leaf.value, v)
	b.WriteByte(':')
}

func writeTyped(b *strings.Builder, value any, v HashVersion) {
	switch val := value.(type) {
	case bool:
		b.WriteString("boolean:")
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case float64:
		b.WriteString("number:")
		b.WriteString(doubleToHex(val))
	case string:
		b.WriteString("string:")
		if v == HashVersionV1 {
			b.WriteString(val)
		} else {
			b.WriteString(quoteV2(val))
		}
	case ServerValue:
		// Placeholders are resolved before data reaches a view, so only
		// unresolved write payloads hash this way.
		b.WriteString("server:")
		b.WriteString(val.String())
	}
}

// doubleToHex renders the IEEE-754 bits of f, big-endian, as 16 lowercase
// hex digits.
func doubleToHex(f float64) string {
	return fmt.Sprintf("%016x", math.Float64bits(f))
}

func quoteV2(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func sha1Base64(s string) string {
	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// byPriority returns the children of c in priority order.
func byPriority(c *Children) []NamedNode {
	children := ChildrenOf(c)
	sort.SliceStable(children, func(i, j int) bool {
		return PriorityIndex.Compare(children[i], children[j]) < 0
	})
	return children
}
