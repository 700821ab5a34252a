package tree

import (
	"strings"
)

// Path is an immutable sequence of non-empty key segments. The zero value
// is the root path "/".
type Path struct {
	segments []string
}

// Root returns the empty path.
func Root() Path {
	return Path{}
}

// ParsePath splits s on "/" and drops empty segments. It performs no
// validation; use ValidatePath for user input.
func ParsePath(s string) Path {
	if s == "" || s == "/" {
		return Path{}
	}
	parts := strings.Split(s, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	if len(segs) == 0 {
		return Path{}
	}
	return Path{segments: segs}
}

// NewPath builds a path from segments. Empty segments are skipped and
// segments containing "/" are split.
func NewPath(segments ...string) Path {
	return ParsePath(strings.Join(segments, "/"))
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// IsEmpty reports whether p is the root path.
func (p Path) IsEmpty() bool {
	return len(p.segments) == 0
}

// Front returns the first segment, or "" for the root path.
func (p Path) Front() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[0]
}

// Back returns the last segment, or "" for the root path.
func (p Path) Back() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// PopFront returns the path without its first segment.
func (p Path) PopFront() Path {
	if len(p.segments) <= 1 {
		return Path{}
	}
	return Path{segments: p.segments[1:]}
}

// Parent returns the path without its last segment. The parent of the
// root is the root.
func (p Path) Parent() Path {
	if len(p.segments) <= 1 {
		return Path{}
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

// Child returns p extended by one or more segments given as a relative
// path string.
func (p Path) Child(segment string) Path {
	return p.ChildPath(ParsePath(segment))
}

// ChildPath returns p extended by other.
func (p Path) ChildPath(other Path) Path {
	if other.IsEmpty() {
		return p
	}
	if p.IsEmpty() {
		return other
	}
	segs := make([]string, 0, len(p.segments)+len(other.segments))
	segs = append(segs, p.segments...)
	segs = append(segs, other.segments...)
	return Path{segments: segs}
}

// Contains reports whether p is an ancestor of, or equal to, other.
func (p Path) Contains(other Path) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(other Path) bool {
	return len(p.segments) == len(other.segments) && p.Contains(other)
}

// String renders the path with a leading slash.
func (p Path) String() string {
	if len(p.segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.segments, "/")
}

// RelativePath returns inner expressed relative to outer. It panics when
// outer does not contain inner.
func RelativePath(outer, inner Path) Path {
	if !outer.Contains(inner) {
		panic("tree: RelativePath: " + inner.String() + " is not contained in " + outer.String())
	}
	if len(outer.segments) == len(inner.segments) {
		return Path{}
	}
	return Path{segments: inner.segments[len(outer.segments):]}
}

// ComparePaths orders paths segment by segment using CompareKeys; a prefix
// sorts before any longer path.
func ComparePaths(a, b Path) int {
	n := min(len(a.segments), len(b.segments))
	for i := 0; i < n; i++ {
		if c := CompareKeys(a.segments[i], b.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.segments) < len(b.segments):
		return -1
	case len(a.segments) > len(b.segments):
		return 1
	default:
		return 0
	}
}
