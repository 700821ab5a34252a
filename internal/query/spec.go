package query

import (
	"github.com/roach88/treesync/internal/tree"
)

// Spec identifies a view: a location plus the parameters observing it.
type Spec struct {
	Path   tree.Path
	Params Params
}

// DefaultSpec returns the unfiltered query at path.
func DefaultSpec(path tree.Path) Spec {
	return Spec{Path: path, Params: Default()}
}

// New returns the spec for params at path.
func New(path tree.Path, params Params) Spec {
	return Spec{Path: path, Params: params}
}

// Identifier names the params; it is DefaultIdentifier for the default
// query.
func (s Spec) Identifier() string { return s.Params.Identifier() }

// Key is unique per (path, params) and is used to key listens and tags.
func (s Spec) Key() string { return s.Path.String() + "$" + s.Identifier() }

// LoadsAllData reports whether the view observes the whole location.
func (s Spec) LoadsAllData() bool { return s.Params.LoadsAllData() }

// IsDefault reports whether the spec is the default query.
func (s Spec) IsDefault() bool { return s.Params.IsDefault() }

// Default returns the default query at the same path. A query that loads
// all data is served by the default view regardless of its ordering.
func (s Spec) Default() Spec { return DefaultSpec(s.Path) }

func (s Spec) String() string { return s.Key() }
