package write

import (
	"sort"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
)

// Record is one pending user write. Exactly one of Overwrite and Merge is
// set.
type Record struct {
	ID   int64
	Path tree.Path

	// Overwrite replaces the node at Path. Nil for merges.
	Overwrite node.Node

	// Merge holds the changed children relative to Path.
	Merge CompoundWrite

	// Visible is false for hidden writes, which only take part in event
	// cache calculations that ask for them.
	Visible bool
}

// IsOverwrite reports whether the record replaces a whole subtree.
func (r Record) IsOverwrite() bool {
	return r.Overwrite != nil
}

// ContainsPath reports whether the write determines data at or above p.
func (r Record) ContainsPath(p tree.Path) bool {
	if r.IsOverwrite() {
		return r.Path.Contains(p)
	}
	found := false
	r.Merge.Foreach(func(rel tree.Path, _ node.Node) {
		if r.Path.ChildPath(rel).Contains(p) {
			found = true
		}
	})
	return found
}

// MergePaths returns the absolute paths changed by a merge record.
func (r Record) MergePaths() []tree.Path {
	var out []tree.Path
	r.Merge.Foreach(func(rel tree.Path, _ node.Node) {
		out = append(out, r.Path.ChildPath(rel))
	})
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateMerge checks that no key of a merge is an ancestor of another
// and that every key is a valid relative path.
func ValidateMerge(updates map[string]node.Node) error {
	paths := make([]tree.Path, 0, len(updates))
	for _, k := range sortedKeys(updates) {
		p, err := tree.ValidatePath(k)
		if err != nil {
			return err
		}
		if p.IsEmpty() {
			return &tree.ValidationError{
				Code:    tree.ErrCodeInvalidPath,
				Message: "merge keys must not be empty",
				Path:    k,
			}
		}
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return tree.ComparePaths(paths[i], paths[j]) < 0 })
	for i := 1; i < len(paths); i++ {
		if paths[i-1].Contains(paths[i]) {
			return &tree.ValidationError{
				Code:    tree.ErrCodeOverlappingMerge,
				Message: "merge key " + paths[i-1].String() + " is an ancestor of " + paths[i].String(),
				Path:    paths[i].String(),
			}
		}
	}
	return nil
}
