package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/testutil"
)

// AssertionError is returned when an expectation fails.
type AssertionError struct {
	Type     string // What was checked
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// evaluate checks one assertion against the final state.
func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertValue:
		return h.assertValue(ctx, a)
	case AssertEvents:
		got := testutil.Describe(h.events.forListener(a.Listener))
		if !slices.Equal(got, a.Events) {
			return &AssertionError{
				Type:     "events of " + a.Listener,
				Expected: fmt.Sprintf("%q", a.Events),
				Actual:   fmt.Sprintf("%q", got),
			}
		}
	case AssertWriteResult:
		want, _ := a.Expect.(string)
		got, ok := h.writes.result(a.Write)
		if !ok {
			got = "pending"
		}
		if got != want {
			return &AssertionError{
				Type:     fmt.Sprintf("result of write %d", a.Write),
				Expected: want,
				Actual:   got,
			}
		}
	case AssertPendingWrites:
		records, err := h.store.LoadUserWrites(ctx)
		if err != nil {
			return fmt.Errorf("pending_writes: %w", err)
		}
		if len(records) != a.Count {
			return &AssertionError{
				Type:     "pending writes",
				Expected: fmt.Sprintf("%d", a.Count),
				Actual:   fmt.Sprintf("%d", len(records)),
			}
		}
	case AssertListens:
		want := append([]string(nil), a.Listens...)
		sort.Strings(want)
		got := h.transport.Active()
		if !slices.Equal(got, want) {
			return &AssertionError{
				Type:     "active listens",
				Expected: fmt.Sprintf("%q", want),
				Actual:   fmt.Sprintf("%q", got),
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// assertValue compares the data at a.Path, pending writes included, with
// a.Expect. Unknown data only matches a missing expect value.
func (h *Harness) assertValue(ctx context.Context, a Assertion) error {
	want, err := node.FromValue(a.Expect)
	if err != nil {
		return fmt.Errorf("value %s: %w", a.Path, err)
	}
	got, err := h.engine.Get(ctx, a.Path)
	if err != nil {
		return fmt.Errorf("value %s: %w", a.Path, err)
	}

	wantText := string(node.MarshalCanonical(want, true))
	gotText := "unknown"
	if got != nil {
		gotText = string(node.MarshalCanonical(got, true))
	}
	if got == nil && want.IsEmpty() {
		return nil
	}
	if gotText != wantText {
		return &AssertionError{
			Type:     "value at " + a.Path,
			Expected: wantText,
			Actual:   gotText,
		}
	}
	return nil
}
