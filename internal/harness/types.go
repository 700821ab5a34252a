package harness

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// TraceEntry is what one step caused: the calls the engine made to the
// server, the events listeners received and the write callbacks that ran.
type TraceEntry struct {
	Step        int      `json:"step"`
	Heading     string   `json:"heading"`
	Transport   []string `json:"transport,omitempty"`
	Events      []string `json:"events,omitempty"`
	Completions []string `json:"completions,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []TraceEntry `json:"trace"`

	// Errors contains the mismatches. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	mismatches *multierror.Error
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError records a mismatch and marks the result as failed.
func (r *Result) AddError(err error) {
	r.mismatches = multierror.Append(r.mismatches, err)
	r.Errors = append(r.Errors, err.Error())
	r.Pass = false
}

// Err returns every mismatch as one error, or nil when the scenario
// passed.
func (r *Result) Err() error {
	return r.mismatches.ErrorOrNil()
}

// FormatTrace renders a trace as text, one block per step:
//
//	scenario: optimistic_write
//	[1] listen /x$default as main
//	  -> listen /x$default tag=0
//	[2] server_set /x
//	  main: value /x 1
func FormatTrace(name string, trace []TraceEntry) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for _, entry := range trace {
		fmt.Fprintf(&buf, "[%d] %s\n", entry.Step, entry.Heading)
		for _, line := range entry.Transport {
			fmt.Fprintf(&buf, "  -> %s\n", line)
		}
		for _, line := range entry.Events {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
		for _, line := range entry.Completions {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}
	return buf.Bytes()
}
