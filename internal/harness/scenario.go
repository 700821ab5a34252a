package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
)

// Scenario is a scripted session against the engine. The harness plays
// the server: server data, listen answers and write acks are steps.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is a fixed session id. If empty, defaults to
	// "test-session-default".
	Session string `yaml:"session,omitempty"`

	// Now fixes the local clock, in Unix milliseconds, that timestamp
	// placeholders resolve against. Defaults to 0.
	Now int64 `yaml:"now,omitempty"`

	// Steps run in order. Each step's events are collected before the
	// next step starts.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one engine call.
type Step struct {
	// Do names the call, one of the Do* constants.
	Do string `yaml:"do"`

	Path     string         `yaml:"path,omitempty"`
	Value    any            `yaml:"value,omitempty"`
	Values   map[string]any `yaml:"values,omitempty"`
	Listener string         `yaml:"listener,omitempty"`
	Query    *QueryParams   `yaml:"query,omitempty"`
	Tag      int64          `yaml:"tag,omitempty"`
	Write    int64          `yaml:"write,omitempty"`

	// Status answers a listen or write. Defaults to "ok".
	Status string `yaml:"status,omitempty"`

	// Expect lists, per listener, the events the step must deliver, in
	// Describe form ("child_added a", "value", "cancel"). Listeners not
	// named are not checked; an empty list expects no events.
	Expect map[string][]string `yaml:"expect,omitempty"`
}

// Step kinds.
const (
	DoListen             = "listen"
	DoUnlisten           = "unlisten"
	DoSet                = "set"
	DoUpdate             = "update"
	DoAck                = "ack"
	DoServerSet          = "server_set"
	DoServerUpdate       = "server_update"
	DoListenComplete     = "listen_complete"
	DoOnDisconnectSet    = "on_disconnect_set"
	DoOnDisconnectUpdate = "on_disconnect_update"
	DoOnDisconnectCancel = "on_disconnect_cancel"
	DoDisconnect         = "disconnect"
)

// QueryParams describes a filtered query.
type QueryParams struct {
	// OrderBy is "key", "value", "priority" or a child path.
	OrderBy      string `yaml:"order_by,omitempty"`
	LimitToFirst int    `yaml:"limit_to_first,omitempty"`
	LimitToLast  int    `yaml:"limit_to_last,omitempty"`
	StartAt      *Bound `yaml:"start_at,omitempty"`
	StartAfter   *Bound `yaml:"start_after,omitempty"`
	EndAt        *Bound `yaml:"end_at,omitempty"`
	EndBefore    *Bound `yaml:"end_before,omitempty"`
	EqualTo      *Bound `yaml:"equal_to,omitempty"`
}

// Bound is a range bound: an index value and an optional key name.
type Bound struct {
	Value any    `yaml:"value"`
	Key   string `yaml:"key,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Path is the location read by "value".
	Path string `yaml:"path,omitempty"`

	// Expect is the data expected by "value", or the outcome expected by
	// "write_result": "ok", "pending" or a rejection status.
	Expect any `yaml:"expect,omitempty"`

	// Listener and Events are used by "events": every event the listener
	// received, in Describe form.
	Listener string   `yaml:"listener,omitempty"`
	Events   []string `yaml:"events,omitempty"`

	// Write is the write id checked by "write_result".
	Write int64 `yaml:"write,omitempty"`

	// Count is the number of persisted writes expected by "pending_writes".
	Count int `yaml:"count,omitempty"`

	// Listens are the server listens expected by "listens", as
	// "<query key> tag=<n>", in any order.
	Listens []string `yaml:"listens,omitempty"`
}

// Assertion types.
const (
	AssertValue         = "value"
	AssertEvents        = "events"
	AssertWriteResult   = "write_result"
	AssertPendingWrites = "pending_writes"
	AssertListens       = "listens"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	listeners := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(step, listeners); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, listeners); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, listeners map[string]bool) error {
	needsPath := true
	switch step.Do {
	case DoListen:
		if step.Listener == "" {
			return fmt.Errorf("listener is required for listen")
		}
		if listeners[step.Listener] {
			return fmt.Errorf("listener %q is already defined", step.Listener)
		}
		if step.Query != nil {
			if _, err := step.Query.Params(); err != nil {
				return err
			}
		}
		listeners[step.Listener] = true
	case DoUnlisten:
		needsPath = false
		if !listeners[step.Listener] {
			return fmt.Errorf("unlisten of unknown listener %q", step.Listener)
		}
	case DoAck:
		needsPath = false
		if step.Write <= 0 {
			return fmt.Errorf("write is required for ack")
		}
	case DoUpdate, DoServerUpdate, DoOnDisconnectUpdate:
		if step.Values == nil {
			return fmt.Errorf("values is required for %s (use an empty map for none)", step.Do)
		}
	case DoSet, DoServerSet, DoListenComplete, DoOnDisconnectSet, DoOnDisconnectCancel:
	case DoDisconnect:
		needsPath = false
	case "":
		return fmt.Errorf("do is required")
	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
	if needsPath && step.Path == "" {
		return fmt.Errorf("path is required for %s", step.Do)
	}
	for name := range step.Expect {
		if !listeners[name] {
			return fmt.Errorf("expect names unknown listener %q", name)
		}
	}
	return nil
}

func validateAssertion(a Assertion, listeners map[string]bool) error {
	switch a.Type {
	case AssertValue:
		if a.Path == "" {
			return fmt.Errorf("path is required for value")
		}
	case AssertEvents:
		if !listeners[a.Listener] {
			return fmt.Errorf("events of unknown listener %q", a.Listener)
		}
	case AssertWriteResult:
		if a.Write <= 0 {
			return fmt.Errorf("write is required for write_result")
		}
		if _, ok := a.Expect.(string); !ok {
			return fmt.Errorf("expect must be a string for write_result")
		}
	case AssertPendingWrites:
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for pending_writes")
		}
	case AssertListens:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// Params converts q to query params and validates them.
func (q *QueryParams) Params() (query.Params, error) {
	p := query.Default()
	switch q.OrderBy {
	case "":
	case "key":
		p = p.OrderByKey()
	case "value":
		p = p.OrderByValue()
	case "priority":
		p = p.OrderByPriority()
	default:
		p = p.OrderByChild(q.OrderBy)
	}
	if q.LimitToFirst != 0 {
		p = p.LimitToFirst(q.LimitToFirst)
	}
	if q.LimitToLast != 0 {
		p = p.LimitToLast(q.LimitToLast)
	}

	bounds := []struct {
		b     *Bound
		apply func(query.Params, node.Node, string) query.Params
	}{
		{q.StartAt, query.Params.StartAt},
		{q.StartAfter, query.Params.StartAfter},
		{q.EndAt, query.Params.EndAt},
		{q.EndBefore, query.Params.EndBefore},
		{q.EqualTo, query.Params.EqualTo},
	}
	for _, bound := range bounds {
		if bound.b == nil {
			continue
		}
		v, err := node.FromValue(bound.b.Value)
		if err != nil {
			return query.Params{}, fmt.Errorf("query bound: %w", err)
		}
		p = bound.apply(p, v, bound.b.Key)
	}
	if err := p.Validate(); err != nil {
		return query.Params{}, err
	}
	return p, nil
}
