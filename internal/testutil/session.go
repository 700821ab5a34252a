package testutil

// FixedSessionGenerator generates the same session id every time.
//
// Persisted writes are stamped with the engine session id, so a fixed id
// makes store dumps and golden traces byte-identical across runs.
//
// Thread-safety: FixedSessionGenerator is stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator returning id.
//
// The id is typically set in the scenario YAML:
//
//	session: "test-session-1"
//
// If id is empty, Generate() returns "test-session-default".
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = "test-session-default"
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed session id.
//
// Implements engine.SessionGenerator interface.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
