package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/store"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/view"
	"github.com/roach88/treesync/internal/write"
)

// Harness runs one scenario against a fresh engine and an in-memory
// store. The engine dispatches synchronously, so every event of a step is
// delivered before the step's Flush returns.
type Harness struct {
	engine    *engine.Engine
	store     *store.Store
	transport *recordingTransport
	events    *eventLog
	writes    *writeResults
	listeners map[string]*listener
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger     *slog.Logger
	database   string
	engineOpts []engine.Option
}

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// WithDatabase runs the scenario against the SQLite database at path
// instead of a fresh in-memory one. Pending writes left in the database
// by an earlier run are restored before the first step.
func WithDatabase(path string) Option {
	return func(c *runConfig) { c.database = path }
}

// WithEngineOptions passes extra options to the engine. They are applied
// after the harness defaults.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *runConfig) { c.engineOpts = append(c.engineOpts, opts...) }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation unless
// WithDatabase names one. Deterministic helpers ensure reproducible
// results.
//
// Execution flow:
//  1. Create fresh in-memory database and engine
//  2. Execute each step, then wait until its events were delivered
//  3. Compare each step's events with its expect clause
//  4. Evaluate assertions against the final state
//
// The returned error is reserved for scenarios that cannot run; failed
// expectations are reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		database: ":memory:",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(cfg.database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:     st,
		transport: newRecordingTransport(),
		events:    &eventLog{},
		writes:    &writeResults{results: map[int64]string{}},
		listeners: map[string]*listener{},
	}
	engineOpts := []engine.Option{
		engine.WithDispatchQueue(engine.Synchronous),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithSessionGenerator(testutil.NewFixedSessionGenerator(scenario.Session)),
		engine.WithStore(st),
		engine.WithLogger(cfg.logger),
		engine.WithTimeSource(func() time.Time { return time.UnixMilli(scenario.Now) }),
	}
	h.engine = engine.New(h.transport, append(engineOpts, cfg.engineOpts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- h.engine.Run(ctx) }()
	defer func() {
		h.engine.Stop()
		<-runDone
	}()

	if err := h.engine.Restore(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		entry, err := h.executeStep(ctx, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Do, err)
		}
		result.Trace = append(result.Trace, entry)
		for _, mismatch := range h.checkExpect(i+1, step) {
			result.AddError(mismatch)
		}
	}

	for _, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			result.AddError(err)
		}
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step) (TraceEntry, error) {
	h.transport.mark()
	h.events.mark()
	h.writes.mark()

	heading, err := h.call(step)
	if err != nil {
		return TraceEntry{}, err
	}
	if err := h.engine.Flush(ctx); err != nil {
		return TraceEntry{}, err
	}

	entry := TraceEntry{Step: n, Heading: heading}
	entry.Transport = h.transport.sinceMark()
	for _, rec := range h.events.sinceMark() {
		entry.Events = append(entry.Events, rec.listener+": "+formatEvent(rec.event))
	}
	entry.Completions = h.writes.sinceMark()
	return entry, nil
}

// call runs the engine call of step and returns the trace heading.
func (h *Harness) call(step Step) (string, error) {
	e := h.engine
	status := step.Status
	if status == "" {
		status = engine.StatusOK
	}
	tagged := func(s string) string {
		if step.Tag != 0 {
			return fmt.Sprintf("%s tag=%d", s, step.Tag)
		}
		return s
	}

	switch step.Do {
	case DoListen:
		p, err := tree.ValidatePath(step.Path)
		if err != nil {
			return "", err
		}
		params := query.Default()
		if step.Query != nil {
			if params, err = step.Query.Params(); err != nil {
				return "", err
			}
		}
		l := newListener(step.Listener, query.New(p, params), h.events)
		h.listeners[step.Listener] = l
		return fmt.Sprintf("listen %s as %s", l.query.Key(), l.name), e.Listen(l.query, l)
	case DoUnlisten:
		l, ok := h.listeners[step.Listener]
		if !ok {
			return "", fmt.Errorf("unknown listener %q", step.Listener)
		}
		return "unlisten " + l.name, e.Unlisten(l.query, l)
	case DoSet:
		w := h.writes.handle()
		id, err := e.Set(step.Path, step.Value, w.done)
		w.setID(id)
		return fmt.Sprintf("set %s write=%d", step.Path, id), err
	case DoUpdate:
		w := h.writes.handle()
		id, err := e.Update(step.Path, step.Values, w.done)
		w.setID(id)
		return fmt.Sprintf("update %s write=%d", step.Path, id), err
	case DoAck:
		return fmt.Sprintf("ack write=%d %s", step.Write, status), e.Ack(step.Write, status)
	case DoServerSet:
		return tagged("server_set " + step.Path), e.ServerOverwrite(step.Path, step.Value, step.Tag)
	case DoServerUpdate:
		return tagged("server_update " + step.Path), e.ServerMerge(step.Path, step.Values, step.Tag)
	case DoListenComplete:
		return tagged("listen_complete "+step.Path) + " " + status, e.ListenComplete(step.Path, step.Tag, status)
	case DoOnDisconnectSet:
		return "on_disconnect_set " + step.Path, e.OnDisconnectSet(step.Path, step.Value)
	case DoOnDisconnectUpdate:
		return "on_disconnect_update " + step.Path, e.OnDisconnectUpdate(step.Path, step.Values)
	case DoOnDisconnectCancel:
		return "on_disconnect_cancel " + step.Path, e.OnDisconnectCancel(step.Path)
	case DoDisconnect:
		return "disconnect", e.RunOnDisconnect()
	}
	return "", fmt.Errorf("unknown step %q", step.Do)
}

func (h *Harness) checkExpect(n int, step Step) []error {
	if len(step.Expect) == 0 {
		return nil
	}
	names := make([]string, 0, len(step.Expect))
	for name := range step.Expect {
		names = append(names, name)
	}
	sort.Strings(names)

	stepEvents := h.events.sinceMark()
	var errs []error
	for _, name := range names {
		var got []view.Event
		for _, rec := range stepEvents {
			if rec.listener == name {
				got = append(got, rec.event)
			}
		}
		want := step.Expect[name]
		if described := testutil.Describe(got); !slices.Equal(described, want) {
			errs = append(errs, &AssertionError{
				Type:     fmt.Sprintf("step %d (%s) events of %s", n, step.Do, name),
				Expected: fmt.Sprintf("%q", want),
				Actual:   fmt.Sprintf("%q", described),
			})
		}
	}
	return errs
}

// formatEvent renders an event with its data in canonical JSON.
func formatEvent(ev view.Event) string {
	if ev.Type == view.Cancel {
		return ev.String()
	}
	return ev.String() + " " + string(node.MarshalCanonical(ev.Snapshot.Node(), false))
}

// listener is a named event registration. Every delivered event goes to
// the shared log so cross-listener order is kept.
type listener struct {
	id    string
	name  string
	query query.Spec
	log   *eventLog
}

func newListener(name string, q query.Spec, log *eventLog) *listener {
	return &listener{id: uuid.NewString(), name: name, query: q, log: log}
}

func (l *listener) ID() string                     { return l.id }
func (l *listener) RespondsTo(view.EventType) bool { return true }
func (l *listener) Deliver(ev view.Event)          { l.log.add(l.name, ev) }

type loggedEvent struct {
	listener string
	event    view.Event
}

// eventLog keeps delivered events in delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []loggedEvent
	from   int
}

func (l *eventLog) add(name string, ev view.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, loggedEvent{listener: name, event: ev})
}

func (l *eventLog) mark() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.from = len(l.events)
}

func (l *eventLog) sinceMark() []loggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]loggedEvent(nil), l.events[l.from:]...)
}

func (l *eventLog) forListener(name string) []view.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []view.Event
	for _, rec := range l.events {
		if rec.listener == name {
			out = append(out, rec.event)
		}
	}
	return out
}

// writeResults records write completion callbacks.
type writeResults struct {
	mu      sync.Mutex
	results map[int64]string
	lines   []string
	from    int
}

// writeHandle learns its write id after the write was enqueued; the
// callback cannot run before the server answers in a later step.
type writeHandle struct {
	results *writeResults
	id      int64
}

func (w *writeResults) handle() *writeHandle {
	return &writeHandle{results: w}
}

func (h *writeHandle) setID(id int64) {
	h.results.mu.Lock()
	defer h.results.mu.Unlock()
	h.id = id
}

func (h *writeHandle) done(err error) {
	w := h.results
	w.mu.Lock()
	defer w.mu.Unlock()
	outcome := engine.StatusOK
	var we *engine.WriteError
	if errors.As(err, &we) {
		outcome = we.Code
	} else if err != nil {
		outcome = err.Error()
	}
	if h.id != 0 {
		w.results[h.id] = outcome
	}
	w.lines = append(w.lines, fmt.Sprintf("write %d: %s", h.id, outcome))
}

func (w *writeResults) result(id int64) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.results[id]
	return r, ok
}

func (w *writeResults) mark() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.from = len(w.lines)
}

func (w *writeResults) sinceMark() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines[w.from:]...)
}

// recordingTransport stands in for the server connection. It logs every
// call and tracks the active listens.
type recordingTransport struct {
	mu     sync.Mutex
	lines  []string
	from   int
	active map[string]bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{active: map[string]bool{}}
}

func listenName(q query.Spec, tag int64) string {
	return fmt.Sprintf("%s tag=%d", q.Key(), tag)
}

func (r *recordingTransport) Listen(q query.Spec, tag int64, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[listenName(q, tag)] = true
	r.lines = append(r.lines, "listen "+listenName(q, tag))
}

func (r *recordingTransport) Unlisten(q query.Spec, tag int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, listenName(q, tag))
	r.lines = append(r.lines, "unlisten "+listenName(q, tag))
}

func (r *recordingTransport) SendWrite(rec write.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind := "update"
	if rec.IsOverwrite() {
		kind = "set"
	}
	r.lines = append(r.lines, fmt.Sprintf("write %d %s %s", rec.ID, kind, rec.Path))
}

func (r *recordingTransport) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for k := range r.active {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *recordingTransport) mark() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.from = len(r.lines)
}

func (r *recordingTransport) sinceMark() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines[r.from:]...)
}
