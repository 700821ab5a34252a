package testutil

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/treesync/internal/view"
)

// Recorder is an EventRegistration that keeps every delivered event.
//
// Thread-safety: Deliver may run on a dispatch goroutine while the test
// goroutine reads Events; all methods lock.
type Recorder struct {
	id    string
	types map[view.EventType]bool

	mu     sync.Mutex
	events []view.Event
}

// NewRecorder returns a recorder for the given event types, or for every
// type when none is given. Cancel events are always recorded.
func NewRecorder(types ...view.EventType) *Recorder {
	if len(types) == 0 {
		types = []view.EventType{view.ChildRemoved, view.ChildAdded, view.ChildChanged, view.ChildMoved, view.Value}
	}
	set := map[view.EventType]bool{view.Cancel: true}
	for _, t := range types {
		set[t] = true
	}
	return &Recorder{id: uuid.NewString(), types: set}
}

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) RespondsTo(t view.EventType) bool { return r.types[t] }

func (r *Recorder) Deliver(ev view.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the delivered events.
func (r *Recorder) Events() []view.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]view.Event(nil), r.events...)
}

// Describe returns the delivered events in Describe form.
func (r *Recorder) Describe() []string {
	return Describe(r.Events())
}

// Reset forgets the delivered events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Describe renders events compactly: "value" and "cancel" alone, child
// events with the child key, e.g. "child_added c".
func Describe(events []view.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		s := ev.Type.String()
		if ev.Type != view.Value && ev.Type != view.Cancel {
			s += " " + ev.Snapshot.Key()
		}
		out = append(out, s)
	}
	return out
}

// Deliver hands each event to its registration, the way the engine
// dispatcher does on its own goroutine.
func Deliver(events []view.Event) {
	for _, ev := range events {
		ev.Registration.Deliver(ev)
	}
}
