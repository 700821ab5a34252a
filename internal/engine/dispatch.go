package engine

import (
	"context"
	"sync"

	"github.com/roach88/treesync/internal/view"
)

// DispatchQueue runs listener callbacks. Implementations must run
// functions in submission order.
type DispatchQueue interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a function to DispatchQueue.
type DispatchFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatchFunc) Dispatch(fn func()) { f(fn) }

// Synchronous runs callbacks on the engine goroutine. Tests use it to
// observe events as soon as a task completes.
var Synchronous DispatchQueue = DispatchFunc(func(fn func()) { fn() })

// serialQueue is the default DispatchQueue: one goroutine draining a
// queue, so slow listeners never block the run loop.
type serialQueue struct {
	q    *queue[func()]
	done chan struct{}
}

func newSerialQueue() *serialQueue {
	return &serialQueue{q: newQueue[func()](), done: make(chan struct{})}
}

func (s *serialQueue) Dispatch(fn func()) { s.q.Enqueue(fn) }

// run drains the queue until stop is called.
func (s *serialQueue) run() {
	defer close(s.done)
	_ = drain(context.Background(), s.q, func(fn func()) { fn() })
}

// stop closes the queue and waits for queued callbacks to finish.
func (s *serialQueue) stop() {
	s.q.Close()
	<-s.done
}

// Dispatcher hands event batches to a DispatchQueue.
//
// A registration stays active on a query from Listen until Unlisten or a
// cancel. Events are checked against the active set when they are
// delivered, so events already queued for a removed (query, registration)
// pair are dropped even while the registration still listens elsewhere.
// Cancel events are always delivered.
type Dispatcher struct {
	queue DispatchQueue

	mu     sync.Mutex
	active map[activeKey]int
}

type activeKey struct {
	query string
	id    string
}

// NewDispatcher returns a dispatcher that runs callbacks on queue.
func NewDispatcher(queue DispatchQueue) *Dispatcher {
	return &Dispatcher{queue: queue, active: map[activeKey]int{}}
}

// Register marks the registration id active on the query with key
// queryKey. Registrations are counted: adding the same registration to a
// query twice needs two Unregister calls.
func (d *Dispatcher) Register(queryKey, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[activeKey{queryKey, id}]++
}

// Unregister undoes one Register.
func (d *Dispatcher) Unregister(queryKey, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := activeKey{queryKey, id}
	if d.active[k] <= 1 {
		delete(d.active, k)
		return
	}
	d.active[k]--
}

// IsActive reports whether the registration with id receives events of
// the query with key queryKey.
func (d *Dispatcher) IsActive(queryKey, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active[activeKey{queryKey, id}] > 0
}

// Dispatch delivers events in order, then runs after. Nothing is queued
// for an empty batch.
func (d *Dispatcher) Dispatch(events []view.Event, after ...func()) {
	if len(events) == 0 && len(after) == 0 {
		return
	}
	d.queue.Dispatch(func() {
		for _, ev := range events {
			if ev.Type != view.Cancel && !d.IsActive(ev.Query, ev.Registration.ID()) {
				continue
			}
			ev.Registration.Deliver(ev)
		}
		for _, fn := range after {
			fn()
		}
	})
}
