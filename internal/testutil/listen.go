package testutil

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/view"
)

// Listen is one listen started through a FakeListenProvider.
type Listen struct {
	Query      query.Spec
	Tag        int64
	Hash       func() string
	OnComplete func(status string) []view.Event
}

// FakeListenProvider records listens instead of talking to a server.
//
// Tests complete a listen with Complete, which runs the callback the sync
// tree registered and returns its events. Like the real transport, the
// fake never calls back on its own.
//
// Thread-safety: safe for concurrent use; callbacks run on the caller's
// goroutine.
type FakeListenProvider struct {
	mu     sync.Mutex
	active map[string]*Listen
	log    []string
}

// NewFakeListenProvider returns a provider with no listens.
func NewFakeListenProvider() *FakeListenProvider {
	return &FakeListenProvider{active: map[string]*Listen{}}
}

// StartListening implements synctree.ListenProvider.
func (f *FakeListenProvider) StartListening(q query.Spec, tag int64, hash func() string, onComplete func(status string) []view.Event) []view.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[q.Key()] = &Listen{Query: q, Tag: tag, Hash: hash, OnComplete: onComplete}
	f.log = append(f.log, fmt.Sprintf("start %s tag=%d", q.Key(), tag))
	return nil
}

// StopListening implements synctree.ListenProvider.
func (f *FakeListenProvider) StopListening(q query.Spec, tag int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, q.Key())
	f.log = append(f.log, fmt.Sprintf("stop %s tag=%d", q.Key(), tag))
}

// Active returns the query keys of the running listens, sorted.
func (f *FakeListenProvider) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.active))
	for k := range f.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Listen returns the running listen for q.
func (f *FakeListenProvider) Listen(q query.Spec) (*Listen, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.active[q.Key()]
	return l, ok
}

// Log returns every start and stop in call order, e.g.
// "start /x$default tag=0".
func (f *FakeListenProvider) Log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

// Complete finishes the listen for q with status and returns the events
// its callback produced. A failed listen is no longer active afterwards.
//
// Panics if q has no running listen (test misconfiguration).
func (f *FakeListenProvider) Complete(q query.Spec, status string) []view.Event {
	f.mu.Lock()
	l, ok := f.active[q.Key()]
	if ok && status != "ok" {
		delete(f.active, q.Key())
	}
	f.mu.Unlock()
	if !ok {
		panic("FakeListenProvider: no listen for " + q.Key())
	}
	return l.OnComplete(status)
}
