package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/synctree"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/view"
	"github.com/roach88/treesync/internal/write"
)

// StatusOK is the status of a successful listen or write.
const StatusOK = synctree.StatusOK

// Transport carries listens and writes to the server. Its methods are
// called from the run loop and must not block; answers come back through
// Engine.Ack, Engine.ServerOverwrite, Engine.ServerMerge and
// Engine.ListenComplete.
type Transport interface {
	Listen(q query.Spec, tag int64, hash string)
	Unlisten(q query.Spec, tag int64)
	SendWrite(rec write.Record)
}

// NopTransport drops everything. Used when the caller plays the server
// itself, as scenarios do.
type NopTransport struct{}

func (NopTransport) Listen(query.Spec, int64, string) {}
func (NopTransport) Unlisten(query.Spec, int64)       {}
func (NopTransport) SendWrite(write.Record)           {}

// Store persists pending writes and complete server data.
// Implemented by *store.Store.
type Store interface {
	synctree.Persistence
	SaveUserWrite(ctx context.Context, session string, rec write.Record) error
	RemoveUserWrite(ctx context.Context, id int64) error
	LoadUserWrites(ctx context.Context) ([]write.Record, error)
	SaveServerCache(ctx context.Context, path tree.Path, n node.Node) error
}

// Engine is the single-writer sync engine event loop.
//
// Every API call validates its input on the caller's goroutine and then
// enqueues a task. Tasks run one at a time in Run, which owns the sync
// tree; the events of one task reach the Dispatcher as one batch.
//
// Thread-safety model:
//   - Listen, Set, Update, Ack, Server*, OnDisconnect*: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - listener callbacks run on the DispatchQueue, never on the run loop
//     unless Synchronous is configured
type Engine struct {
	logger    *slog.Logger
	transport Transport
	clock     IDSource
	session   string
	queue     *queue[task]

	dispatchQueue DispatchQueue
	dispatcher    *Dispatcher

	store              Store
	persistence        synctree.Persistence
	restoreWrites      bool
	persistServerCache bool
	hashVersion        node.HashVersion
	sessionGen         SessionGenerator
	now                func() time.Time
	serverOffset       atomic.Int64

	// enqueueMu makes taking a write id and enqueueing the write atomic,
	// so writes reach the run loop in id order.
	enqueueMu sync.Mutex

	// Owned by the run loop.
	tree         *synctree.SyncTree
	listens      map[string]func(status string) []view.Event
	completions  map[int64]func(error)
	onDisconnect *write.SparseSnapshotTree

	errMu sync.Mutex
	errs  *multierror.Error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPersistence seeds new views from p. It takes precedence over the
// server cache of a store.
func WithPersistence(p synctree.Persistence) Option {
	return func(e *Engine) { e.persistence = p }
}

// WithDispatchQueue runs listener callbacks on q instead of the engine's
// own dispatch goroutine.
func WithDispatchQueue(q DispatchQueue) Option {
	return func(e *Engine) { e.dispatchQueue = q }
}

// WithClock sets the write id source. Default: NewClock().
func WithClock(c IDSource) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSessionGenerator sets how the session id is made.
// Default: UUIDv7Generator.
func WithSessionGenerator(g SessionGenerator) Option {
	return func(e *Engine) { e.sessionGen = g }
}

// WithStore logs pending writes to s and, unless disabled, seeds views
// from and saves complete server data to s.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithWriteRestore controls whether Restore replays the store's pending
// writes. Default: true.
func WithWriteRestore(enabled bool) Option {
	return func(e *Engine) { e.restoreWrites = enabled }
}

// WithServerCachePersistence controls whether the store's server cache
// is used. Default: true.
func WithServerCachePersistence(enabled bool) Option {
	return func(e *Engine) { e.persistServerCache = enabled }
}

// WithHashVersion selects the data hash sent with listens. Default: V2.
func WithHashVersion(v node.HashVersion) Option {
	return func(e *Engine) { e.hashVersion = v }
}

// WithTimeSource sets the local clock used to estimate server time for
// timestamp placeholders. Default: time.Now.
func WithTimeSource(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine that talks to the server through transport. A nil
// transport is replaced by NopTransport.
func New(transport Transport, opts ...Option) *Engine {
	if transport == nil {
		transport = NopTransport{}
	}
	e := &Engine{
		logger:             slog.Default(),
		transport:          transport,
		clock:              NewClock(),
		queue:              newQueue[task](),
		restoreWrites:      true,
		persistServerCache: true,
		hashVersion:        node.HashVersionV2,
		sessionGen:         UUIDv7Generator{},
		now:                time.Now,
		listens:            map[string]func(string) []view.Event{},
		completions:        map[int64]func(error){},
		onDisconnect:       write.NewSparseSnapshotTree(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.dispatchQueue == nil {
		e.dispatchQueue = newSerialQueue()
	}
	e.dispatcher = NewDispatcher(e.dispatchQueue)
	e.session = e.sessionGen.Generate()
	e.logger = e.logger.With("session", e.session)

	persistence := e.persistence
	if persistence == nil && e.store != nil && e.persistServerCache {
		persistence = e.store
	}
	treeOpts := []synctree.Option{synctree.WithHashVersion(e.hashVersion)}
	if persistence != nil {
		treeOpts = append(treeOpts, synctree.WithPersistence(persistence))
	}
	e.tree = synctree.New(listenProvider{e: e}, treeOpts...)
	return e
}

// Session returns the session id stamped on persisted writes.
func (e *Engine) Session() string { return e.session }

// SetServerTimeOffset records how far the server clock runs ahead of the
// local one. Writes applied afterwards resolve timestamps with it.
func (e *Engine) SetServerTimeOffset(d time.Duration) {
	e.serverOffset.Store(int64(d))
}

func (e *Engine) serverValues() node.ServerValues {
	return node.GenerateServerValues(e.now(), time.Duration(e.serverOffset.Load()))
}

// resolve replaces the server value placeholders in n, written at p,
// against the data currently known there.
func (e *Engine) resolve(p tree.Path, n node.Node, sv node.ServerValues) node.Node {
	if !node.HasServerValues(n) {
		return n
	}
	return node.ResolveServerValues(n, e.tree.CalcCompleteEventCache(p, nil), sv)
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop() is called; tasks queued before
// Stop still run.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")
	if sq, ok := e.dispatchQueue.(*serialQueue); ok {
		go sq.run()
		defer sq.stop()
	}

	err := drain(ctx, e.queue, func(t task) { t(ctx) })
	if err != nil {
		e.logger.Info("engine stopping: context cancelled")
		return err
	}
	e.logger.Info("engine stopping: queue closed")
	return nil
}

// Stop closes the task queue, which causes Run() to return once the
// queued tasks ran.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Close stops the engine and returns the store failures seen while
// running, if any.
func (e *Engine) Close() error {
	e.Stop()
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.errs.ErrorOrNil()
}

func (e *Engine) enqueue(t task) error {
	if !e.queue.Enqueue(t) {
		return ErrClosed
	}
	return nil
}

// recordError logs a store failure. Store failures never stop the run
// loop; Close reports them.
func (e *Engine) recordError(msg string, err error, args ...any) {
	e.logger.Error(msg, append(args, "error", err)...)
	e.errMu.Lock()
	defer e.errMu.Unlock()
	e.errs = multierror.Append(e.errs, fmt.Errorf("%s: %w", msg, err))
}

// Restore replays the pending writes of earlier sessions from the store
// and resends them. It must be called before the first write.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil || !e.restoreWrites {
		return nil
	}
	records, err := e.store.LoadUserWrites(ctx)
	if err != nil {
		return fmt.Errorf("restore writes: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	e.enqueueMu.Lock()
	defer e.enqueueMu.Unlock()
	if e.clock.Current() > 0 {
		return fmt.Errorf("restore writes: %d writes were made before restore", e.clock.Current())
	}
	e.clock.AdvanceTo(records[len(records)-1].ID)
	e.logger.Info("restoring writes", "count", len(records))
	return e.enqueue(func(context.Context) {
		for _, rec := range records {
			e.dispatcher.Dispatch(e.applyRecord(rec))
			e.transport.SendWrite(rec)
		}
	})
}

// Listen registers reg for q. The initial events are dispatched once the
// task runs.
func (e *Engine) Listen(q query.Spec, reg view.EventRegistration) error {
	if err := q.Params.Validate(); err != nil {
		return err
	}
	e.dispatcher.Register(q.Key(), reg.ID())
	err := e.enqueue(func(context.Context) {
		events := e.tree.AddEventRegistration(q, reg)
		e.logger.Debug("listen added", "query", q.Key(), "registration", reg.ID(), "events", len(events))
		e.dispatcher.Dispatch(events)
	})
	if err != nil {
		e.dispatcher.Unregister(q.Key(), reg.ID())
	}
	return err
}

// Unlisten removes reg from q, or every registration of q when reg is
// nil. Events not yet delivered to the removed registrations are dropped.
func (e *Engine) Unlisten(q query.Spec, reg view.EventRegistration) error {
	return e.enqueue(func(context.Context) {
		for _, r := range e.registrationsFor(q, reg) {
			e.dispatcher.Unregister(r.query, r.id)
		}
		events := e.tree.RemoveEventRegistration(q, reg, nil)
		e.logger.Debug("listen removed", "query", q.Key())
		e.dispatcher.Dispatch(events)
	})
}

type registered struct {
	query string
	id    string
}

// registrationsFor lists the registrations an Unlisten of q removes, with
// the key of the query each one listens to.
func (e *Engine) registrationsFor(q query.Spec, reg view.EventRegistration) []registered {
	sp := e.tree.SyncPoint(q.Path)
	if sp == nil {
		return nil
	}
	var out []registered
	for _, v := range sp.Views() {
		if !q.IsDefault() && v.Query().Identifier() != q.Identifier() {
			continue
		}
		key := v.Query().Key()
		for _, r := range v.Registrations() {
			if reg == nil || r.ID() == reg.ID() {
				out = append(out, registered{query: key, id: r.ID()})
			}
		}
	}
	return out
}

// Set overwrites the data at path optimistically and returns the write
// id. onComplete, if not nil, receives nil or a *WriteError once the
// server answers.
func (e *Engine) Set(path string, value any, onComplete func(error)) (int64, error) {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return 0, err
	}
	data, err := node.FromValue(value)
	if err != nil {
		return 0, fmt.Errorf("set %s: %w", path, err)
	}
	return e.enqueueWrite(func(id int64) write.Record {
		return write.Record{ID: id, Path: p, Overwrite: data, Visible: true}
	}, onComplete)
}

// Update merges values, keyed by relative path, into the data at path.
// An empty update completes without a write and returns id 0.
func (e *Engine) Update(path string, values map[string]any, onComplete func(error)) (int64, error) {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return 0, err
	}
	updates, err := nodesFromValues(values)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", path, err)
	}
	if err := write.ValidateMerge(updates); err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, e.enqueue(func(context.Context) {
			e.dispatcher.Dispatch(nil, completion(onComplete, nil))
		})
	}
	merge := write.CompoundWriteFromMap(updates)
	return e.enqueueWrite(func(id int64) write.Record {
		return write.Record{ID: id, Path: p, Merge: merge, Visible: true}
	}, onComplete)
}

func (e *Engine) enqueueWrite(build func(id int64) write.Record, onComplete func(error)) (int64, error) {
	e.enqueueMu.Lock()
	defer e.enqueueMu.Unlock()
	if e.queue.Closed() {
		return 0, ErrClosed
	}
	rec := build(e.clock.Next())
	err := e.enqueue(func(ctx context.Context) {
		if onComplete != nil {
			e.completions[rec.ID] = onComplete
		}
		if e.store != nil {
			if err := e.store.SaveUserWrite(ctx, e.session, rec); err != nil {
				e.recordError("save user write failed", err, "id", rec.ID)
			}
		}
		events := e.applyRecord(rec)
		e.logger.Debug("user write", "id", rec.ID, "path", rec.Path.String(), "events", len(events))
		e.transport.SendWrite(rec)
		e.dispatcher.Dispatch(events)
	})
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// applyRecord applies a user write with its placeholders resolved. The
// record itself keeps them: it is what the store and the server see.
func (e *Engine) applyRecord(rec write.Record) []view.Event {
	sv := e.serverValues()
	if rec.IsOverwrite() {
		return e.tree.ApplyUserOverwrite(rec.Path, e.resolve(rec.Path, rec.Overwrite, sv), rec.ID, rec.Visible)
	}
	merge := rec.Merge
	rec.Merge.Foreach(func(rel tree.Path, n node.Node) {
		if resolved := e.resolve(rec.Path.ChildPath(rel), n, sv); resolved != n {
			merge = merge.AddWrite(rel, resolved)
		}
	})
	return e.tree.ApplyUserMerge(rec.Path, merge, rec.ID)
}

// Ack delivers the server's answer to a write. Any status but StatusOK
// reverts the write and fails its completion callback with a WriteError.
func (e *Engine) Ack(writeID int64, status string) error {
	return e.enqueue(func(ctx context.Context) {
		if _, ok := e.tree.WriteTree().Write(writeID); !ok {
			e.logger.Warn("ack for unknown write", "id", writeID, "status", status)
			return
		}
		revert := status != StatusOK
		events := e.tree.AckUserWrite(writeID, revert)
		if e.store != nil {
			if err := e.store.RemoveUserWrite(ctx, writeID); err != nil {
				e.recordError("remove user write failed", err, "id", writeID)
			}
		}

		var err error
		if revert {
			err = &WriteError{Code: status, WriteID: writeID}
			e.logger.Warn("write rejected", "id", writeID, "status", status)
		}
		onComplete := e.completions[writeID]
		delete(e.completions, writeID)
		e.dispatcher.Dispatch(events, completion(onComplete, err))
	})
}

func completion(onComplete func(error), err error) func() {
	return func() {
		if onComplete != nil {
			onComplete(err)
		}
	}
}

// ServerOverwrite applies server data at path. A non-zero tag addresses
// the filtered query listening with that tag.
func (e *Engine) ServerOverwrite(path string, value any, tag int64) error {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return err
	}
	data, err := node.FromValue(value)
	if err != nil {
		return fmt.Errorf("server overwrite %s: %w", path, err)
	}
	return e.enqueue(func(context.Context) {
		var events []view.Event
		if tag != 0 {
			events = e.tree.ApplyTaggedQueryOverwrite(p, data, tag)
		} else {
			events = e.tree.ApplyServerOverwrite(p, data)
		}
		e.logger.Debug("server overwrite", "path", p.String(), "tag", tag, "events", len(events))
		e.dispatcher.Dispatch(events)
	})
}

// ServerMerge applies a server update of several children of path.
func (e *Engine) ServerMerge(path string, values map[string]any, tag int64) error {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return err
	}
	updates, err := nodesFromValues(values)
	if err != nil {
		return fmt.Errorf("server merge %s: %w", path, err)
	}
	merge := write.CompoundWriteFromMap(updates)
	return e.enqueue(func(context.Context) {
		var events []view.Event
		if tag != 0 {
			events = e.tree.ApplyTaggedQueryMerge(p, merge, tag)
		} else {
			events = e.tree.ApplyServerMerge(p, merge)
		}
		e.logger.Debug("server merge", "path", p.String(), "tag", tag, "events", len(events))
		e.dispatcher.Dispatch(events)
	})
}

// ListenComplete delivers the server's answer to a listen. StatusOK marks
// the data complete; anything else cancels the query's registrations
// with a ListenError.
func (e *Engine) ListenComplete(path string, tag int64, status string) error {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return err
	}
	return e.enqueue(func(ctx context.Context) {
		key := listenKey(p, tag)
		onComplete, ok := e.listens[key]
		if !ok {
			e.logger.Debug("listen complete for inactive listen", "path", p.String(), "tag", tag)
			return
		}
		if status != StatusOK {
			delete(e.listens, key)
			e.logger.Warn("listen refused", "path", p.String(), "tag", tag, "status", status)
		}
		events := onComplete(status)
		for _, ev := range events {
			if ev.Type == view.Cancel {
				e.dispatcher.Unregister(ev.Query, ev.Registration.ID())
			}
		}
		if status == StatusOK && tag == 0 {
			e.saveServerCache(ctx, p)
		}
		e.dispatcher.Dispatch(events)
	})
}

func (e *Engine) saveServerCache(ctx context.Context, p tree.Path) {
	if e.store == nil || !e.persistServerCache {
		return
	}
	cache := e.tree.ServerCacheAt(p)
	if cache == nil {
		return
	}
	if err := e.store.SaveServerCache(ctx, p, cache); err != nil {
		e.recordError("save server cache failed", err, "path", p.String())
	}
}

// OnDisconnectSet remembers an overwrite to apply when the connection
// drops.
func (e *Engine) OnDisconnectSet(path string, value any) error {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return err
	}
	data, err := node.FromValue(value)
	if err != nil {
		return fmt.Errorf("on disconnect set %s: %w", path, err)
	}
	return e.enqueue(func(context.Context) {
		e.onDisconnect.Remember(p, data)
	})
}

// OnDisconnectUpdate remembers a merge to apply when the connection
// drops.
func (e *Engine) OnDisconnectUpdate(path string, values map[string]any) error {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return err
	}
	updates, err := nodesFromValues(values)
	if err != nil {
		return fmt.Errorf("on disconnect update %s: %w", path, err)
	}
	if err := write.ValidateMerge(updates); err != nil {
		return err
	}
	return e.enqueue(func(context.Context) {
		for k, n := range updates {
			e.onDisconnect.Remember(p.ChildPath(tree.ParsePath(k)), n)
		}
	})
}

// OnDisconnectCancel forgets the on-disconnect writes at and below path.
func (e *Engine) OnDisconnectCancel(path string) error {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return err
	}
	return e.enqueue(func(context.Context) {
		e.onDisconnect.Forget(p)
	})
}

// RunOnDisconnect applies every remembered on-disconnect write as server
// data, in one batch of events, and forgets them.
func (e *Engine) RunOnDisconnect() error {
	return e.enqueue(func(context.Context) {
		var events []view.Event
		sv := e.serverValues()
		e.onDisconnect.ForEachTree(tree.Root(), func(p tree.Path, n node.Node) {
			events = append(events, e.tree.ApplyServerOverwrite(p, e.resolve(p, n, sv))...)
		})
		e.onDisconnect = write.NewSparseSnapshotTree()
		e.logger.Debug("on disconnect writes applied", "events", len(events))
		e.dispatcher.Dispatch(events)
	})
}

// Get returns the data at path as listeners see it, pending writes
// included, or nil when the data is not known locally.
func (e *Engine) Get(ctx context.Context, path string) (node.Node, error) {
	p, err := tree.ValidatePath(path)
	if err != nil {
		return nil, err
	}
	result := make(chan node.Node, 1)
	if err := e.enqueue(func(context.Context) {
		if e.tree.ServerCacheAt(p) == nil {
			if _, ok := e.tree.WriteTree().CompleteWriteData(p); !ok {
				result <- nil
				return
			}
		}
		result <- e.tree.CalcCompleteEventCache(p, nil)
	}); err != nil {
		return nil, err
	}
	select {
	case n := <-result:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flush waits until every task enqueued before the call ran and its
// events were delivered.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := e.enqueue(func(context.Context) {
		e.dispatcher.Dispatch(nil, func() { close(done) })
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nodesFromValues(values map[string]any) (map[string]node.Node, error) {
	updates := make(map[string]node.Node, len(values))
	for k, v := range values {
		n, err := node.FromValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		updates[k] = n
	}
	return updates, nil
}

// listenKey identifies a running listen: tagged listens by tag, default
// listens by path.
func listenKey(p tree.Path, tag int64) string {
	if tag != 0 {
		return "#" + strconv.FormatInt(tag, 10)
	}
	return p.String()
}

// listenProvider connects the sync tree to the transport. It is only
// called from tasks.
type listenProvider struct {
	e *Engine
}

func (lp listenProvider) StartListening(q query.Spec, tag int64, hash func() string, onComplete func(string) []view.Event) []view.Event {
	lp.e.listens[listenKey(q.Path, tag)] = onComplete
	lp.e.logger.Debug("start listening", "query", q.Key(), "tag", tag)
	lp.e.transport.Listen(q, tag, hash())
	return nil
}

func (lp listenProvider) StopListening(q query.Spec, tag int64) {
	delete(lp.e.listens, listenKey(q.Path, tag))
	lp.e.logger.Debug("stop listening", "query", q.Key(), "tag", tag)
	lp.e.transport.Unlisten(q, tag)
}
