package batchload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/graphbind/graphbind/eventbus"
	"github.com/graphbind/graphbind/events"
	"github.com/graphbind/graphbind/gqlctx"
)

// dispatcher accumulates pending keys for one registration within one
// request and fans loader results back out on flush.
//
// Pending-queue and cache mutation is mutex-serialized; the user loader is
// always invoked outside the lock, so callers may keep enqueuing while a
// flush is in flight.
type dispatcher struct {
	name   string
	opts   Options
	call   batchCall
	snap   gqlctx.Snapshot
	base   context.Context
	log    *zap.Logger
	execID string

	mu      sync.Mutex
	pending []pendingLoad
	seen    map[any]*Future
	timer   *time.Timer
}

type pendingLoad struct {
	key any
	fut *Future
}

// load enqueues key and returns its future without invoking the loader.
// In-flight and resolved keys share one future, which is what deduplicates
// and caches.
func (d *dispatcher) load(key any) *Future {
	d.mu.Lock()
	if f, ok := d.seen[key]; ok {
		d.mu.Unlock()
		return f
	}
	f := newFuture()
	d.seen[key] = f
	d.pending = append(d.pending, pendingLoad{key: key, fut: f})
	if d.opts.Wait > 0 && d.timer == nil {
		d.timer = time.AfterFunc(d.opts.Wait, d.flush)
	}
	d.mu.Unlock()
	return f
}

// flush invokes the loader for every pending key, in chunks of at most
// MaxBatchSize, and resolves the waiting futures. Chunk results map back
// positionally; the loader is never asked to re-correlate.
func (d *dispatcher) flush() {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.opts.DisableCaching {
		for _, p := range batch {
			delete(d.seen, p.key)
		}
	}
	d.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	total := len(batch)
	calls := 0
	var firstErr error
	for len(batch) > 0 {
		chunk := batch
		if d.opts.MaxBatchSize > 0 && len(chunk) > d.opts.MaxBatchSize {
			chunk = chunk[:d.opts.MaxBatchSize]
		}
		batch = batch[len(chunk):]
		calls++
		if err := d.dispatchChunk(chunk); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	eventbus.Publish(d.base, events.BatchDispatch{
		ExecutionID: d.execID,
		Loader:      d.name,
		Keys:        total,
		Calls:       calls,
		Duration:    time.Since(start),
		Err:         firstErr,
	})
}

// dispatchChunk runs one loader call and settles the chunk's futures. A
// loader error or panic broadcasts as the failure of every key in the
// chunk.
func (d *dispatcher) dispatchChunk(chunk []pendingLoad) error {
	keys := make([]any, len(chunk))
	for i, p := range chunk {
		keys[i] = p.key
	}
	vals, err := d.invoke(keys)
	if err != nil {
		d.log.Error("batch loader failed",
			zap.String("loader", d.name),
			zap.Int("keys", len(keys)),
			zap.Error(err))
		for _, p := range chunk {
			p.fut.resolve(nil, err)
		}
		return err
	}
	for i, p := range chunk {
		var v any
		if i < len(vals) {
			v = vals[i]
		}
		p.fut.resolve(v, nil)
	}
	return nil
}

// invoke runs the user loader inside the request snapshot, so a flush
// happening on a pooled worker still sees restored request context.
func (d *dispatcher) invoke(keys []any) (vals []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			vals = nil
			err = fmt.Errorf("batchload: loader %q panicked: %v", d.name, r)
		}
	}()
	v, err := d.snap.Wrap(func(ctx context.Context) (any, error) {
		return d.call(ctx, keys)
	})(d.base)
	if err != nil {
		return nil, err
	}
	vals, _ = v.([]any)
	return vals, nil
}

// Set holds one dispatcher per registration for a single request. Field
// resolutions reach it through the request context.
type Set struct {
	byName map[string]*dispatcher
}

// NewSet builds the per-request dispatcher set, binding every dispatcher to
// the request context and snapshot. Registrations resolving to one name
// fail eagerly here, at the first request, never silently overwriting.
func (r *Registry) NewSet(ctx context.Context, snap gqlctx.Snapshot) (*Set, error) {
	regs := r.freeze()
	execID := gqlctx.ExecutionIDFrom(snap.Carrier())
	set := &Set{byName: make(map[string]*dispatcher, len(regs))}
	for _, reg := range regs {
		if _, dup := set.byName[reg.name]; dup {
			return nil, fmt.Errorf("batchload: duplicate loader name %q", reg.name)
		}
		set.byName[reg.name] = &dispatcher{
			name:   reg.name,
			opts:   reg.opts,
			call:   reg.call,
			snap:   snap,
			base:   ctx,
			log:    r.log,
			execID: execID,
			seen:   make(map[any]*Future),
		}
	}
	return set, nil
}

// DispatchAll flushes every dispatcher in the set. This is the coarse
// dispatch boundary the field decorator triggers once per engine tick.
func (s *Set) DispatchAll() {
	for _, d := range s.byName {
		d.flush()
	}
}

type setKey struct{}

// WithSet returns a context carrying the request's dispatcher set.
func WithSet(ctx context.Context, s *Set) context.Context {
	return context.WithValue(ctx, setKey{}, s)
}

// SetFrom extracts the request's dispatcher set, if any.
func SetFrom(ctx context.Context) (*Set, bool) {
	s, ok := ctx.Value(setKey{}).(*Set)
	return s, ok
}

// Loader is the typed per-request view over one dispatcher, the handle
// handed to field-resolution code.
type Loader[K comparable, V any] struct {
	d *dispatcher
}

// LoaderFor returns the request's loader named after V's type identifier.
func LoaderFor[K comparable, V any](ctx context.Context) (*Loader[K, V], error) {
	return NamedLoader[K, V](ctx, typeName[V]())
}

// NamedLoader returns the request's loader with the given name.
func NamedLoader[K comparable, V any](ctx context.Context, name string) (*Loader[K, V], error) {
	set, ok := SetFrom(ctx)
	if !ok {
		return nil, errors.New("batchload: no dispatcher set in context")
	}
	d, ok := set.byName[name]
	if !ok {
		return nil, fmt.Errorf("batchload: no loader named %q", name)
	}
	return &Loader[K, V]{d: d}, nil
}

// Load enqueues key and returns its future. The future resolves at the
// next dispatch boundary; Load itself never invokes the loader.
func (l *Loader[K, V]) Load(key K) *Future {
	return l.d.load(key)
}

// LoadAll enqueues every key and returns a future resolving to a []V in
// key order. The first per-key failure fails the whole future.
func (l *Loader[K, V]) LoadAll(keys []K) *Future {
	futs := make([]*Future, len(keys))
	for i, k := range keys {
		futs[i] = l.d.load(k)
	}
	out := newFuture()
	go func() {
		vals := make([]V, len(futs))
		for i, f := range futs {
			v, err := f.Await(l.d.base)
			if err != nil {
				out.resolve(nil, err)
				return
			}
			if v != nil {
				vals[i] = v.(V)
			}
		}
		out.resolve(vals, nil)
	}()
	return out
}
