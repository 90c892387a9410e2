// Package batchload collapses N+1 child-entity lookups into grouped calls.
// Applications register named batch-loading functions once at startup; every
// request gets its own dispatcher per registration, which deduplicates and
// accumulates pending keys until the execution engine's dispatch boundary,
// invokes the user function with the whole batch, and caches resolved
// values for the remainder of the request.
package batchload

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// BatchFunc loads the values for keys in one call. The returned slice must
// align positionally with keys; missing entries are the zero value of V.
// The dispatcher never re-correlates by key for this form, so a misaligned
// result corrupts unrelated lookups.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// MappedBatchFunc loads the values for keys in one call, correlated by key.
// Keys absent from the returned map resolve to the zero value of V.
type MappedBatchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// batchCall is the type-erased loader invocation; results align with keys.
type batchCall func(ctx context.Context, keys []any) ([]any, error)

type registration struct {
	name string
	opts Options
	call batchCall
}

// Registry holds the application's batch loader registrations. Configure it
// at startup; it is immutable from the first time a request builds its
// dispatcher set.
type Registry struct {
	log *zap.Logger

	mu     sync.Mutex
	regs   []*registration
	frozen bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used by the registry's dispatchers.
func WithLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// A Spec is a pending registration. Configure it with WithName and
// WithOptions, then complete it with exactly one Register call.
type Spec[K comparable, V any] struct {
	reg  *Registry
	name string
	opts Options
	done bool
}

// ForTypePair starts a registration named after V's type identifier.
func ForTypePair[K comparable, V any](r *Registry) *Spec[K, V] {
	return &Spec[K, V]{reg: r, name: typeName[V]()}
}

// ForName starts a registration under an explicit name.
func ForName[K comparable, V any](r *Registry, name string) *Spec[K, V] {
	return &Spec[K, V]{reg: r, name: name}
}

// WithName overrides the registration name.
func (s *Spec[K, V]) WithName(name string) *Spec[K, V] {
	s.name = name
	return s
}

// WithOptions applies mut to the registration's options.
func (s *Spec[K, V]) WithOptions(mut func(*Options)) *Spec[K, V] {
	mut(&s.opts)
	return s
}

// RegisterBatchLoader completes the registration with a positional loader.
func (s *Spec[K, V]) RegisterBatchLoader(fn BatchFunc[K, V]) {
	s.register(func(ctx context.Context, keys []any) ([]any, error) {
		ks := typedKeys[K](keys)
		vs, err := fn(ctx, ks)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(keys))
		for i := range keys {
			if i < len(vs) {
				out[i] = vs[i]
			} else {
				var zero V
				out[i] = zero
			}
		}
		return out, nil
	})
}

// RegisterMappedBatchLoader completes the registration with a mapped loader.
func (s *Spec[K, V]) RegisterMappedBatchLoader(fn MappedBatchFunc[K, V]) {
	s.register(func(ctx context.Context, keys []any) ([]any, error) {
		ks := typedKeys[K](keys)
		m, err := fn(ctx, ks)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(keys))
		for i, k := range ks {
			out[i] = m[k]
		}
		return out, nil
	})
}

func (s *Spec[K, V]) register(call batchCall) {
	if s.done {
		panic(fmt.Sprintf("batchload: loader %q registered twice from one builder", s.name))
	}
	if s.name == "" {
		panic("batchload: registration requires a name")
	}
	s.done = true
	s.reg.add(&registration{name: s.name, opts: s.opts, call: call})
}

func (r *Registry) add(reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("batchload: registry modified after the first request")
	}
	r.regs = append(r.regs, reg)
}

// freeze marks the registry immutable and returns its registrations.
func (r *Registry) freeze() []*registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	return r.regs
}

func typedKeys[K comparable](keys []any) []K {
	ks := make([]K, len(keys))
	for i, k := range keys {
		ks[i] = k.(K)
	}
	return ks
}

// typeName derives the default loader name from V. Pointer indirections are
// stripped so *User and User share the name "User".
func typeName[V any]() string {
	t := reflect.TypeOf((*V)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
