// Package gqlctx propagates request-scoped state across the asynchronous
// boundaries of a GraphQL execution: an immutable key/value Carrier, a
// Snapshot mechanism that restores carrier and ambient values around
// goroutine handoffs, and a one-shot cancellation signal.
package gqlctx

import (
	"context"
	"sync"
)

// Carrier is an immutable key/value bag threaded through one request. It
// holds cross-cutting values such as tracing spans, security principals and
// locales.
//
// Concurrency: a Carrier is a value. With and Merge return extended copies
// and never mutate the receiver, so instances may be read from any number
// of goroutines without locking.
type Carrier struct {
	m map[any]any
}

// New returns an empty Carrier. The zero value is equally usable.
func New() Carrier { return Carrier{} }

// With returns a copy of the carrier with key set to value.
func (c Carrier) With(key, value any) Carrier {
	m := make(map[any]any, len(c.m)+1)
	for k, v := range c.m {
		m[k] = v
	}
	m[key] = value
	return Carrier{m: m}
}

// Value reports the value stored under key, if any.
func (c Carrier) Value(key any) (any, bool) {
	v, ok := c.m[key]
	return v, ok
}

// Merge combines two carriers into a new one. Keys present in other win on
// collision; keys present only in the receiver are preserved.
func (c Carrier) Merge(other Carrier) Carrier {
	if len(other.m) == 0 {
		return c
	}
	if len(c.m) == 0 {
		return other
	}
	m := make(map[any]any, len(c.m)+len(other.m))
	for k, v := range c.m {
		m[k] = v
	}
	for k, v := range other.m {
		m[k] = v
	}
	return Carrier{m: m}
}

// Len returns the number of stored keys.
func (c Carrier) Len() int { return len(c.m) }

// Range calls fn for each key/value pair until fn returns false. Iteration
// order is unspecified.
func (c Carrier) Range(fn func(key, value any) bool) {
	for k, v := range c.m {
		if !fn(k, v) {
			return
		}
	}
}

// A Sink is the request-scoped mutable holder of the current Carrier. It is
// the only place carrier state changes once execution has begun: field
// resolutions publish values through the Sink, and the transport reads the
// final carrier from it after execution completes.
//
// Mutations are serialized internally; reads return the carrier value
// current at call time.
type Sink struct {
	mu sync.Mutex
	c  Carrier
}

// NewSink returns a Sink seeded with the given carrier.
func NewSink(c Carrier) *Sink { return &Sink{c: c} }

// Put stores key/value into the current carrier. Last write wins per key.
func (s *Sink) Put(key, value any) {
	s.mu.Lock()
	s.c = s.c.With(key, value)
	s.mu.Unlock()
}

// Merge merges c into the current carrier, c winning per key.
func (s *Sink) Merge(c Carrier) {
	if c.Len() == 0 {
		return
	}
	s.mu.Lock()
	s.c = s.c.Merge(c)
	s.mu.Unlock()
}

// Carrier returns the carrier value current at call time.
func (s *Sink) Carrier() Carrier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

type sinkKey struct{}

// WithSink returns a context carrying the request sink.
func WithSink(ctx context.Context, s *Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, s)
}

// SinkFrom extracts the request sink, if any.
func SinkFrom(ctx context.Context) (*Sink, bool) {
	s, ok := ctx.Value(sinkKey{}).(*Sink)
	return s, ok
}

// CarrierFrom returns the current request carrier, or an empty carrier when
// the context carries no sink.
func CarrierFrom(ctx context.Context) Carrier {
	if s, ok := SinkFrom(ctx); ok {
		return s.Carrier()
	}
	return Carrier{}
}
