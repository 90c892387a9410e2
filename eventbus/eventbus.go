// Package eventbus carries library events to in-process subscribers. The
// execution service, batch dispatchers and the HTTP handler publish through
// the process-wide bus installed with Use; observability layers subscribe.
package eventbus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handler receives events of type T. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler[T any] func(context.Context, T)

// Bus is an in-process event dispatcher keyed by event type.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[reflect.Type][]subscription
}

type subscription struct {
	id int
	fn func(context.Context, any)
}

// New returns an empty bus.
func New() *Bus { return &Bus{subs: make(map[reflect.Type][]subscription)} }

func (b *Bus) add(t reflect.Type, fn func(context.Context, any)) (remove func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ss := b.subs[t]
		for i, s := range ss {
			if s.id == id {
				b.subs[t] = append(ss[:i:i], ss[i+1:]...)
				break
			}
		}
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
}

func (b *Bus) emit(ctx context.Context, e any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	ss := append([]subscription(nil), b.subs[reflect.TypeOf(e)]...)
	b.mu.RUnlock()
	for _, s := range ss {
		s.fn(ctx, e)
	}
}

var global atomic.Pointer[Bus]

// Use installs the process-wide bus. Passing nil disables publishing.
func Use(b *Bus) { global.Store(b) }

// Subscribe registers h on the process-wide bus for events of type T.
// The returned function removes the subscription.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	b := global.Load()
	if b == nil {
		return func() {}
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	return b.add(t, func(ctx context.Context, e any) { h(ctx, e.(T)) })
}

// Publish dispatches e on the process-wide bus.
func Publish[T any](ctx context.Context, e T) {
	if b := global.Load(); b != nil {
		b.emit(ctx, e)
	}
}
