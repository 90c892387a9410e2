package batchload

import "context"

// A Future is the pending result of one Load. It resolves when the owning
// dispatcher flushes the batch containing its key. Resolved futures double
// as cache entries, so reads after resolution take no lock.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

// resolve settles the future. Must be called exactly once.
func (f *Future) resolve(val any, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Done returns the channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has resolved.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future resolves or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await blocks on f and returns its value as a V.
func Await[V any](ctx context.Context, f *Future) (V, error) {
	var zero V
	v, err := f.Await(ctx)
	if err != nil || v == nil {
		return zero, err
	}
	return v.(V), nil
}
