package gqlctx

import "sync"

// CancelSignal is a one-shot completion marker for cooperative request
// cancellation. Fire is idempotent and Done is closed at most once, so any
// number of async chains may select on it.
//
// Cancellation is best effort: work already past its check point completes
// normally and its result is discarded.
type CancelSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancelSignal returns an unfired signal.
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{ch: make(chan struct{})}
}

// Fire marks the signal. Subsequent calls are no-ops.
func (s *CancelSignal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns the channel closed when the signal fires.
func (s *CancelSignal) Done() <-chan struct{} { return s.ch }

// Fired reports whether the signal has fired.
func (s *CancelSignal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

type cancelKey struct{}

// WithCancel returns a carrier holding the request cancellation signal.
// Subscription streams bound to the carrier stop when the signal fires.
// The owning transport fires it when it detects client disconnect.
func WithCancel(c Carrier, sig *CancelSignal) Carrier {
	return c.With(cancelKey{}, sig)
}

// CancelFrom extracts the request cancellation signal, if present.
func CancelFrom(c Carrier) (*CancelSignal, bool) {
	v, ok := c.Value(cancelKey{})
	if !ok {
		return nil, false
	}
	sig, ok := v.(*CancelSignal)
	return sig, ok
}
