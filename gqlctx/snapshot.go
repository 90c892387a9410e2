package gqlctx

import "context"

// A Snapshot captures the request carrier plus ambient accessor values at
// one point in a request, so that a unit of work observes the same state
// when it later runs on a different goroutine with an unrelated base
// context.
//
// A Snapshot is a value: cheap to copy and valid for any number of Wrap
// calls within its request.
type Snapshot struct {
	sink    *Sink
	carrier Carrier
	values  []capturedValue
}

type capturedValue struct {
	acc   Accessor
	value any
}

// Capture reads the request sink and every accessor value present in ctx.
// Accessors that extract nothing are skipped, so capture does no work when
// no ambient state applies.
func Capture(ctx context.Context, accessors ...Accessor) Snapshot {
	snap := Snapshot{}
	if sink, ok := SinkFrom(ctx); ok {
		snap.sink = sink
		snap.carrier = sink.Carrier()
	}
	for _, acc := range accessors {
		if v, ok := acc.Extract(ctx); ok {
			snap.values = append(snap.values, capturedValue{acc: acc, value: v})
		}
	}
	return snap
}

// Carrier returns the carrier as of capture time.
func (s Snapshot) Carrier() Carrier { return s.carrier }

// UpdateCarrier merges the snapshot's captured carrier into c, with keys
// already present in c winning, so values set by nested asynchronous work
// remain visible upstream of the merge.
func (s Snapshot) UpdateCarrier(c Carrier) Carrier {
	return s.carrier.Merge(c)
}

// Restore returns a context carrying the snapshot's sink and every captured
// accessor value. When ctx already belongs to the snapshot's request (it
// carries the same sink) it is returned unchanged; that is the fast path
// for work that never left the original context chain.
func (s Snapshot) Restore(ctx context.Context) context.Context {
	if s.sink != nil {
		if cur, ok := SinkFrom(ctx); ok && cur == s.sink {
			return ctx
		}
		ctx = WithSink(ctx, s.sink)
	}
	for _, cv := range s.values {
		ctx = cv.acc.Inject(ctx, cv.value)
	}
	return ctx
}

// Wrap returns fn with the snapshot's state restored around the call. The
// restored values are scoped to the derived context, so nothing leaks into
// work the caller later schedules with its own context.
func (s Snapshot) Wrap(fn func(context.Context) (any, error)) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return fn(s.Restore(ctx))
	}
}
