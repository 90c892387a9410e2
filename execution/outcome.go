package execution

import (
	"context"
	"reflect"

	"github.com/graphbind/graphbind/batchload"
)

// StreamEvent is one emission of a multi-value asynchronous result. A
// non-nil Err terminates the stream.
type StreamEvent struct {
	Value any
	Err   error
}

// Stream is the normalized multi-value asynchronous result shape.
// Resolvers may return one directly, or any other channel kind, which is
// adapted through reflection.
type Stream <-chan StreamEvent

// OutcomeKind classifies a raw resolver result.
type OutcomeKind int

const (
	// OutcomeValue is a plain result, eagerly collected lists included.
	OutcomeValue OutcomeKind = iota
	// OutcomePending is a single value still being resolved.
	OutcomePending
	// OutcomeStream is a multi-value asynchronous result.
	OutcomeStream
)

// Outcome is the classified form of a raw resolver result. Exactly one of
// Value, Await and Stream is meaningful, selected by Kind.
type Outcome struct {
	Kind   OutcomeKind
	Value  any
	Await  func(ctx context.Context) (any, error)
	Stream Stream
}

// An Adapter recognizes one concrete async shape and classifies it.
// Adapters registered on a source run before the built-ins, so new async
// types plug in without touching the decorator.
type Adapter interface {
	Adapt(v any) (Outcome, bool)
}

// AdapterFunc adapts a plain function to Adapter.
type AdapterFunc func(v any) (Outcome, bool)

func (f AdapterFunc) Adapt(v any) (Outcome, bool) { return f(v) }

// classify runs v through the adapters; unrecognized values are plain.
func classify(adapters []Adapter, v any) Outcome {
	if v == nil {
		return Outcome{Kind: OutcomeValue}
	}
	for _, a := range adapters {
		if out, ok := a.Adapt(v); ok {
			return out
		}
	}
	return Outcome{Kind: OutcomeValue, Value: v}
}

func builtinAdapters() []Adapter {
	return []Adapter{
		AdapterFunc(adaptFuture),
		AdapterFunc(adaptThunk),
		AdapterFunc(adaptStream),
	}
}

// adaptFuture recognizes batch-load futures.
func adaptFuture(v any) (Outcome, bool) {
	f, ok := v.(*batchload.Future)
	if !ok {
		return Outcome{}, false
	}
	return Outcome{Kind: OutcomePending, Await: f.Await}, true
}

// adaptThunk recognizes the engine's native deferred-result shapes.
func adaptThunk(v any) (Outcome, bool) {
	switch fn := v.(type) {
	case func() (any, error):
		return Outcome{Kind: OutcomePending, Await: func(context.Context) (any, error) { return fn() }}, true
	case func() any:
		return Outcome{Kind: OutcomePending, Await: func(context.Context) (any, error) { return fn(), nil }}, true
	}
	return Outcome{}, false
}

// adaptStream recognizes stream-shaped results: Stream, StreamEvent
// channels, and any other channel with a receivable direction.
func adaptStream(v any) (Outcome, bool) {
	switch ch := v.(type) {
	case Stream:
		return Outcome{Kind: OutcomeStream, Stream: ch}, true
	case chan StreamEvent:
		return Outcome{Kind: OutcomeStream, Stream: ch}, true
	case <-chan StreamEvent:
		return Outcome{Kind: OutcomeStream, Stream: Stream(ch)}, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Chan || rv.Type().ChanDir() == reflect.SendDir {
		return Outcome{}, false
	}
	return Outcome{Kind: OutcomeStream, Stream: pumpReflected(rv)}, true
}

// pumpReflected adapts a foreign channel into a Stream. Error elements
// terminate the stream. The pump ends when the source closes; producers
// own closing their channel when the resolver context ends.
func pumpReflected(rv reflect.Value) Stream {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for {
			v, ok := rv.Recv()
			if !ok {
				return
			}
			ev := StreamEvent{Value: v.Interface()}
			if err, isErr := ev.Value.(error); isErr {
				ev = StreamEvent{Err: err}
			}
			out <- ev
			if ev.Err != nil {
				go drainReflected(rv)
				return
			}
		}
	}()
	return out
}

func drainReflected(rv reflect.Value) {
	for {
		if _, ok := rv.Recv(); !ok {
			return
		}
	}
}

// drainStream discards the rest of an abandoned stream so its producer is
// never left blocked on send.
func drainStream(s Stream) {
	for range s {
	}
}
