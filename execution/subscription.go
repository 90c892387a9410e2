package execution

import (
	"context"
	"errors"

	"github.com/graphql-go/graphql"

	"github.com/graphbind/graphbind/gqlctx"
)

// errNotStream is raised when a subscription-root resolver produces
// anything but a multi-value stream.
var errNotStream = errors.New("Expected a stream-producing result for a subscription")

// resolvedStreamError marks an error that already passed the subscription
// chain. It travels the engine's source channel as a terminal sentinel and
// is never resolved twice.
type resolvedStreamError struct {
	errs []*Error
}

func (e *resolvedStreamError) Error() string {
	if len(e.errs) > 0 {
		return e.errs[0].Message
	}
	return "subscription stream failed"
}

// decorateSubscribe wraps a subscription root's stream producer. The user
// function runs under the request snapshot; its result must classify as a
// stream, which is then pumped into the engine's source channel with error
// resolution and cancellation applied.
func (s *Source) decorateSubscribe(objectType, fieldName string, subscribe graphql.FieldResolveFn) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx := resolveContext(p)
		snap := gqlctx.Capture(ctx, s.accessors...)
		raw, err := snap.Wrap(func(restored context.Context) (any, error) {
			wp := p
			wp.Context = restored
			return subscribe(wp)
		})(ctx)
		if err != nil {
			return nil, s.resolveFieldError(ctx, err, fieldInfo(p, objectType, fieldName))
		}
		out := classify(s.adapters, raw)
		if out.Kind != OutcomeStream {
			return nil, errNotStream
		}
		return s.pumpSubscription(ctx, out.Stream, snap), nil
	}
}

// pumpSubscription forwards stream values into the engine's source
// channel. A stream error is resolved through the subscription chain,
// forwarded once as a terminal sentinel, and the channel closes, so no
// further elements reach the consumer. The pump stops when ctx is done or
// the carrier's cancel signal fires.
func (s *Source) pumpSubscription(ctx context.Context, stream Stream, snap gqlctx.Snapshot) chan interface{} {
	out := make(chan interface{})
	execID := gqlctx.ExecutionIDFrom(snap.Carrier())
	var cancelDone <-chan struct{}
	if sig, ok := gqlctx.CancelFrom(snap.Carrier()); ok {
		cancelDone = sig.Done()
	}
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-stream:
				if !ok {
					return
				}
				if ev.Err != nil {
					go drainStream(stream)
					errs := s.resolveStreamError(ctx, ev.Err, execID)
					if len(errs) == 0 {
						// Resolved empty: the failure is swallowed and
						// the stream simply completes.
						return
					}
					select {
					case out <- &resolvedStreamError{errs: errs}:
					case <-ctx.Done():
					case <-cancelDone:
					}
					return
				}
				select {
				case out <- ev.Value:
				case <-ctx.Done():
					go drainStream(stream)
					return
				case <-cancelDone:
					go drainStream(stream)
					return
				}
			case <-ctx.Done():
				go drainStream(stream)
				return
			case <-cancelDone:
				go drainStream(stream)
				return
			}
		}
	}()
	return out
}

// resolveStreamError resolves a stream failure unless it was resolved
// upstream already.
func (s *Source) resolveStreamError(ctx context.Context, cause error, executionID string) []*Error {
	var re *resolvedStreamError
	if errors.As(cause, &re) {
		return re.errs
	}
	return s.streamErrors.resolve(ctx, cause, executionID)
}

// subscriptionResolve wraps a subscription root's per-event resolver. The
// terminal sentinel becomes the event's error list; ordinary events pass
// through inner, or unchanged when the field has no resolver of its own.
func (s *Source) subscriptionResolve(inner graphql.FieldResolveFn) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		if re, ok := p.Source.(*resolvedStreamError); ok {
			if len(re.errs) == 1 {
				return nil, re.errs[0]
			}
			return nil, &multiError{errs: re.errs}
		}
		if inner == nil {
			return p.Source, nil
		}
		return inner(p)
	}
}
