package execution

import (
	"context"
	"errors"

	"github.com/graphql-go/graphql"

	"github.com/graphbind/graphbind/batchload"
	"github.com/graphbind/graphbind/gqlctx"
)

var errCanceled = errors.New("execution: request canceled")

// decorate wraps one field's resolve function: snapshot capture and restore
// around the user call, outcome normalization to the engine's deferred
// contract, and batch dispatch at the engine's tick. Sibling fields of a
// level resolve before any deferred result runs, so the first thunk of a
// level flushes the dispatchers for all of them.
func (s *Source) decorate(objectType, fieldName string, resolve graphql.FieldResolveFn) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx := resolveContext(p)
		snap := gqlctx.Capture(ctx, s.accessors...)
		raw, err := snap.Wrap(func(restored context.Context) (any, error) {
			wp := p
			wp.Context = restored
			return resolve(wp)
		})(ctx)
		if err != nil {
			return nil, s.resolveFieldError(ctx, err, fieldInfo(p, objectType, fieldName))
		}

		out := classify(s.adapters, raw)
		switch out.Kind {
		case OutcomePending:
			thunk := func() (interface{}, error) {
				dispatchAll(ctx)
				v, err := out.Await(ctx)
				if err != nil {
					return nil, s.resolveFieldError(ctx, err, fieldInfo(p, objectType, fieldName))
				}
				return v, nil
			}
			if isSerial(p) {
				return thunk()
			}
			return thunk, nil
		case OutcomeStream:
			thunk := func() (interface{}, error) {
				dispatchAll(ctx)
				v, err := s.collectStream(ctx, out.Stream)
				if err != nil {
					return nil, s.resolveFieldError(ctx, err, fieldInfo(p, objectType, fieldName))
				}
				return v, nil
			}
			if isSerial(p) {
				return thunk()
			}
			return thunk, nil
		default:
			return out.Value, nil
		}
	}
}

// collectStream eagerly drains a non-subscription stream into a list.
// Multi-value results are never streamed to clients for ordinary fields;
// only subscription roots stream.
func (s *Source) collectStream(ctx context.Context, stream Stream) ([]any, error) {
	var cancelDone <-chan struct{}
	if sig, ok := gqlctx.CancelFrom(gqlctx.CarrierFrom(ctx)); ok {
		cancelDone = sig.Done()
	}
	var out []any
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return out, nil
			}
			if ev.Err != nil {
				go drainStream(stream)
				return nil, ev.Err
			}
			out = append(out, ev.Value)
		case <-ctx.Done():
			go drainStream(stream)
			return nil, ctx.Err()
		case <-cancelDone:
			go drainStream(stream)
			return nil, errCanceled
		}
	}
}

// resolveFieldError routes a failure through the ordinary chain and returns
// the error the engine attaches at the failing field's path. Structured
// errors pass through untouched; a chain answer of zero errors swallows the
// failure, leaving the field null with nothing reported.
func (s *Source) resolveFieldError(ctx context.Context, cause error, field FieldInfo) error {
	var structured *Error
	if errors.As(cause, &structured) {
		return structured
	}
	errs := s.errors.resolve(ctx, cause, field)
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &multiError{errs: errs}
	}
}

func resolveContext(p graphql.ResolveParams) context.Context {
	if p.Context != nil {
		return p.Context
	}
	return context.Background()
}

// isSerial reports whether the field resolves under serial (mutation)
// execution, where deferred results must be awaited inline because fields
// run one at a time.
func isSerial(p graphql.ResolveParams) bool {
	return p.Info.Operation != nil && p.Info.Operation.GetOperation() == "mutation"
}

// dispatchAll flushes the request's dispatcher set, if one is installed.
func dispatchAll(ctx context.Context) {
	if set, ok := batchload.SetFrom(ctx); ok {
		set.DispatchAll()
	}
}

func fieldInfo(p graphql.ResolveParams, objectType, fieldName string) FieldInfo {
	info := FieldInfo{ObjectType: objectType, Field: fieldName}
	if p.Info.ParentType != nil {
		info.ObjectType = p.Info.ParentType.Name()
	}
	if p.Info.FieldName != "" {
		info.Field = p.Info.FieldName
	}
	if p.Info.Path != nil {
		info.Path = p.Info.Path.AsArray()
	}
	if p.Context != nil {
		info.ExecutionID = gqlctx.ExecutionIDFrom(gqlctx.CarrierFrom(p.Context))
	}
	return info
}
