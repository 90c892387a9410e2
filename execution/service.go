package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/graphbind/graphbind/batchload"
	"github.com/graphbind/graphbind/eventbus"
	"github.com/graphbind/graphbind/events"
	"github.com/graphbind/graphbind/gqlctx"
)

// Request is one GraphQL operation handed to the service by a transport.
type Request struct {
	// ID correlates logs, events and fallback error messages. Assigned
	// when empty.
	ID            string
	Query         string
	OperationName string
	Variables     map[string]any
	// Carrier holds transport-provided request state, cancellation signal
	// included. It seeds the request's carrier sink.
	Carrier gqlctx.Carrier
}

// Response carries the execution result plus the final request carrier, so
// values written by field resolutions reach response assembly.
type Response struct {
	ID      string
	Data    any
	Errors  []gqlerrors.FormattedError
	Carrier gqlctx.Carrier
}

// Service runs requests against a Source. It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	source *Source
}

// NewService returns a Service executing against source.
func NewService(source *Source) *Service { return &Service{source: source} }

type prepared struct {
	id   string
	ctx  context.Context
	sink *gqlctx.Sink
	snap gqlctx.Snapshot
	set  *batchload.Set
}

// prepare assembles the per-request execution state: execution id, carrier
// sink, context snapshot and dispatcher set. A duplicate loader name in
// the registry surfaces here, on the first request that builds a set.
func (s *Service) prepare(ctx context.Context, req Request) (*prepared, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	sink := gqlctx.NewSink(gqlctx.WithExecutionID(req.Carrier, id))
	ctx = gqlctx.WithSink(ctx, sink)
	snap := gqlctx.Capture(ctx, s.source.accessors...)
	prep := &prepared{id: id, ctx: ctx, sink: sink, snap: snap}
	if s.source.registry != nil {
		set, err := s.source.registry.NewSet(ctx, snap)
		if err != nil {
			return nil, err
		}
		prep.set = set
		prep.ctx = batchload.WithSet(ctx, set)
	}
	return prep, nil
}

// Execute runs a query or mutation. The error return is reserved for
// configuration-class failures and wrong operation kinds; execution
// failures arrive as structured errors in the response instead.
func (s *Service) Execute(ctx context.Context, req Request) (*Response, error) {
	opType := operationType(req.Query, req.OperationName)
	if opType == string(ast.Subscription) {
		return nil, errors.New("execution: subscription operations go through Subscribe")
	}
	prep, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	eventbus.Publish(prep.ctx, events.ExecutionStart{
		ExecutionID:   prep.id,
		OperationName: req.OperationName,
		OperationType: opType,
	})
	result := graphql.Do(graphql.Params{
		Schema:         s.source.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        prep.ctx,
	})
	eventbus.Publish(prep.ctx, events.ExecutionFinish{
		ExecutionID:   prep.id,
		OperationName: req.OperationName,
		OperationType: opType,
		ErrorCount:    len(result.Errors),
		Duration:      time.Since(start),
	})
	return &Response{
		ID:      prep.id,
		Data:    result.Data,
		Errors:  result.Errors,
		Carrier: prep.sink.Carrier(),
	}, nil
}

// Subscribe runs a subscription, forwarding one response per stream event.
// The returned channel closes after the stream completes, after a terminal
// error event, when ctx is done, or when the carrier's cancellation signal
// fires.
func (s *Service) Subscribe(ctx context.Context, req Request) (<-chan *Response, error) {
	if ot := operationType(req.Query, req.OperationName); ot != string(ast.Subscription) {
		return nil, errors.New("execution: Subscribe requires a subscription operation")
	}
	prep, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	results := graphql.Subscribe(graphql.Params{
		Schema:         s.source.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        prep.ctx,
	})
	var cancelDone <-chan struct{}
	if sig, ok := gqlctx.CancelFrom(prep.sink.Carrier()); ok {
		cancelDone = sig.Done()
	}
	start := time.Now()
	eventbus.Publish(prep.ctx, events.ExecutionStart{
		ExecutionID:   prep.id,
		OperationName: req.OperationName,
		OperationType: string(ast.Subscription),
	})
	out := make(chan *Response)
	go func() {
		defer close(out)
		errCount := 0
		defer func() {
			eventbus.Publish(prep.ctx, events.SubscriptionEvent{ExecutionID: prep.id, Terminal: true})
			eventbus.Publish(prep.ctx, events.ExecutionFinish{
				ExecutionID:   prep.id,
				OperationName: req.OperationName,
				OperationType: string(ast.Subscription),
				ErrorCount:    errCount,
				Duration:      time.Since(start),
			})
		}()
		for {
			select {
			case res, ok := <-results:
				if !ok {
					return
				}
				errCount += len(res.Errors)
				resp := &Response{ID: prep.id, Data: res.Data, Errors: res.Errors, Carrier: prep.sink.Carrier()}
				select {
				case out <- resp:
					eventbus.Publish(prep.ctx, events.SubscriptionEvent{ExecutionID: prep.id})
				case <-ctx.Done():
					go drainResults(results)
					return
				case <-cancelDone:
					go drainResults(results)
					return
				}
			case <-ctx.Done():
				go drainResults(results)
				return
			case <-cancelDone:
				go drainResults(results)
				return
			}
		}
	}()
	return out, nil
}

// drainResults unblocks the engine's result pump after the consumer quit.
func drainResults(ch chan *graphql.Result) {
	for range ch {
	}
}

// operationType parses just enough of the document to find the requested
// operation's kind. Full validation is the engine's job; parse failures
// report an empty kind and flow through to the engine for real errors.
func operationType(query, operationName string) string {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return ""
	}
	op := doc.Operations.ForName(operationName)
	if op == nil && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return ""
	}
	return string(op.Operation)
}
