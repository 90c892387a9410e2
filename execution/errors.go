// Package execution binds the graphql-go engine to the rest of the
// library: it assembles a schema source whose resolvers are decorated for
// context propagation and batch dispatch, routes failures through ordered
// resolution chains, and exposes the request-execution service consumed by
// transports.
package execution

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrorType classifies a structured error for clients.
type ErrorType string

const (
	ErrorTypeBadRequest   ErrorType = "BAD_REQUEST"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

// Error is a structured, client-facing GraphQL error. Resolvers and error
// resolvers return it; the engine formats it into the response error list.
type Error struct {
	Message string
	Type    ErrorType
	Path    []any
	Meta    map[string]any
}

func (e *Error) Error() string { return e.Message }

// Extensions implements gqlerrors.ExtendedError, so the classification and
// metadata survive the engine's error formatting.
func (e *Error) Extensions() map[string]any {
	ext := make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		ext[k] = v
	}
	if e.Type != "" {
		ext["classification"] = string(e.Type)
	}
	return ext
}

// multiError carries several resolved errors through the engine's single
// per-field error slot.
type multiError struct {
	errs []*Error
}

func (m *multiError) Error() string {
	msgs := make([]string, len(m.errs))
	for i, e := range m.errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

func (m *multiError) Extensions() map[string]any { return m.errs[0].Extensions() }

// FieldInfo carries the coordinates of the resolution an error came from.
type FieldInfo struct {
	ObjectType  string
	Field       string
	Path        []any
	ExecutionID string
}

// An ErrorResolver turns a field-resolution failure into structured errors.
// handled=false declines, leaving the error to the next resolver in the
// chain; handled=true with an empty slice swallows the error silently.
// Resolvers may block on ctx-aware asynchronous work before answering.
type ErrorResolver interface {
	ResolveError(ctx context.Context, err error, field FieldInfo) (errs []*Error, handled bool)
}

// ErrorResolverFunc adapts a plain function to ErrorResolver.
type ErrorResolverFunc func(ctx context.Context, err error, field FieldInfo) ([]*Error, bool)

func (f ErrorResolverFunc) ResolveError(ctx context.Context, err error, field FieldInfo) ([]*Error, bool) {
	return f(ctx, err, field)
}

// A StreamErrorResolver turns a subscription-stream failure into structured
// errors. There is no live field context once streaming has started, so it
// is keyed by the error alone.
type StreamErrorResolver interface {
	ResolveStreamError(ctx context.Context, err error) (errs []*Error, handled bool)
}

// StreamErrorResolverFunc adapts a plain function to StreamErrorResolver.
type StreamErrorResolverFunc func(ctx context.Context, err error) ([]*Error, bool)

func (f StreamErrorResolverFunc) ResolveStreamError(ctx context.Context, err error) ([]*Error, bool) {
	return f(ctx, err)
}

// errorChain evaluates ordinary field-resolution failures. Resolvers are
// tried strictly in configured order; the first non-declining answer wins,
// an explicitly empty one included.
type errorChain struct {
	resolvers []ErrorResolver
	log       *zap.Logger
}

func (c errorChain) resolve(ctx context.Context, cause error, field FieldInfo) []*Error {
	for _, r := range c.resolvers {
		if errs, handled := c.tryResolve(ctx, r, cause, field); handled {
			return errs
		}
	}
	return []*Error{{
		Message: fallbackMessage(field.ExecutionID, field),
		Type:    ErrorTypeInternal,
		Path:    field.Path,
	}}
}

// tryResolve consults one resolver. A panicking resolver is logged and
// treated as declining; it never aborts the chain or the request.
func (c errorChain) tryResolve(ctx context.Context, r ErrorResolver, cause error, field FieldInfo) (errs []*Error, handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("error resolver failed, treating as unresolved",
				zap.Any("panic", rec),
				zap.String("object", field.ObjectType),
				zap.String("field", field.Field))
			errs, handled = nil, false
		}
	}()
	return r.ResolveError(ctx, cause, field)
}

// streamChain evaluates subscription-stream failures.
type streamChain struct {
	resolvers []StreamErrorResolver
	log       *zap.Logger
}

func (c streamChain) resolve(ctx context.Context, cause error, executionID string) []*Error {
	for _, r := range c.resolvers {
		if errs, handled := c.tryResolve(ctx, r, cause); handled {
			return errs
		}
	}
	return []*Error{{
		Message: fallbackMessage(executionID, FieldInfo{}),
		Type:    ErrorTypeInternal,
	}}
}

func (c streamChain) tryResolve(ctx context.Context, r StreamErrorResolver, cause error) (errs []*Error, handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("subscription error resolver failed, treating as unresolved",
				zap.Any("panic", rec))
			errs, handled = nil, false
		}
	}()
	return r.ResolveStreamError(ctx, cause)
}

// fallbackMessage synthesizes the INTERNAL_ERROR text, always attributed to
// the execution id for correlation.
func fallbackMessage(executionID string, field FieldInfo) string {
	msg := "Unexpected error occurred"
	if executionID != "" {
		msg = fmt.Sprintf("%s [execution %s]", msg, executionID)
	}
	if field.ObjectType != "" && field.Field != "" {
		msg = fmt.Sprintf("%s at %s.%s", msg, field.ObjectType, field.Field)
	}
	return msg
}
