package gqlctx

import (
	"context"

	"golang.org/x/text/language"
)

// An Accessor extracts one kind of ambient request state from a context and
// injects it into another. Accessors let the snapshot mechanism move values
// that live outside the Carrier, such as tracing spans or security
// principals, across goroutine handoffs without reaching into their
// packages directly.
//
// Implementations must be safe for concurrent use. Accessors are registered
// once at source construction and the set never changes afterward.
type Accessor interface {
	// Name identifies the accessor; captured values are keyed by it.
	Name() string
	// Extract reads the ambient value from ctx. ok reports whether a value
	// was present; accessors that extract nothing are skipped at capture.
	Extract(ctx context.Context) (value any, ok bool)
	// Inject returns a context carrying value.
	Inject(ctx context.Context, value any) context.Context
}

type localeKey struct{}

// WithLocale returns a context carrying the request locale.
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, localeKey{}, tag)
}

// LocaleFrom returns the request locale, if set.
func LocaleFrom(ctx context.Context) (language.Tag, bool) {
	tag, ok := ctx.Value(localeKey{}).(language.Tag)
	return tag, ok
}

// LocaleAccessor propagates the request locale across goroutine handoffs.
type LocaleAccessor struct{}

func (LocaleAccessor) Name() string { return "locale" }

func (LocaleAccessor) Extract(ctx context.Context) (any, bool) {
	tag, ok := LocaleFrom(ctx)
	if !ok {
		return nil, false
	}
	return tag, true
}

func (LocaleAccessor) Inject(ctx context.Context, value any) context.Context {
	tag, ok := value.(language.Tag)
	if !ok {
		return ctx
	}
	return WithLocale(ctx, tag)
}
