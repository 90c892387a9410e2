package gqlctx

import (
	"context"
	"testing"

	"golang.org/x/text/language"
)

type stubKey string

type stubAccessor struct {
	name string
}

func (a stubAccessor) Name() string { return a.name }

func (a stubAccessor) Extract(ctx context.Context) (any, bool) {
	v := ctx.Value(stubKey(a.name))
	return v, v != nil
}

func (a stubAccessor) Inject(ctx context.Context, value any) context.Context {
	return context.WithValue(ctx, stubKey(a.name), value)
}

func TestSnapshotRestoresOnForeignContext(t *testing.T) {
	sink := NewSink(New().With("k", "v"))
	ctx := WithSink(context.Background(), sink)
	ctx = WithLocale(ctx, language.English)
	ctx = context.WithValue(ctx, stubKey("principal"), "alice")

	snap := Capture(ctx, LocaleAccessor{}, stubAccessor{name: "principal"})

	base := context.Background()
	var (
		tag     language.Tag
		tagOK   bool
		who     any
		carrier Carrier
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		snap.Wrap(func(ctx context.Context) (any, error) {
			tag, tagOK = LocaleFrom(ctx)
			who = ctx.Value(stubKey("principal"))
			carrier = CarrierFrom(ctx)
			return nil, nil
		})(base)
	}()
	<-done

	if !tagOK || tag != language.English {
		t.Fatalf("locale = (%v, %v), want English", tag, tagOK)
	}
	if who != "alice" {
		t.Fatalf("principal = %v, want alice", who)
	}
	if v, _ := carrier.Value("k"); v != "v" {
		t.Fatalf("carrier k = %v, want v", v)
	}
	if _, ok := LocaleFrom(base); ok {
		t.Fatal("locale leaked into the worker's base context")
	}
	if _, ok := SinkFrom(base); ok {
		t.Fatal("sink leaked into the worker's base context")
	}
}

func TestSnapshotFastPathKeepsRequestContext(t *testing.T) {
	sink := NewSink(New())
	ctx := WithSink(context.Background(), sink)
	snap := Capture(ctx)

	if restored := snap.Restore(ctx); restored != ctx {
		t.Fatal("restoring on the capture context must return it unchanged")
	}
}

func TestCaptureSkipsAbsentAccessors(t *testing.T) {
	snap := Capture(context.Background(), LocaleAccessor{}, stubAccessor{name: "principal"})
	if len(snap.values) != 0 {
		t.Fatalf("captured %d values from an empty context", len(snap.values))
	}
}

func TestUpdateCarrierDownstreamWins(t *testing.T) {
	sink := NewSink(New().With("x", 1).With("only", "captured"))
	ctx := WithSink(context.Background(), sink)
	snap := Capture(ctx)

	updated := snap.UpdateCarrier(New().With("x", 2))
	if v, _ := updated.Value("x"); v != 2 {
		t.Fatalf("x = %v, want downstream value 2", v)
	}
	if v, _ := updated.Value("only"); v != "captured" {
		t.Fatalf("captured-only key lost: %v", v)
	}
}
