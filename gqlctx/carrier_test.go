package gqlctx

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCarrierWithReturnsExtendedCopy(t *testing.T) {
	base := New().With("a", 1)
	ext := base.With("b", 2)

	if _, ok := base.Value("b"); ok {
		t.Fatalf("base carrier gained a key added to its copy")
	}
	if v, _ := ext.Value("a"); v != 1 {
		t.Fatalf("a = %v, want 1", v)
	}
	if v, _ := ext.Value("b"); v != 2 {
		t.Fatalf("b = %v, want 2", v)
	}
	if got, want := ext.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
}

func TestCarrierValueAbsent(t *testing.T) {
	var c Carrier
	if v, ok := c.Value("missing"); ok || v != nil {
		t.Fatalf("Value on empty carrier = (%v, %v), want (nil, false)", v, ok)
	}
}

func TestCarrierMergePrecedence(t *testing.T) {
	a := New().With("x", 1).With("z", 9)
	b := New().With("x", 2).With("y", 3)

	got := map[any]any{}
	a.Merge(b).Range(func(k, v any) bool {
		got[k] = v
		return true
	})
	want := map[any]any{"x": 2, "y": 3, "z": 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merged carrier mismatch (-want +got):\n%s", diff)
	}
}

func TestCarrierMergeEmptySides(t *testing.T) {
	c := New().With("k", "v")
	if got := c.Merge(Carrier{}); got.Len() != 1 {
		t.Fatalf("merge with empty carrier lost keys: %d", got.Len())
	}
	if v, _ := (Carrier{}).Merge(c).Value("k"); v != "v" {
		t.Fatalf("empty.Merge(c) lost key %q", "k")
	}
}

func TestSinkAccumulatesWrites(t *testing.T) {
	sink := NewSink(New().With("seed", true))
	sink.Put("a", 1)
	sink.Merge(New().With("a", 2).With("b", 3))

	c := sink.Carrier()
	if v, _ := c.Value("a"); v != 2 {
		t.Fatalf("a = %v, want last write 2", v)
	}
	if v, _ := c.Value("seed"); v != true {
		t.Fatalf("seed value missing after writes")
	}
	if v, _ := c.Value("b"); v != 3 {
		t.Fatalf("b = %v, want 3", v)
	}
}

func TestSinkConcurrentPut(t *testing.T) {
	sink := NewSink(New())
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink.Put(i, i)
		}(i)
	}
	wg.Wait()
	if got := sink.Carrier().Len(); got != 32 {
		t.Fatalf("Len() = %d, want 32", got)
	}
}

func TestCarrierFromWithoutSink(t *testing.T) {
	if got := CarrierFrom(context.Background()); got.Len() != 0 {
		t.Fatalf("expected empty carrier, got %d keys", got.Len())
	}
}
