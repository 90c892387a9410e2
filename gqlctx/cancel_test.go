package gqlctx

import "testing"

func TestCancelSignalFireIdempotent(t *testing.T) {
	sig := NewCancelSignal()
	if sig.Fired() {
		t.Fatal("signal fired before Fire")
	}
	sig.Fire()
	sig.Fire()
	if !sig.Fired() {
		t.Fatal("signal not fired after Fire")
	}
	select {
	case <-sig.Done():
	default:
		t.Fatal("Done channel still open after Fire")
	}
}

func TestCancelCarrierRoundTrip(t *testing.T) {
	sig := NewCancelSignal()
	c := WithCancel(New(), sig)
	got, ok := CancelFrom(c)
	if !ok || got != sig {
		t.Fatalf("CancelFrom = (%v, %v), want the stored signal", got, ok)
	}
	if _, ok := CancelFrom(New()); ok {
		t.Fatal("CancelFrom on an empty carrier reported a signal")
	}
}
