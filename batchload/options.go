package batchload

import "time"

// Options control the dispatch behavior of one registration.
type Options struct {
	// MaxBatchSize caps the number of keys passed to the loader in one
	// call. A flush holding more pending keys issues several calls, each
	// preserving positional input/output correspondence. 0 means no cap.
	MaxBatchSize int

	// DisableCaching drops resolved entries after fan-out, so a later load
	// of an already-seen key invokes the loader again. Keys pending within
	// one flush are still deduplicated. Useful for loaders serving
	// long-lived subscriptions where values go stale between events.
	DisableCaching bool

	// Wait arms a timer when a batch gains its first pending key and
	// flushes the dispatcher once it elapses. This covers work running
	// outside the engine's dispatch boundary; 0 relies on explicit
	// dispatch only.
	Wait time.Duration
}
