package events

import "time"

// BatchDispatch is emitted after a dispatcher flush has invoked a batch
// loader. Calls exceeds one when MaxBatchSize split the flush.
type BatchDispatch struct {
	ExecutionID string
	Loader      string
	Keys        int
	Calls       int
	Duration    time.Duration
	Err         error
}
