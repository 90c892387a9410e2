// Package events defines the payload types published on the event bus at
// the library's execution, batch-dispatch, subscription and HTTP
// boundaries.
package events

import "time"

// ExecutionStart is emitted before a GraphQL operation executes.
type ExecutionStart struct {
	ExecutionID   string
	OperationName string
	OperationType string
}

// ExecutionFinish is emitted after a GraphQL operation completes.
type ExecutionFinish struct {
	ExecutionID   string
	OperationName string
	OperationType string
	ErrorCount    int
	Duration      time.Duration
}
