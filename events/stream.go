package events

// SubscriptionEvent is emitted for every payload delivered on a
// subscription stream. Terminal marks the event that ends the stream,
// whether by error resolution or source completion.
type SubscriptionEvent struct {
	ExecutionID string
	Terminal    bool
}
