package gqlctx

type executionIDKey struct{}

// WithExecutionID returns a carrier holding the execution identifier
// attributed to every error and event of one request.
func WithExecutionID(c Carrier, id string) Carrier {
	return c.With(executionIDKey{}, id)
}

// ExecutionIDFrom returns the execution identifier, or "" if unset.
func ExecutionIDFrom(c Carrier) string {
	v, _ := c.Value(executionIDKey{})
	id, _ := v.(string)
	return id
}
