package session

import "context"

type retriedKey struct{}

// WithRetried marks ctx as belonging to a request that was already re-issued
// after a refresh. A second 401 for such a request is terminal.
func WithRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// IsRetried reports whether ctx carries the retried marker.
func IsRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}
