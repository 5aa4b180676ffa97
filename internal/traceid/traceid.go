// Package traceid carries correlation IDs through a context: the request ID of
// an admin API call and the run ID of a backup execution.
package traceid

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestKey struct{}
	runKey     struct{}
)

// New generates a random UUID v4.
func New() string {
	return uuid.NewString()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

// RequestID returns "" if ctx carries no request ID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestKey{}).(string)
	return id
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunID returns "" outside a backup execution.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}
