package engine

import (
	"context"

	"github.com/ban1717/scripto/errors"
)

// DefaultMaxCallDepth bounds nested invocations when Options leave it unset.
const DefaultMaxCallDepth = 8

type callDepthKey struct{}

// WithCallDepth returns a context recording depth nested invocations.
func WithCallDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, callDepthKey{}, depth)
}

// CallDepth returns the number of invocations active on ctx.
func CallDepth(ctx context.Context) int {
	depth, _ := ctx.Value(callDepthKey{}).(int)
	return depth
}

// enterCall records one more level of nesting, failing when it would
// exceed limit.
func enterCall(ctx context.Context, limit int) (context.Context, error) {
	depth := CallDepth(ctx) + 1
	if depth > limit {
		return ctx, errors.CallDepthExceeded(depth, limit)
	}
	return WithCallDepth(ctx, depth), nil
}
