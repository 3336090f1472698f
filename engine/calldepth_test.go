package engine

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/ban1717/scripto/errors"
)

func TestCallDepth(t *testing.T) {
	ctx := context.Background()
	if CallDepth(ctx) != 0 {
		t.Fatalf("CallDepth of a fresh context = %d, want 0", CallDepth(ctx))
	}

	ctx = WithCallDepth(ctx, 3)
	if CallDepth(ctx) != 3 {
		t.Errorf("CallDepth = %d, want 3", CallDepth(ctx))
	}
}

func TestEnterCall(t *testing.T) {
	ctx := context.Background()

	var err error
	for depth := 1; depth <= 3; depth++ {
		ctx, err = enterCall(ctx, 3)
		if err != nil {
			t.Fatalf("enterCall at depth %d: %v", depth, err)
		}
		if CallDepth(ctx) != depth {
			t.Errorf("CallDepth = %d, want %d", CallDepth(ctx), depth)
		}
	}

	next, err := enterCall(ctx, 3)
	if !stderrors.Is(err, errors.ErrCallDepthExceeded) {
		t.Fatalf("expected call depth error, got %v", err)
	}
	if CallDepth(next) != 3 {
		t.Errorf("a refused call must not change the depth, got %d", CallDepth(next))
	}
}
