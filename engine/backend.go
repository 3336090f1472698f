package engine

import (
	"context"

	"github.com/ban1717/scripto/prepare"
)

// Runtime receives the host calls a contract makes through scrypto_engine.
// It is supplied by the caller for every instantiation. The context carries
// the current call depth, so invocations started from HostCall are bounded
// by the same limit as their parent.
type Runtime interface {
	HostCall(ctx context.Context, input []byte) ([]byte, error)
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(ctx context.Context, input []byte) ([]byte, error)

// HostCall implements Runtime.
func (f RuntimeFunc) HostCall(ctx context.Context, input []byte) ([]byte, error) {
	return f(ctx, input)
}

// Backend turns instrumented code into executable instances.
type Backend interface {
	// Instantiate creates a fresh instance with its own memory and a cost
	// budget of budget units.
	Instantiate(ctx context.Context, code *prepare.InstrumentedCode, rt Runtime, budget uint64) (Instance, error)
	Close(ctx context.Context) error
}

// Instance is an instantiated contract.
// It is NOT safe for concurrent use from multiple goroutines.
type Instance interface {
	// Invoke calls export with one buffer per argument and returns the
	// buffer the export produced.
	Invoke(ctx context.Context, export string, args [][]byte) ([]byte, error)

	// RemainingCostUnits reports the unspent budget. It never increases.
	RemainingCostUnits() uint64

	// ConsumedMemory reports the size of linear memory in bytes.
	ConsumedMemory() uint64

	Close(ctx context.Context) error
}

// Compiler is implemented by backends that compile code ahead of
// instantiation. The engine uses it to reject modules the backend cannot
// run before they reach the code cache.
type Compiler interface {
	// Check reports whether raw contract bytes pass the backend's own
	// validation. Nothing is kept.
	Check(ctx context.Context, code []byte) error

	// Precompile compiles instrumented code so later instantiations
	// reuse it.
	Precompile(ctx context.Context, code *prepare.InstrumentedCode) error
}
