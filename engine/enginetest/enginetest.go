// Package enginetest provides a scripted engine.Backend for tests that do
// not need a real WebAssembly runtime.
package enginetest

import (
	"context"
	"sync"

	"github.com/ban1717/scripto/engine"
	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/prepare"
)

// PageSize is the memory size every mock instance reports.
const PageSize = 65536

// Export is the behavior of one mock export.
type Export func(ctx context.Context, call *Call) ([]byte, error)

// Call is what a mock export sees of its invocation.
type Call struct {
	Args    [][]byte
	meter   *engine.Meter
	runtime engine.Runtime
}

// Charge spends cost units, as instrumented code would before running a
// segment.
func (c *Call) Charge(units uint32) error {
	return c.meter.Consume(units)
}

// HostCall forwards input to the instance's Runtime the way scrypto_engine
// does, wrapping failures as host-call errors.
func (c *Call) HostCall(ctx context.Context, input []byte) ([]byte, error) {
	if c.runtime == nil {
		return nil, errors.New(errors.PhaseHost, errors.KindHostCallFailed).Detail("no runtime bound to instance").Build()
	}
	out, err := c.runtime.HostCall(ctx, input)
	if err != nil {
		return nil, errors.New(errors.PhaseHost, errors.KindHostCallFailed).Cause(err).Detail("host call").Build()
	}
	return out, nil
}

// Echo returns its first argument.
func Echo(_ context.Context, call *Call) ([]byte, error) {
	if len(call.Args) != 1 {
		return nil, errors.Execution(errors.KindSignatureMismatch, "echo takes 1 argument, got %d", len(call.Args))
	}
	return call.Args[0], nil
}

// Relay passes its first argument to the host and returns the reply.
func Relay(ctx context.Context, call *Call) ([]byte, error) {
	if len(call.Args) != 1 {
		return nil, errors.Execution(errors.KindSignatureMismatch, "relay takes 1 argument, got %d", len(call.Args))
	}
	return call.HostCall(ctx, call.Args[0])
}

// Backend is an in-memory engine.Backend whose instances run Go functions
// instead of guest code.
type Backend struct {
	exports map[string]Export

	mu             sync.Mutex
	instantiations int
	instantiateErr error
	closed         bool
}

// New returns a backend whose instances expose exports.
func New(exports map[string]Export) *Backend {
	return &Backend{exports: exports}
}

// FailInstantiate makes every following Instantiate return err.
func (b *Backend) FailInstantiate(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instantiateErr = err
}

// Instantiations returns how many instances were created.
func (b *Backend) Instantiations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instantiations
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Instantiate implements engine.Backend. Only exports that code lists are
// reachable.
func (b *Backend) Instantiate(_ context.Context, code *prepare.InstrumentedCode, rt engine.Runtime, budget uint64) (engine.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindClosed).Detail("backend is closed").Build()
	}
	if b.instantiateErr != nil {
		return nil, b.instantiateErr
	}
	b.instantiations++

	exports := make(map[string]Export)
	for name, fn := range b.exports {
		if code == nil || code.HasExport(name) {
			exports[name] = fn
		}
	}
	return &Instance{exports: exports, meter: engine.NewMeter(budget), runtime: rt}, nil
}

// Close implements engine.Backend.
func (b *Backend) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Instance is a mock engine.Instance.
type Instance struct {
	exports map[string]Export
	meter   *engine.Meter
	runtime engine.Runtime
	closed  bool
}

// Invoke implements engine.Instance.
func (i *Instance) Invoke(ctx context.Context, export string, args [][]byte) ([]byte, error) {
	if i.closed {
		return nil, errors.Execution(errors.KindClosed, "instance is closed")
	}
	fn, ok := i.exports[export]
	if !ok {
		return nil, errors.ExportNotFound(export)
	}
	return fn(ctx, &Call{Args: args, meter: i.meter, runtime: i.runtime})
}

func (i *Instance) RemainingCostUnits() uint64 {
	return i.meter.Remaining()
}

func (i *Instance) ConsumedMemory() uint64 {
	return PageSize
}

func (i *Instance) Close(context.Context) error {
	i.closed = true
	return nil
}

var (
	_ engine.Backend  = (*Backend)(nil)
	_ engine.Instance = (*Instance)(nil)
)
