package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/prepare"
)

// DefaultMaxMemoryPages caps linear memory growth at runtime (16 MiB).
const DefaultMaxMemoryPages = 256

// Options configures an Engine. Start from DefaultOptions and override
// fields; the engine copies the options, so later changes have no effect.
type Options struct {
	// Limits are the structural ceilings enforced by validation.
	Limits prepare.Limits

	// Instrumenter selects the cost rules injected into every module.
	Instrumenter prepare.InstrumenterOptions

	// MaxCallDepth bounds nested invocations through host calls.
	// 0 means DefaultMaxCallDepth.
	MaxCallDepth int

	// MaxMemoryPages caps memory.grow at runtime, in 64 KiB pages.
	// It must not be smaller than Limits.MaxInitialMemoryPages.
	// 0 means DefaultMaxMemoryPages.
	MaxMemoryPages uint32

	// Interpreter selects wazero's interpreter instead of the compiler.
	// The two modes reach their call stack ceiling at different depths, so
	// deeply recursive contracts only trap at the same point when every
	// node runs the same mode.
	Interpreter bool

	// CompilationCacheDir persists compiled code across processes when set.
	CompilationCacheDir string

	// Logger receives debug and warning logs. nil disables logging.
	Logger *zap.Logger

	// Registerer receives the engine's metrics. nil leaves them unregistered.
	Registerer prometheus.Registerer

	// TracerProvider creates the engine's spans. nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// DefaultOptions returns options with default limits and cost rules.
func DefaultOptions() *Options {
	return &Options{
		Limits:         prepare.DefaultLimits(),
		Instrumenter:   prepare.DefaultInstrumenterOptions(),
		MaxCallDepth:   DefaultMaxCallDepth,
		MaxMemoryPages: DefaultMaxMemoryPages,
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if err := o.Limits.Validate(); err != nil {
		return err
	}
	if o.MaxCallDepth < 0 {
		return errors.InvalidOptions("MaxCallDepth", "must not be negative")
	}
	if o.MaxMemoryPages > 65536 {
		return errors.InvalidOptions("MaxMemoryPages", "exceeds the 32-bit address space")
	}
	if o.MaxMemoryPages != 0 && o.MaxMemoryPages < o.Limits.MaxInitialMemoryPages {
		return errors.InvalidOptions("MaxMemoryPages", "smaller than Limits.MaxInitialMemoryPages")
	}
	return nil
}

// resolve validates opts and returns a copy with defaults applied.
func resolve(opts *Options) (Options, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}

	o := *opts
	if o.MaxCallDepth == 0 {
		o.MaxCallDepth = DefaultMaxCallDepth
	}
	if o.MaxMemoryPages == 0 {
		o.MaxMemoryPages = DefaultMaxMemoryPages
		if o.MaxMemoryPages < o.Limits.MaxInitialMemoryPages {
			o.MaxMemoryPages = o.Limits.MaxInitialMemoryPages
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	return o, nil
}
