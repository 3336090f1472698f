package engine

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/prepare"
)

const tracerName = "github.com/ban1717/scripto/engine"

// Engine validates, instruments and instantiates contracts. It is safe for
// concurrent use. Instrumented code is cached by content for the lifetime of
// the engine.
type Engine struct {
	backend Backend
	cache   *codeCache
	metrics *metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	opts    Options
	closed  atomic.Bool
}

// New creates an engine backed by wazero.
func New(ctx context.Context, opts *Options) (*Engine, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	backend, err := NewWazeroBackend(ctx, &WazeroConfig{
		MemoryLimitPages:    o.MaxMemoryPages,
		Interpreter:         o.Interpreter,
		CompilationCacheDir: o.CompilationCacheDir,
		Logger:              o.Logger,
	})
	if err != nil {
		return nil, err
	}

	e, err := newEngine(backend, o)
	if err != nil {
		_ = backend.Close(ctx)
		return nil, err
	}
	return e, nil
}

// NewWithBackend creates an engine that executes on backend. The engine
// takes ownership of the backend and closes it on Close.
func NewWithBackend(backend Backend, opts *Options) (*Engine, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	return newEngine(backend, o)
}

func newEngine(backend Backend, o Options) (*Engine, error) {
	m, err := newMetrics(o.Registerer)
	if err != nil {
		return nil, err
	}
	return &Engine{
		backend: backend,
		cache:   newCodeCache(),
		metrics: m,
		logger:  o.Logger,
		tracer:  o.TracerProvider.Tracer(tracerName),
		opts:    o,
	}, nil
}

// Options returns a copy of the engine's resolved options.
func (e *Engine) Options() Options {
	return e.opts
}

// Validate checks code against the engine's limits without instrumenting
// or caching it. When the backend compiles ahead of time, its own checks
// run as well.
func (e *Engine) Validate(code []byte) (*prepare.Module, error) {
	mod, err := e.validate(code)
	if err != nil {
		return nil, err
	}
	if c, ok := e.backend.(Compiler); ok {
		if err := c.Check(context.Background(), code); err != nil {
			e.reject(err)
			return nil, err
		}
	}
	return mod, nil
}

func (e *Engine) validate(code []byte) (*prepare.Module, error) {
	mod, err := prepare.Validate(code, e.opts.Limits)
	if err != nil {
		e.reject(err)
		return nil, err
	}
	return mod, nil
}

func (e *Engine) reject(err error) {
	e.metrics.rejections.WithLabelValues(string(errors.KindOf(err))).Inc()
}

// Instrument validates and instruments code, returning the cached result
// when the same code was prepared before under the same settings.
// Preparation errors are returned as-is and never cached.
func (e *Engine) Instrument(ctx context.Context, code []byte) (*prepare.InstrumentedCode, error) {
	if e.closed.Load() {
		return nil, errors.New(errors.PhaseInstrument, errors.KindClosed).Detail("engine is closed").Build()
	}

	_, span := e.tracer.Start(ctx, "engine.Instrument", trace.WithAttributes(attribute.Int("code_size", len(code))))
	defer span.End()

	key := cacheKey(code, e.opts.Limits, e.opts.Instrumenter)
	ic, hit, err := e.cache.get(key, func() (*prepare.InstrumentedCode, error) {
		mod, err := e.validate(code)
		if err != nil {
			return nil, err
		}
		ic, err := prepare.Instrument(mod, e.opts.Instrumenter)
		if err != nil {
			e.reject(err)
			return nil, err
		}
		if c, ok := e.backend.(Compiler); ok {
			if err := c.Precompile(ctx, ic); err != nil {
				err = errors.Wrap(errors.PhaseInstrument, errors.KindOf(err), err, "backend rejected module")
				e.reject(err)
				return nil, err
			}
		}
		e.logger.Debug("instrumented module",
			hashField("original", ic.OriginalHash),
			hashField("code", ic.CodeHash),
			zap.Int("original_size", len(code)),
			zap.Int("code_size", len(ic.Code)))
		return ic, nil
	})

	span.SetAttributes(attribute.Bool("cache_hit", hit))
	switch {
	case !hit:
		e.metrics.cacheMisses.Inc()
	case err == nil:
		e.metrics.cacheHits.Inc()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.KindOf(err)))
		e.logger.Debug("module rejected", zap.Error(err))
		return nil, err
	}
	return ic, nil
}

// Instantiate creates an instance of code with its own memory and a budget
// of budget cost units. Host calls are forwarded to rt.
func (e *Engine) Instantiate(ctx context.Context, code *prepare.InstrumentedCode, rt Runtime, budget uint64) (Instance, error) {
	if e.closed.Load() {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindClosed).Detail("engine is closed").Build()
	}
	if code == nil {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindValidation).Detail("nil instrumented code").Build()
	}

	ctx, span := e.tracer.Start(ctx, "engine.Instantiate", trace.WithAttributes(
		attribute.String("code_hash", code.CodeHash.String()),
		attribute.Int64("budget", int64(budget)),
	))
	defer span.End()

	inst, err := e.backend.Instantiate(ctx, code, rt, budget)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.KindOf(err)))
		e.logger.Warn("instantiate failed", hashField("code", code.CodeHash), zap.Error(err))
		return nil, err
	}
	return &observedInstance{Instance: inst, engine: e, hash: code.CodeHash}, nil
}

// Load validates, instruments and instantiates code in one step.
func (e *Engine) Load(ctx context.Context, code []byte, rt Runtime, budget uint64) (Instance, error) {
	ic, err := e.Instrument(ctx, code)
	if err != nil {
		return nil, err
	}
	return e.Instantiate(ctx, ic, rt, budget)
}

// CacheLen returns the number of cached instrumented modules.
func (e *Engine) CacheLen() int {
	return e.cache.len()
}

// Close releases the backend. Instances created by the engine must not be
// used afterwards.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.backend.Close(ctx)
}

// observedInstance adds call-depth accounting, metrics, logs and spans to
// a backend instance.
type observedInstance struct {
	Instance
	engine *Engine
	hash   prepare.Hash

	// active counts the frames of this instance on the current call
	// stack. Only the outermost one reports spent cost units.
	active atomic.Int32
}

func (i *observedInstance) Invoke(ctx context.Context, export string, args [][]byte) ([]byte, error) {
	e := i.engine
	ctx, span := e.tracer.Start(ctx, "instance.Invoke", trace.WithAttributes(
		attribute.String("export", export),
		attribute.String("code_hash", i.hash.String()),
		attribute.Int("depth", CallDepth(ctx)+1),
	))
	defer span.End()

	outermost := i.active.Add(1) == 1
	before := i.RemainingCostUnits()
	out, err := i.invoke(ctx, export, args)
	spent := before - i.RemainingCostUnits()
	i.active.Add(-1)

	if outermost {
		e.metrics.costUnits.Add(float64(spent))
	}
	span.SetAttributes(attribute.Int64("cost_units", int64(spent)))

	if err != nil {
		kind := errors.KindOf(err)
		if kind == "" {
			kind = errors.KindTrap
		}
		e.metrics.invocations.WithLabelValues(string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		e.logger.Warn("invocation failed",
			zap.String("export", export),
			hashField("code", i.hash),
			zap.Uint64("cost_units", spent),
			zap.Error(err))
		return nil, err
	}

	e.metrics.invocations.WithLabelValues("ok").Inc()
	e.logger.Debug("invocation finished",
		zap.String("export", export),
		zap.Uint64("cost_units", spent),
		zap.Int("output_size", len(out)))
	return out, nil
}

func (i *observedInstance) invoke(ctx context.Context, export string, args [][]byte) ([]byte, error) {
	ctx, err := enterCall(ctx, i.engine.opts.MaxCallDepth)
	if err != nil {
		return nil, err
	}
	return i.Instance.Invoke(ctx, export, args)
}
