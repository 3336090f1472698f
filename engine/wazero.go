package engine

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/prepare"
)

// WazeroConfig holds configuration for the wazero backend
type WazeroConfig struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means wazero's default of 65536 pages.
	MemoryLimitPages uint32

	// Interpreter selects the interpreter instead of the optimizing compiler.
	Interpreter bool

	// CompilationCacheDir persists compiled code on disk when set.
	CompilationCacheDir string

	Logger *zap.Logger
}

// WazeroBackend implements Backend using the wazero runtime.
type WazeroBackend struct {
	runtime  wazero.Runtime
	ccache   wazero.CompilationCache
	host     api.Module
	logger   *zap.Logger
	compiled map[prepare.Hash]wazero.CompiledModule
	group    singleflight.Group
	mu       sync.RWMutex
	closed   atomic.Bool
}

// NewWazeroBackend creates a runtime and instantiates the env host module
// on it. A nil cfg uses the compiler with default limits.
func NewWazeroBackend(ctx context.Context, cfg *WazeroConfig) (*WazeroBackend, error) {
	if cfg == nil {
		cfg = &WazeroConfig{}
	}

	var runtimeCfg wazero.RuntimeConfig
	if cfg.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		runtimeCfg = wazero.NewRuntimeConfig()
	}
	runtimeCfg = runtimeCfg.
		WithCoreFeatures(api.CoreFeaturesV2).
		WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	var ccache wazero.CompilationCache
	if cfg.CompilationCacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidOptions).
				Path("CompilationCacheDir").
				Cause(err).
				Detail("open compilation cache").
				Build()
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(c)
		ccache = c
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	host, err := instantiateHostModule(ctx, runtime)
	if err != nil {
		_ = runtime.Close(ctx)
		if ccache != nil {
			_ = ccache.Close(ctx)
		}
		return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindNotCompilable, err, "instantiate host module")
	}

	return &WazeroBackend{
		runtime:  runtime,
		ccache:   ccache,
		host:     host,
		logger:   logger,
		compiled: make(map[prepare.Hash]wazero.CompiledModule),
	}, nil
}

// compile returns the compiled module for code, compiling it at most once.
func (b *WazeroBackend) compile(ctx context.Context, code *prepare.InstrumentedCode) (wazero.CompiledModule, error) {
	b.mu.RLock()
	compiled, ok := b.compiled[code.CodeHash]
	b.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	v, err, _ := b.group.Do(string(code.CodeHash[:]), func() (any, error) {
		b.mu.RLock()
		compiled, ok := b.compiled[code.CodeHash]
		b.mu.RUnlock()
		if ok {
			return compiled, nil
		}

		compiled, err := b.runtime.CompileModule(ctx, code.Code)
		if err != nil {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindNotCompilable).
				Cause(err).
				Detail("compile %s", code.CodeHash).
				Build()
		}
		b.logger.Debug("compiled module", hashField("code", code.CodeHash))

		b.mu.Lock()
		b.compiled[code.CodeHash] = compiled
		b.mu.Unlock()
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(wazero.CompiledModule), nil
}

// Check implements Compiler. Function bodies are type-checked by wazero's
// validator; a rejection is KindValidation.
func (b *WazeroBackend) Check(ctx context.Context, code []byte) error {
	if b.closed.Load() {
		return errors.New(errors.PhaseValidate, errors.KindClosed).Detail("backend is closed").Build()
	}
	compiled, err := b.runtime.CompileModule(ctx, code)
	if err != nil {
		return errors.New(errors.PhaseValidate, errors.KindValidation).
			Cause(err).
			Detail("module does not compile").
			Build()
	}
	return compiled.Close(ctx)
}

// Precompile implements Compiler.
func (b *WazeroBackend) Precompile(ctx context.Context, code *prepare.InstrumentedCode) error {
	if b.closed.Load() {
		return errors.New(errors.PhaseInstrument, errors.KindClosed).Detail("backend is closed").Build()
	}
	_, err := b.compile(ctx, code)
	return err
}

// Instantiate implements Backend. Every instance is an anonymous module, so
// instances never share memory. A nil rt fails every host call.
func (b *WazeroBackend) Instantiate(ctx context.Context, code *prepare.InstrumentedCode, rt Runtime, budget uint64) (Instance, error) {
	if b.closed.Load() {
		return nil, errors.New(errors.PhaseInstantiate, errors.KindClosed).Detail("backend is closed").Build()
	}
	if rt == nil {
		rt = RuntimeFunc(func(context.Context, []byte) ([]byte, error) {
			return nil, stderrors.New("no runtime bound to instance")
		})
	}

	compiled, err := b.compile(ctx, code)
	if err != nil {
		return nil, err
	}

	modConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions()
	mod, err := b.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindTrap, err, "instantiate module")
	}

	mem := mod.Memory()
	if mem == nil {
		_ = mod.Close(ctx)
		return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidMemory).
			Reason(errors.ReasonNoMemoryDefinition).
			Detail("instance has no memory").
			Build()
	}

	b.logger.Debug("instantiated module",
		hashField("code", code.CodeHash),
		zap.Uint64("budget", budget),
		zap.Uint32("memory_size", mem.Size()))

	return &wazeroInstance{
		module:  mod,
		memory:  &WazeroMemory{mem: mem},
		alloc:   newGuestAllocator(mod),
		meter:   NewMeter(budget),
		runtime: rt,
	}, nil
}

// Close releases the runtime, every compiled module and the compilation
// cache. It is safe to call more than once.
func (b *WazeroBackend) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := b.runtime.Close(ctx)
	if b.ccache != nil {
		err = multierr.Append(err, b.ccache.Close(ctx))
	}

	b.mu.Lock()
	b.compiled = nil
	b.mu.Unlock()
	return err
}

// wazeroInstance is a single instantiation of a contract.
type wazeroInstance struct {
	module  api.Module
	memory  *WazeroMemory
	alloc   *guestAllocator
	meter   *Meter
	runtime Runtime
	closed  bool
}

// Invoke implements Instance.
func (i *wazeroInstance) Invoke(ctx context.Context, export string, args [][]byte) ([]byte, error) {
	if i.closed {
		return nil, errors.Execution(errors.KindClosed, "instance is closed")
	}

	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return nil, errors.ExportNotFound(export)
	}
	if err := checkSignature(export, fn.Definition(), len(args)); err != nil {
		return nil, err
	}

	ctx = withInvocation(ctx, &invocation{inst: i})

	params := make([]uint64, len(args))
	for n, arg := range args {
		ptr, err := writeBuffer(ctx, i.memory, i.alloc, arg)
		if err != nil {
			return nil, err
		}
		params[n] = api.EncodeU32(ptr)
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, classify(ctx, err, errors.KindTrap)
	}

	ptr := api.DecodeU32(results[0])
	out, err := readBuffer(i.memory, ptr, errors.KindInvalidReturnData)
	if err != nil {
		return nil, err
	}
	if err := i.alloc.Free(ctx, ptr); err != nil {
		return nil, classify(ctx, err, errors.KindTrap)
	}
	return out, nil
}

// checkSignature verifies export takes argc i32 pointers and returns one.
func checkSignature(export string, def api.FunctionDefinition, argc int) error {
	params := def.ParamTypes()
	if len(params) != argc {
		return errors.New(errors.PhaseInvoke, errors.KindSignatureMismatch).
			Path(export).
			Detail("export takes %d arguments, got %d", len(params), argc).
			Build()
	}
	for n, p := range params {
		if p != api.ValueTypeI32 {
			return errors.New(errors.PhaseInvoke, errors.KindSignatureMismatch).
				Path(export).
				Detail("parameter %d is %s, want i32", n, api.ValueTypeName(p)).
				Build()
		}
	}
	results := def.ResultTypes()
	if len(results) != 1 || results[0] != api.ValueTypeI32 {
		return errors.New(errors.PhaseInvoke, errors.KindSignatureMismatch).
			Path(export).
			Detail("export must return exactly one i32, returns %d values", len(results)).
			Build()
	}
	return nil
}

func (i *wazeroInstance) RemainingCostUnits() uint64 {
	return i.meter.Remaining()
}

func (i *wazeroInstance) ConsumedMemory() uint64 {
	return uint64(i.memory.Size())
}

func (i *wazeroInstance) Close(ctx context.Context) error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.module.Close(ctx)
}

var (
	_ Backend  = (*WazeroBackend)(nil)
	_ Compiler = (*WazeroBackend)(nil)
	_ Instance = (*wazeroInstance)(nil)
)
