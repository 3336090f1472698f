package engine_test

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ban1717/scripto/engine"
	"github.com/ban1717/scripto/engine/enginetest"
	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/internal/contracttest"
	"github.com/ban1717/scripto/prepare"
)

func newTestEngine(t *testing.T, exports map[string]enginetest.Export, opts *engine.Options) (*engine.Engine, *enginetest.Backend) {
	t.Helper()
	backend := enginetest.New(exports)
	eng, err := engine.NewWithBackend(backend, opts)
	if err != nil {
		t.Fatalf("NewWithBackend: %v", err)
	}
	t.Cleanup(func() { eng.Close(context.Background()) })
	return eng, backend
}

func standardExports() map[string]enginetest.Export {
	return map[string]enginetest.Export{
		contracttest.ExportEcho:     enginetest.Echo,
		contracttest.ExportCallHost: enginetest.Relay,
	}
}

func TestNewWithBackend_Options(t *testing.T) {
	tests := []struct {
		opts    *engine.Options
		name    string
		wantErr bool
	}{
		{nil, "nil options", false},
		{engine.DefaultOptions(), "defaults", false},
		{&engine.Options{Limits: prepare.DefaultLimits()}, "zero values filled", false},
		{&engine.Options{}, "zero limits", true},
		{func() *engine.Options { o := engine.DefaultOptions(); o.MaxCallDepth = -1; return o }(), "negative depth", true},
		{func() *engine.Options { o := engine.DefaultOptions(); o.MaxMemoryPages = 1; return o }(), "memory below initial limit", true},
		{func() *engine.Options { o := engine.DefaultOptions(); o.MaxMemoryPages = 65537; return o }(), "memory above 4 GiB", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng, err := engine.NewWithBackend(enginetest.New(nil), tc.opts)
			if tc.wantErr {
				if !stderrors.Is(err, errors.ErrInvalidOptions) {
					t.Fatalf("expected invalid options, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewWithBackend: %v", err)
			}
			o := eng.Options()
			if o.MaxCallDepth != engine.DefaultMaxCallDepth {
				t.Errorf("MaxCallDepth = %d, want %d", o.MaxCallDepth, engine.DefaultMaxCallDepth)
			}
			if o.MaxMemoryPages != engine.DefaultMaxMemoryPages {
				t.Errorf("MaxMemoryPages = %d, want %d", o.MaxMemoryPages, engine.DefaultMaxMemoryPages)
			}
			if eng.Logger() == nil {
				t.Error("Logger should default to a no-op logger")
			}
		})
	}
}

func TestEngine_OptionsAreCopied(t *testing.T) {
	opts := engine.DefaultOptions()
	eng, _ := newTestEngine(t, nil, opts)

	opts.MaxCallDepth = 1
	if eng.Options().MaxCallDepth != engine.DefaultMaxCallDepth {
		t.Error("changing options after New must not affect the engine")
	}
}

func TestEngine_InstrumentCaches(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := engine.DefaultOptions()
	opts.Registerer = reg
	eng, _ := newTestEngine(t, nil, opts)
	ctx := context.Background()
	code := contracttest.Contract()

	first, err := eng.Instrument(ctx, code)
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	second, err := eng.Instrument(ctx, code)
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	if first != second {
		t.Error("second Instrument should return the cached code")
	}
	if eng.CacheLen() != 1 {
		t.Errorf("CacheLen = %d, want 1", eng.CacheLen())
	}
	if first.OriginalHash != prepare.HashOf(code) {
		t.Error("OriginalHash does not match the input")
	}

	expected := `
# HELP scripto_cache_hits_total Instrumentation requests served from the code cache
# TYPE scripto_cache_hits_total counter
scripto_cache_hits_total 1
# HELP scripto_cache_misses_total Instrumentation requests that validated and instrumented a module
# TYPE scripto_cache_misses_total counter
scripto_cache_misses_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"scripto_cache_hits_total", "scripto_cache_misses_total"); err != nil {
		t.Error(err)
	}
}

func TestEngine_InstrumentRejection(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := engine.DefaultOptions()
	opts.Registerer = reg
	eng, _ := newTestEngine(t, nil, opts)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := eng.Instrument(ctx, []byte("not wasm"))
		if !stderrors.Is(err, errors.ErrDecode) {
			t.Fatalf("expected decode error, got %v", err)
		}
		if !errors.IsPrepare(err) {
			t.Error("decode errors are preparation errors")
		}
	}
	if eng.CacheLen() != 0 {
		t.Errorf("CacheLen = %d, errors must not be cached", eng.CacheLen())
	}

	if got := counterValue(t, reg, "scripto_prepare_rejections_total", "kind", string(errors.KindDecode)); got != 2 {
		t.Errorf("decode rejections = %v, want 2", got)
	}
}

func TestEngine_InstrumentConcurrent(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil)
	ctx := context.Background()
	code := contracttest.Contract()

	const callers = 16
	results := make([]*prepare.InstrumentedCode, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ic, err := eng.Instrument(ctx, code)
			if err != nil {
				t.Errorf("Instrument: %v", err)
				return
			}
			results[i] = ic
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different instrumented code", i)
		}
	}
	if eng.CacheLen() != 1 {
		t.Errorf("CacheLen = %d, want 1", eng.CacheLen())
	}
}

func TestEngine_Load(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := engine.DefaultOptions()
	opts.Registerer = reg
	eng, backend := newTestEngine(t, map[string]enginetest.Export{
		contracttest.ExportEcho: func(ctx context.Context, call *enginetest.Call) ([]byte, error) {
			if err := call.Charge(25); err != nil {
				return nil, err
			}
			return enginetest.Echo(ctx, call)
		},
		"not_exported": enginetest.Echo,
	}, opts)
	ctx := context.Background()

	inst, err := eng.Load(ctx, contracttest.Contract(), nil, 100)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer inst.Close(ctx)

	out, err := inst.Invoke(ctx, contracttest.ExportEcho, [][]byte{[]byte("hello")})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != "hello" {
		t.Errorf("Invoke = %q, want %q", out, "hello")
	}
	if inst.RemainingCostUnits() != 75 {
		t.Errorf("RemainingCostUnits = %d, want 75", inst.RemainingCostUnits())
	}
	if backend.Instantiations() != 1 {
		t.Errorf("Instantiations = %d, want 1", backend.Instantiations())
	}

	_, err = inst.Invoke(ctx, "not_exported", [][]byte{nil})
	if !stderrors.Is(err, errors.ErrExportNotFound) {
		t.Errorf("expected export not found, got %v", err)
	}

	if got := counterValue(t, reg, "scripto_cost_units_consumed_total"); got != 25 {
		t.Errorf("cost units = %v, want 25", got)
	}
	if got := counterValue(t, reg, "scripto_invocations_total", "outcome", "ok"); got != 1 {
		t.Errorf("ok invocations = %v, want 1", got)
	}
	if got := counterValue(t, reg, "scripto_invocations_total", "outcome", string(errors.KindExportNotFound)); got != 1 {
		t.Errorf("failed invocations = %v, want 1", got)
	}
}

func TestEngine_ReentrantCostCountedOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := engine.DefaultOptions()
	opts.Registerer = reg
	charged := func(units uint32, next enginetest.Export) enginetest.Export {
		return func(ctx context.Context, call *enginetest.Call) ([]byte, error) {
			if err := call.Charge(units); err != nil {
				return nil, err
			}
			return next(ctx, call)
		}
	}
	eng, _ := newTestEngine(t, map[string]enginetest.Export{
		contracttest.ExportEcho:     charged(5, enginetest.Echo),
		contracttest.ExportCallHost: charged(10, enginetest.Relay),
	}, opts)
	ctx := context.Background()

	// The host call re-enters the same instance.
	var inst engine.Instance
	rt := engine.RuntimeFunc(func(ctx context.Context, input []byte) ([]byte, error) {
		return inst.Invoke(ctx, contracttest.ExportEcho, [][]byte{input})
	})
	inst, err := eng.Load(ctx, contracttest.Contract(), rt, 100)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer inst.Close(ctx)

	out, err := inst.Invoke(ctx, contracttest.ExportCallHost, [][]byte{[]byte("again")})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != "again" {
		t.Errorf("Invoke = %q, want %q", out, "again")
	}
	if inst.RemainingCostUnits() != 85 {
		t.Errorf("RemainingCostUnits = %d, want 85", inst.RemainingCostUnits())
	}
	if got := counterValue(t, reg, "scripto_cost_units_consumed_total"); got != 15 {
		t.Errorf("cost units = %v, want 15", got)
	}
	if got := counterValue(t, reg, "scripto_invocations_total", "outcome", "ok"); got != 2 {
		t.Errorf("ok invocations = %v, want 2", got)
	}
}

func TestEngine_InstantiateNilCode(t *testing.T) {
	eng, backend := newTestEngine(t, nil, nil)

	_, err := eng.Instantiate(context.Background(), nil, nil, 10)
	if !stderrors.Is(err, errors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if backend.Instantiations() != 0 {
		t.Errorf("Instantiations = %d, want 0", backend.Instantiations())
	}
}

func TestEngine_CostExhaustion(t *testing.T) {
	eng, _ := newTestEngine(t, map[string]enginetest.Export{
		contracttest.ExportEcho: func(ctx context.Context, call *enginetest.Call) ([]byte, error) {
			if err := call.Charge(101); err != nil {
				return nil, err
			}
			return enginetest.Echo(ctx, call)
		},
	}, nil)
	ctx := context.Background()

	inst, err := eng.Load(ctx, contracttest.Contract(), nil, 100)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = inst.Invoke(ctx, contracttest.ExportEcho, [][]byte{nil})
	if !stderrors.Is(err, errors.ErrCostUnitsExhausted) {
		t.Fatalf("expected cost exhaustion, got %v", err)
	}
	if inst.RemainingCostUnits() != 0 {
		t.Errorf("RemainingCostUnits = %d, want 0", inst.RemainingCostUnits())
	}
}

func TestEngine_CallDepth(t *testing.T) {
	eng, _ := newTestEngine(t, standardExports(), nil)
	ctx := context.Background()

	ic, err := eng.Instrument(ctx, contracttest.Contract())
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}

	// Every host call instantiates the contract again and relays into it.
	var calls int
	var rt engine.RuntimeFunc
	rt = func(ctx context.Context, input []byte) ([]byte, error) {
		calls++
		inst, err := eng.Instantiate(ctx, ic, rt, 1000)
		if err != nil {
			return nil, err
		}
		defer inst.Close(ctx)
		return inst.Invoke(ctx, contracttest.ExportCallHost, [][]byte{input})
	}

	inst, err := eng.Instantiate(ctx, ic, rt, 1000)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	_, err = inst.Invoke(ctx, contracttest.ExportCallHost, [][]byte{[]byte("x")})
	if !stderrors.Is(err, errors.ErrCallDepthExceeded) {
		t.Fatalf("expected call depth error in the chain, got %v", err)
	}
	if errors.KindOf(err) != errors.KindHostCallFailed {
		t.Errorf("outermost kind = %s, want %s", errors.KindOf(err), errors.KindHostCallFailed)
	}
	if calls != engine.DefaultMaxCallDepth {
		t.Errorf("host calls = %d, want %d", calls, engine.DefaultMaxCallDepth)
	}
}

func TestEngine_MaxCallDepthOption(t *testing.T) {
	opts := engine.DefaultOptions()
	opts.MaxCallDepth = 1
	eng, _ := newTestEngine(t, standardExports(), opts)
	ctx := context.Background()

	inst, err := eng.Load(ctx, contracttest.Contract(), nil, 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := inst.Invoke(ctx, contracttest.ExportEcho, [][]byte{nil}); err != nil {
		t.Fatalf("depth 1 should be allowed: %v", err)
	}

	nested := engine.WithCallDepth(ctx, 1)
	_, err = inst.Invoke(nested, contracttest.ExportEcho, [][]byte{nil})
	if errors.KindOf(err) != errors.KindCallDepthExceeded {
		t.Errorf("expected call depth error, got %v", err)
	}
}

func TestEngine_HostCallFailure(t *testing.T) {
	eng, _ := newTestEngine(t, standardExports(), nil)
	ctx := context.Background()
	boom := stderrors.New("ledger unavailable")

	rt := engine.RuntimeFunc(func(context.Context, []byte) ([]byte, error) { return nil, boom })
	inst, err := eng.Load(ctx, contracttest.Contract(), rt, 10)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = inst.Invoke(ctx, contracttest.ExportCallHost, [][]byte{nil})
	if !stderrors.Is(err, errors.ErrHostCallFailed) {
		t.Fatalf("expected host call failure, got %v", err)
	}
	if !stderrors.Is(err, boom) {
		t.Error("host call failure should wrap the runtime error")
	}
	if !errors.IsExecution(err) {
		t.Error("host call failures are execution errors")
	}
}

func TestEngine_InstantiateFailure(t *testing.T) {
	eng, backend := newTestEngine(t, nil, nil)
	ctx := context.Background()

	boom := errors.New(errors.PhaseInstantiate, errors.KindNotCompilable).Detail("boom").Build()
	backend.FailInstantiate(boom)

	_, err := eng.Load(ctx, contracttest.Contract(), nil, 10)
	if !stderrors.Is(err, errors.ErrNotCompilable) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestEngine_Close(t *testing.T) {
	eng, backend := newTestEngine(t, nil, nil)
	ctx := context.Background()

	ic, err := eng.Instrument(ctx, contracttest.Contract())
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}

	if err := eng.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !backend.Closed() {
		t.Error("Close should close the backend")
	}
	if err := eng.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := eng.Instrument(ctx, contracttest.Contract()); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("Instrument after Close: expected closed error, got %v", err)
	}
	if _, err := eng.Instantiate(ctx, ic, nil, 10); !stderrors.Is(err, errors.ErrClosed) {
		t.Errorf("Instantiate after Close: expected closed error, got %v", err)
	}
}

func TestNewWithBackend_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := engine.DefaultOptions()
	opts.Registerer = reg

	if _, err := engine.NewWithBackend(enginetest.New(nil), opts); err != nil {
		t.Fatalf("first engine: %v", err)
	}
	if _, err := engine.NewWithBackend(enginetest.New(nil), opts); err == nil {
		t.Error("registering the same metrics twice should fail")
	}
}

// counterValue returns the counter name from reg, selecting the series
// whose label matches when label is given.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, label ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(label) == 0 {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label[0] && lp.GetValue() == label[1] {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
