package engine

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/prepare"
)

// invocation is the state of one Invoke, carried to host functions through
// the call context.
type invocation struct {
	inst *wazeroInstance
	err  error
}

type invocationKeyType int

const invocationKey invocationKeyType = 0

func withInvocation(ctx context.Context, inv *invocation) context.Context {
	return context.WithValue(ctx, invocationKey, inv)
}

func invocationFrom(ctx context.Context) *invocation {
	inv, _ := ctx.Value(invocationKey).(*invocation)
	return inv
}

// abort records err as the reason the invocation failed and unwinds the
// guest. The first recorded error wins.
func (inv *invocation) abort(err error) {
	if inv.err == nil {
		inv.err = err
	}
	panic(inv.err)
}

// hostFunction is one function of the env module. fn runs with the
// invocation that called it and the wazero value stack.
type hostFunction struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	fn      func(ctx context.Context, inv *invocation, stack []uint64)
}

// hostFunctions is indexed by the reserved import indices.
var hostFunctions = [...]hostFunction{
	prepare.HostCallFunctionIndex: {
		name:    prepare.HostCallFunctionName,
		params:  []api.ValueType{api.ValueTypeI32},
		results: []api.ValueType{api.ValueTypeI32},
		fn:      hostCall,
	},
	prepare.ConsumeCostUnitsFunctionIndex: {
		name:   prepare.ConsumeCostUnitsFunctionName,
		params: []api.ValueType{api.ValueTypeI32},
		fn:     consumeCostUnits,
	},
}

// instantiateHostModule registers the env module on rt.
func instantiateHostModule(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	b := rt.NewHostModuleBuilder(prepare.ModuleEnvName)
	for _, hf := range hostFunctions {
		hf := hf
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				inv := invocationFrom(ctx)
				if inv == nil {
					panic(errors.Execution(errors.KindTrap, "%s called outside an invocation", hf.name))
				}
				hf.fn(ctx, inv, stack)
			}), hf.params, hf.results).
			WithName(hf.name).
			Export(hf.name)
	}
	return b.Instantiate(ctx)
}

// hostCall implements scrypto_engine(input_ptr) -> output_ptr.
func hostCall(ctx context.Context, inv *invocation, stack []uint64) {
	inst := inv.inst

	input, err := readBuffer(inst.memory, api.DecodeU32(stack[0]), errors.KindMemoryAccess)
	if err != nil {
		inv.abort(hostCallFailed(err, "read host call input"))
	}

	output, err := inst.runtime.HostCall(ctx, input)
	if err != nil {
		inv.abort(hostCallFailed(err, "host call"))
	}

	ptr, err := writeBuffer(ctx, inst.memory, inst.alloc, output)
	if err != nil {
		inv.abort(hostCallFailed(err, "write host call output"))
	}
	stack[0] = api.EncodeU32(ptr)
}

// consumeCostUnits implements consume_cost_units(units).
func consumeCostUnits(_ context.Context, inv *invocation, stack []uint64) {
	if err := inv.inst.meter.Consume(api.DecodeU32(stack[0])); err != nil {
		inv.abort(err)
	}
}

func hostCallFailed(cause error, detail string) *errors.Error {
	return errors.New(errors.PhaseHost, errors.KindHostCallFailed).Cause(cause).Detail("%s", detail).Build()
}

// classify maps an error returned by wazero to a structured error. An error
// recorded by a host function takes precedence over what wazero reports.
func classify(ctx context.Context, err error, fallback errors.Kind) error {
	if err == nil {
		return nil
	}
	if inv := invocationFrom(ctx); inv != nil && inv.err != nil {
		return inv.err
	}

	var e *errors.Error
	if stderrors.As(err, &e) {
		return e
	}

	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		if cause := context.Cause(ctx); cause != nil {
			return errors.Wrap(errors.PhaseInvoke, errors.KindTrap, cause, "invocation interrupted")
		}
		return errors.Wrap(errors.PhaseInvoke, errors.KindTrap, err, "module exited")
	}

	return errors.Wrap(errors.PhaseInvoke, fallback, err, "guest trapped")
}
