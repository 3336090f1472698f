// Package scripto runs untrusted WebAssembly contracts under a deterministic
// cost budget.
//
// A contract passes through four stages: it is decoded, validated against
// structural ceilings, instrumented with cost metering, and finally executed
// behind a host-call bridge that exposes exactly one generic entry point.
//
// # Architecture Overview
//
//	scripto/             Root package with the guest Memory and Allocator interfaces
//	├── engine/          Engine, Backend and Instance; wazero backend and runtime bridge
//	│   └── enginetest/  Deterministic mock backend for unit tests
//	├── prepare/         Validator and Instrumenter
//	├── metering/        Instruction categories and cost rules
//	├── wasm/            Core WASM binary decoding, encoding and instruction codec
//	└── errors/          Preparation and execution error taxonomy
//
// # Quick Start
//
//	eng, err := engine.New(ctx, engine.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	inst, err := eng.Load(ctx, contract, runtime, 1_000_000)
//	if err != nil {
//	    log.Fatal(err) // a preparation error, see errors.IsPrepare
//	}
//	defer inst.Close(ctx)
//
//	out, err := inst.Invoke(ctx, "transfer", [][]byte{payload})
//	if errors.Is(err, scerrors.ErrCostUnitsExhausted) {
//	    // the budget ran out; RemainingCostUnits is now 0
//	}
//
// # Guest ABI
//
// Every buffer exchanged with the guest is length prefixed: a little-endian
// u32 length followed by the payload. The guest exports scrypto_alloc(len)
// returning a pointer to such a buffer with the prefix already written, and
// scrypto_free(ptr). Exported entry points take one buffer pointer per
// argument and return one buffer pointer.
//
// The guest may import a single host function, env.scrypto_engine(ptr) ->
// ptr, which forwards a buffer to the caller-supplied Runtime. Metering adds
// env.consume_cost_units(units), which user code may never import itself.
package scripto
