package prepare

import "github.com/ban1717/scripto/wasm"

// Host interface. A contract may import only the host-call function; the
// cost function is added by the instrumenter and is never accepted from
// user code.
const (
	ModuleEnvName = "env"

	HostCallFunctionName  = "scrypto_engine"
	HostCallFunctionIndex = 0

	ConsumeCostUnitsFunctionName  = "consume_cost_units"
	ConsumeCostUnitsFunctionIndex = 1
)

// Exports every contract must provide.
const (
	ExportMemory = "memory"
	ExportAlloc  = "scrypto_alloc"
	ExportFree   = "scrypto_free"
)

// Guest ABI signatures.
var (
	// HostCallType is scrypto_engine(input_ptr i32) -> output_ptr i32.
	HostCallType = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}

	// ConsumeCostUnitsType is consume_cost_units(units i32).
	ConsumeCostUnitsType = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}

	// AllocType is scrypto_alloc(len i32) -> ptr i32.
	AllocType = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}

	// FreeType is scrypto_free(ptr i32).
	FreeType = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
)

// BufferHeaderSize is the length prefix in front of every buffer exchanged
// with the guest: a little-endian u32 holding the payload length.
const BufferHeaderSize = 4
