// Package contracttest builds contract modules for tests.
package contracttest

import "github.com/ban1717/scripto/wasm"

// Func is a defined function of a test contract. Bodies refer to other
// functions by their index in the final module.
type Func struct {
	Name   string // export name, empty for internal functions
	Type   wasm.FuncType
	Locals []wasm.LocalEntry
	Body   []wasm.Instruction // without the trailing end
}

// Builder assembles a contract module.
type Builder struct {
	hostImport bool
	memMin     uint64
	memMax     *uint64
	funcs      []Func
}

// Signatures used by the standard contract.
var (
	PtrToPtr = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	PtrToNil = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	NilToPtr = wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}
)

// HeapBase is where the bump allocator hands out its first buffer.
const HeapBase = 1024

// New returns a builder for a contract that imports the host-call function
// and defines scrypto_alloc and scrypto_free.
func New() *Builder {
	return &Builder{hostImport: true, memMin: 2}
}

// WithoutHostImport drops the env.scrypto_engine import. Function indices
// start at 0 instead of 1.
func (b *Builder) WithoutHostImport() *Builder {
	b.hostImport = false
	return b
}

// Memory sets the memory limits in pages.
func (b *Builder) Memory(minPages uint64, maxPages *uint64) *Builder {
	b.memMin, b.memMax = minPages, maxPages
	return b
}

// FirstFunc returns the index of the first function added with Func.
// scrypto_alloc and scrypto_free occupy the two indices before it.
func (b *Builder) FirstFunc() uint32 {
	return b.base() + 2
}

func (b *Builder) base() uint32 {
	if b.hostImport {
		return 1
	}
	return 0
}

// Func appends a defined function and returns its index.
func (b *Builder) Func(f Func) uint32 {
	b.funcs = append(b.funcs, f)
	return b.FirstFunc() + uint32(len(b.funcs)-1)
}

// Module returns the assembled module.
func (b *Builder) Module() *wasm.Module {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: b.memMin, Max: b.memMax}}},
		Globals: []wasm.Global{{
			Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
			Init: wasm.EncodeInstructions([]wasm.Instruction{I32(HeapBase), {Opcode: wasm.OpEnd}}),
		}},
		Exports: []wasm.Export{{Name: "memory", Kind: wasm.KindMemory, Idx: 0}},
	}

	if b.hostImport {
		m.Imports = []wasm.Import{{
			Module: "env",
			Name:   "scrypto_engine",
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: m.AddType(PtrToPtr)},
		}}
	}

	funcs := append([]Func{allocFunc(), freeFunc()}, b.funcs...)
	for i, f := range funcs {
		idx := b.base() + uint32(i)
		m.Funcs = append(m.Funcs, m.AddType(f.Type))
		m.Code = append(m.Code, wasm.FuncBody{
			Locals: f.Locals,
			Code:   wasm.EncodeInstructions(append(append([]wasm.Instruction(nil), f.Body...), wasm.Instruction{Opcode: wasm.OpEnd})),
		})
		if f.Name != "" {
			m.Exports = append(m.Exports, wasm.Export{Name: f.Name, Kind: wasm.KindFunc, Idx: idx})
		}
	}
	return m
}

// Bytes returns the encoded module.
func (b *Builder) Bytes() []byte {
	return b.Module().Encode()
}

// allocFunc is a bump allocator over global 0. It writes the length prefix
// and returns a pointer to it.
func allocFunc() Func {
	return Func{
		Name: "scrypto_alloc",
		Type: PtrToPtr,
		Body: []wasm.Instruction{
			GlobalGet(0),
			LocalGet(0),
			{Opcode: wasm.OpI32Store, Imm: wasm.MemoryImm{Align: 2}},
			GlobalGet(0),
			GlobalGet(0),
			LocalGet(0),
			{Opcode: wasm.OpI32Add},
			I32(4),
			{Opcode: wasm.OpI32Add},
			{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
		},
	}
}

func freeFunc() Func {
	return Func{Name: "scrypto_free", Type: PtrToNil}
}

// Instruction helpers.

func I32(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func LocalGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func GlobalGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: idx}}
}

func Call(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

// Standard export names.
const (
	ExportEcho        = "echo"
	ExportLoopForever = "loop_forever"
	ExportCallHost    = "call_host"
	ExportTrap        = "trap"
	ExportBadReturn   = "bad_return"
	ExportTwoArgs     = "two_args"
)

// Standard returns a builder for the contract most engine tests run:
//   - echo(ptr) returns its argument buffer unchanged
//   - loop_forever() never returns
//   - call_host(ptr) forwards its argument to the host and returns the reply
//   - trap() executes unreachable
//   - bad_return() returns a pointer outside linear memory
//   - two_args(a, b) returns b
func Standard() *Builder {
	b := New()
	b.Func(Func{Name: ExportEcho, Type: PtrToPtr, Body: []wasm.Instruction{LocalGet(0)}})
	b.Func(Func{Name: ExportLoopForever, Type: NilToPtr, Body: []wasm.Instruction{
		{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
		{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
		{Opcode: wasm.OpEnd},
		I32(0),
	}})
	b.Func(Func{Name: ExportCallHost, Type: PtrToPtr, Body: []wasm.Instruction{LocalGet(0), Call(0)}})
	b.Func(Func{Name: ExportTrap, Type: NilToPtr, Body: []wasm.Instruction{{Opcode: wasm.OpUnreachable}}})
	b.Func(Func{Name: ExportBadReturn, Type: NilToPtr, Body: []wasm.Instruction{I32(-8)}})
	b.Func(Func{
		Name: ExportTwoArgs,
		Type: wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		Body: []wasm.Instruction{LocalGet(1)},
	})
	return b
}

// Contract returns the encoded standard contract.
func Contract() []byte {
	return Standard().Bytes()
}
