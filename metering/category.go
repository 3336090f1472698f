package metering

import "github.com/ban1717/scripto/wasm"

// Category groups instructions that share a price.
type Category uint8

const (
	Control        Category = iota // nop, block, loop, if, else, end
	Branch                         // br, br_if, br_table, return, unreachable
	Call                           // call
	CallIndirect                   // call_indirect
	Constant                       // i32.const, i64.const
	Local                          // local.get, local.set, local.tee
	Global                         // global.get, global.set
	Parametric                     // drop, select
	Load                           // integer loads
	Store                          // integer stores
	MemorySize                     // memory.size
	MemoryGrow                     // memory.grow
	IntegerArith                   // add, sub, bitwise, shifts, clz/ctz/popcnt, sign extension
	IntegerMulDiv                  // mul, div, rem
	IntegerCompare                 // eqz, eq, ne, lt, gt, le, ge
	Conversion                     // i32.wrap_i64, i64.extend_i32
	Reference                      // ref.null, ref.is_null, ref.func
	Table                          // table.get, table.set, table.size, table.init, table.copy, table.fill, elem.drop
	TableGrow                      // table.grow
	BulkMemory                     // memory.init, memory.copy, memory.fill, data.drop

	NumCategories
)

var categoryNames = [NumCategories]string{
	Control:        "control",
	Branch:         "branch",
	Call:           "call",
	CallIndirect:   "call_indirect",
	Constant:       "constant",
	Local:          "local",
	Global:         "global",
	Parametric:     "parametric",
	Load:           "load",
	Store:          "store",
	MemorySize:     "memory_size",
	MemoryGrow:     "memory_grow",
	IntegerArith:   "integer_arith",
	IntegerMulDiv:  "integer_muldiv",
	IntegerCompare: "integer_compare",
	Conversion:     "conversion",
	Reference:      "reference",
	Table:          "table",
	TableGrow:      "table_grow",
	BulkMemory:     "bulk_memory",
}

func (c Category) String() string {
	if c < NumCategories {
		return categoryNames[c]
	}
	return "unknown"
}

// Classify returns the category of instr. It reports false for instructions
// the engine never executes: anything touching a float, and opcodes outside
// the decoded instruction set.
func Classify(instr wasm.Instruction) (Category, bool) {
	if instr.IsFloat() {
		return 0, false
	}

	switch op := instr.Opcode; {
	case op == wasm.OpNop, op == wasm.OpBlock, op == wasm.OpLoop, op == wasm.OpIf,
		op == wasm.OpElse, op == wasm.OpEnd:
		return Control, true
	case op == wasm.OpBr, op == wasm.OpBrIf, op == wasm.OpBrTable, op == wasm.OpReturn,
		op == wasm.OpUnreachable:
		return Branch, true
	case op == wasm.OpCall:
		return Call, true
	case op == wasm.OpCallIndirect:
		return CallIndirect, true
	case op == wasm.OpI32Const, op == wasm.OpI64Const:
		return Constant, true
	case op >= wasm.OpLocalGet && op <= wasm.OpLocalTee:
		return Local, true
	case op == wasm.OpGlobalGet, op == wasm.OpGlobalSet:
		return Global, true
	case op == wasm.OpDrop, op == wasm.OpSelect, op == wasm.OpSelectType:
		return Parametric, true
	case op == wasm.OpTableGet, op == wasm.OpTableSet:
		return Table, true
	case op >= wasm.OpI32Load && op <= wasm.OpI64Load32U:
		return Load, true
	case op >= wasm.OpI32Store && op <= wasm.OpI64Store32:
		return Store, true
	case op == wasm.OpMemorySize:
		return MemorySize, true
	case op == wasm.OpMemoryGrow:
		return MemoryGrow, true
	case op >= wasm.OpI32Eqz && op <= wasm.OpI64GeU:
		return IntegerCompare, true
	case op == wasm.OpI32Mul, op == wasm.OpI64Mul,
		op >= wasm.OpI32DivS && op <= wasm.OpI32RemU,
		op >= wasm.OpI64DivS && op <= wasm.OpI64RemU:
		return IntegerMulDiv, true
	case op >= wasm.OpI32Clz && op <= wasm.OpI64Rotr:
		return IntegerArith, true
	case op == wasm.OpI32WrapI64, op == wasm.OpI64ExtendI32S, op == wasm.OpI64ExtendI32U:
		return Conversion, true
	case op >= wasm.OpI32Extend8S && op <= wasm.OpI64Extend32S:
		return IntegerArith, true
	case op >= wasm.OpRefNull && op <= wasm.OpRefFunc:
		return Reference, true
	case op == wasm.OpPrefixMisc:
		return classifyMisc(instr)
	}
	return 0, false
}

func classifyMisc(instr wasm.Instruction) (Category, bool) {
	imm, ok := instr.Imm.(wasm.MiscImm)
	if !ok {
		return 0, false
	}
	switch imm.SubOpcode {
	case wasm.MiscMemoryInit, wasm.MiscDataDrop, wasm.MiscMemoryCopy, wasm.MiscMemoryFill:
		return BulkMemory, true
	case wasm.MiscTableInit, wasm.MiscElemDrop, wasm.MiscTableCopy, wasm.MiscTableSize, wasm.MiscTableFill:
		return Table, true
	case wasm.MiscTableGrow:
		return TableGrow, true
	}
	return 0, false
}
