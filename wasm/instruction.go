package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/ban1717/scripto/wasm/internal/binary"
)

// ErrUnsupportedOpcode is matched by errors produced for opcodes that belong
// to proposals this package does not decode (SIMD, threads, GC, exception
// handling, tail calls, typed function references).
var ErrUnsupportedOpcode = errors.New("unsupported opcode")

// UnsupportedOpcodeError reports an opcode outside the decoded instruction set.
type UnsupportedOpcodeError struct {
	Proposal  string
	Offset    int
	SubOpcode uint32
	Opcode    byte
	Prefixed  bool
}

func (e *UnsupportedOpcodeError) Error() string {
	if e.Prefixed {
		return fmt.Sprintf("unsupported %s opcode 0x%02x 0x%x at offset %d", e.Proposal, e.Opcode, e.SubOpcode, e.Offset)
	}
	return fmt.Sprintf("unsupported %s opcode 0x%02x at offset %d", e.Proposal, e.Opcode, e.Offset)
}

func (e *UnsupportedOpcodeError) Is(target error) bool {
	return target == ErrUnsupportedOpcode
}

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Opcode byte
}

// BlockImm holds the block type for block, loop, and if instructions.
type BlockImm struct {
	Type int32 // -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call instruction.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// MemoryIdxImm holds memory index for memory.size, memory.grow
type MemoryIdxImm struct {
	MemIdx uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw bits of an f32.const immediate.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the raw bits of an f64.const immediate.
type F64Imm struct {
	Bits uint64
}

// MiscImm holds the sub-opcode and immediates for 0xFC prefix instructions
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// TableImm holds table index for table.get/table.set
type TableImm struct {
	TableIdx uint32
}

// RefNullImm holds the heap type for ref.null
type RefNullImm struct {
	HeapType byte
}

// RefFuncImm holds the function index for ref.func
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// GetCallTarget returns the call target if this is a call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// IsFloat reports whether the instruction consumes or produces a float value.
func (i Instruction) IsFloat() bool {
	switch op := i.Opcode; {
	case op == OpF32Load, op == OpF64Load, op == OpF32Store, op == OpF64Store:
		return true
	case op == OpF32Const, op == OpF64Const:
		return true
	case op >= OpF32Eq && op <= OpF64Ge:
		return true
	case op >= OpF32Abs && op <= OpF64Copysign:
		return true
	case op >= OpI32WrapI64 && op <= OpF64ReinterpretI64:
		return op != OpI32WrapI64 && op != OpI64ExtendI32S && op != OpI64ExtendI32U
	case op == OpPrefixMisc:
		imm, ok := i.Imm.(MiscImm)
		return ok && imm.SubOpcode <= MiscI64TruncSatF64U
	case op == OpSelectType:
		if imm, ok := i.Imm.(SelectTypeImm); ok {
			for _, t := range imm.Types {
				if t.IsFloat() {
					return true
				}
			}
		}
	case op == OpBlock, op == OpLoop, op == OpIf:
		if imm, ok := i.Imm.(BlockImm); ok {
			return imm.Type == BlockTypeF32 || imm.Type == BlockTypeF64
		}
	}
	return false
}

// unsupportedOpcodes maps single-byte opcodes of undecoded proposals to the proposal name.
var unsupportedOpcodes = map[byte]string{
	0x06: "exception handling", // try
	0x07: "exception handling", // catch
	0x08: "exception handling", // throw
	0x09: "exception handling", // rethrow
	0x0A: "exception handling", // throw_ref
	0x12: "tail call",          // return_call
	0x13: "tail call",          // return_call_indirect
	0x14: "function references",
	0x15: "function references",
	0x18: "exception handling", // delegate
	0x19: "exception handling", // catch_all
	0x1F: "exception handling", // try_table
	0xD3: "function references",
	0xD4: "gc",
	0xD5: "function references",
	0xD6: "function references",
}

// DecodeInstructions decodes a sequence of instructions from raw bytes
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := bin.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		offset := r.Position()
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		instr, err := decodeInstruction(r, op, offset)
		if err != nil {
			if errors.Is(err, ErrUnsupportedOpcode) {
				return nil, err
			}
			return nil, fmt.Errorf("opcode 0x%02x at offset %d: %w", op, offset, err)
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func decodeInstruction(r *bin.Reader, op byte, offset int) (Instruction, error) {
	instr := Instruction{Opcode: op}
	var err error

	switch {
	case op == OpBlock || op == OpLoop || op == OpIf:
		var bt int32
		bt, err = r.ReadS32()
		instr.Imm = BlockImm{Type: bt}

	case op == OpBr || op == OpBrIf:
		var idx uint32
		idx, err = r.ReadU32()
		instr.Imm = BranchImm{LabelIdx: idx}

	case op == OpBrTable:
		var count uint32
		count, err = r.Count(1)
		if err != nil {
			return instr, err
		}
		labels := make([]uint32, count)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return instr, err
			}
		}
		var def uint32
		def, err = r.ReadU32()
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case op == OpCall:
		var idx uint32
		idx, err = r.ReadU32()
		instr.Imm = CallImm{FuncIdx: idx}

	case op == OpCallIndirect:
		var typeIdx, tableIdx uint32
		if typeIdx, err = r.ReadU32(); err != nil {
			return instr, err
		}
		tableIdx, err = r.ReadU32()
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case op >= OpLocalGet && op <= OpLocalTee:
		var idx uint32
		idx, err = r.ReadU32()
		instr.Imm = LocalImm{LocalIdx: idx}

	case op == OpGlobalGet || op == OpGlobalSet:
		var idx uint32
		idx, err = r.ReadU32()
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case op == OpTableGet || op == OpTableSet:
		var idx uint32
		idx, err = r.ReadU32()
		instr.Imm = TableImm{TableIdx: idx}

	case op >= OpI32Load && op <= OpI64Store32:
		instr.Imm, err = readMemArg(r)

	case op == OpMemorySize || op == OpMemoryGrow:
		var memIdx uint32
		memIdx, err = r.ReadU32()
		instr.Imm = MemoryIdxImm{MemIdx: memIdx}

	case op == OpI32Const:
		var v int32
		v, err = r.ReadS32()
		instr.Imm = I32Imm{Value: v}

	case op == OpI64Const:
		var v int64
		v, err = r.ReadS64()
		instr.Imm = I64Imm{Value: v}

	case op == OpF32Const:
		var raw []byte
		if raw, err = r.ReadBytes(4); err == nil {
			instr.Imm = F32Imm{Bits: binary.LittleEndian.Uint32(raw)}
		}

	case op == OpF64Const:
		var raw []byte
		if raw, err = r.ReadBytes(8); err == nil {
			instr.Imm = F64Imm{Bits: binary.LittleEndian.Uint64(raw)}
		}

	case op == OpRefNull:
		var ht byte
		ht, err = r.ReadByte()
		instr.Imm = RefNullImm{HeapType: ht}

	case op == OpRefFunc:
		var idx uint32
		idx, err = r.ReadU32()
		instr.Imm = RefFuncImm{FuncIdx: idx}

	case op == OpSelectType:
		var count uint32
		count, err = r.Count(1)
		if err != nil {
			return instr, err
		}
		types := make([]ValType, count)
		for i := range types {
			var t byte
			if t, err = r.ReadByte(); err != nil {
				return instr, err
			}
			types[i] = ValType(t)
		}
		instr.Imm = SelectTypeImm{Types: types}

	case op == OpPrefixMisc:
		instr.Imm, err = readMiscImmediate(r, offset)

	case op == OpPrefixGC || op == OpPrefixSIMD || op == OpPrefixAtomic:
		sub, _ := r.ReadU32()
		return instr, &UnsupportedOpcodeError{
			Opcode:    op,
			SubOpcode: sub,
			Prefixed:  true,
			Offset:    offset,
			Proposal:  prefixProposal(op),
		}

	case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd, op == OpReturn,
		op == OpDrop, op == OpSelect, op == OpRefIsNull,
		op >= OpI32Eqz && op <= OpI64Extend32S:
		// no immediates

	default:
		if proposal, ok := unsupportedOpcodes[op]; ok {
			return instr, &UnsupportedOpcodeError{Opcode: op, Offset: offset, Proposal: proposal}
		}
		return instr, fmt.Errorf("unknown opcode 0x%02x", op)
	}
	return instr, err
}

func prefixProposal(op byte) string {
	switch op {
	case OpPrefixGC:
		return "gc"
	case OpPrefixSIMD:
		return "simd"
	default:
		return "threads"
	}
}

func readMiscImmediate(r *bin.Reader, offset int) (MiscImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return MiscImm{}, err
	}
	imm := MiscImm{SubOpcode: sub}

	var operands int
	switch sub {
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		operands = 2
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop, MiscTableGrow, MiscTableSize, MiscTableFill:
		operands = 1
	default:
		if sub > MiscTableFill {
			return MiscImm{}, &UnsupportedOpcodeError{
				Opcode:    OpPrefixMisc,
				SubOpcode: sub,
				Prefixed:  true,
				Offset:    offset,
				Proposal:  "misc",
			}
		}
	}
	if operands > 0 {
		imm.Operands = make([]uint32, operands)
		for i := range imm.Operands {
			if imm.Operands[i], err = r.ReadU32(); err != nil {
				return MiscImm{}, err
			}
		}
	}
	return imm, nil
}

// EncodeInstructionTo writes a single instruction to the provided buffer.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		WriteLEB128s(buf, imm.Type)
	case BranchImm:
		WriteLEB128u(buf, imm.LabelIdx)
	case BrTableImm:
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)
	case CallImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case CallIndirectImm:
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)
	case LocalImm:
		WriteLEB128u(buf, imm.LocalIdx)
	case GlobalImm:
		WriteLEB128u(buf, imm.GlobalIdx)
	case TableImm:
		WriteLEB128u(buf, imm.TableIdx)
	case MemoryImm:
		writeMemArg(buf, imm)
	case MemoryIdxImm:
		WriteLEB128u(buf, imm.MemIdx)
	case I32Imm:
		WriteLEB128s(buf, imm.Value)
	case I64Imm:
		WriteLEB128s64(buf, imm.Value)
	case F32Imm:
		var raw [4]byte
		binary.LittleEndian.PutUint32(raw[:], imm.Bits)
		buf.Write(raw[:])
	case F64Imm:
		var raw [8]byte
		binary.LittleEndian.PutUint64(raw[:], imm.Bits)
		buf.Write(raw[:])
	case RefNullImm:
		buf.WriteByte(imm.HeapType)
	case RefFuncImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case SelectTypeImm:
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}
	case MiscImm:
		WriteLEB128u(buf, imm.SubOpcode)
		for _, o := range imm.Operands {
			WriteLEB128u(buf, o)
		}
	}
}

// EncodeInstructionsTo writes multiple instructions to the provided buffer.
func EncodeInstructionsTo(buf *bytes.Buffer, instrs []Instruction) {
	for i := range instrs {
		EncodeInstructionTo(buf, &instrs[i])
	}
}

// EncodeInstructions encodes instructions to bytes
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	buf.Grow(len(instrs) * 3)
	EncodeInstructionsTo(&buf, instrs)
	return buf.Bytes()
}

// Multi-memory memarg bit flag
const memArgMultiMemBit = 0x40

// readMemArg reads a memarg. If bit 6 of align is set, a separate memidx follows.
func readMemArg(r *bin.Reader) (MemoryImm, error) {
	alignRaw, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}

	var memIdx uint32
	if alignRaw&memArgMultiMemBit != 0 {
		memIdx, err = r.ReadU32()
		if err != nil {
			return MemoryImm{}, err
		}
	}

	offset, err := r.ReadU64()
	if err != nil {
		return MemoryImm{}, err
	}

	return MemoryImm{
		Align:  alignRaw &^ uint32(memArgMultiMemBit),
		Offset: offset,
		MemIdx: memIdx,
	}, nil
}

func writeMemArg(buf *bytes.Buffer, imm MemoryImm) {
	alignRaw := imm.Align
	if imm.MemIdx != 0 {
		alignRaw |= memArgMultiMemBit
	}
	WriteLEB128u(buf, alignRaw)
	if imm.MemIdx != 0 {
		WriteLEB128u(buf, imm.MemIdx)
	}
	WriteLEB128u64(buf, imm.Offset)
}
