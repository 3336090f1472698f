package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ban1717/scripto/wasm"
)

func roundTrip(t *testing.T, instrs []wasm.Instruction) []wasm.Instruction {
	t.Helper()
	encoded := wasm.EncodeInstructions(instrs)
	decoded, err := wasm.DecodeInstructions(encoded)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(decoded) != len(instrs) {
		t.Fatalf("expected %d instructions, got %d", len(instrs), len(decoded))
	}
	if !bytes.Equal(wasm.EncodeInstructions(decoded), encoded) {
		t.Fatalf("re-encoding differs")
	}
	return decoded
}

func TestControlInstructions(t *testing.T) {
	tests := []wasm.Instruction{
		{Opcode: wasm.OpUnreachable},
		{Opcode: wasm.OpNop},
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
		{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
		{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeI64}},
		{Opcode: wasm.OpElse},
		{Opcode: wasm.OpEnd},
		{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
		{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 1}},
		{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 1, 2}, Default: 3}},
		{Opcode: wasm.OpReturn},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 300}},
		{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 1}},
	}

	for _, tt := range tests {
		decoded := roundTrip(t, []wasm.Instruction{tt})
		if decoded[0].Opcode != tt.Opcode {
			t.Errorf("opcode mismatch: got 0x%02x, want 0x%02x", decoded[0].Opcode, tt.Opcode)
		}
	}
}

func TestImmediatesPreserved(t *testing.T) {
	instrs := []wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: -123456}},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 1 << 40}},
		{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2, Offset: 16}},
		{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: 7}},
		{Opcode: wasm.OpRefFunc, Imm: wasm.RefFuncImm{FuncIdx: 9}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryCopy, Operands: []uint32{0, 0}}},
		{Opcode: wasm.OpSelectType, Imm: wasm.SelectTypeImm{Types: []wasm.ValType{wasm.ValI64}}},
	}
	decoded := roundTrip(t, instrs)

	if got := decoded[0].Imm.(wasm.I32Imm).Value; got != -123456 {
		t.Errorf("i32.const: got %d", got)
	}
	if got := decoded[1].Imm.(wasm.I64Imm).Value; got != 1<<40 {
		t.Errorf("i64.const: got %d", got)
	}
	if got := decoded[2].Imm.(wasm.MemoryImm); got.Align != 2 || got.Offset != 16 {
		t.Errorf("memarg: got %+v", got)
	}
	if target, ok := decoded[4].GetCallTarget(); ok {
		t.Errorf("ref.func is not a call, got target %d", target)
	}
	if got := decoded[5].Imm.(wasm.MiscImm); len(got.Operands) != 2 {
		t.Errorf("memory.copy operands: got %v", got.Operands)
	}
}

func TestDecodeUnsupportedOpcodes(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"simd", []byte{wasm.OpPrefixSIMD, 0x0C}},
		{"atomic", []byte{wasm.OpPrefixAtomic, 0x10}},
		{"gc", []byte{wasm.OpPrefixGC, 0x00}},
		{"return_call", []byte{0x12, 0x00}},
		{"try", []byte{0x06, 0x40}},
		{"misc beyond table.fill", []byte{wasm.OpPrefixMisc, 0x12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.DecodeInstructions(tt.code)
			if !errors.Is(err, wasm.ErrUnsupportedOpcode) {
				t.Fatalf("expected ErrUnsupportedOpcode, got %v", err)
			}
			var uerr *wasm.UnsupportedOpcodeError
			if !errors.As(err, &uerr) {
				t.Fatalf("expected *UnsupportedOpcodeError, got %T", err)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"unknown opcode", []byte{0x27}},
		{"truncated call", []byte{wasm.OpCall, 0x80}},
		{"truncated f64", []byte{wasm.OpF64Const, 0x00, 0x00}},
		{"huge br_table", []byte{wasm.OpBrTable, 0xff, 0xff, 0xff, 0xff, 0x0f}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.DecodeInstructions(tt.code)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, wasm.ErrUnsupportedOpcode) {
				t.Errorf("malformed input reported as unsupported: %v", err)
			}
		})
	}
}

func TestIsFloat(t *testing.T) {
	tests := []struct {
		instr wasm.Instruction
		want  bool
	}{
		{wasm.Instruction{Opcode: wasm.OpI32Add}, false},
		{wasm.Instruction{Opcode: wasm.OpI64ExtendI32U}, false},
		{wasm.Instruction{Opcode: wasm.OpI32WrapI64}, false},
		{wasm.Instruction{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{}}, true},
		{wasm.Instruction{Opcode: 0x92}, true}, // f32.add
		{wasm.Instruction{Opcode: 0xBC}, true}, // i32.reinterpret_f32
		{wasm.Instruction{Opcode: wasm.OpF64Load, Imm: wasm.MemoryImm{}}, true},
		{wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeF64}}, true},
		{wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscI32TruncSatF32S}}, true},
		{wasm.Instruction{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryFill, Operands: []uint32{0}}}, false},
	}

	for _, tt := range tests {
		if got := tt.instr.IsFloat(); got != tt.want {
			t.Errorf("opcode 0x%02x: IsFloat() = %v, want %v", tt.instr.Opcode, got, tt.want)
		}
	}
}
