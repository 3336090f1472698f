package wasm_test

import (
	"bytes"
	"testing"

	"github.com/ban1717/scripto/wasm"
)

func ptrTo[T any](v T) *T { return &v }

func sampleModule() *wasm.Module {
	i32 := []wasm.ValType{wasm.ValI32}
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: i32, Results: i32},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "host", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
		Funcs:    []uint32{0, 1},
		Tables:   []wasm.TableType{{ElemType: byte(wasm.ValFuncRef), Limits: wasm.Limits{Min: 2}}},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: ptrTo(uint64(4))}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: []byte{wasm.OpI32Const, 0x80, 0x08, wasm.OpEnd}},
		},
		Exports: []wasm.Export{
			{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
			{Name: "run", Kind: wasm.KindFunc, Idx: 1},
		},
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}, FuncIdxs: []uint32{1, 2}},
		},
		Code: []wasm.FuncBody{
			{Code: []byte{wasm.OpLocalGet, 0x00, wasm.OpEnd}},
			{Locals: []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI64}}, Code: []byte{wasm.OpNop, wasm.OpEnd}},
		},
		Data: []wasm.DataSegment{
			{Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}, Init: []byte("hello")},
		},
	}
}

func TestParseMinimalModule(t *testing.T) {
	data := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil module")
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"invalid magic", []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}},
		{"invalid version", []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00}},
		{"truncated header", []byte{0x00, 0x61, 0x73}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := wasm.ParseModule(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	original := sampleModule()
	data := original.Encode()

	parsed, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(parsed.Types) != 2 || len(parsed.Funcs) != 2 || len(parsed.Code) != 2 {
		t.Fatalf("unexpected shape: %d types, %d funcs, %d bodies", len(parsed.Types), len(parsed.Funcs), len(parsed.Code))
	}
	if parsed.Memories[0].Limits.Max == nil || *parsed.Memories[0].Limits.Max != 4 {
		t.Errorf("memory max not preserved: %+v", parsed.Memories[0].Limits)
	}
	if got := parsed.Code[1].Locals; len(got) != 1 || got[0].Count != 2 || got[0].ValType != wasm.ValI64 {
		t.Errorf("locals not preserved: %+v", got)
	}
	if !bytes.Equal(parsed.Data[0].Init, []byte("hello")) {
		t.Errorf("data not preserved: %q", parsed.Data[0].Init)
	}
	if !bytes.Equal(parsed.Encode(), data) {
		t.Error("re-encoding is not byte-identical")
	}
}

func TestParseRejectsOutOfOrderSections(t *testing.T) {
	data := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
		wasm.SectionMemory, 0x03, 0x01, 0x00, 0x01,
		wasm.SectionType, 0x01, 0x00,
	}
	if _, err := wasm.ParseModule(data); err == nil {
		t.Error("expected error for out-of-order sections")
	}
}

func TestParseRejectsOversizedCounts(t *testing.T) {
	// Type section claiming 2^32-1 entries in a 5-byte payload.
	data := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
		wasm.SectionType, 0x05, 0xff, 0xff, 0xff, 0xff, 0x0f,
	}
	if _, err := wasm.ParseModule(data); err == nil {
		t.Error("expected error for oversized vector count")
	}
}

func TestParseRejectsFunctionCodeMismatch(t *testing.T) {
	m := sampleModule()
	m.Code = m.Code[:1]
	if _, err := wasm.ParseModule(m.Encode()); err == nil {
		t.Error("expected error for function/code count mismatch")
	}
}

func TestParseRejectsBodyWithoutEnd(t *testing.T) {
	m := sampleModule()
	m.Code[0].Code = []byte{wasm.OpNop}
	if _, err := wasm.ParseModule(m.Encode()); err == nil {
		t.Error("expected error for body without end opcode")
	}
}

func TestParseRejectsInvalidLimits(t *testing.T) {
	m := sampleModule()
	m.Memories[0].Limits = wasm.Limits{Min: 5, Max: ptrTo(uint64(2))}
	if _, err := wasm.ParseModule(m.Encode()); err == nil {
		t.Error("expected error for min > max")
	}
}

func TestParseCustomSection(t *testing.T) {
	m := sampleModule()
	m.CustomSections = []wasm.CustomSection{{Name: "name", Data: []byte{1, 2, 3}}}
	parsed, err := wasm.ParseModule(m.Encode())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(parsed.CustomSections) != 1 || parsed.CustomSections[0].Name != "name" {
		t.Errorf("custom section not preserved: %+v", parsed.CustomSections)
	}
}

func TestGetFuncType(t *testing.T) {
	m := sampleModule()
	if ft := m.GetFuncType(0); ft == nil || len(ft.Params) != 1 {
		t.Errorf("imported function type: got %+v", ft)
	}
	if ft := m.GetFuncType(2); ft == nil || len(ft.Params) != 0 {
		t.Errorf("defined function type: got %+v", ft)
	}
	if ft := m.GetFuncType(3); ft != nil {
		t.Errorf("out of range: got %+v", ft)
	}
	if m.NumFuncs() != 3 {
		t.Errorf("NumFuncs: got %d, want 3", m.NumFuncs())
	}
}

func TestAddTypeReusesExisting(t *testing.T) {
	m := sampleModule()
	idx := m.AddType(wasm.FuncType{})
	if idx != 1 {
		t.Errorf("AddType: got %d, want existing index 1", idx)
	}
	idx = m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}})
	if idx != 2 || len(m.Types) != 3 {
		t.Errorf("AddType: got %d with %d types", idx, len(m.Types))
	}
}
