package wasm_test

import (
	"strings"
	"testing"

	"github.com/ban1717/scripto/wasm"
)

func TestValidate_Valid(t *testing.T) {
	if err := sampleModule().Validate(); err != nil {
		t.Errorf("valid module failed validation: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *wasm.Module)
		want   string
	}{
		{"invalid type index", func(m *wasm.Module) { m.Funcs[0] = 9 }, "invalid type index"},
		{"invalid import type", func(m *wasm.Module) { m.Imports[0].Desc.TypeIdx = 9 }, "invalid type index"},
		{"invalid function export", func(m *wasm.Module) { m.Exports[1].Idx = 9 }, "invalid function index"},
		{"invalid element function", func(m *wasm.Module) { m.Elements[0].FuncIdxs[0] = 9 }, "invalid function index"},
		{"invalid element table", func(m *wasm.Module) { m.Elements[0].TableIdx = 3 }, "invalid table index"},
		{"invalid memory export", func(m *wasm.Module) { m.Exports[0].Idx = 1 }, "invalid memory index"},
		{"duplicate export", func(m *wasm.Module) { m.Exports[1].Name = "memory" }, "duplicate export"},
		{"start signature", func(m *wasm.Module) { m.Start = ptrTo(uint32(0)) }, "start function"},
		{"data count", func(m *wasm.Module) { m.DataCount = ptrTo(uint32(3)) }, "data count"},
		{"memory64", func(m *wasm.Module) { m.Memories[0].Limits.Memory64 = true }, "64-bit"},
		{"memory pages", func(m *wasm.Module) {
			m.Memories[0].Limits = wasm.Limits{Min: wasm.MemoryMaxPages32 + 1}
		}, "exceeds maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleModule()
			tt.mutate(m)
			err := m.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseModuleValidate(t *testing.T) {
	m := sampleModule()
	m.Exports[1].Idx = 42
	if _, err := wasm.ParseModuleValidate(m.Encode()); err == nil {
		t.Error("expected validation error")
	}
	if _, err := wasm.ParseModuleValidate(sampleModule().Encode()); err != nil {
		t.Errorf("ParseModuleValidate: %v", err)
	}
}
