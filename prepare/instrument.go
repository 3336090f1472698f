package prepare

import (
	"math"

	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/metering"
	"github.com/ban1717/scripto/wasm"
)

// Instrument injects cost metering into a validated module.
//
// The host interface is normalised first: scrypto_engine is always
// function 0 and consume_cost_units function 1, adding the host-call
// import when the contract does not use it. Every defined function index
// shifts accordingly.
//
// Each function body is split into segments that end after a control
// instruction. The total cost of a segment is charged at its start, so
// running out of budget aborts before any instruction of the segment runs.
// Custom sections are dropped.
func Instrument(mod *Module, opts InstrumenterOptions) (*InstrumentedCode, error) {
	if mod == nil || mod.Wasm == nil || len(mod.bodies) != len(mod.Wasm.Code) {
		return nil, errors.New(errors.PhaseInstrument, errors.KindValidation).
			Detail("module was not produced by Validate").
			Build()
	}

	src := mod.Wasm
	out := &wasm.Module{
		Types:     append([]wasm.FuncType(nil), src.Types...),
		Funcs:     src.Funcs,
		Tables:    src.Tables,
		Memories:  src.Memories,
		Data:      src.Data,
		DataCount: src.DataCount,
	}

	hostType := out.AddType(HostCallType)
	costType := out.AddType(ConsumeCostUnitsType)

	imported := uint32(src.NumImportedFuncs())
	if imported == 0 {
		out.Imports = append(out.Imports, wasm.Import{
			Module: ModuleEnvName,
			Name:   HostCallFunctionName,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: hostType},
		})
	} else {
		out.Imports = append(out.Imports, src.Imports...)
	}
	out.Imports = append(out.Imports, wasm.Import{
		Module: ModuleEnvName,
		Name:   ConsumeCostUnitsFunctionName,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: costType},
	})

	r := remapper{imported: imported, shift: uint32(out.NumImportedFuncs()) - imported}

	var err error
	if out.Globals, err = r.globals(src.Globals); err != nil {
		return nil, err
	}
	if out.Elements, err = r.elements(src.Elements); err != nil {
		return nil, err
	}

	exports := make([]string, 0, len(src.Exports))
	out.Exports = make([]wasm.Export, len(src.Exports))
	for i, exp := range src.Exports {
		if exp.Kind == wasm.KindFunc {
			exp.Idx = r.index(exp.Idx)
			exports = append(exports, exp.Name)
		}
		out.Exports[i] = exp
	}

	out.Code = make([]wasm.FuncBody, len(src.Code))
	for i, body := range src.Code {
		code, err := r.body(mod.bodies[i], &opts.Metering.Rules)
		if err != nil {
			return nil, err
		}
		out.Code[i] = wasm.FuncBody{Locals: body.Locals, Code: code}
	}

	bin := out.Encode()
	return &InstrumentedCode{
		Code:         bin,
		CodeHash:     HashOf(bin),
		OriginalHash: mod.Hash,
		Options:      opts,
		Exports:      exports,
	}, nil
}

// remapper rewrites function indices after imports were inserted.
type remapper struct {
	imported uint32
	shift    uint32
}

func (r remapper) index(idx uint32) uint32 {
	if idx < r.imported {
		return idx
	}
	return idx + r.shift
}

func (r remapper) instr(in wasm.Instruction) wasm.Instruction {
	switch imm := in.Imm.(type) {
	case wasm.CallImm:
		in.Imm = wasm.CallImm{FuncIdx: r.index(imm.FuncIdx)}
	case wasm.RefFuncImm:
		in.Imm = wasm.RefFuncImm{FuncIdx: r.index(imm.FuncIdx)}
	}
	return in
}

// expr rewrites a constant expression, which may hold ref.func.
func (r remapper) expr(code []byte) ([]byte, error) {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return nil, errors.New(errors.PhaseInstrument, errors.KindDecode).
			Cause(err).
			Detail("constant expression").
			Build()
	}
	for i := range instrs {
		instrs[i] = r.instr(instrs[i])
	}
	return wasm.EncodeInstructions(instrs), nil
}

func (r remapper) globals(src []wasm.Global) ([]wasm.Global, error) {
	if src == nil {
		return nil, nil
	}
	out := make([]wasm.Global, len(src))
	for i, g := range src {
		init, err := r.expr(g.Init)
		if err != nil {
			return nil, err
		}
		out[i] = wasm.Global{Type: g.Type, Init: init}
	}
	return out, nil
}

func (r remapper) elements(src []wasm.Element) ([]wasm.Element, error) {
	if src == nil {
		return nil, nil
	}
	out := make([]wasm.Element, len(src))
	for i, elem := range src {
		if elem.FuncIdxs != nil {
			idxs := make([]uint32, len(elem.FuncIdxs))
			for j, idx := range elem.FuncIdxs {
				idxs[j] = r.index(idx)
			}
			elem.FuncIdxs = idxs
		}
		if elem.Exprs != nil {
			exprs := make([][]byte, len(elem.Exprs))
			for j, e := range elem.Exprs {
				var err error
				if exprs[j], err = r.expr(e); err != nil {
					return nil, err
				}
			}
			elem.Exprs = exprs
		}
		out[i] = elem
	}
	return out, nil
}

// endsSegment reports whether a new metered segment starts after op.
func endsSegment(op byte) bool {
	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse, wasm.OpEnd,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn, wasm.OpUnreachable,
		wasm.OpCall, wasm.OpCallIndirect:
		return true
	}
	return false
}

// body meters one function body and remaps its call targets.
func (r remapper) body(instrs []wasm.Instruction, rules *metering.InstructionCostRules) ([]byte, error) {
	out := make([]wasm.Instruction, 0, len(instrs)+len(instrs)/2)

	start := 0
	for start < len(instrs) {
		end := start
		var cost uint64
		for end < len(instrs) {
			c, err := rules.Cost(instrs[end])
			if err != nil {
				return nil, err
			}
			cost += uint64(c)
			end++
			if endsSegment(instrs[end-1].Opcode) {
				break
			}
		}

		out = appendCharge(out, cost)
		for _, in := range instrs[start:end] {
			out = append(out, r.instr(in))
		}
		start = end
	}
	return wasm.EncodeInstructions(out), nil
}

// appendCharge emits i32.const cost; call consume_cost_units, split so that
// every immediate fits in an unsigned 32-bit value.
func appendCharge(out []wasm.Instruction, cost uint64) []wasm.Instruction {
	for cost > 0 {
		chunk := cost
		if chunk > math.MaxUint32 {
			chunk = math.MaxUint32
		}
		out = append(out,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(uint32(chunk))}},
			wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: ConsumeCostUnitsFunctionIndex}},
		)
		cost -= chunk
	}
	return out
}
