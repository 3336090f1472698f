package prepare

import (
	stderrors "errors"
	"fmt"

	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/wasm"
)

// Validate decodes code and checks it against limits. It stops at the first
// violation, so every rejected module reports exactly one kind.
func Validate(code []byte, limits Limits) (*Module, error) {
	m, err := wasm.ParseModule(code)
	if err != nil {
		return nil, errors.New(errors.PhaseValidate, errors.KindDecode).
			Cause(err).
			Detail("malformed module").
			Build()
	}

	v := &validator{m: m, limits: limits}
	if err := v.decodeBodies(); err != nil {
		return nil, err
	}

	checks := []func() error{
		v.checkStructure,
		v.checkFloats,
		v.checkUnsupported,
		v.checkVectorTypes,
		v.checkStart,
		v.checkImports,
		v.checkMemory,
		v.checkTables,
		v.checkCounts,
		v.checkBrTables,
		v.checkExports,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return nil, err
		}
	}

	return &Module{
		Code:   code,
		Hash:   HashOf(code),
		Wasm:   m,
		bodies: v.bodies,
	}, nil
}

type validator struct {
	m           *wasm.Module
	bodies      [][]wasm.Instruction
	unsupported error
	limits      Limits
}

// decodeBodies decodes every function body. A malformed body is a decode
// error. An opcode from an unsupported proposal is kept aside and reported
// after the float check; its body stays nil.
func (v *validator) decodeBodies() error {
	v.bodies = make([][]wasm.Instruction, len(v.m.Code))
	for i, body := range v.m.Code {
		fn := fmt.Sprint(v.m.NumImportedFuncs() + i)
		instrs, err := wasm.DecodeInstructions(body.Code)
		if err == nil {
			v.bodies[i] = instrs
			continue
		}
		if !stderrors.Is(err, wasm.ErrUnsupportedOpcode) {
			return errors.New(errors.PhaseValidate, errors.KindDecode).
				Path("func", fn).
				Cause(err).
				Detail("malformed function body").
				Build()
		}
		if v.unsupported == nil {
			v.unsupported = errors.New(errors.PhaseValidate, errors.KindUnsupportedInstruction).
				Path("func", fn).
				Cause(err).
				Detail("instruction outside the supported subset").
				Build()
		}
	}
	return nil
}

func (v *validator) checkUnsupported() error {
	return v.unsupported
}

func (v *validator) structural(format string, args ...any) error {
	return errors.New(errors.PhaseValidate, errors.KindValidation).Detail(format, args...).Build()
}

func (v *validator) checkStructure() error {
	if err := v.m.Validate(); err != nil {
		return errors.New(errors.PhaseValidate, errors.KindValidation).
			Cause(err).
			Detail("invalid module structure").
			Build()
	}

	numFuncs := uint32(v.m.NumFuncs())
	numTypes := uint32(len(v.m.Types))
	numTables := uint32(v.m.NumImportedTables() + len(v.m.Tables))
	numGlobals := uint32(v.m.NumImportedGlobals() + len(v.m.Globals))

	for i, instrs := range v.bodies {
		fn := v.m.NumImportedFuncs() + i
		numLocals := v.numLocals(i)
		for _, instr := range instrs {
			switch imm := instr.Imm.(type) {
			case wasm.LocalImm:
				if uint64(imm.LocalIdx) >= numLocals {
					return v.structural("func %d accesses undefined local %d", fn, imm.LocalIdx)
				}
			case wasm.CallImm:
				if imm.FuncIdx >= numFuncs {
					return v.structural("func %d calls undefined function %d", fn, imm.FuncIdx)
				}
			case wasm.RefFuncImm:
				if imm.FuncIdx >= numFuncs {
					return v.structural("func %d references undefined function %d", fn, imm.FuncIdx)
				}
			case wasm.CallIndirectImm:
				if imm.TypeIdx >= numTypes {
					return v.structural("func %d call_indirect uses undefined type %d", fn, imm.TypeIdx)
				}
				if imm.TableIdx >= numTables {
					return v.structural("func %d call_indirect uses undefined table %d", fn, imm.TableIdx)
				}
			case wasm.GlobalImm:
				if imm.GlobalIdx >= numGlobals {
					return v.structural("func %d accesses undefined global %d", fn, imm.GlobalIdx)
				}
			case wasm.BlockImm:
				if imm.Type >= 0 && uint32(imm.Type) >= numTypes {
					return v.structural("func %d block uses undefined type %d", fn, imm.Type)
				}
			}
		}
	}
	return nil
}

// numLocals returns the parameter and local count of defined function i.
func (v *validator) numLocals(i int) uint64 {
	n := uint64(len(v.m.Types[v.m.Funcs[i]].Params))
	for _, l := range v.m.Code[i].Locals {
		n += uint64(l.Count)
	}
	return n
}

func (v *validator) floatError(where string) error {
	return errors.New(errors.PhaseValidate, errors.KindFloatingPointNotAllowed).
		Path(where).
		Detail("floating-point values are not deterministic").
		Build()
}

func hasFloat(types []wasm.ValType) bool {
	for _, t := range types {
		if t.IsFloat() {
			return true
		}
	}
	return false
}

func (v *validator) checkFloats() error {
	for i, ft := range v.m.Types {
		if hasFloat(ft.Params) || hasFloat(ft.Results) {
			return v.floatError(fmt.Sprintf("type %d", i))
		}
	}
	for i, g := range v.m.Globals {
		if g.Type.ValType.IsFloat() {
			return v.floatError(fmt.Sprintf("global %d", i))
		}
	}
	for i, imp := range v.m.Imports {
		if imp.Desc.Global != nil && imp.Desc.Global.ValType.IsFloat() {
			return v.floatError(fmt.Sprintf("import %d", i))
		}
	}
	for i, body := range v.m.Code {
		fn := v.m.NumImportedFuncs() + i
		for _, l := range body.Locals {
			if l.ValType.IsFloat() {
				return v.floatError(fmt.Sprintf("func %d locals", fn))
			}
		}
		for _, instr := range v.bodies[i] {
			if instr.IsFloat() {
				return errors.New(errors.PhaseValidate, errors.KindFloatingPointNotAllowed).
					Path(fmt.Sprintf("func %d", fn)).
					Value(instr.Opcode).
					Detail("float instruction 0x%02x", instr.Opcode).
					Build()
			}
		}
	}
	return nil
}

// checkVectorTypes rejects v128 value types, which only SIMD can produce.
func (v *validator) checkVectorTypes() error {
	unsupported := func(where string) error {
		return errors.New(errors.PhaseValidate, errors.KindUnsupportedInstruction).
			Path(where).
			Detail("v128 values require SIMD").
			Build()
	}
	for i, ft := range v.m.Types {
		for _, t := range append(append([]wasm.ValType(nil), ft.Params...), ft.Results...) {
			if t == wasm.ValV128 {
				return unsupported(fmt.Sprintf("type %d", i))
			}
		}
	}
	for i, g := range v.m.Globals {
		if g.Type.ValType == wasm.ValV128 {
			return unsupported(fmt.Sprintf("global %d", i))
		}
	}
	for i, body := range v.m.Code {
		for _, l := range body.Locals {
			if l.ValType == wasm.ValV128 {
				return unsupported(fmt.Sprintf("func %d locals", v.m.NumImportedFuncs()+i))
			}
		}
	}
	return nil
}

func (v *validator) checkStart() error {
	if v.m.Start != nil {
		return errors.New(errors.PhaseValidate, errors.KindStartFunctionNotAllowed).
			Value(*v.m.Start).
			Detail("start function %d would run during instantiation", *v.m.Start).
			Build()
	}
	return nil
}

func (v *validator) checkImports() error {
	for i, imp := range v.m.Imports {
		path := []string{imp.Module, imp.Name}
		if imp.Module != ModuleEnvName || imp.Name != HostCallFunctionName || imp.Desc.Kind != wasm.KindFunc {
			return errors.New(errors.PhaseValidate, errors.KindInvalidImport).
				Reason(errors.ReasonImportNotAllowed).
				Path(path...).
				Detail("import %s.%s is not allowed", imp.Module, imp.Name).
				Build()
		}
		if i > 0 {
			return errors.New(errors.PhaseValidate, errors.KindInvalidImport).
				Reason(errors.ReasonImportNotAllowed).
				Path(path...).
				Detail("only a single %s.%s import is allowed", ModuleEnvName, HostCallFunctionName).
				Build()
		}
		if !v.m.Types[imp.Desc.TypeIdx].Equal(HostCallType) {
			return errors.New(errors.PhaseValidate, errors.KindInvalidImport).
				Reason(errors.ReasonInvalidFunctionType).
				Path(path...).
				Detail("%s must have type (i32) -> i32", HostCallFunctionName).
				Build()
		}
	}
	return nil
}

func (v *validator) memoryError(reason errors.Reason, format string, args ...any) error {
	return errors.New(errors.PhaseValidate, errors.KindInvalidMemory).
		Reason(reason).
		Detail(format, args...).
		Build()
}

func (v *validator) checkMemory() error {
	mems := v.m.Memories
	switch {
	case mems == nil:
		return v.memoryError(errors.ReasonMissingMemorySection, "module has no memory section")
	case len(mems) == 0:
		return v.memoryError(errors.ReasonNoMemoryDefinition, "memory section defines no memory")
	case len(mems) > 1:
		return v.memoryError(errors.ReasonTooManyMemoryDefinition, "%d memories defined, expected 1", len(mems))
	}

	l := mems[0].Limits
	if l.Shared {
		return v.memoryError(errors.ReasonSharedMemoryNotAllowed, "shared memory requires threads")
	}

	limit := uint64(v.limits.MaxInitialMemoryPages)
	if l.Min > limit {
		return errors.LimitExceeded(errors.KindInvalidMemory, errors.ReasonInitialMemorySizeLimitExceeded,
			"initial memory pages", l.Min, limit)
	}
	if l.Max != nil && *l.Max > limit {
		return errors.LimitExceeded(errors.KindInvalidMemory, errors.ReasonMemorySizeLimitExceeded,
			"maximum memory pages", *l.Max, limit)
	}

	// A module without an export section is reported by checkExports.
	if v.m.Exports == nil {
		return nil
	}
	if exp, ok := v.m.FindExport(ExportMemory, wasm.KindMemory); !ok || exp.Idx != 0 {
		return v.memoryError(errors.ReasonMemoryNotExported, "memory must be exported as %q", ExportMemory)
	}
	return nil
}

func (v *validator) checkTables() error {
	if len(v.m.Tables) > 1 {
		return errors.New(errors.PhaseValidate, errors.KindInvalidTable).
			Reason(errors.ReasonMoreThanOneTable).
			Detail("%d tables defined, expected at most 1", len(v.m.Tables)).
			Build()
	}
	if len(v.m.Tables) == 1 {
		limit := uint64(v.limits.MaxInitialTableSize)
		if min := v.m.Tables[0].Limits.Min; min > limit {
			return errors.LimitExceeded(errors.KindInvalidTable, errors.ReasonInitialTableSizeLimitExceeded,
				"initial table size", min, limit)
		}
	}
	return nil
}

func (v *validator) checkCounts() error {
	if n := uint64(v.m.NumFuncs()); n > uint64(v.limits.MaxFunctions) {
		return errors.LimitExceeded(errors.KindTooManyFunctions, "", "function count", n, uint64(v.limits.MaxFunctions))
	}
	if n := uint64(len(v.m.Globals)); n > uint64(v.limits.MaxGlobals) {
		return errors.LimitExceeded(errors.KindTooManyGlobals, "", "global count", n, uint64(v.limits.MaxGlobals))
	}
	return nil
}

func (v *validator) checkBrTables() error {
	limit := uint64(v.limits.MaxBrTableTargets)
	for i, instrs := range v.bodies {
		for _, instr := range instrs {
			imm, ok := instr.Imm.(wasm.BrTableImm)
			if !ok {
				continue
			}
			if n := uint64(len(imm.Labels)); n > limit {
				err := errors.LimitExceeded(errors.KindTooManyTargetsInBrTable, "", "br_table targets", n, limit)
				err.Path = []string{fmt.Sprintf("func %d", v.m.NumImportedFuncs()+i)}
				return err
			}
		}
	}
	return nil
}

func (v *validator) checkExports() error {
	if len(v.m.Exports) == 0 {
		return errors.New(errors.PhaseValidate, errors.KindNoExportSection).
			Detail("module exports nothing").
			Build()
	}
	if !v.exportHasType(ExportAlloc, AllocType) {
		return errors.New(errors.PhaseValidate, errors.KindNoAllocExport).
			Path(ExportAlloc).
			Detail("%s (i32) -> i32 must be exported", ExportAlloc).
			Build()
	}
	if !v.exportHasType(ExportFree, FreeType) {
		return errors.New(errors.PhaseValidate, errors.KindNoFreeExport).
			Path(ExportFree).
			Detail("%s (i32) must be exported", ExportFree).
			Build()
	}
	return nil
}

func (v *validator) exportHasType(name string, want wasm.FuncType) bool {
	exp, ok := v.m.FindExport(name, wasm.KindFunc)
	if !ok {
		return false
	}
	ft := v.m.GetFuncType(exp.Idx)
	return ft != nil && ft.Equal(want)
}
