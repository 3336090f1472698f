package metering

import (
	"encoding/binary"

	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/wasm"
)

// InstructionCostRules maps every category to a cost in cost units.
type InstructionCostRules [NumCategories]uint32

// TieredCostRules builds rules from four price tiers:
//   - simple: locals, constants, integer arithmetic and comparison, control
//   - medium: memory access, globals, branches, calls, tables
//   - complex: multiplication and division, indirect calls, bulk operations
//   - grow: memory.grow and table.grow
func TieredCostRules(simple, medium, complex, grow uint32) InstructionCostRules {
	var r InstructionCostRules
	r[Control] = simple
	r[Constant] = simple
	r[Local] = simple
	r[Parametric] = simple
	r[IntegerArith] = simple
	r[IntegerCompare] = simple
	r[Conversion] = simple
	r[Reference] = simple

	r[Branch] = medium
	r[Call] = medium
	r[Global] = medium
	r[Load] = medium
	r[Store] = medium
	r[MemorySize] = medium
	r[Table] = medium

	r[CallIndirect] = complex
	r[IntegerMulDiv] = complex
	r[BulkMemory] = complex

	r[MemoryGrow] = grow
	r[TableGrow] = grow
	return r
}

// ConstantCostRules charges c for every instruction.
func ConstantCostRules(c uint32) InstructionCostRules {
	var r InstructionCostRules
	for i := range r {
		r[i] = c
	}
	return r
}

// DefaultCostRules returns the default tiered schedule.
func DefaultCostRules() InstructionCostRules {
	return TieredCostRules(1, 5, 10, 5000)
}

// Category returns the cost of a category.
func (r *InstructionCostRules) Category(c Category) uint32 {
	if c >= NumCategories {
		return 0
	}
	return r[c]
}

// Cost returns the cost of a single instruction.
func (r *InstructionCostRules) Cost(instr wasm.Instruction) (uint32, error) {
	c, ok := Classify(instr)
	if !ok {
		return 0, errors.New(errors.PhaseInstrument, errors.KindRejectedByInstructionMetering).
			Value(instr.Opcode).
			Detail("no cost rule for opcode 0x%02x", instr.Opcode).
			Build()
	}
	return r[c], nil
}

// Config is the metering configuration handed to the instrumenter.
type Config struct {
	Rules InstructionCostRules
}

// DefaultConfig returns a Config using DefaultCostRules.
func DefaultConfig() Config {
	return Config{Rules: DefaultCostRules()}
}

const fingerprintTag = "metering/v1"

// Fingerprint returns a stable encoding of the configuration. Two configs
// with equal fingerprints instrument any module identically.
func (c Config) Fingerprint() []byte {
	buf := make([]byte, 0, len(fingerprintTag)+4*int(NumCategories))
	buf = append(buf, fingerprintTag...)
	for _, v := range c.Rules {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}
