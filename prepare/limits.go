package prepare

import (
	"encoding/binary"

	"github.com/ban1717/scripto/errors"
)

// Limits are the structural ceilings a module must respect.
type Limits struct {
	// MaxInitialMemoryPages bounds both the initial and the declared maximum
	// memory size, in 64 KiB pages.
	MaxInitialMemoryPages uint32
	MaxInitialTableSize   uint32
	MaxFunctions          uint32
	MaxGlobals            uint32
	MaxBrTableTargets     uint32
}

// DefaultLimits returns the default ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxInitialMemoryPages: 64,
		MaxInitialTableSize:   1024,
		MaxFunctions:          64 * 1024,
		MaxGlobals:            512,
		MaxBrTableTargets:     256,
	}
}

// Validate rejects ceilings that no usable contract can meet.
func (l Limits) Validate() error {
	if l.MaxInitialMemoryPages == 0 {
		return errors.InvalidOptions("MaxInitialMemoryPages", "must be at least 1")
	}
	if l.MaxInitialMemoryPages > 65536 {
		return errors.InvalidOptions("MaxInitialMemoryPages", "exceeds the 32-bit address space")
	}
	if l.MaxFunctions < 2 {
		return errors.InvalidOptions("MaxFunctions", "must allow the alloc and free exports")
	}
	return nil
}

// Fingerprint returns a stable encoding of the ceilings.
func (l Limits) Fingerprint() []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, "limits/v1"...)
	for _, v := range [...]uint32{
		l.MaxInitialMemoryPages,
		l.MaxInitialTableSize,
		l.MaxFunctions,
		l.MaxGlobals,
		l.MaxBrTableTargets,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}
