package prepare

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/ban1717/scripto/wasm"
)

// Hash is a blake2b-256 content hash.
type Hash [32]byte

// HashOf returns the blake2b-256 hash of data.
func HashOf(data []byte) Hash {
	return blake2b.Sum256(data)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Module is a contract that passed validation. It is read-only.
type Module struct {
	Code []byte
	Hash Hash
	Wasm *wasm.Module

	// bodies holds the decoded instructions of every defined function.
	bodies [][]wasm.Instruction
}

// InstrumentedCode is the metered form of a validated module.
// CodeHash identifies the instrumented bytes; OriginalHash identifies the
// bytes the contract was submitted as.
type InstrumentedCode struct {
	Code         []byte
	CodeHash     Hash
	OriginalHash Hash
	Options      InstrumenterOptions
	Exports      []string // function exports, in declaration order
}

// HasExport reports whether name is an exported function.
func (c *InstrumentedCode) HasExport(name string) bool {
	for _, e := range c.Exports {
		if e == name {
			return true
		}
	}
	return false
}
