// Package wasm provides WebAssembly binary format parsing and encoding for
// the instruction set accepted by the contract engine.
//
// # Supported Features
//
//	WebAssembly 1.0 core:
//	  - Value types i32, i64, f32, f64 (floats decode so callers can reject them)
//	  - Functions, one or more tables, memories and globals
//	  - Control flow, calls, local/global access, loads and stores
//
//	Post-1.0 features that decode:
//	  - Sign extension operators
//	  - Bulk memory (memory.copy, memory.fill, memory.init, data.drop)
//	  - Reference types (funcref, externref, ref.null, ref.func, table ops)
//	  - Multi-value block types
//
// Opcodes of SIMD, threads, GC, exception handling, tail calls and typed
// function references are reported with ErrUnsupportedOpcode instead of
// being decoded.
//
// # Parsing
//
//	module, err := wasm.ParseModule(data)
//
// The decoder checks every length prefix against the remaining input before
// allocating, so arbitrary untrusted bytes can be fed to it.
//
// # Encoding
//
//	encoded := module.Encode()
//
// Encoding is deterministic. Parsing and re-encoding a module produced by
// Encode yields identical bytes.
//
// # Instructions
//
// Function bodies are kept as raw bytes. DecodeInstructions and
// EncodeInstructions convert between bytes and Instruction values for
// rewriting:
//
//	instrs, err := wasm.DecodeInstructions(body.Code)
//	body.Code = wasm.EncodeInstructions(instrs)
package wasm
