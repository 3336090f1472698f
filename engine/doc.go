// Package engine executes instrumented contracts.
//
// An Engine owns a Backend, a cache of instrumented code and the ambient
// logger, metrics and tracer. Backends turn InstrumentedCode into
// Instances; WazeroBackend is the production backend and enginetest
// provides a scripted one for tests.
//
// # Invocation Flow
//
//  1. Engine.Instrument validates and instruments raw bytes, once per code,
//     limits and cost rules.
//  2. Engine.Instantiate creates an Instance with fresh memory and a cost
//     budget.
//  3. Instance.Invoke copies each argument into guest memory through
//     scrypto_alloc, calls the export and copies the returned buffer out.
//
// # Runtime Bridge
//
// Instrumented code imports two functions from the env module:
//
//	Index  Name                Signature       Purpose
//	─────────────────────────────────────────────────────────────
//	0      scrypto_engine      (i32) -> i32    forward a buffer to Runtime.HostCall
//	1      consume_cost_units  (i32)           charge the instance Meter
//
// Buffers are a little-endian u32 length followed by the payload. Host
// functions abort the running invocation on failure; the error they record
// is what Invoke returns.
//
// # Call Depth
//
// Every Invoke enters one level of call depth, carried in the context.
// A Runtime that invokes another contract from HostCall must pass on the
// context it was given, so nested calls count against Options.MaxCallDepth.
package engine
