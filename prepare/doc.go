// Package prepare turns untrusted contract bytes into metered code.
//
// Preparation has two steps. Validate decodes a module and checks it
// against the structural Limits, the import allow-list and the required
// exports, returning the first violation as a preparation error from the
// errors package. Instrument rewrites a validated module so that every
// metered segment charges its cost through the consume_cost_units host
// function before it executes.
//
// The output of Instrument is content addressed: CodeHash is the
// blake2b-256 hash of the instrumented bytes, and instrumenting the same
// module with the same InstrumenterOptions always yields identical bytes.
package prepare
