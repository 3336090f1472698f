// Package metering defines the cost of executing each WebAssembly instruction.
//
// Every instruction the engine accepts belongs to exactly one Category, and
// InstructionCostRules assigns a cost to every category. Because the rules
// are a fixed-size array indexed by category, a rule set is total by
// construction: there is no instruction without a price.
//
// The concrete prices are configuration, not protocol. DefaultCostRules is a
// reasonable tiered schedule; deployments that need agreement between nodes
// must pin their own Config, whose Fingerprint feeds the instrumentation
// cache key.
package metering
