// Package errors provides the structured error taxonomy of the contract engine.
//
// Errors carry a Phase (where the error occurred), a Kind (what went wrong)
// and an optional Reason naming the specific rule that was violated. Kinds
// are split into two families:
//
//   - preparation kinds, returned while validating or instrumenting a module
//   - execution kinds, returned by a single invocation
//
// Callers distinguish kinds programmatically with errors.Is and the
// package sentinels, or with KindOf:
//
//	if errors.Is(err, scerrors.ErrCostUnitsExhausted) {
//		// charge the consumed budget
//	}
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseValidate, errors.KindInvalidMemory).
//		Reason(errors.ReasonMemoryNotExported).
//		Detail("memory 0 is not exported as %q", "memory").
//		Build()
package errors
