package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the contract lifecycle the error occurred
type Phase string

const (
	PhaseValidate    Phase = "validate"    // structural checks on raw bytes
	PhaseInstrument  Phase = "instrument"  // metering injection
	PhaseInstantiate Phase = "instantiate" // backend compile and instantiate
	PhaseInvoke      Phase = "invoke"      // export invocation
	PhaseHost        Phase = "host"        // runtime bridge callbacks
	PhaseConfig      Phase = "config"      // option validation
)

// Kind categorizes the error
type Kind string

// Preparation kinds. A module rejected with one of these is never cached or executed.
const (
	KindDecode                        Kind = "decode_error"
	KindValidation                    Kind = "validation_error"
	KindFloatingPointNotAllowed       Kind = "floating_point_not_allowed"
	KindUnsupportedInstruction        Kind = "unsupported_instruction"
	KindStartFunctionNotAllowed       Kind = "start_function_not_allowed"
	KindInvalidImport                 Kind = "invalid_import"
	KindInvalidMemory                 Kind = "invalid_memory"
	KindInvalidTable                  Kind = "invalid_table"
	KindTooManyFunctions              Kind = "too_many_functions"
	KindTooManyGlobals                Kind = "too_many_globals"
	KindTooManyTargetsInBrTable       Kind = "too_many_targets_in_br_table"
	KindNoExportSection               Kind = "no_export_section"
	KindNoAllocExport                 Kind = "missing_alloc_export"
	KindNoFreeExport                  Kind = "missing_free_export"
	KindRejectedByInstructionMetering Kind = "rejected_by_instruction_metering"
	KindNotCompilable                 Kind = "not_compilable"
)

// Execution kinds. These end one invocation and leave the engine usable.
const (
	KindTrap               Kind = "trap"
	KindCostUnitsExhausted Kind = "cost_units_exhausted"
	KindExportNotFound     Kind = "export_not_found"
	KindSignatureMismatch  Kind = "signature_mismatch"
	KindMemoryAccess       Kind = "memory_access"
	KindAllocationFailed   Kind = "allocation_failed"
	KindInvalidReturnData  Kind = "invalid_return_data"
	KindHostCallFailed     Kind = "host_call_failed"
	KindCallDepthExceeded  Kind = "call_depth_exceeded"
	KindClosed             Kind = "closed"
)

// KindInvalidOptions reports a configuration value that cannot be used.
const KindInvalidOptions Kind = "invalid_options"

var prepareKinds = map[Kind]bool{
	KindDecode:                        true,
	KindValidation:                    true,
	KindFloatingPointNotAllowed:       true,
	KindUnsupportedInstruction:        true,
	KindStartFunctionNotAllowed:       true,
	KindInvalidImport:                 true,
	KindInvalidMemory:                 true,
	KindInvalidTable:                  true,
	KindTooManyFunctions:              true,
	KindTooManyGlobals:                true,
	KindTooManyTargetsInBrTable:       true,
	KindNoExportSection:               true,
	KindNoAllocExport:                 true,
	KindNoFreeExport:                  true,
	KindRejectedByInstructionMetering: true,
	KindNotCompilable:                 true,
}

var executionKinds = map[Kind]bool{
	KindTrap:               true,
	KindCostUnitsExhausted: true,
	KindExportNotFound:     true,
	KindSignatureMismatch:  true,
	KindMemoryAccess:       true,
	KindAllocationFailed:   true,
	KindInvalidReturnData:  true,
	KindHostCallFailed:     true,
	KindCallDepthExceeded:  true,
	KindClosed:             true,
}

// IsPrepare reports whether k belongs to the preparation taxonomy.
func (k Kind) IsPrepare() bool { return prepareKinds[k] }

// IsExecution reports whether k belongs to the execution taxonomy.
func (k Kind) IsExecution() bool { return executionKinds[k] }

// Reason refines a kind with the specific rule that was violated.
type Reason string

// InvalidImport reasons
const (
	ReasonImportNotAllowed    Reason = "ImportNotAllowed"
	ReasonInvalidFunctionType Reason = "InvalidFunctionType"
)

// InvalidMemory reasons
const (
	ReasonMissingMemorySection           Reason = "MissingMemorySection"
	ReasonNoMemoryDefinition             Reason = "NoMemoryDefinition"
	ReasonTooManyMemoryDefinition        Reason = "TooManyMemoryDefinition"
	ReasonInitialMemorySizeLimitExceeded Reason = "InitialMemorySizeLimitExceeded"
	ReasonMemorySizeLimitExceeded        Reason = "MemorySizeLimitExceeded"
	ReasonMemoryNotExported              Reason = "MemoryNotExported"
	ReasonSharedMemoryNotAllowed         Reason = "SharedMemoryNotAllowed"
)

// InvalidTable reasons
const (
	ReasonMoreThanOneTable              Reason = "MoreThanOneTable"
	ReasonInitialTableSizeLimitExceeded Reason = "InitialTableSizeLimitExceeded"
)

// Error is the structured error type used throughout the engine
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Reason Reason
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Reason != "" {
		b.WriteByte('(')
		b.WriteString(string(e.Reason))
		b.WriteByte(')')
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target matches when its
// Kind is equal and its Phase and Reason are either empty or equal, so the
// package-level sentinels match errors from any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Phase != "" && e.Phase != t.Phase {
		return false
	}
	return t.Reason == "" || e.Reason == t.Reason
}

// Sentinels for errors.Is matching by kind.
var (
	ErrDecode                        = &Error{Kind: KindDecode}
	ErrValidation                    = &Error{Kind: KindValidation}
	ErrFloatingPointNotAllowed       = &Error{Kind: KindFloatingPointNotAllowed}
	ErrUnsupportedInstruction        = &Error{Kind: KindUnsupportedInstruction}
	ErrStartFunctionNotAllowed       = &Error{Kind: KindStartFunctionNotAllowed}
	ErrInvalidImport                 = &Error{Kind: KindInvalidImport}
	ErrInvalidMemory                 = &Error{Kind: KindInvalidMemory}
	ErrInvalidTable                  = &Error{Kind: KindInvalidTable}
	ErrTooManyFunctions              = &Error{Kind: KindTooManyFunctions}
	ErrTooManyGlobals                = &Error{Kind: KindTooManyGlobals}
	ErrTooManyTargetsInBrTable       = &Error{Kind: KindTooManyTargetsInBrTable}
	ErrNoExportSection               = &Error{Kind: KindNoExportSection}
	ErrNoAllocExport                 = &Error{Kind: KindNoAllocExport}
	ErrNoFreeExport                  = &Error{Kind: KindNoFreeExport}
	ErrRejectedByInstructionMetering = &Error{Kind: KindRejectedByInstructionMetering}
	ErrNotCompilable                 = &Error{Kind: KindNotCompilable}

	ErrTrap               = &Error{Kind: KindTrap}
	ErrCostUnitsExhausted = &Error{Kind: KindCostUnitsExhausted}
	ErrExportNotFound     = &Error{Kind: KindExportNotFound}
	ErrSignatureMismatch  = &Error{Kind: KindSignatureMismatch}
	ErrMemoryAccess       = &Error{Kind: KindMemoryAccess}
	ErrAllocationFailed   = &Error{Kind: KindAllocationFailed}
	ErrInvalidReturnData  = &Error{Kind: KindInvalidReturnData}
	ErrHostCallFailed     = &Error{Kind: KindHostCallFailed}
	ErrCallDepthExceeded  = &Error{Kind: KindCallDepthExceeded}
	ErrClosed             = &Error{Kind: KindClosed}

	ErrInvalidOptions = &Error{Kind: KindInvalidOptions}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Reason sets the violated rule
func (b *Builder) Reason(r Reason) *Builder {
	b.err.Reason = r
	return b
}

// Path sets the location inside the module, e.g. "export", "scrypto_alloc"
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Prepare creates a preparation error for the validate phase.
func Prepare(kind Kind, reason Reason, detail string, args ...any) *Error {
	return New(PhaseValidate, kind).Reason(reason).Detail(detail, args...).Build()
}

// LimitExceeded creates a ceiling violation with the offending value.
func LimitExceeded(kind Kind, reason Reason, what string, value, limit uint64) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   kind,
		Reason: reason,
		Detail: fmt.Sprintf("%s %d exceeds limit %d", what, value, limit),
		Value:  value,
	}
}

// Execution creates an invocation-time error.
func Execution(kind Kind, detail string, args ...any) *Error {
	return New(PhaseInvoke, kind).Detail(detail, args...).Build()
}

// ExportNotFound creates an error for an unknown invocation target.
func ExportNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindExportNotFound,
		Path:   []string{name},
		Detail: fmt.Sprintf("export %q not found", name),
	}
}

// CostUnitsExhausted creates a budget exhaustion error.
func CostUnitsExhausted(requested, remaining uint64) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindCostUnitsExhausted,
		Detail: fmt.Sprintf("requested %d cost units with %d remaining", requested, remaining),
		Value:  requested,
	}
}

// CallDepthExceeded creates a re-entrancy limit error.
func CallDepthExceeded(depth, limit int) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindCallDepthExceeded,
		Detail: fmt.Sprintf("call depth %d exceeds limit %d", depth, limit),
		Value:  depth,
	}
}

// InvalidOptions creates a configuration error.
func InvalidOptions(field, detail string) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidOptions,
		Path:   []string{field},
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the reason of the outermost *Error in err's chain.
func ReasonOf(err error) Reason {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsPrepare reports whether err is a preparation error.
func IsPrepare(err error) bool {
	return KindOf(err).IsPrepare()
}

// IsExecution reports whether err is an execution error.
func IsExecution(err error) bool {
	return KindOf(err).IsExecution()
}
