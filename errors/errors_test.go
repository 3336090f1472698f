package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseValidate,
				Kind:   KindInvalidMemory,
				Reason: ReasonMemoryNotExported,
				Path:   []string{"memory", "0"},
				Detail: "not exported",
			},
			contains: []string{"[validate]", "invalid_memory", "MemoryNotExported", "memory.0", "not exported"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseInvoke,
				Kind:  KindTrap,
			},
			contains: []string{"[invoke]", "trap"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseHost,
				Kind:   KindHostCallFailed,
				Detail: "bridge failed",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[host]", "host_call_failed", "bridge failed", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseInvoke,
		Kind:  KindTrap,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalidTable,
		Reason: ReasonMoreThanOneTable,
	}

	tests := []struct {
		name   string
		target error
		want   bool
	}{
		{"sentinel", ErrInvalidTable, true},
		{"same phase", &Error{Phase: PhaseValidate, Kind: KindInvalidTable}, true},
		{"same reason", &Error{Kind: KindInvalidTable, Reason: ReasonMoreThanOneTable}, true},
		{"other reason", &Error{Kind: KindInvalidTable, Reason: ReasonInitialTableSizeLimitExceeded}, false},
		{"other phase", &Error{Phase: PhaseInvoke, Kind: KindInvalidTable}, false},
		{"other kind", ErrInvalidMemory, false},
		{"plain error", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_IsThroughWrapping(t *testing.T) {
	inner := CostUnitsExhausted(10, 3)
	outer := fmt.Errorf("invoke transfer: %w", inner)

	if !errors.Is(outer, ErrCostUnitsExhausted) {
		t.Error("sentinel should match wrapped error")
	}
	if KindOf(outer) != KindCostUnitsExhausted {
		t.Errorf("KindOf = %q", KindOf(outer))
	}
	if !IsExecution(outer) || IsPrepare(outer) {
		t.Error("cost exhaustion should be an execution error")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("cause")
	err := New(PhaseValidate, KindInvalidImport).
		Reason(ReasonImportNotAllowed).
		Path("import", "env", "abort").
		Value("abort").
		Cause(cause).
		Detail("import %s.%s is not allowed", "env", "abort").
		Build()

	if err.Phase != PhaseValidate {
		t.Errorf("Phase = %q", err.Phase)
	}
	if err.Kind != KindInvalidImport {
		t.Errorf("Kind = %q", err.Kind)
	}
	if err.Reason != ReasonImportNotAllowed {
		t.Errorf("Reason = %q", err.Reason)
	}
	if len(err.Path) != 3 || err.Path[2] != "abort" {
		t.Errorf("Path = %v", err.Path)
	}
	if err.Value != "abort" {
		t.Errorf("Value = %v", err.Value)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not attached")
	}
	if err.Detail != "import env.abort is not allowed" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestBuilder_DetailWithoutArgs(t *testing.T) {
	err := New(PhaseInvoke, KindTrap).Detail("guest stuck in loop").Build()
	if err.Detail != "guest stuck in loop" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Prepare", func(t *testing.T) {
		err := Prepare(KindInvalidMemory, ReasonNoMemoryDefinition, "memory section has %d entries", 0)
		if err.Phase != PhaseValidate || err.Reason != ReasonNoMemoryDefinition {
			t.Errorf("unexpected error %v", err)
		}
		if !strings.Contains(err.Error(), "0 entries") {
			t.Errorf("detail missing: %v", err)
		}
	})

	t.Run("LimitExceeded", func(t *testing.T) {
		err := LimitExceeded(KindTooManyFunctions, "", "function count", 70000, 65536)
		if !errors.Is(err, ErrTooManyFunctions) {
			t.Error("should match sentinel")
		}
		if err.Value != uint64(70000) {
			t.Errorf("Value = %v", err.Value)
		}
		if !strings.Contains(err.Detail, "70000") || !strings.Contains(err.Detail, "65536") {
			t.Errorf("Detail = %q", err.Detail)
		}
	})

	t.Run("ExportNotFound", func(t *testing.T) {
		err := ExportNotFound("missing")
		if !errors.Is(err, ErrExportNotFound) {
			t.Error("should match sentinel")
		}
		if !strings.Contains(err.Error(), `"missing"`) {
			t.Errorf("message = %q", err.Error())
		}
	})

	t.Run("CallDepthExceeded", func(t *testing.T) {
		err := CallDepthExceeded(9, 8)
		if !errors.Is(err, ErrCallDepthExceeded) {
			t.Error("should match sentinel")
		}
	})

	t.Run("InvalidOptions", func(t *testing.T) {
		err := InvalidOptions("MaxCallDepth", "must be positive")
		if err.Phase != PhaseConfig || err.Path[0] != "MaxCallDepth" {
			t.Errorf("unexpected error %v", err)
		}
		if IsPrepare(err) || IsExecution(err) {
			t.Error("config errors belong to neither family")
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		cause := errors.New("compile failed")
		err := Wrap(PhaseInstantiate, KindNotCompilable, cause, "backend rejected module")
		if !errors.Is(err, cause) || !errors.Is(err, ErrNotCompilable) {
			t.Error("wrap should keep both cause and kind")
		}
		if !IsPrepare(err) {
			t.Error("not compilable is a preparation error")
		}
	})
}

func TestKindFamilies(t *testing.T) {
	for k := range prepareKinds {
		if k.IsExecution() {
			t.Errorf("%s is in both families", k)
		}
	}
	for k := range executionKinds {
		if k.IsPrepare() {
			t.Errorf("%s is in both families", k)
		}
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}
	if ReasonOf(Prepare(KindInvalidTable, ReasonMoreThanOneTable, "x")) != ReasonMoreThanOneTable {
		t.Error("ReasonOf lost the reason")
	}
}
