package core

import (
	"errors"
	"fmt"
)

// FailureCategory is the stable, user-visible classification of a failed check.
type FailureCategory string

const (
	CategoryNone               FailureCategory = ""
	CategoryInfra              FailureCategory = "infra"
	CategoryFatalHang          FailureCategory = "fatal-hang"
	CategoryCompileRejected    FailureCategory = "compile-rejected"
	CategoryDivergence         FailureCategory = "divergence"
	CategoryDiagnosticMismatch FailureCategory = "diagnostic-mismatch"
)

// LaunchError reports that an executable could not be started.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("launching %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// InfraError is a harness or environment failure: missing executables,
// permission or filesystem errors, inconclusive verdicts.
// It aborts only the affected check.
type InfraError struct {
	Code    string
	Message string
	Cause   error
}

func (e *InfraError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("infrastructure failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("infrastructure failure: %s", e.Message)
}

func (e *InfraError) Unwrap() error { return e.Cause }

// FatalHangError reports a compile that did not terminate within its timeout.
type FatalHangError struct {
	Role    string
	Message string
}

func (e *FatalHangError) Error() string {
	if e == nil {
		return ""
	}
	if e.Role != "" {
		return fmt.Sprintf("compiler ran into infinite loop (%s): %s", e.Role, e.Message)
	}
	return fmt.Sprintf("compiler ran into infinite loop: %s", e.Message)
}

// CompileRejectedError reports an unrolled compile that exited non-zero.
type CompileRejectedError struct {
	ExitCode int
	Stderr   string
}

func (e *CompileRejectedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stderr == "" {
		return fmt.Sprintf("compile failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("compile failed with exit code %d:\n%s", e.ExitCode, e.Stderr)
}

// DivergenceError wraps a Divergent verdict.
type DivergenceError struct {
	Verdict Verdict
}

func (e *DivergenceError) Error() string {
	if e == nil {
		return ""
	}
	v := e.Verdict
	msg := fmt.Sprintf("behavior diverged (%s): baseline %s, transformed %s", v.Reason, v.Baseline.Status(), v.Transformed.Status())
	if v.Detail != "" {
		msg += "\n" + v.Detail
	}
	return msg
}

// DiagnosticError reports that the compiler diagnostic stream did not contain
// the expected marker.
type DiagnosticError struct {
	Expected string
	Lines    []string
}

func (e *DiagnosticError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("diagnostic stream does not contain %q (%d lines inspected)", e.Expected, len(e.Lines))
}

// Category maps an error onto the failure taxonomy.
// Unknown errors are classified as infrastructure failures.
func Category(err error) FailureCategory {
	if err == nil {
		return CategoryNone
	}

	var hang *FatalHangError
	if errors.As(err, &hang) {
		return CategoryFatalHang
	}
	var rejected *CompileRejectedError
	if errors.As(err, &rejected) {
		return CategoryCompileRejected
	}
	var div *DivergenceError
	if errors.As(err, &div) {
		return CategoryDivergence
	}
	var diag *DiagnosticError
	if errors.As(err, &diag) {
		return CategoryDiagnosticMismatch
	}
	return CategoryInfra
}

// VerdictError converts a non-equivalent verdict into the matching error.
// It returns nil for Equivalent verdicts.
func VerdictError(v Verdict) error {
	switch v.Kind {
	case VerdictEquivalent:
		return nil
	case VerdictDivergent:
		return &DivergenceError{Verdict: v}
	default:
		return &InfraError{Code: v.Cause, Message: nonEmptyOr(v.Detail, "comparison was inconclusive")}
	}
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
