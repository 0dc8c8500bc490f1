// Package errs defines the typed error taxonomy from spec §7. Each kind maps
// to a propagation policy enforced by the Scheduler/Runner (runtime/scheduler):
// Configuration errors are fatal at compile time, Input/Recursion/Timeout
// errors are fatal for the run, Tool errors are normally recovered locally by
// the Tool Node, Model errors follow the agent's errorHandling policy, and
// Infrastructure errors mark the run ABORTED while preserving the latest
// checkpoint for resume.
package errs

import "fmt"

// Kind classifies an error for routing and for localized/user-facing
// presentation. It is a closed set of seven kinds: spec §7's six categories
// with Recursion and Timeout kept as separate kinds.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindInput          Kind = "input"
	KindRecursion      Kind = "recursion"
	KindTimeout        Kind = "timeout"
	KindTool           Kind = "tool"
	KindModel          Kind = "model"
	KindInfrastructure Kind = "infrastructure"
)

// Error is the runtime's typed error envelope. It wraps an optional
// underlying cause and is safe to compare with errors.Is against the Kind
// sentinels returned by Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Retryable hints that the same operation might succeed if attempted again
	// (used for Infrastructure and some Tool errors).
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, enabling
// `errors.Is(err, errs.Recursion(""))`-style kind checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// Configuration reports a fatal compile-time error (missing model, invalid
// JSON Schema, duplicate middleware name, path-map mismatch).
func Configuration(format string, args ...any) *Error { return newf(KindConfiguration, false, format, args...) }

// Input reports a run-fatal error caused by caller-supplied data (invalid
// resume command, unknown tool in selector output).
func Input(format string, args ...any) *Error { return newf(KindInput, false, format, args...) }

// Recursion reports that a run exceeded recursionLimit.
func Recursion(limit int) *Error {
	return newf(KindRecursion, false, "recursion limit reached (%d steps)", limit)
}

// Timeout reports that a run or tool call exceeded its configured deadline.
func Timeout(format string, args ...any) *Error { return newf(KindTimeout, true, format, args...) }

// Tool wraps a tool invocation failure that escalated past the Tool Node
// (handleToolErrors=false). Graph interrupts raised by a tool are not wrapped
// in it.
func Tool(cause error) *Error {
	return &Error{Kind: KindTool, Message: cause.Error(), Cause: cause}
}

// Model reports a model-call failure that neither errorHandling.defaultValue
// nor errorHandling.failBranch consumed.
func Model(cause error) *Error {
	return &Error{Kind: KindModel, Message: cause.Error(), Cause: cause}
}

// Infrastructure reports a checkpoint-store or signal-layer failure. The run
// is marked ABORTED; the latest known checkpoint remains valid for resume.
func Infrastructure(cause error) *Error {
	return &Error{Kind: KindInfrastructure, Message: cause.Error(), Cause: cause, Retryable: true}
}
