// Package fault defines the classified error type shared by the audit,
// remediation, and session packages. Classification decides whether a
// failure degrades the current operation (most classes) or is surfaced
// to the caller as a hard error (parse failures on original content,
// session state conflicts).
package fault

import (
	"errors"
	"fmt"
)

// Class is the failure classification.
type Class string

const (
	// ClassParse indicates malformed configuration input. Parsing degrades
	// to fewer resources; only the original-content parse surfaces this.
	ClassParse Class = "parse"

	// ClassPolicy indicates a single policy check panicked or errored.
	// The check is excluded from results and the audit continues.
	ClassPolicy Class = "policy"

	// ClassPricing indicates a per-resource cost estimation failure.
	// The resource is reported as unestimable, never dropped.
	ClassPricing Class = "pricing"

	// ClassFixGen indicates fix generation failed after all fallbacks.
	ClassFixGen Class = "fixgen"

	// ClassFixCheck indicates a generated fix failed validation
	// (before-text not found, or the fix would remove resources).
	ClassFixCheck Class = "fixcheck"

	// ClassConflict indicates a session state conflict, e.g. a concurrent
	// apply or an apply requested outside the reviewing state.
	ClassConflict Class = "conflict"

	// ClassExhausted indicates every accepted change failed validation and
	// the apply was rolled back with nothing persisted.
	ClassExhausted Class = "exhausted"

	// ClassInternal indicates an unexpected internal failure.
	ClassInternal Class = "internal"
)

// Error is a classified error with optional resource and operation context.
type Error struct {
	// Class is the failure classification.
	Class Class `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource reference involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation in flight when the failure occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Resource != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s (resource=%s): %v", e.Class, e.Message, e.Resource, e.Err)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, e.Message, e.Resource)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", e.Class, e.Message)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by class so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithResource adds resource context to the error.
func (e *Error) WithResource(ref string) *Error {
	e.Resource = ref
	return e
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// New creates a classified error.
func New(class Class, message string, err error) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

// Parse creates a parse failure.
func Parse(message string, err error) *Error { return New(ClassParse, message, err) }

// Policy creates a policy execution failure.
func Policy(message string, err error) *Error { return New(ClassPolicy, message, err) }

// Pricing creates a per-resource pricing failure.
func Pricing(message string, err error) *Error { return New(ClassPricing, message, err) }

// FixGen creates a fix generation failure.
func FixGen(message string, err error) *Error { return New(ClassFixGen, message, err) }

// FixCheck creates a fix validation failure.
func FixCheck(message string, err error) *Error { return New(ClassFixCheck, message, err) }

// Conflict creates a session state conflict.
func Conflict(message string, err error) *Error { return New(ClassConflict, message, err) }

// Exhausted creates an apply-exhaustion failure.
func Exhausted(message string, err error) *Error { return New(ClassExhausted, message, err) }

// Internal creates an internal failure.
func Internal(message string, err error) *Error { return New(ClassInternal, message, err) }

// classOf extracts the class from an error chain.
func classOf(err error) (Class, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsConflict reports whether the error is a session state conflict.
func IsConflict(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassConflict
}

// IsExhausted reports whether the error is an apply exhaustion.
func IsExhausted(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassExhausted
}

// IsParse reports whether the error is a parse failure.
func IsParse(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassParse
}

// IsFixCheck reports whether the error is a fix validation failure.
func IsFixCheck(err error) bool {
	c, ok := classOf(err)
	return ok && c == ClassFixCheck
}
