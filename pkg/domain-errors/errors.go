// Package domainerrors provides coded errors for the anonymization pipeline.
// Services wrap infrastructure failures into coded errors at their boundary
// so callers can branch on the code without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Codes are stable identifiers used in audit
// entries, metrics labels, and API responses.
type Code string

const (
	// Generic codes.
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal"

	// Pipeline error taxonomy.
	CodeUngeneralizable    Code = "ungeneralizable_input"
	CodeBucketExpired      Code = "bucket_expired"
	CodeBudgetExhausted    Code = "budget_exhausted"
	CodePHIDetected        Code = "phi_detected"
	CodeGuaranteeViolation Code = "guarantee_violation"
	CodeTransportFailure   Code = "transport_failure"
	CodePipelineDisabled   Code = "pipeline_disabled"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	code  Code
	msg   string
	cause error
}

// New constructs a coded error without a cause.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(cause error, code Code, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{code: code, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the error's classification code.
func (e *Error) Code() Code { return e.code }

// Message returns the message without the code prefix or cause.
func (e *Error) Message() string { return e.msg }

// CodeOf extracts the code from an error chain. Errors that carry no code
// report CodeInternal, keeping unknown failures fail-closed.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
