// Package fabricerr defines the closed error-code taxonomy shared by every
// gateway component and the single Error type used to carry a code, a
// human-readable message, and structured details across the dispatch
// boundary.
//
// Tool and adapter errors retain their code verbatim as they cross into the
// dispatch core; missing-capability and missing-tool errors are always
// surfaced with the framework codes below, never a caller-supplied one.
package fabricerr

import (
	"errors"
	"fmt"
)

// Code is a closed-set error code. Implementations may extend the set only
// through the "x." namespace; the codes below are recognized by every client.
type Code string

// The closed error-code set from the external interface contract.
const (
	CodeAgentOffline        Code = "AGENT_OFFLINE"
	CodeAgentNotFound       Code = "AGENT_NOT_FOUND"
	CodeCapabilityNotFound  Code = "CAPABILITY_NOT_FOUND"
	CodeToolNotFound        Code = "TOOL_NOT_FOUND"
	CodeAuthDenied          Code = "AUTH_DENIED"
	CodeAuthExpired         Code = "AUTH_EXPIRED"
	CodeAuthInvalid         Code = "AUTH_INVALID"
	CodeTimeout             Code = "TIMEOUT"
	CodeBadInput            Code = "BAD_INPUT"
	CodeUpstreamError       Code = "UPSTREAM_ERROR"
	CodeInternalError       Code = "INTERNAL_ERROR"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeDangerousCommand    Code = "DANGEROUS_COMMAND"
	CodeAccessDenied        Code = "ACCESS_DENIED"
	CodeFileNotFound        Code = "FILE_NOT_FOUND"
	CodeInvalidRegex        Code = "INVALID_REGEX"
	CodeInvalidExpression   Code = "INVALID_EXPRESSION"
	CodeExecutionError      Code = "EXECUTION_ERROR"
	CodeConfigError         Code = "CONFIG_ERROR"
	CodeEmptyData           Code = "EMPTY_DATA"
)

// Error is the uniform error shape returned by both the synchronous and
// streaming dispatch paths, wire-compatible with the {code, message, details}
// shape in the request/response envelope.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.Details = details
	return &out
}

// As reports whether err wraps a *Error, following the standard errors.As
// convention so callers can recover the original code after it has crossed
// package boundaries.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Wrap converts an arbitrary error into an Error tagged with code, unless
// err is already an *Error (in which case it is returned unchanged so a
// tool- or adapter-supplied code is preserved verbatim).
func Wrap(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	if fe, ok := As(err); ok {
		return fe
	}
	return New(code, err.Error())
}
