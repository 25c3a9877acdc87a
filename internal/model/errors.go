package model

import "fmt"

// Code is one of the error classes from spec.md §7. It is stable across
// releases; callers should branch on Code, never on Error's message text.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInsufficientPosn  Code = "INSUFFICIENT_POSITION"
	CodeNotFillable       Code = "NOT_FILLABLE"
	CodeInvalidAmend      Code = "INVALID_AMEND"
	CodeUnknownOrder      Code = "UNKNOWN_ORDER"
	CodeAlreadyTerminal   Code = "ALREADY_TERMINAL"
	CodeStale             Code = "STALE"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeInternal          Code = "INTERNAL"
)

// Error is the structured, user-visible error shape from spec.md §7: a
// stable code plus a human-readable detail.
type Error struct {
	Code   Code
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, &Error{Code: CodeStale}) match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a structured error with the given code and detail.
func NewError(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap attaches a code and detail to an underlying cause, preserving it for
// errors.Unwrap/errors.As while still exposing a stable Code.
func Wrap(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, cause: cause}
}

// Sentinel instances for errors.Is comparisons against a bare code, mirroring
// the teacher's style of package-level sentinel errors
// (ErrNotEnoughLiquidity, ErrRejection, ErrImproperConversion).
var (
	ErrValidation        = &Error{Code: CodeValidation}
	ErrInsufficientFunds = &Error{Code: CodeInsufficientFunds}
	ErrInsufficientPosn  = &Error{Code: CodeInsufficientPosn}
	ErrNotFillable       = &Error{Code: CodeNotFillable}
	ErrInvalidAmend      = &Error{Code: CodeInvalidAmend}
	ErrUnknownOrder      = &Error{Code: CodeUnknownOrder}
	ErrAlreadyTerminal   = &Error{Code: CodeAlreadyTerminal}
	ErrStale             = &Error{Code: CodeStale}
	ErrUnavailable       = &Error{Code: CodeUnavailable}
	ErrInternal          = &Error{Code: CodeInternal}
)
