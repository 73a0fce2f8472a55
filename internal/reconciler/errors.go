package reconciler

import "fmt"

// Code classifies reconciliation rejections. Security-relevant codes are
// surfaced to the HTTP response as errors; DUPLICATE and ILLEGAL_TRANSITION
// are expected steady-state traffic and travel inside Result instead.
type Code string

const (
	CodeMalformedNotification Code = "MALFORMED_NOTIFICATION"
	CodeInvalidSignature      Code = "INVALID_SIGNATURE"
	CodeOrderNotFound         Code = "ORDER_NOT_FOUND"
	CodeAmountMismatch        Code = "AMOUNT_MISMATCH"
)

// Error is a typed reconciliation rejection.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func rejectf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}
