package chat

import "fmt"

type ErrorCode string

const (
	CodeInvalidQuery        ErrorCode = "INVALID_QUERY"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
)

// Error is returned by every Session operation that fails.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chat: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chat: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same code, so callers can test
// errors.Is(err, chat.ErrUpstreamUnavailable).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Code == e.Code && t.Reason == "" && t.Err == nil
}

var (
	ErrInvalidQuery        = &Error{Code: CodeInvalidQuery}
	ErrUpstreamUnavailable = &Error{Code: CodeUpstreamUnavailable}
)

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
