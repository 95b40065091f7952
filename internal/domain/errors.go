package domain

import "fmt"

// Code classifies an error into the transport-level taxonomy. Clients only
// ever see the code plus a coarse reason string.
type Code string

const (
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeMalformedEvent   Code = "MALFORMED_EVENT"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeRateLimited      Code = "RATE_LIMITED"
)

// Coarse reason strings for Unauthorized. Deliberately no finer grained
// than these classes.
const (
	ReasonTokenMissing = "token_missing"
	ReasonTokenRevoked = "token_revoked"
	ReasonTokenExpired = "token_expired"
	ReasonTokenInvalid = "token_invalid"
)

// Error is the error type used across the transport core.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func Unauthorized(reason string) *Error {
	return &Error{Code: CodeUnauthorized, Reason: reason}
}

func Forbidden(reason string) *Error {
	return &Error{Code: CodeForbidden, Reason: reason}
}

func MalformedEvent(reason string) *Error {
	return &Error{Code: CodeMalformedEvent, Reason: reason}
}

func StoreUnavailable(reason string) *Error {
	return &Error{Code: CodeStoreUnavailable, Reason: reason}
}

func RateLimited(reason string) *Error {
	return &Error{Code: CodeRateLimited, Reason: reason}
}

// CodeOf extracts the taxonomy code from err, or empty if err is not a
// domain error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if de, ok := err.(*Error); ok {
		return de.Code
	}
	return ""
}
