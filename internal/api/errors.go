package api

import (
	"errors"
	"fmt"
)

// ErrorCode classifies backend failures for the views. User-correctable input
// errors keep the backend's message verbatim in Reason.
type ErrorCode string

const (
	ErrorUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	ErrorInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrorEmailInUse         ErrorCode = "EMAIL_IN_USE"
	ErrorWeakPassword       ErrorCode = "WEAK_PASSWORD"
	ErrorInvalidEmail       ErrorCode = "INVALID_EMAIL"
	ErrorRegistration       ErrorCode = "REGISTRATION_FAILED"
	ErrorNetwork            ErrorCode = "NETWORK_ERROR"
	ErrorBackend            ErrorCode = "BACKEND_ERROR"
)

// Error carries the code alongside the backend's own message.
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
		return fmt.Sprintf("api: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("api: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf extracts the error code, or empty when err is not an api error.
func CodeOf(err error) ErrorCode {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
