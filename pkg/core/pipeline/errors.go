package pipeline

import (
	"errors"
	"fmt"
)

// Error codes for pipeline failures.
const (
	CodeValidation       = "VALIDATION_FAILED"
	CodeConcurrentAction = "CONCURRENT_ACTION"
	CodeSessionExpired   = "SESSION_EXPIRED"
	CodeForbidden        = "FORBIDDEN"
	CodeBackend          = "BACKEND_ERROR"
)

// Error standardizes pipeline failures so callers can branch on the code
// rather than on message text.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed input that never reaches the network.
func NewValidationError(message string) error {
	return &Error{Code: CodeValidation, Message: message}
}

// NewConcurrentActionError reports a second submission while one is already
// in flight for the same volunteer.
func NewConcurrentActionError(volunteerID string) error {
	return &Error{
		Code:    CodeConcurrentAction,
		Message: fmt.Sprintf("an action is already in flight for volunteer %s", volunteerID),
	}
}

// NewSessionExpiredError reports an invalid token after a failed refresh.
func NewSessionExpiredError(err error) error {
	return &Error{Code: CodeSessionExpired, Message: "session expired, sign in again", Err: err}
}

// NewForbiddenError reports a backend role/organization rejection.
func NewForbiddenError(message string) error {
	if message == "" {
		message = "you do not have permission to perform this action"
	}
	return &Error{Code: CodeForbidden, Message: message}
}

// NewBackendError reports any other backend or network failure. The server
// message is kept when present so the user sees what the backend said.
func NewBackendError(message string, err error) error {
	if message == "" {
		message = "the request could not be completed"
	}
	return &Error{Code: CodeBackend, Message: message, Err: err}
}

func codeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func IsValidation(err error) bool       { return codeOf(err) == CodeValidation }
func IsConcurrentAction(err error) bool { return codeOf(err) == CodeConcurrentAction }
func IsSessionExpired(err error) bool   { return codeOf(err) == CodeSessionExpired }
func IsForbidden(err error) bool        { return codeOf(err) == CodeForbidden }
func IsBackend(err error) bool          { return codeOf(err) == CodeBackend }
