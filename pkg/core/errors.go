package core

import (
	"fmt"
	"net/url"
	"strings"
)

// Error represents a canonical interview-platform error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	// Details carries structured context, e.g. the missing question ids of
	// an incomplete_responses error.
	Details any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest      ErrorType = "invalid_request_error"
	ErrPermissionDenied    ErrorType = "permission_denied"
	ErrIncompleteResponses ErrorType = "incomplete_responses"
	ErrNotFound            ErrorType = "not_found"
	ErrExpired             ErrorType = "expired"
	ErrConflict            ErrorType = "conflict"
	ErrAPI                 ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewPermissionDeniedError creates a hardware permission error. Permission
// errors are recoverable: the caller may present a retry affordance, but must
// never retry acquisition on its own.
func NewPermissionDeniedError(message string) *Error {
	return &Error{
		Type:    ErrPermissionDenied,
		Message: message,
	}
}

// NewIncompleteResponsesError creates an assembly precondition error naming
// the questions that still lack a recorded segment.
func NewIncompleteResponsesError(missing []string) *Error {
	return &Error{
		Type:    ErrIncompleteResponses,
		Message: fmt.Sprintf("missing recorded segments for questions: %s", strings.Join(missing, ", ")),
		Details: missing,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewExpiredError creates an expired-token error.
func NewExpiredError(message string) *Error {
	return &Error{
		Type:    ErrExpired,
		Message: message,
	}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *Error {
	return &Error{
		Type:    ErrConflict,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// MissingQuestionIDs returns the question ids attached to an
// incomplete_responses error, or nil for any other error.
func (e *Error) MissingQuestionIDs() []string {
	if e == nil || e.Type != ErrIncompleteResponses {
		return nil
	}
	ids, _ := e.Details.([]string)
	return ids
}

// IsRecoverable reports whether the error leaves the session in a state the
// candidate can recover from by explicit action. Not-found and expired tokens
// are terminal.
func (e *Error) IsRecoverable() bool {
	switch e.Type {
	case ErrPermissionDenied, ErrIncompleteResponses, ErrAPI:
		return true
	default:
		return false
	}
}

// TransportError represents transport-level failures (DNS, timeouts,
// connection reset, TLS handshake, websocket dial) while talking to the
// interview platform.
//
// Use errors.As(err, &target) with *TransportError to distinguish transport
// failures from canonical errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
