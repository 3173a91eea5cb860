package ivk

import "github.com/interviewkit/ivk-go/pkg/core"

// SDK-level error type that wraps core errors
type Error = core.Error

// Error types
const (
	ErrInvalidRequest      = core.ErrInvalidRequest
	ErrPermissionDenied    = core.ErrPermissionDenied
	ErrIncompleteResponses = core.ErrIncompleteResponses
	ErrNotFound            = core.ErrNotFound
	ErrExpired             = core.ErrExpired
	ErrConflict            = core.ErrConflict
	ErrAPI                 = core.ErrAPI
)

// Error constructors
var (
	NewInvalidRequestError = core.NewInvalidRequestError
	NewNotFoundError       = core.NewNotFoundError
	NewExpiredError        = core.NewExpiredError
	NewConflictError       = core.NewConflictError
	NewAPIError            = core.NewAPIError
)

// TransportError represents HTTP/websocket transport-level failures (DNS,
// timeouts, connection reset, TLS handshake, etc.) while talking to the
// platform.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical API errors (*core.Error).
type TransportError = core.TransportError
