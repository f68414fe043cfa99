// Package errors defines structured error types for the Daybook auth service.
// Token verification failures use a closed kind enum so callers can branch on
// the exact failure internally while the HTTP boundary collapses every kind
// into one generic response.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ================================================================================
// Token Error Kinds
// ================================================================================

// TokenErrorKind enumerates every way token verification can fail. The set is
// closed: verification never surfaces an error outside this list.
type TokenErrorKind string

const (
	// KindMalformed covers wrong segment counts and undecodable segments
	KindMalformed TokenErrorKind = "malformed"

	// KindUnsupportedAlgorithm covers any alg other than EdDSA, including "none"
	KindUnsupportedAlgorithm TokenErrorKind = "unsupported_algorithm"

	// KindUnknownKey means the kid is not in the current verification set
	KindUnknownKey TokenErrorKind = "unknown_key"

	// KindBadSignature means the signature did not verify
	KindBadSignature TokenErrorKind = "bad_signature"

	// KindExpired means now >= exp
	KindExpired TokenErrorKind = "expired"

	// KindNotYetValid means now < nbf
	KindNotYetValid TokenErrorKind = "not_yet_valid"

	// KindWrongType means the type claim did not match the expected type
	KindWrongType TokenErrorKind = "wrong_type"

	// KindWrongAudience means the expected audience is not in aud
	KindWrongAudience TokenErrorKind = "wrong_audience"

	// KindInsufficientScope means a required scope is missing
	KindInsufficientScope TokenErrorKind = "insufficient_scope"

	// KindRevoked means the jti is revoked or iat predates a subject cutoff
	KindRevoked TokenErrorKind = "revoked"

	// KindReuseDetected means a consumed refresh token was presented again.
	// This kind always escalates to the incident-response path.
	KindReuseDetected TokenErrorKind = "reuse_detected"
)

// TokenError is the typed result of a failed verification.
type TokenError struct {
	Kind   TokenErrorKind
	Detail string
	cause  error
}

func (e *TokenError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause, if any.
func (e *TokenError) Unwrap() error { return e.cause }

// NewTokenError creates a TokenError of the given kind.
func NewTokenError(kind TokenErrorKind, detail string) *TokenError {
	return &TokenError{Kind: kind, Detail: detail}
}

// WrapTokenError creates a TokenError carrying an underlying cause.
func WrapTokenError(kind TokenErrorKind, detail string, cause error) *TokenError {
	return &TokenError{Kind: kind, Detail: detail, cause: cause}
}

// AsTokenError extracts a TokenError from an error chain.
func AsTokenError(err error) (*TokenError, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsTokenErrorKind reports whether err is a TokenError of the given kind.
func IsTokenErrorKind(err error, kind TokenErrorKind) bool {
	te, ok := AsTokenError(err)
	return ok && te.Kind == kind
}

// ================================================================================
// Sentinel Errors
// ================================================================================

var (
	// ErrNotFound indicates a secret, key, or record does not exist
	ErrNotFound = errors.New("not found")

	// ErrKeyUnavailable indicates no signing key could be obtained by any
	// path. Signing fails closed on this error.
	ErrKeyUnavailable = errors.New("no signing key available")

	// ErrSecretsUnavailable indicates the secrets backend circuit is open
	// and no cached fallback could serve the request.
	ErrSecretsUnavailable = errors.New("secrets backend unavailable")

	// ErrCircuitOpen indicates the circuit breaker rejected the call
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrSessionNotFound indicates the session id resolves to nothing
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionRevoked indicates the persisted session record was revoked
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRotationConflict indicates the rotation lock is held elsewhere
	ErrRotationConflict = errors.New("key rotation in progress")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ================================================================================
// Application Errors
// ================================================================================

// AppError is a structured application error carrying an error code, an HTTP
// status, and optional metadata for logging.
type AppError struct {
	Code     string
	Status   int
	Message  string
	cause    error
	metadata map[string]any
}

func (e *AppError) Error() string { return e.Message }

// Unwrap returns the underlying cause error.
func (e *AppError) Unwrap() error { return e.cause }

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int { return e.Status }

// WithCause attaches a cause to the error chain.
func (e *AppError) WithCause(cause error) *AppError {
	e.cause = cause
	return e
}

// WithMetadata attaches a metadata entry for structured logging.
func (e *AppError) WithMetadata(key string, value any) *AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]any)
	}
	e.metadata[key] = value
	return e
}

// Metadata returns the attached metadata.
func (e *AppError) Metadata() map[string]any { return e.metadata }

// NewAppError creates a new AppError.
func NewAppError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

// Error codes used across the service.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidToken       = "invalid_token"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeRateLimited        = "rate_limit_exceeded"
	CodeServiceUnavailable = "service_unavailable"
	CodeInternal           = "internal_error"
)

// ErrInvalidRequest creates an invalid_request error.
func ErrInvalidRequest(message string) *AppError {
	return NewAppError(CodeInvalidRequest, http.StatusBadRequest, message)
}

// ErrUnauthorized creates the single generic unauthorized error. Every
// verification-category failure maps here so the response shape never leaks
// which check failed.
func ErrUnauthorized() *AppError {
	return NewAppError(CodeInvalidToken, http.StatusUnauthorized, "invalid token")
}

// ErrForbidden creates a forbidden error.
func ErrForbidden(message string) *AppError {
	return NewAppError(CodeForbidden, http.StatusForbidden, message)
}

// ErrRateLimited creates a rate_limit_exceeded error.
func ErrRateLimited() *AppError {
	return NewAppError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded")
}

// ErrServiceUnavailable creates a service_unavailable error. Signing-side
// key or secrets failures are fatal for the request and map here.
func ErrServiceUnavailable(message string) *AppError {
	return NewAppError(CodeServiceUnavailable, http.StatusServiceUnavailable, message)
}

// ErrInternal creates an internal_error.
func ErrInternal(message string) *AppError {
	return NewAppError(CodeInternal, http.StatusInternalServerError, message)
}

// AsAppError extracts an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ToErrorResponse maps any error to its boundary representation. Token
// verification failures always collapse to the generic invalid_token body.
func ToErrorResponse(err error) (int, *ErrorResponse) {
	if _, ok := AsTokenError(err); ok {
		return http.StatusUnauthorized, &ErrorResponse{Error: CodeInvalidToken, ErrorDescription: "invalid token"}
	}
	if ae, ok := AsAppError(err); ok {
		return ae.Status, &ErrorResponse{Error: ae.Code, ErrorDescription: ae.Message}
	}
	if errors.Is(err, ErrKeyUnavailable) || errors.Is(err, ErrSecretsUnavailable) {
		return http.StatusServiceUnavailable, &ErrorResponse{Error: CodeServiceUnavailable, ErrorDescription: "service unavailable"}
	}
	return http.StatusInternalServerError, &ErrorResponse{Error: CodeInternal, ErrorDescription: "an unexpected error occurred"}
}
