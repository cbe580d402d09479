// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Every fiscal failure the engine reports to a caller is an AppError with a stable Code.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. The fiscal kinds are part of the public contract of generateNumber.
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"

	// Caller-side only: the numbering backend could not be reached.
	CodeTransport = "TRANSPORT_ERROR"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"
	CodeInvalidNCF = "INVALID_NCF"

	// Fiscal rule violations (404 / 409 / 422)
	CodeUnknownType         = "UNKNOWN_TYPE"
	CodeSequenceExhausted   = "SEQUENCE_EXHAUSTED"
	CodeSequenceExpired     = "SEQUENCE_EXPIRED"
	CodeFiscalNumberMissing = "FISCAL_NUMBER_MISSING"
	CodeOrderFinalized      = "ORDER_FINALIZED"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict = "CONFLICT"

	// Idempotency-Key handling (409, 422)
	CodeIdempotencyInProgress = "IDEMPOTENCY_IN_PROGRESS"
	CodeIdempotencyMismatch   = "IDEMPOTENCY_KEY_REUSED"
)

// AppError is the standard error type for the engine.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (type id, limits, field names)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidNCF rejects a manually entered number that fails the format check.
func NewInvalidNCF(ncf, reason string) *AppError {
	return &AppError{
		Code:       CodeInvalidNCF,
		Message:    reason,
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"ncf": ncf},
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewUnknownType reports a comprobante type id missing from the registry
// or a fiscal type without a configured sequence.
func NewUnknownType(typeID int64) *AppError {
	return &AppError{
		Code:       CodeUnknownType,
		Message:    fmt.Sprintf("comprobante type %d is not configured", typeID),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"comprobante_type_id": typeID},
	}
}

// NewSequenceExhausted reports a sequence that reached its ceiling.
func NewSequenceExhausted(typeID, maxNumber int64) *AppError {
	return &AppError{
		Code:       CodeSequenceExhausted,
		Message:    "NCF sequence exhausted, a new range must be provisioned",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"comprobante_type_id": typeID, "max_number": maxNumber},
	}
}

// NewSequenceExpired reports a sequence whose authorization window has closed.
func NewSequenceExpired(typeID int64, expiredOn string) *AppError {
	return &AppError{
		Code:       CodeSequenceExpired,
		Message:    "NCF sequence expired, a new range must be provisioned",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"comprobante_type_id": typeID, "expires_at": expiredOn},
	}
}

// NewFiscalNumberMissing blocks finalization of a fiscal order without an NCF.
func NewFiscalNumberMissing(typeID int64) *AppError {
	return &AppError{
		Code:       CodeFiscalNumberMissing,
		Message:    "fiscal order requires an NCF before it can be finalized",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"comprobante_type_id": typeID},
	}
}

// NewOrderFinalized rejects any fiscal mutation on a finalized order.
func NewOrderFinalized(orderID string) *AppError {
	return &AppError{
		Code:       CodeOrderFinalized,
		Message:    "order is finalized, fiscal fields are immutable",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"order_id": orderID},
	}
}

// NewTransport wraps a failure to reach the numbering backend.
func NewTransport(err error) *AppError {
	return &AppError{
		Code:       CodeTransport,
		Message:    "numbering service unreachable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewIdempotencyInProgress reports a retry that arrived while the first attempt still runs.
func NewIdempotencyInProgress(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyInProgress,
		Message:    "a request with this idempotency key is still being processed",
		Details:    map[string]any{"idempotency_key": key},
		HTTPStatus: http.StatusConflict,
	}
}

// NewIdempotencyMismatch reports a key reused for a different request.
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyMismatch,
		Message:    "idempotency key was already used for a different request",
		Details:    map[string]any{"idempotency_key": key},
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the AppError code in the chain, or "" for foreign errors.
func CodeOf(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsUnknownType checks if error is CodeUnknownType
func IsUnknownType(err error) bool { return CodeOf(err) == CodeUnknownType }

// IsSequenceExhausted checks if error is CodeSequenceExhausted
func IsSequenceExhausted(err error) bool { return CodeOf(err) == CodeSequenceExhausted }

// IsSequenceExpired checks if error is CodeSequenceExpired
func IsSequenceExpired(err error) bool { return CodeOf(err) == CodeSequenceExpired }

// IsFiscalNumberMissing checks if error is CodeFiscalNumberMissing
func IsFiscalNumberMissing(err error) bool { return CodeOf(err) == CodeFiscalNumberMissing }

// IsOrderFinalized checks if error is CodeOrderFinalized
func IsOrderFinalized(err error) bool { return CodeOf(err) == CodeOrderFinalized }

// IsTransport checks if error is CodeTransport
func IsTransport(err error) bool { return CodeOf(err) == CodeTransport }
