package numbering

import (
	"net/http"

	"ncfpos/internal/core/apperror"
)

// Error is the failure half of a generateNumber result. Kind is one of the apperror
// codes: UNKNOWN_TYPE, SEQUENCE_EXHAUSTED, SEQUENCE_EXPIRED, or TRANSPORT_ERROR on
// the caller side.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result answers generateNumber. Exactly one of NCF and Error is set for fiscal
// types; a non-fiscal type yields neither and EsFiscal=false.
type Result struct {
	TypeID   int64  `json:"comprobanteTypeId"`
	NCF      string `json:"ncf,omitempty"`
	Number   int64  `json:"number,omitempty"`
	EsFiscal bool   `json:"esFiscal"`
	Error    *Error `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Error == nil }

// Err converts the result back into an AppError, or nil on success.
func (r Result) Err() error {
	if r.Error == nil {
		return nil
	}
	status := http.StatusInternalServerError
	switch r.Error.Kind {
	case apperror.CodeUnknownType:
		status = http.StatusNotFound
	case apperror.CodeSequenceExhausted, apperror.CodeSequenceExpired:
		status = http.StatusConflict
	case apperror.CodeTransport:
		status = http.StatusBadGateway
	}
	return &apperror.AppError{
		Code:       r.Error.Kind,
		Message:    r.Error.Message,
		HTTPStatus: status,
		Details:    map[string]any{"comprobante_type_id": r.TypeID},
	}
}

// ErrorFrom builds the failure result for err.
func ErrorFrom(typeID int64, err error) Result {
	kind := apperror.CodeOf(err)
	msg := err.Error()
	if appErr, ok := apperror.AsAppError(err); ok {
		msg = appErr.Message
	}
	if kind == "" {
		kind = apperror.CodeInternal
	}
	return Result{TypeID: typeID, Error: &Error{Kind: kind, Message: msg}}
}
