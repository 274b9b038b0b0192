package errors

import "net/http"

// ErrorCode represents the type of error
type ErrorCode string

const (
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrInvalidOperation ErrorCode = "INVALID_OPERATION"
	ErrValidation       ErrorCode = "VALIDATION_ERROR"
	ErrConflict         ErrorCode = "CONFLICT"
	ErrUnavailable      ErrorCode = "UNAVAILABLE"
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrForbidden        ErrorCode = "FORBIDDEN"
	ErrBadRequest       ErrorCode = "BAD_REQUEST"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// StatusCodeMap maps ErrorCode to HTTP status code. Only the handler layer
// consumes this; the core packages deal in codes alone.
var StatusCodeMap = map[ErrorCode]int{
	ErrNotFound:         http.StatusNotFound,
	ErrInvalidOperation: http.StatusBadRequest,
	ErrValidation:       http.StatusUnprocessableEntity,
	ErrConflict:         http.StatusConflict,
	ErrUnavailable:      http.StatusServiceUnavailable,
	ErrUnauthorized:     http.StatusUnauthorized,
	ErrForbidden:        http.StatusForbidden,
	ErrBadRequest:       http.StatusBadRequest,
	ErrInternalError:    http.StatusInternalServerError,
}

// StatusCode returns the HTTP status code for this error code
func (e ErrorCode) StatusCode() int {
	if code, ok := StatusCodeMap[e]; ok {
		return code
	}
	return http.StatusInternalServerError
}
