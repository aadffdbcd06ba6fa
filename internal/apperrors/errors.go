package apperrors

import (
	"errors"
	"net/http"
)

const (
	ErrCodeBadRequest  = "BAD_REQUEST"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeConflict    = "CONFLICT"
	ErrCodeUnavailable = "UNAVAILABLE"
	ErrCodeInternal    = "INTERNAL_ERROR"
)

// AppError carries a client-facing message and the internal cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func (a *AppError) Error() string {
	if a.Cause != nil {
		return a.Message + ": " + a.Cause.Error()
	}
	return a.Message
}

func (a *AppError) Unwrap() error { return a.Cause }

func (a *AppError) MapToHttpCode() int {
	switch a.Code {
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
