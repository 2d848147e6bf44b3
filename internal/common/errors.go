package common

import (
	"errors"
	"net/http"
)

// Error codes shared by every handler.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeConflict        = "CONFLICT"
	CodeOutOfStock      = "OUT_OF_STOCK"
	CodePaymentDeclined = "PAYMENT_DECLINED"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodeInternal        = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithDetails returns a copy of the error carrying the provided details.
func (e *AppError) WithDetails(details any) *AppError {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Details = details
	return &cp
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func ValidationError(message string) *AppError {
	return NewAppError(CodeValidation, message, http.StatusBadRequest, nil)
}

func NotFound(message string) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, nil)
}

func Forbidden(message string) *AppError {
	return NewAppError(CodeForbidden, message, http.StatusForbidden, nil)
}

func Unauthorized(message string) *AppError {
	return NewAppError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func Conflict(message string) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, nil)
}

func OutOfStock(message string) *AppError {
	return NewAppError(CodeOutOfStock, message, http.StatusBadRequest, nil)
}

func PaymentDeclined(message string) *AppError {
	return NewAppError(CodePaymentDeclined, message, http.StatusPaymentRequired, nil)
}

// ExternalServiceError wraps a failure of a third-party dependency.
func ExternalServiceError(message string, err error) *AppError {
	return NewAppError(CodeExternalService, message, http.StatusBadGateway, err)
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	var target *AppError
	if errors.As(err, &target) {
		return target.Code == code
	}
	return false
}
