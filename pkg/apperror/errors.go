// Package apperror defines the typed errors returned across package
// boundaries and their mapping to HTTP status codes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	// ErrorTypeValidation marks a caller mistake: bad dates, out-of-range
	// values, a first visit after the due date.
	ErrorTypeValidation ErrorType = "VALIDATION"

	ErrorTypeNotFound ErrorType = "NOT_FOUND"
	ErrorTypeConflict ErrorType = "CONFLICT"
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// AppError carries a type, a message safe to show to the caller and an
// optional cause.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewValidationError(message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// WrapValidation marks err as a caller mistake, prefixed with message.
func WrapValidation(err error, message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Message: message, Err: err}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

func NewConflictError(message string) *AppError {
	return &AppError{Type: ErrorTypeConflict, Message: message}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the type of the first AppError in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

func IsValidation(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeValidation
}

func IsNotFound(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeNotFound
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
