package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// StandardError represents a standardized error response
type StandardError struct {
	Code    string `json:"error"`   // Error code/type (e.g., "NotFound", "InsufficientStock")
	Message string `json:"message"` // Human-readable error message
	Details string `json:"details"` // Additional details (field name, quantities, etc.)
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return e.Message
}

// HTTPStatus returns the appropriate HTTP status code for the error
func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case "InvalidRequest", "ValidationError":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "AlreadyExists", "InvalidState":
		return http.StatusConflict
	case "InsufficientStock":
		return http.StatusUnprocessableEntity
	case "TransientDependency":
		return http.StatusServiceUnavailable
	case "DatabaseError", "InternalError":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewStandardError creates a new StandardError
func NewStandardError(errorCode, message, details string) *StandardError {
	return &StandardError{
		Code:    errorCode,
		Message: message,
		Details: details,
	}
}

// AsStandard extracts a StandardError from an error chain, wrapping unknown
// errors as InternalError so handlers always have a code to map.
func AsStandard(err error) *StandardError {
	var se *StandardError
	if errors.As(err, &se) {
		return se
	}
	return NewInternalError("unexpected error", err)
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// Common error constructors

func NewInvalidRequest(message, details string) *StandardError {
	return NewStandardError("InvalidRequest", message, details)
}

func NewValidationError(message, field string) *StandardError {
	return NewStandardError("ValidationError", message, fmt.Sprintf("Field: %s", field))
}

func NewNotFound(resource, id string) *StandardError {
	return NewStandardError("NotFound", fmt.Sprintf("%s not found", resource), fmt.Sprintf("ID: %s", id))
}

func NewAlreadyExists(resource, id string) *StandardError {
	return NewStandardError("AlreadyExists", fmt.Sprintf("%s already exists", resource), fmt.Sprintf("ID: %s", id))
}

func NewInsufficientStock(productID string, available, requested int) *StandardError {
	return NewStandardError("InsufficientStock", "insufficient stock available",
		fmt.Sprintf("Product: %s, Available: %d, Requested: %d", productID, available, requested))
}

func NewInvalidState(message, details string) *StandardError {
	return NewStandardError("InvalidState", message, details)
}

func NewTransientDependency(dependency string, err error) *StandardError {
	return NewStandardError("TransientDependency",
		fmt.Sprintf("dependency unavailable: %s", dependency), err.Error())
}

func NewDatabaseError(operation string, err error) *StandardError {
	return NewStandardError("DatabaseError", fmt.Sprintf("database operation failed: %s", operation), err.Error())
}

func NewInternalError(message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewStandardError("InternalError", message, details)
}
