package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an application error for propagation and HTTP mapping.
type Code string

const (
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeDocumentLocked    Code = "DOCUMENT_LOCKED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeDuplicateReminder Code = "DUPLICATE_REMINDER"
	CodeDeliveryFailure   Code = "DELIVERY_FAILURE"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL"
)

// Error is the error type returned by repositories and services.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a code and formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing entity, e.g. NotFound("quote", id).
func NotFound(entity, id string) *Error {
	return Newf(CodeNotFound, "%s %s not found", entity, id)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return Newf(CodeInvalidInput, "%s: %s", field, message)
}

// InvalidTransition reports an illegal status-machine move.
func InvalidTransition(entity, from, to string) *Error {
	return Newf(CodeInvalidTransition, "cannot move %s from '%s' to '%s'", entity, from, to)
}

// DocumentLocked reports a mutation attempted on an immutable document.
func DocumentLocked(entity, status string) *Error {
	return Newf(CodeDocumentLocked, "%s is locked in status '%s'", entity, status)
}

// CodeOf extracts the Code from err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the HTTP status the handlers respond with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeInvalidTransition, CodeDocumentLocked, CodeConflict, CodeDuplicateReminder:
		return http.StatusConflict
	case CodeDeliveryFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
