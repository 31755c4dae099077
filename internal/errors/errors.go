package errors

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Outcome is the protocol-level result class appended to a reply type,
// e.g. "DOC.WRITE.FORBIDDEN".
type Outcome string

const (
	OutcomeOK         Outcome = "OK"
	OutcomeBadRequest Outcome = "BAD_REQUEST"
	OutcomeForbidden  Outcome = "FORBIDDEN"
	OutcomeNotFound   Outcome = "NOT_FOUND"
	OutcomeInternal   Outcome = "INTERNAL_ERROR"
)

// Machine codes carried in BAD_REQUEST payloads.
const (
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeNameMin        = "NAME_MIN"
	CodeNameMax        = "NAME_MAX"
	CodeUserNotFound   = "USER_NOT_FOUND"
	CodeDuplicate      = "DUPLICATE"
)

// ProtocolError is an error that already knows how it should be
// reported to the client.
type ProtocolError struct {
	Outcome Outcome
	Code    string // optional machine code
	Message string
	Err     error // original error, never sent to the client
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func BadRequest(code, message string, err error) *ProtocolError {
	return &ProtocolError{Outcome: OutcomeBadRequest, Code: code, Message: message, Err: err}
}

func Forbidden(message string, err error) *ProtocolError {
	return &ProtocolError{Outcome: OutcomeForbidden, Message: message, Err: err}
}

func NotFound(message string, err error) *ProtocolError {
	return &ProtocolError{Outcome: OutcomeNotFound, Message: message, Err: err}
}

func Internal(err error) *ProtocolError {
	return &ProtocolError{Outcome: OutcomeInternal, Message: "Internal server error", Err: err}
}

// AppError represents an application error on the HTTP surface
type AppError struct {
	Code    int    // HTTP status code
	Message string // Error message
	Err     error  // Original error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMessage returns a copy of the AppError with a custom message
func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: msg,
		Err:     e.Err,
	}
}

// NewAppError creates a new application error
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error types
var (
	ErrInvalidInput        = func(err error) *AppError { return NewAppError(http.StatusBadRequest, "Invalid input", err) }
	ErrUnauthorized        = func(err error) *AppError { return NewAppError(http.StatusUnauthorized, "Unauthorized", err) }
	ErrNotFound            = func(err error) *AppError { return NewAppError(http.StatusNotFound, "Resource not found", err) }
	ErrInternalServer      = func(err error) *AppError { return NewAppError(http.StatusInternalServerError, "Internal server error", err) }
	ErrUnprocessableEntity = func(err error) *AppError { return NewAppError(http.StatusUnprocessableEntity, "Unprocessable entity", err) }
)

// HandleError handles an error and responds with the appropriate status code and message
func HandleError(c *gin.Context, err error) {
	var appErr *AppError
	log.Printf("%v\n", err.Error())
	if errors.As(err, &appErr) {
		c.JSON(appErr.Code, gin.H{"error": appErr.Message})
		return
	}

	// Default to internal server error
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
