package operation

import (
	"errors"
	"fmt"
	"net/http"
)

// Status codes used by the dispatch pipeline. They follow HTTP numbering
// so gateways can pass them through unchanged.
const (
	StatusOK              = http.StatusOK
	StatusNotModified     = http.StatusNotModified
	StatusBadRequest      = http.StatusBadRequest
	StatusForbidden       = http.StatusForbidden
	StatusNotFound        = http.StatusNotFound
	StatusBadMethod       = http.StatusMethodNotAllowed
	StatusConflict        = http.StatusConflict
	StatusTooManyRequests = http.StatusTooManyRequests
	StatusInternalError   = http.StatusInternalServerError
	StatusUnavailable     = http.StatusServiceUnavailable
)

// ServiceError is a failure with a caller-visible status code. Handlers
// and filters fail operations with it; anything else is surfaced as an
// internal error.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewServiceError builds a ServiceError with a formatted message.
func NewServiceError(statusCode int, format string, args ...any) *ServiceError {
	return &ServiceError{StatusCode: statusCode, Message: fmt.Sprintf(format, args...)}
}

// Forbidden is the failure produced by the authorization gate.
func Forbidden(format string, args ...any) *ServiceError {
	return NewServiceError(StatusForbidden, format, args...)
}

// NotFound reports that no service owns the target path.
func NotFound(path string) *ServiceError {
	return NewServiceError(StatusNotFound, "service not found: %s", path)
}

// TooManyRequests reports that a rate limit rejected the operation.
func TooManyRequests(format string, args ...any) *ServiceError {
	return NewServiceError(StatusTooManyRequests, format, args...)
}

// ActionNotSupported is the failure returned by default verb handlers
// that a concrete service did not override.
func ActionNotSupported(a Action) *ServiceError {
	return NewServiceError(StatusBadMethod, "action not supported: %s", a)
}

// FailActionNotSupported fails op with an ActionNotSupported error for
// its own verb.
func FailActionNotSupported(op *Operation) {
	op.Fail(ActionNotSupported(op.Action()))
}

// errorStatusCode extracts the caller-visible status code from a
// failure, defaulting to internal error.
func errorStatusCode(err error) int {
	var se *ServiceError
	if errors.As(err, &se) && se.StatusCode != 0 {
		return se.StatusCode
	}
	return StatusInternalError
}
