package billing

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Validation and auth errors surface to the caller with a
// human-readable reason; gateway errors carry an HTTP-equivalent status and a
// safe message while the raw provider error stays server-side.
const (
	KindValidation     = "validation"
	KindAuth           = "auth"
	KindGateway        = "gateway"
	KindNotFound       = "not_found"
	KindReconciliation = "reconciliation"
)

// ErrInvalidSignature is returned when a webhook signature does not match.
// No state is mutated and no log row is written for these requests.
var ErrInvalidSignature = &Error{Kind: KindAuth, Status: http.StatusBadRequest, Message: "invalid webhook signature"}

// Error is the billing error taxonomy. Message is safe to return to end
// users; the wrapped error is for server-side logs only.
type Error struct {
	Kind    string
	Status  int
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// NewValidationError creates a caller-actionable 4xx error.
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a 404-equivalent error.
func NewNotFoundError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewGatewayError wraps a provider failure with an HTTP-equivalent status.
func NewGatewayError(status int, message string, cause error) *Error {
	return &Error{Kind: KindGateway, Status: status, Message: message, err: cause}
}

// NewReconciliationError marks a partial failure whose compensating action
// also failed. These require operator follow-up; they are never retried
// automatically.
func NewReconciliationError(message string, cause error) *Error {
	return &Error{Kind: KindReconciliation, Status: http.StatusInternalServerError, Message: message, err: cause}
}

// StatusOf maps any error to an HTTP status code.
func StatusOf(err error) int {
	var be *Error
	if errors.As(err, &be) {
		return be.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the user-safe message for an error.
func MessageOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Message
	}
	return "internal server error"
}

// IsValidation reports whether the error is caller-actionable.
func IsValidation(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindValidation
}
