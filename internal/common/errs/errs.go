// Package errs defines the error taxonomy shared across the billing core.
// Wire-specific status codes are assigned at the API boundary only.
package errs

import (
	"errors"
	"fmt"
)

// AuthenticationError indicates an inbound payload whose signature could not
// be verified. It is raised before any state is touched.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Message
}

// NewAuthentication creates an AuthenticationError.
func NewAuthentication(format string, args ...any) *AuthenticationError {
	return &AuthenticationError{Message: fmt.Sprintf(format, args...)}
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// ValidationError indicates malformed or out-of-range caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Message
}

// NewValidation creates a ValidationError.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError indicates a referenced record is absent.
type NotFoundError struct {
	Kind string // payment, subscription, customer
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

// NewNotFound creates a NotFoundError.
func NewNotFound(kind, ref string) *NotFoundError {
	return &NotFoundError{Kind: kind, Ref: ref}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// GatewayError wraps a vendor-side failure from the payment processor,
// carrying the vendor code for operator diagnosis.
type GatewayError struct {
	Code    string
	Message string
	cause   error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error [%s]: %s", e.Code, e.Message)
	}
	return "gateway error: " + e.Message
}

func (e *GatewayError) Unwrap() error { return e.cause }

// NewGateway creates a GatewayError.
func NewGateway(code, message string, cause error) *GatewayError {
	return &GatewayError{Code: code, Message: message, cause: cause}
}

// IsGateway reports whether err is a GatewayError.
func IsGateway(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

// ReconciliationError wraps any failure during inbound event application.
// The enclosing transaction has been rolled back; the upstream event source
// is expected to redeliver.
type ReconciliationError struct {
	EventID   string
	EventType string
	cause     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed for event %s (%s): %v", e.EventID, e.EventType, e.cause)
}

func (e *ReconciliationError) Unwrap() error { return e.cause }

// NewReconciliation creates a ReconciliationError wrapping the root cause.
func NewReconciliation(eventID, eventType string, cause error) *ReconciliationError {
	return &ReconciliationError{EventID: eventID, EventType: eventType, cause: cause}
}

// IsReconciliation reports whether err is a ReconciliationError.
func IsReconciliation(err error) bool {
	var re *ReconciliationError
	return errors.As(err, &re)
}
