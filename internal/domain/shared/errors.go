// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrInvalidFormat = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "fluency", "certificate", "identity"
	Op      string // Operation that failed, e.g., "SetLevel", "Issue"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message, safe to show to API clients
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of a sentinel domain error carrying err as its cause.
// The copy still matches the sentinel with errors.Is.
func (e *DomainError) Wrap(err error) *DomainError {
	return WrapError(e.Domain, e.Op, e.Kind, e.Message, err)
}

// Identity domain errors
var (
	ErrMissingToken         = NewDomainError("identity", "Authenticate", ErrUnauthorized, "Missing authorization token")
	ErrInvalidToken         = NewDomainError("identity", "Authenticate", ErrUnauthorized, "Invalid or expired token")
	ErrTeacherRoleRequired  = NewDomainError("identity", "RequireRole", ErrForbidden, "Only teachers can perform this action")
	ErrIdentityExists       = NewDomainError("identity", "CreateUser", ErrAlreadyExists, "A user with this email already exists")
	ErrInvalidCredentials   = NewDomainError("identity", "SignIn", ErrUnauthorized, "Invalid email or password")
	ErrIdentityProviderDown = NewDomainError("identity", "CreateUser", ErrServiceUnavailable, "Identity provider is unavailable")
)

// Fluency domain errors
var (
	ErrProfileNotFound    = NewDomainError("fluency", "Find", ErrNotFound, "User not found")
	ErrInvalidLevel       = NewDomainError("fluency", "Validate", ErrInvalidInput, "Invalid fluency level")
	ErrInvalidTransition  = NewDomainError("fluency", "SetLevel", ErrStateTransition, "Invalid level transition. Can only move one level at a time")
	ErrInvalidUserID      = NewDomainError("fluency", "Validate", ErrInvalidID, "Invalid user ID")
	ErrFluencyWriteFailed = NewDomainError("fluency", "Persist", ErrInvalidState, "Failed to persist fluency level change")
)

// Certificate domain errors
var (
	ErrCertificateNotFound    = NewDomainError("certificate", "Find", ErrNotFound, "Certificate not found")
	ErrCertificateIssueFailed = NewDomainError("certificate", "Issue", ErrInvalidState, "Failed to issue certificate")
	ErrCounterCorrupted       = NewDomainError("certificate", "AllocateNumber", ErrInvalidFormat, "Certificate counter holds a non-numeric value")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrStateTransition)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

// PublicMessage returns the client-facing message of the outermost DomainError
// in the chain, or the error text itself.
func PublicMessage(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// DetailedMessage is PublicMessage followed by the text of the error the
// DomainError wraps. Server failures are reported to clients this way.
func DetailedMessage(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		if de.Err != nil {
			return de.Message + ": " + de.Err.Error()
		}
		return de.Message
	}
	return err.Error()
}
