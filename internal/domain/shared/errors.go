// Package shared contains errors and events used across all domain packages.
// This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error carries one of these so that transports
// can map failures without knowing individual sentinels.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")

	// ErrConflict covers requests that are well-formed but clash with
	// current state: duplicates, full sessions, illegal transitions.
	ErrConflict        = errors.New("conflict")
	ErrStateTransition = errors.New("invalid state transition")

	// ErrEligibilityDenied is returned when a rule gate is not passed.
	ErrEligibilityDenied = errors.New("eligibility denied")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvariant marks a broken internal guarantee. These are programming
	// or data errors and surface as 5xx.
	ErrInvariant = errors.New("invariant violation")

	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "checkin", "exam", "progress"
	Op      string // operation that failed, e.g. "Register"
	Kind    error  // base error for errors.Is() checking
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
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
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ValidationError builds a validation failure for a single field.
func ValidationError(domain, op, field, reason string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf("%s: %s", field, reason))
}

// User errors
var (
	ErrUserNotFound     = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrInvalidUserID    = NewDomainError("user", "Validate", ErrInvalidID, "invalid user ID")
	ErrTerminalBelt     = NewDomainError("user", "AdvanceBelt", ErrInvariant, "no belt above the current one")
	ErrDegreeOutOfRange = NewDomainError("user", "Validate", ErrInvariant, "degree outside 1..4")
	ErrInvalidBelt      = NewDomainError("user", "Validate", ErrValidation, "unknown belt")
)

// Curriculum errors
var (
	ErrStepNotFound = NewDomainError("curriculum", "FindStep", ErrNotFound, "step not found")
	ErrItemNotFound = NewDomainError("curriculum", "FindItem", ErrNotFound, "curriculum item not found")
)

// Progress errors
var (
	ErrProgressNotFound  = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
	ErrAlreadyCompleted  = NewDomainError("progress", "SubmitEvidence", ErrConflict, "item already completed")
	ErrInvalidTransition = NewDomainError("progress", "Review", ErrStateTransition, "record is not awaiting review")
)

// Check-in errors
var (
	ErrDuplicateCategoryToday = NewDomainError("checkin", "Record", ErrConflict, "category already checked in for this day")
	ErrInvalidCategory        = NewDomainError("checkin", "Validate", ErrValidation, "category must be one of P, I, F, E")
	ErrCheckinDateNotAllowed  = NewDomainError("checkin", "Validate", ErrValidation, "check-in date outside the accepted range")
)

// Exam errors
var (
	ErrSessionNotFound     = NewDomainError("exam", "FindSession", ErrNotFound, "exam session not found")
	ErrSessionFull         = NewDomainError("exam", "Register", ErrConflict, "exam session is full")
	ErrAlreadyRegistered   = NewDomainError("exam", "Register", ErrConflict, "already registered for this session")
	ErrNotRegistered       = NewDomainError("exam", "Registration", ErrNotFound, "no active registration for this session")
	ErrNotEligible         = NewDomainError("exam", "Register", ErrEligibilityDenied, "eligibility requirements not met")
	ErrSessionClosed       = NewDomainError("exam", "Register", ErrConflict, "exam session is not open for registration")
	ErrInvalidSessionState = NewDomainError("exam", "UpdateStatus", ErrStateTransition, "invalid exam session transition")
	ErrStaleRegistration   = NewDomainError("exam", "RecordOutcome", ErrConflict, "user progressed since registering")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStateTransition)
}
func IsEligibilityDenied(err error) bool { return errors.Is(err, ErrEligibilityDenied) }
func IsInvariant(err error) bool         { return errors.Is(err, ErrInvariant) }

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrFutureTimestamp)
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrServiceUnavailable)
}
