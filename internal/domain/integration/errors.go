package integration

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Import Errors
// ---------------------------------------------------------------------------

var (
	// Error taxonomy sentinels, matched with errors.Is against the typed errors below
	ErrCredential          = errors.New("integration: credential rejected")
	ErrTransientFetch      = errors.New("integration: transient fetch failure")
	ErrStaleAdvance        = errors.New("integration: stale cursor advance")
	ErrReferenceUnresolved = errors.New("integration: unresolved reference")
	ErrTimeout             = errors.New("integration: run budget exceeded")
	ErrValidation          = errors.New("integration: validation failed")

	// Lookup errors
	ErrIntegrationNotFound = errors.New("integration: integration not found")
	ErrIntegrationInactive = errors.New("integration: integration is not active")
	ErrAdapterNotFound     = errors.New("integration: no adapter registered for vendor kind")
	ErrRunNotFound         = errors.New("integration: import run not found")

	// State errors
	ErrRunTerminal  = errors.New("integration: import run already terminal")
	ErrRunCancelled = errors.New("integration: import run cancelled")
	ErrLeaseTimeout = errors.New("integration: timed out waiting for lease")
	ErrLeaseNotHeld = errors.New("integration: lease not held")
)

// CredentialError is returned when a vendor rejects or lacks a credential.
// It is not retryable without operator intervention.
type CredentialError struct {
	IntegrationID uuid.UUID
	Reason        string
	Err           error
}

func (e *CredentialError) Error() string {
	msg := fmt.Sprintf("integration: credential error for %s: %s", e.IntegrationID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialError) Unwrap() []error { return []error{ErrCredential, e.Err} }

// TransientFetchError is a retryable fetch failure (network, timeout, 5xx, exhausted rate-limit waits)
type TransientFetchError struct {
	Component  Component
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientFetchError) Error() string {
	msg := fmt.Sprintf("integration: transient fetch error on %s", e.Component)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientFetchError) Unwrap() []error { return []error{ErrTransientFetch, e.Err} }

// StaleAdvanceError is returned when a cursor advance would move the watermark backwards
type StaleAdvanceError struct {
	IntegrationID uuid.UUID
	Component     Component
	Current       time.Time
	Proposed      time.Time
}

func (e *StaleAdvanceError) Error() string {
	return fmt.Sprintf("integration: stale advance of %s/%s: %s is before %s",
		e.IntegrationID, e.Component, e.Proposed.Format(time.RFC3339), e.Current.Format(time.RFC3339))
}

func (e *StaleAdvanceError) Unwrap() error { return ErrStaleAdvance }

// ReferenceUnresolvedError marks a record whose foreign reference has no normalized row yet
type ReferenceUnresolvedError struct {
	Component    Component
	VendorID     string
	RefComponent Component
	RefVendorID  string
}

func (e *ReferenceUnresolvedError) Error() string {
	return fmt.Sprintf("integration: %s %s references missing %s %s",
		e.Component, e.VendorID, e.RefComponent, e.RefVendorID)
}

func (e *ReferenceUnresolvedError) Unwrap() error { return ErrReferenceUnresolved }

// TimeoutError is returned when an import run exceeds its wall-clock budget
type TimeoutError struct {
	Budget  time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("integration: run exceeded budget of %s after %s", e.Budget, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ValidationError describes a malformed vendor payload or an invalid request
type ValidationError struct {
	Component Component
	VendorID  string
	Reason    string
	Err       error
}

func (e *ValidationError) Error() string {
	msg := "integration: validation error"
	if e.Component != "" {
		msg += " on " + string(e.Component)
	}
	if e.VendorID != "" {
		msg += " record " + e.VendorID
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Err} }

// IsRetryable reports whether an error may succeed when the work is attempted again
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCredential) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrValidation) {
		return false
	}
	return errors.Is(err, ErrTransientFetch) || errors.Is(err, ErrLeaseTimeout) || errors.Is(err, ErrLeaseNotHeld)
}
