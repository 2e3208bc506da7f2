// Package kerrors defines the kernel's shared error taxonomy: sentinel
// errors for control flow, and a typed error carrying the machine-readable
// reason_code that the HTTP layer maps onto the wire error envelope.
package kerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across pkg/eventstore, pkg/projector, pkg/approvals,
// pkg/runs and pkg/claims. Each corresponds 1:1 to a reason_code in the
// closed catalog described by spec §6/§7.
var (
	ErrNotFound              = errors.New("entity not found")
	ErrAlreadyExists         = errors.New("entity already exists")
	ErrInvalidInput          = errors.New("invalid input")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrAllocationFailure = errors.New("allocation_failure")
	ErrSecretDetected    = errors.New("secret_detected")
	ErrHashChainBreak    = errors.New("hash_chain_break")
	ErrIdempotentReplay  = errors.New("idempotent_replay")

	ErrInvalidState   = errors.New("invalid_state")
	ErrAlreadyDecided = errors.New("already_decided")

	ErrEvidenceRequired = errors.New("evidence_required")
	ErrLeaseLost        = errors.New("lease_lost")
	ErrThrottled        = errors.New("throttled")

	ErrCancelled = errors.New("cancelled")
)

// ReasonCode is a value from the closed catalog in spec.md §6.
type ReasonCode string

// KernelError is a typed error carrying a reason_code and human-readable
// reason, the unit the HTTP layer turns into the wire error envelope
// ({error:true, reason_code, reason, details}).
type KernelError struct {
	ReasonCode ReasonCode
	Reason     string
	Details    map[string]any
	Err        error
}

func (e *KernelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.ReasonCode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ReasonCode, e.Reason)
}

func (e *KernelError) Unwrap() error { return e.Err }

// New builds a KernelError with no wrapped cause.
func New(code ReasonCode, reason string) *KernelError {
	return &KernelError{ReasonCode: code, Reason: reason}
}

// Wrap builds a KernelError wrapping an underlying cause.
func Wrap(code ReasonCode, reason string, err error) *KernelError {
	return &KernelError{ReasonCode: code, Reason: reason, Err: err}
}

// WithDetails attaches structured detail fields for the error envelope.
func (e *KernelError) WithDetails(details map[string]any) *KernelError {
	e.Details = details
	return e
}

// As is a thin convenience wrapper around errors.As for *KernelError.
func As(err error) (*KernelError, bool) {
	var ke *KernelError
	ok := errors.As(err, &ke)
	return ke, ok
}

// ValidationError wraps a single field-level contract violation, reported
// to the caller and never appended to the event stream (spec §7: contract
// errors).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
