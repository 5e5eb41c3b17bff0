package errors

import (
	"errors"
	"fmt"
)

var (
	// Selection errors
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")

	// Terminal errors
	ErrTerminalUnreachable = errors.New("payment terminal unreachable")
	ErrTerminalRejected    = errors.New("payment rejected by terminal")
	ErrPollingTransient    = errors.New("transient terminal polling failure")

	// Attempt outcome errors
	ErrQRGenerationTimeout = errors.New("QR code generation timeout")
	ErrPaymentRefused      = errors.New("payment refused")
	ErrConnectionLost      = errors.New("connection lost during payment")

	// State errors
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrPaymentInProgress      = errors.New("payment already in progress")
	ErrMaxRetriesExceeded     = errors.New("max retries exceeded")
	ErrAttemptSuperseded      = errors.New("payment attempt superseded")
	ErrNoActivePayment        = errors.New("no active payment")

	// Backend errors
	ErrBackendUnavailable = errors.New("kiosk backend unavailable")
	ErrStashMiss          = errors.New("amount stash is empty")
	ErrEmptyCart          = errors.New("cart is empty")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// UnsupportedPaymentMethodError reports a selection the method table cannot map.
type UnsupportedPaymentMethodError struct {
	Selection string
}

func (e *UnsupportedPaymentMethodError) Error() string {
	return fmt.Sprintf("unsupported payment method: %q", e.Selection)
}

func (e *UnsupportedPaymentMethodError) Is(target error) bool {
	return target == ErrUnsupportedPaymentMethod
}

// TerminalRejectedError carries the terminal's non-2xx answer to a start call.
type TerminalRejectedError struct {
	StatusCode int
	Body       string
}

func (e *TerminalRejectedError) Error() string {
	return fmt.Sprintf("terminal rejected payment: status %d: %s", e.StatusCode, e.Body)
}

func (e *TerminalRejectedError) Is(target error) bool {
	return target == ErrTerminalRejected
}
