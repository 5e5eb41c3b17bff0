package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &DomainError{
				Code:    "payment_failed",
				Message: "payment start failed",
				Err:     errors.New("terminal timeout"),
			},
			expected: "payment start failed: terminal timeout",
		},
		{
			name: "without wrapped error",
			err: &DomainError{
				Code:    "invalid_state",
				Message: "cannot start payment in current state",
			},
			expected: "cannot start payment in current state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	domainErr := NewDomainError("qr_timeout", "QR code was not generated", ErrQRGenerationTimeout)

	assert.Equal(t, ErrQRGenerationTimeout, domainErr.Unwrap())
	assert.ErrorIs(t, domainErr, ErrQRGenerationTimeout)
}

func TestNewDomainError_NilWrappedError(t *testing.T) {
	err := NewDomainError("test_code", "test message", nil)

	assert.NotNil(t, err)
	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "test message", err.Message)
	assert.Nil(t, err.Err)
}

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("selection", "required validation failed")

	assert.Equal(t, "validation failed for field selection: required validation failed", err.Error())
}

func TestUnsupportedPaymentMethodError(t *testing.T) {
	var err error = &UnsupportedPaymentMethodError{Selection: "PAYPAL-credit"}

	assert.Equal(t, `unsupported payment method: "PAYPAL-credit"`, err.Error())
	assert.ErrorIs(t, err, ErrUnsupportedPaymentMethod)
	assert.NotErrorIs(t, err, ErrTerminalRejected)

	wrapped := fmt.Errorf("start payment: %w", err)
	var target *UnsupportedPaymentMethodError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "PAYPAL-credit", target.Selection)
}

func TestTerminalRejectedError(t *testing.T) {
	var err error = &TerminalRejectedError{StatusCode: 409, Body: "terminal busy"}

	assert.Equal(t, "terminal rejected payment: status 409: terminal busy", err.Error())
	assert.ErrorIs(t, err, ErrTerminalRejected)
	assert.NotErrorIs(t, err, ErrTerminalUnreachable)
}
