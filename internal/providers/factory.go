package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const (
	ModeHTTP      = "http"
	ModeSimulated = "simulated"
)

// BreakerSettings configures the circuit breakers guarding the terminal.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
	// OnStateChange is called with the breaker name whenever a breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      10 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// NewTerminal builds the terminal client for the given mode, wrapped in circuit breakers.
func NewTerminal(mode, baseURL string, settings BreakerSettings, logger zerolog.Logger, opts ...HTTPTerminalOption) (*BreakerTerminal, error) {
	var t Terminal
	switch mode {
	case ModeHTTP, "":
		t = NewHTTPTerminal(baseURL, append([]HTTPTerminalOption{WithTerminalLogger(logger)}, opts...)...)
	case ModeSimulated:
		t = NewScriptedTerminal(WithLatency(150*time.Millisecond), WithDefaultScripts())
	default:
		return nil, fmt.Errorf("%w: unknown terminal mode %q", domainErrors.ErrInvalidInput, mode)
	}
	return NewBreakerTerminal(t, settings), nil
}

// BreakerTerminal guards Start and Poll of another terminal with circuit breakers.
// Cancel is passed through untouched.
type BreakerTerminal struct {
	next  Terminal
	start *gobreaker.CircuitBreaker[payment.TransactionRef]
	poll  *gobreaker.CircuitBreaker[payment.TerminalStatus]
}

func NewBreakerTerminal(next Terminal, s BreakerSettings) *BreakerTerminal {
	return &BreakerTerminal{
		next:  next,
		start: gobreaker.NewCircuitBreaker[payment.TransactionRef](s.gobreakerSettings("terminal.start")),
		poll:  gobreaker.NewCircuitBreaker[payment.TerminalStatus](s.gobreakerSettings("terminal.poll")),
	}
}

func (s BreakerSettings) gobreakerSettings(name string) gobreaker.Settings {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		// A rejection proves the terminal is reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrTerminalRejected)
		},
		OnStateChange: s.OnStateChange,
	}
	return st
}

func (b *BreakerTerminal) Start(ctx context.Context, req payment.PosRequest) (payment.TransactionRef, error) {
	ref, err := b.start.Execute(func() (payment.TransactionRef, error) {
		return b.next.Start(ctx, req)
	})
	return ref, breakerError(err)
}

func (b *BreakerTerminal) Poll(ctx context.Context) (payment.TerminalStatus, error) {
	status, err := b.poll.Execute(func() (payment.TerminalStatus, error) {
		return b.next.Poll(ctx)
	})
	return status, breakerError(err)
}

func (b *BreakerTerminal) Cancel(ctx context.Context) {
	b.next.Cancel(ctx)
}

// Unwrap returns the guarded terminal.
func (b *BreakerTerminal) Unwrap() Terminal {
	return b.next
}

// States reports the current state of both breakers.
func (b *BreakerTerminal) States() map[string]gobreaker.State {
	return map[string]gobreaker.State{
		b.start.Name(): b.start.State(),
		b.poll.Name():  b.poll.State(),
	}
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domainErrors.ErrTerminalUnreachable, err)
	}
	return err
}
