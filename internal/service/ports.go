package service

import (
	"context"
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// Cart is the kiosk cart as seen by the payment core.
type Cart interface {
	// Total returns the current cart total without blocking.
	Total() decimal.Decimal
	// Clear empties the cart on the backend.
	Clear(ctx context.Context) error
}

// CartRefresher is implemented by carts that can reload their snapshot.
type CartRefresher interface {
	Refresh(ctx context.Context) error
}

// AmountStash keeps the amount of the in-flight payment for the success screen.
type AmountStash interface {
	Save(ctx context.Context, amount decimal.Decimal) error
	Load(ctx context.Context) (decimal.Decimal, error)
	Clear(ctx context.Context) error
}

// RetryPolicy decides whether a refused payment may be started again in place.
type RetryPolicy interface {
	CanRetry() bool
}

// StateData is the payload attached to a state change.
type StateData struct {
	TransactionID string           `json:"transactionId,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	QRCodeSource  string           `json:"qrcode_source,omitempty"`
	Session       string           `json:"session,omitempty"`
	Method        payment.Method   `json:"method,omitempty"`
	Error         string           `json:"error,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// StateChange is emitted once per accepted transition.
type StateChange struct {
	State     payment.State      `json:"state"`
	Previous  payment.State      `json:"previous"`
	Data      StateData          `json:"data"`
	Selection payment.Selection  `json:"selection,omitempty"`
	Request   payment.PosRequest `json:"request"`
	AttemptID string             `json:"attempt_id,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	At        time.Time          `json:"at"`
}

// Observer receives state changes in the order they were applied.
type Observer interface {
	OnStateChange(change StateChange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(change StateChange)

func (f ObserverFunc) OnStateChange(change StateChange) { f(change) }
