package payment

import (
	"encoding/json"
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// Selection is the payment method identifier chosen by the UI, either a legacy
// token (credit, debit, pix) or a composite BROKER-METHOD string.
type Selection string

// Broker identifies the payment provider behind the terminal
type Broker string

const (
	BrokerMercadoPago       Broker = "MERCADOPAGO"
	BrokerMercadoPagoPinpad Broker = "MERCADOPAGO_PINPAD"
	BrokerTestPayment       Broker = "TEST_PAYMENT"
)

// Method is the payment instrument understood by the terminal
type Method string

const (
	MethodCredit      Method = "credit"
	MethodDebit       Method = "debit"
	MethodPix         Method = "pix"
	MethodMercadoPago Method = "mercadopago"
)

// PosRequest is the validated pair sent to the terminal to start a payment.
type PosRequest struct {
	Broker Broker `json:"broker"`
	Method Method `json:"method"`
}

// Selection returns the composite identifier of the request.
func (r PosRequest) Selection() Selection {
	return Selection(string(r.Broker) + "-" + string(r.Method))
}

// Action is the primary discriminant of a terminal status snapshot
type Action string

const (
	ActionWait          Action = "WAIT"
	ActionShowQRCode    Action = "SHOW_QRCODE"
	ActionInsertTapCard Action = "INSERT_TAP_CARD"
	ActionRelease       Action = "RELEASE"
	ActionShowRetry     Action = "SHOW_RETRY"
)

const (
	StatusApproved = "PAYMENT_APPROVED"
	StatusRefused  = "PAYMENT_REFUSED"
)

// TerminalStatus is the latest snapshot reported by the terminal status endpoint.
type TerminalStatus struct {
	Action          Action           `json:"action"`
	Status          string           `json:"status"`
	Broker          Broker           `json:"broker"`
	Session         string           `json:"session,omitempty"`
	TransactionID   string           `json:"transactionId,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	QRCodeSource    string           `json:"qrcode_source,omitempty"`
	Timestamp       StatusTimestamp  `json:"timestamp,omitempty"`
	PendingMessages int              `json:"pending_messages,omitempty"`
	Read            bool             `json:"read,omitempty"`
}

// StatusTimestamp is the terminal's timestamp as sent. Terminals report it
// either as an ISO string or as a number; both are kept verbatim.
type StatusTimestamp string

func (t *StatusTimestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = StatusTimestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = StatusTimestamp(n.String())
	return nil
}

// Approved reports whether the snapshot releases an approved payment.
func (s TerminalStatus) Approved() bool {
	return s.Action == ActionRelease && s.Status == StatusApproved
}

// Refused reports whether the snapshot asks the customer to retry after a decline.
func (s TerminalStatus) Refused() bool {
	return s.Action == ActionShowRetry && s.Status == StatusRefused
}

// TransactionRef identifies the attempt accepted by the terminal.
type TransactionRef struct {
	ID string `json:"transaction_id"`
}

// State represents the UI-visible payment state
type State string

const (
	StateIdle           State = "idle"
	StateProcessing     State = "processing"
	StateWait           State = "wait"
	StateShowQRCode     State = "show_qrcode"
	StateInsertTapCard  State = "insert_tap_card"
	StateSuccess        State = "success"
	StateFailed         State = "failed"
	StateRetry          State = "retry"
	StatePaymentTimeout State = "payment_timeout"
)

// IsTerminal checks if the state ends the current attempt
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateRetry, StatePaymentTimeout:
		return true
	}
	return false
}

// IsActive reports whether an attempt is in flight at the terminal.
func (s State) IsActive() bool {
	return s != StateIdle && !s.IsTerminal()
}

// DefaultMaxRetries is the number of refused attempts allowed before retry is disabled.
const DefaultMaxRetries = 3

// RetryCounter tracks refused attempts of the current checkout
type RetryCounter struct {
	Count int `json:"count"`
	Max   int `json:"max"`
}

// NewRetryCounter creates a counter starting at zero
func NewRetryCounter(max int) RetryCounter {
	if max <= 0 {
		max = DefaultMaxRetries
	}
	return RetryCounter{Max: max}
}

// Increment records one more refused attempt
func (c *RetryCounter) Increment() error {
	if c.Count >= c.Max {
		return errors.ErrMaxRetriesExceeded
	}
	c.Count++
	return nil
}

// CanRetry checks if another attempt is allowed
func (c RetryCounter) CanRetry() bool {
	return c.Count < c.Max
}

// Reset clears the counter
func (c *RetryCounter) Reset() {
	c.Count = 0
}

// Attempt is the journal record of one finished payment attempt.
type Attempt struct {
	ID            string
	Selection     Selection
	Broker        Broker
	Method        Method
	FinalState    State
	Amount        *decimal.Decimal
	TransactionID string
	Reason        string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns how long the attempt was in flight.
func (a *Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}
