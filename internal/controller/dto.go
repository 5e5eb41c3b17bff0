package controller

import (
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---

// StartPaymentRequest starts a payment for the current cart.
type StartPaymentRequest struct {
	Selection string `json:"selection" validate:"required,max=64"`
}

// TerminalStatusRequest is a status snapshot pushed by the terminal bridge.
type TerminalStatusRequest struct {
	Action          string                  `json:"action" validate:"required,oneof=WAIT SHOW_QRCODE INSERT_TAP_CARD RELEASE SHOW_RETRY"`
	Status          string                  `json:"status,omitempty"`
	Broker          string                  `json:"broker,omitempty"`
	Session         string                  `json:"session,omitempty"`
	TransactionID   string                  `json:"transactionId,omitempty"`
	Amount          *decimal.Decimal        `json:"amount,omitempty"`
	QRCodeSource    string                  `json:"qrcode_source,omitempty"`
	Timestamp       payment.StatusTimestamp `json:"timestamp,omitempty"`
	PendingMessages int                     `json:"pending_messages,omitempty"`
}

func (r TerminalStatusRequest) toStatus() payment.TerminalStatus {
	return payment.TerminalStatus{
		Action:          payment.Action(r.Action),
		Status:          r.Status,
		Broker:          payment.Broker(r.Broker),
		Session:         r.Session,
		TransactionID:   r.TransactionID,
		Amount:          r.Amount,
		QRCodeSource:    r.QRCodeSource,
		Timestamp:       r.Timestamp,
		PendingMessages: r.PendingMessages,
	}
}

// --- Response DTOs ---

// StartPaymentResponse acknowledges an accepted start.
type StartPaymentResponse struct {
	TransactionID string        `json:"transaction_id"`
	AttemptID     string        `json:"attempt_id"`
	State         payment.State `json:"state"`
}

// PaymentStatusResponse is the current payment state as shown to the UI.
type PaymentStatusResponse struct {
	State         payment.State       `json:"state"`
	AttemptID     string              `json:"attempt_id,omitempty"`
	Selection     string              `json:"selection,omitempty"`
	Broker        string              `json:"broker,omitempty"`
	Method        string              `json:"method,omitempty"`
	TransactionID string              `json:"transaction_id,omitempty"`
	Data          service.StateData   `json:"data"`
	Retry         service.RetryStatus `json:"retry"`
	Screen        service.Screen      `json:"screen,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// AttemptResponse represents a journaled attempt.
type AttemptResponse struct {
	ID            string           `json:"id"`
	Selection     string           `json:"selection"`
	Broker        string           `json:"broker"`
	Method        string           `json:"method"`
	FinalState    string           `json:"final_state"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	DurationMS    int64            `json:"duration_ms"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func FromSnapshot(s service.Snapshot, retry service.RetryStatus, screen service.Screen) *PaymentStatusResponse {
	return &PaymentStatusResponse{
		State:         s.State,
		AttemptID:     s.AttemptID,
		Selection:     string(s.Selection),
		Broker:        string(s.Request.Broker),
		Method:        string(s.Request.Method),
		TransactionID: s.TransactionID,
		Data:          s.Data,
		Retry:         retry,
		Screen:        screen,
		UpdatedAt:     s.UpdatedAt,
	}
}

func FromAttempt(a *payment.Attempt) *AttemptResponse {
	return &AttemptResponse{
		ID:            a.ID,
		Selection:     string(a.Selection),
		Broker:        string(a.Broker),
		Method:        string(a.Method),
		FinalState:    string(a.FinalState),
		Amount:        a.Amount,
		TransactionID: a.TransactionID,
		Reason:        a.Reason,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
		DurationMS:    a.Duration().Milliseconds(),
	}
}

func FromAttempts(attempts []*payment.Attempt) []*AttemptResponse {
	out := make([]*AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, FromAttempt(a))
	}
	return out
}
