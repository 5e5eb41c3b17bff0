package testutil

import (
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/shopspring/decimal"
)

func Dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func WaitStatus() payment.TerminalStatus {
	return payment.TerminalStatus{Action: payment.ActionWait}
}

func QRStatus(source string, amount *decimal.Decimal) payment.TerminalStatus {
	return payment.TerminalStatus{
		Action:       payment.ActionShowQRCode,
		QRCodeSource: source,
		Amount:       amount,
		Session:      "session-1",
	}
}

func InsertCardStatus() payment.TerminalStatus {
	return payment.TerminalStatus{Action: payment.ActionInsertTapCard}
}

func ApprovedStatus(transactionID string, amount *decimal.Decimal) payment.TerminalStatus {
	return payment.TerminalStatus{
		Action:        payment.ActionRelease,
		Status:        payment.StatusApproved,
		TransactionID: transactionID,
		Amount:        amount,
		Timestamp:     payment.StatusTimestamp(time.Now().UTC().Format(time.RFC3339)),
	}
}

func RefusedStatus() payment.TerminalStatus {
	return payment.TerminalStatus{Action: payment.ActionShowRetry, Status: payment.StatusRefused}
}

func NewTestAttempt(state payment.State) *payment.Attempt {
	started := time.Now().Add(-5 * time.Second)
	return &payment.Attempt{
		ID:            "attempt-1",
		Selection:     "MERCADOPAGO-pix",
		Broker:        payment.BrokerMercadoPago,
		Method:        payment.MethodPix,
		FinalState:    state,
		Amount:        Dec("42.50"),
		TransactionID: "txn-1",
		StartedAt:     started,
		FinishedAt:    started.Add(5 * time.Second),
	}
}
