package providers

import (
	"context"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
)

// Terminal is the interface the PoS terminal API client implements.
type Terminal interface {
	// Start asks the terminal to begin a payment for the given pair.
	Start(ctx context.Context, req payment.PosRequest) (payment.TransactionRef, error)
	// Poll returns the current status snapshot of the terminal.
	Poll(ctx context.Context) (payment.TerminalStatus, error)
	// Cancel aborts the current payment. Failures are logged, never returned.
	Cancel(ctx context.Context)
}

// startResponse accepts both id spellings the terminal is known to return.
type startResponse struct {
	TransactionID string `json:"transactionId"`
	ID            string `json:"id"`
}

func (r startResponse) ref(fallback func() string) payment.TransactionRef {
	switch {
	case r.TransactionID != "":
		return payment.TransactionRef{ID: r.TransactionID}
	case r.ID != "":
		return payment.TransactionRef{ID: r.ID}
	}
	return payment.TransactionRef{ID: fallback()}
}
