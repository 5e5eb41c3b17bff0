package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for attempt journal persistence
type Repository interface {
	// Save stores a finished attempt. Saving the same attempt twice is a no-op.
	Save(ctx context.Context, attempt *Attempt) error

	// ListRecent lists attempts, most recent first
	ListRecent(ctx context.Context, filter ListFilter) ([]*Attempt, error)

	// Totals aggregates the attempts finished on the given day per final state
	Totals(ctx context.Context, day time.Time) ([]DailyTotal, error)
}

// ListFilter defines filters for listing attempts
type ListFilter struct {
	State *State
	Limit int
}

// DailyTotal is the number and sum of attempts that ended in one state on one day.
type DailyTotal struct {
	Day    time.Time       `json:"day"`
	State  State           `json:"state"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}
