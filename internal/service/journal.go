package service

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/rs/zerolog"
)

const reasonCancelled = "cancelled"

// Journal records every finished attempt in a repository. Writes happen off
// the notification path.
type Journal struct {
	repo    payment.Repository
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func NewJournal(repo payment.Repository, timeout time.Duration, logger zerolog.Logger) *Journal {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Journal{repo: repo, timeout: timeout, logger: logger}
}

// OnStateChange implements Observer.
func (j *Journal) OnStateChange(change StateChange) {
	a, ok := AttemptFromChange(change)
	if !ok {
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		if err := j.repo.Save(ctx, a); err != nil {
			j.logger.Error().Err(err).Str("attempt_id", a.ID).Msg("failed to journal payment attempt")
		}
	}()
}

// Wait blocks until pending writes have finished.
func (j *Journal) Wait() {
	j.wg.Wait()
}

// AttemptFromChange builds the journal record for changes that end an
// attempt: terminal states, and resets out of an active state.
func AttemptFromChange(change StateChange) (*payment.Attempt, bool) {
	if change.AttemptID == "" {
		return nil, false
	}
	reason := change.Data.Reason
	switch {
	case change.State.IsTerminal():
		if reason == "" {
			reason = change.Data.Error
		}
	case change.State == payment.StateIdle && change.Previous.IsActive():
		reason = reasonCancelled
	default:
		return nil, false
	}

	return &payment.Attempt{
		ID:            change.AttemptID,
		Selection:     change.Selection,
		Broker:        change.Request.Broker,
		Method:        change.Request.Method,
		FinalState:    change.State,
		Amount:        change.Data.Amount,
		TransactionID: change.Data.TransactionID,
		Reason:        reason,
		StartedAt:     change.StartedAt,
		FinishedAt:    change.At,
	}, true
}
