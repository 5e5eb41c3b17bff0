package testutil

import (
	"context"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// --- Terminal Mock ---

// MockTerminal is a mock implementation of providers.Terminal. Without a
// PollFunc it serves the queued statuses in order and repeats the last one.
type MockTerminal struct {
	mu       sync.Mutex
	statuses []payment.TerminalStatus
	next     int
	requests []payment.PosRequest

	starts  int
	polls   int
	cancels int

	StartFunc  func(ctx context.Context, req payment.PosRequest) (payment.TransactionRef, error)
	PollFunc   func(ctx context.Context) (payment.TerminalStatus, error)
	CancelFunc func(ctx context.Context)
}

func NewMockTerminal(statuses ...payment.TerminalStatus) *MockTerminal {
	return &MockTerminal{statuses: statuses}
}

// Queue appends statuses served by subsequent polls.
func (m *MockTerminal) Queue(statuses ...payment.TerminalStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statuses...)
}

func (m *MockTerminal) Start(ctx context.Context, req payment.PosRequest) (payment.TransactionRef, error) {
	m.mu.Lock()
	m.starts++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.StartFunc != nil {
		return m.StartFunc(ctx, req)
	}
	return payment.TransactionRef{ID: "txn-1"}, nil
}

func (m *MockTerminal) Poll(ctx context.Context) (payment.TerminalStatus, error) {
	m.mu.Lock()
	m.polls++
	if m.PollFunc != nil {
		m.mu.Unlock()
		return m.PollFunc(ctx)
	}
	defer m.mu.Unlock()

	if len(m.statuses) == 0 {
		return payment.TerminalStatus{Action: payment.ActionWait}, nil
	}
	s := m.statuses[m.next]
	if m.next < len(m.statuses)-1 {
		m.next++
	}
	return s, nil
}

func (m *MockTerminal) Cancel(ctx context.Context) {
	m.mu.Lock()
	m.cancels++
	m.mu.Unlock()

	if m.CancelFunc != nil {
		m.CancelFunc(ctx)
	}
}

func (m *MockTerminal) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *MockTerminal) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

func (m *MockTerminal) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

// Requests returns the start requests received so far.
func (m *MockTerminal) Requests() []payment.PosRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]payment.PosRequest(nil), m.requests...)
}

// --- Cart Mock ---

type MockCart struct {
	mu        sync.Mutex
	total     decimal.Decimal
	clears    int
	refreshes int

	ClearFunc   func(ctx context.Context) error
	RefreshFunc func(ctx context.Context) error
}

func NewMockCart(total string) *MockCart {
	return &MockCart{total: decimal.RequireFromString(total)}
}

func (m *MockCart) SetTotal(total string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = decimal.RequireFromString(total)
}

func (m *MockCart) Total() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *MockCart) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.clears++
	m.mu.Unlock()

	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	m.mu.Lock()
	m.total = decimal.Zero
	m.mu.Unlock()
	return nil
}

func (m *MockCart) Refresh(ctx context.Context) error {
	m.mu.Lock()
	m.refreshes++
	m.mu.Unlock()

	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return nil
}

func (m *MockCart) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

func (m *MockCart) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

// --- Stash Mock ---

type MockStash struct {
	mu     sync.Mutex
	amount *decimal.Decimal
	saves  int

	SaveFunc func(ctx context.Context, amount decimal.Decimal) error
}

func NewMockStash() *MockStash {
	return &MockStash{}
}

func (m *MockStash) Save(ctx context.Context, amount decimal.Decimal) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, amount); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.amount = &amount
	return nil
}

func (m *MockStash) Load(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.amount == nil {
		return decimal.Zero, domainErrors.ErrStashMiss
	}
	return *m.amount, nil
}

func (m *MockStash) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.amount = nil
	return nil
}

// Set stores an amount without counting it as a save.
func (m *MockStash) Set(amount string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := decimal.RequireFromString(amount)
	m.amount = &d
}

func (m *MockStash) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// --- Attempt Repository Mock ---

// MockAttemptRepository is a mock implementation of payment.Repository.
type MockAttemptRepository struct {
	mu       sync.Mutex
	attempts []*payment.Attempt

	SaveFunc       func(ctx context.Context, a *payment.Attempt) error
	ListRecentFunc func(ctx context.Context, filter payment.ListFilter) ([]*payment.Attempt, error)
	TotalsFunc     func(ctx context.Context, day time.Time) ([]payment.DailyTotal, error)
}

func NewMockAttemptRepository() *MockAttemptRepository {
	return &MockAttemptRepository{}
}

func (m *MockAttemptRepository) Save(ctx context.Context, a *payment.Attempt) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *MockAttemptRepository) ListRecent(ctx context.Context, filter payment.ListFilter) ([]*payment.Attempt, error) {
	if m.ListRecentFunc != nil {
		return m.ListRecentFunc(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*payment.Attempt
	for i := len(m.attempts) - 1; i >= 0; i-- {
		a := m.attempts[i]
		if filter.State != nil && a.FinalState != *filter.State {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MockAttemptRepository) Totals(ctx context.Context, day time.Time) ([]payment.DailyTotal, error) {
	if m.TotalsFunc != nil {
		return m.TotalsFunc(ctx, day)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	byState := map[payment.State]*payment.DailyTotal{}
	var out []payment.DailyTotal
	var order []payment.State
	for _, a := range m.attempts {
		if a.FinishedAt.Before(start) || !a.FinishedAt.Before(end) {
			continue
		}
		t, ok := byState[a.FinalState]
		if !ok {
			t = &payment.DailyTotal{Day: start, State: a.FinalState}
			byState[a.FinalState] = t
			order = append(order, a.FinalState)
		}
		t.Count++
		if a.Amount != nil {
			t.Amount = t.Amount.Add(*a.Amount)
		}
	}
	for _, s := range order {
		out = append(out, *byState[s])
	}
	return out, nil
}

// Saved returns the attempts stored so far.
func (m *MockAttemptRepository) Saved() []*payment.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*payment.Attempt(nil), m.attempts...)
}
