package service

import (
	"context"
	"sync"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// MemoryStash keeps the stashed amount in process memory.
type MemoryStash struct {
	mu     sync.RWMutex
	amount decimal.Decimal
	set    bool
}

func NewMemoryStash() *MemoryStash {
	return &MemoryStash{}
}

func (s *MemoryStash) Save(_ context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amount = amount
	s.set = true
	return nil
}

func (s *MemoryStash) Load(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return decimal.Zero, domainErrors.ErrStashMiss
	}
	return s.amount, nil
}

func (s *MemoryStash) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amount = decimal.Zero
	s.set = false
	return nil
}
