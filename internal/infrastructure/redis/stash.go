package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// AmountStash keeps the in-flight payment amount in Redis so it survives a
// kiosk process restart.
type AmountStash struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewAmountStash(client redis.Cmdable, key string, ttl time.Duration) *AmountStash {
	return &AmountStash{client: client, key: key, ttl: ttl}
}

func (s *AmountStash) Save(ctx context.Context, amount decimal.Decimal) error {
	if err := s.client.Set(ctx, s.key, amount.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to stash amount: %w", err)
	}
	return nil
}

func (s *AmountStash) Load(ctx context.Context) (decimal.Decimal, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, domainErrors.ErrStashMiss
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load stashed amount: %w", err)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stashed amount %q: %w", raw, err)
	}
	return amount, nil
}

func (s *AmountStash) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear stashed amount: %w", err)
	}
	return nil
}
