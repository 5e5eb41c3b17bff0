package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// Lua script for safe lock release (only owner can release)
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	// Lua script for lock extension
	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

var (
	ErrLeaseHeld     = errors.New("terminal lease held by another process")
	ErrLeaseNotOwned = errors.New("terminal lease not held")
)

// TerminalLease makes sure only one kiosk process drives a given terminal.
// The owner value identifies the holder so that only it can extend or release.
type TerminalLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
	logger zerolog.Logger
}

func NewTerminalLease(client *redis.Client, terminal, instanceID string, ttl time.Duration, logger zerolog.Logger) *TerminalLease {
	return &TerminalLease{
		client: client,
		key:    fmt.Sprintf("lease:terminal:%s", terminal),
		owner:  fmt.Sprintf("%s/%s", instanceID, uuid.NewString()),
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the lease or returns ErrLeaseHeld.
func (l *TerminalLease) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire terminal lease: %w", err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key).Result()
		return fmt.Errorf("%w: %s", ErrLeaseHeld, holder)
	}
	return nil
}

// Extend pushes the lease expiry one TTL into the future.
func (l *TerminalLease) Extend(ctx context.Context) error {
	result, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to extend terminal lease: %w", err)
	}
	if val, ok := result.(int64); !ok || val == 0 {
		return ErrLeaseNotOwned
	}
	return nil
}

// Release drops the lease if this process still owns it.
func (l *TerminalLease) Release(ctx context.Context) error {
	result, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.owner).Result()
	if err != nil {
		return fmt.Errorf("failed to release terminal lease: %w", err)
	}
	if val, ok := result.(int64); !ok || val == 0 {
		return ErrLeaseNotOwned
	}
	return nil
}

// Hold extends the lease every third of its TTL until ctx is done, then
// releases it. It returns an error when the lease was lost.
func (l *TerminalLease) Hold(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := l.Release(releaseCtx); err != nil {
				l.logger.Warn().Err(err).Str("key", l.key).Msg("failed to release terminal lease")
			}
			return nil
		case <-ticker.C:
			if err := l.Extend(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}
		}
	}
}
