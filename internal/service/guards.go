package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// cancelGuard collapses concurrent terminal cancels into one call.
type cancelGuard struct {
	group singleflight.Group
}

// do runs fn unless a cancel is already in flight, in which case it waits for
// that one. It reports whether the result was shared with another caller.
func (g *cancelGuard) do(ctx context.Context, fn func(ctx context.Context)) bool {
	_, _, shared := g.group.Do("cancel", func() (any, error) {
		fn(ctx)
		return nil, nil
	})
	return shared
}

// resetLatch suppresses repeated resets of the same attempt within a cooldown.
// Guarded by PaymentMachine.mu.
type resetLatch struct {
	cooldown time.Duration
	now      func() time.Time

	held  bool
	token uint64
	until time.Time
}

func newResetLatch(cooldown time.Duration, now func() time.Time) *resetLatch {
	return &resetLatch{cooldown: cooldown, now: now}
}

// acquire reports whether a reset issued at the given attempt token should run.
func (l *resetLatch) acquire(token uint64) bool {
	if l.held && l.token == token && l.now().Before(l.until) {
		return false
	}
	return true
}

// release records the token left behind by a completed reset.
func (l *resetLatch) release(token uint64) {
	l.held = true
	l.token = token
	l.until = l.now().Add(l.cooldown)
}
