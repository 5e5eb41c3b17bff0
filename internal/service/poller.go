package service

import (
	"context"
	"sync"
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/providers"
	"github.com/rs/zerolog"
)

// pollSink consumes poll results for an attempt.
type pollSink interface {
	// pollable reports whether the attempt still wants status updates.
	pollable(token uint64) bool
	// handlePoll applies one poll result to the attempt.
	handlePoll(token uint64, status payment.TerminalStatus, err error)
}

// Poller calls the terminal status endpoint on a fixed period for one attempt.
type Poller struct {
	terminal providers.Terminal
	sink     pollSink
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	token   uint64
	running bool
}

func NewPoller(terminal providers.Terminal, sink pollSink, interval time.Duration, logger zerolog.Logger) *Poller {
	timeout := interval
	if timeout < time.Second {
		timeout = time.Second
	}
	return &Poller{
		terminal: terminal,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start begins polling for the given attempt, replacing any running loop.
func (p *Poller) Start(token uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.token = token
	p.running = true

	go p.loop(ctx, token)
}

// Stop cancels the running loop. It does not wait for an in-flight poll; the
// result of such a poll is dropped. Safe to call from the loop itself.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports whether a loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.running = false
}

func (p *Poller) finish(token uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == token {
		p.stopLocked()
	}
}

func (p *Poller) loop(ctx context.Context, token uint64) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !p.sink.pollable(token) {
			p.logger.Debug().Uint64("token", token).Msg("attempt no longer pollable, stopping poller")
			p.finish(token)
			return
		}

		pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
		status, err := p.terminal.Poll(pollCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		p.sink.handlePoll(token, status, err)
	}
}
