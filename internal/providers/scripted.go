package providers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/google/uuid"
)

// ScriptedTerminal replays a fixed sequence of status snapshots per method.
// It backs the simulated terminal mode and end-to-end tests.
type ScriptedTerminal struct {
	latency         time.Duration
	pollFailureRate float64 // 0.0 to 1.0
	startErr        error

	mu      sync.Mutex
	scripts map[payment.Method][]payment.TerminalStatus
	active  []payment.TerminalStatus
	step    int
	req     payment.PosRequest
	session string
	txID    string

	starts  atomic.Int32
	polls   atomic.Int32
	cancels atomic.Int32
}

type ScriptedTerminalOption func(*ScriptedTerminal)

func WithLatency(d time.Duration) ScriptedTerminalOption {
	return func(t *ScriptedTerminal) { t.latency = d }
}

func WithPollFailureRate(rate float64) ScriptedTerminalOption {
	return func(t *ScriptedTerminal) { t.pollFailureRate = rate }
}

func WithStartError(err error) ScriptedTerminalOption {
	return func(t *ScriptedTerminal) { t.startErr = err }
}

// WithScript sets the snapshots returned for payments of the given method.
// The last snapshot repeats once the script is exhausted.
func WithScript(method payment.Method, steps ...payment.TerminalStatus) ScriptedTerminalOption {
	return func(t *ScriptedTerminal) { t.scripts[method] = steps }
}

// WithDefaultScripts installs approving scripts for pix and card methods.
func WithDefaultScripts() ScriptedTerminalOption {
	card := []payment.TerminalStatus{
		{Action: payment.ActionWait},
		{Action: payment.ActionInsertTapCard},
		{Action: payment.ActionInsertTapCard},
		{Action: payment.ActionRelease, Status: payment.StatusApproved},
	}
	return func(t *ScriptedTerminal) {
		t.scripts[payment.MethodPix] = []payment.TerminalStatus{
			{Action: payment.ActionWait},
			{Action: payment.ActionWait},
			{Action: payment.ActionShowQRCode, QRCodeSource: "00020126580014br.gov.bcb.pix0136kiosk-simulated-pix5204000053039865802BR6304ABCD"},
			{Action: payment.ActionShowQRCode, QRCodeSource: "00020126580014br.gov.bcb.pix0136kiosk-simulated-pix5204000053039865802BR6304ABCD"},
			{Action: payment.ActionRelease, Status: payment.StatusApproved},
		}
		t.scripts[payment.MethodCredit] = card
		t.scripts[payment.MethodDebit] = card
	}
}

func NewScriptedTerminal(opts ...ScriptedTerminalOption) *ScriptedTerminal {
	t := &ScriptedTerminal{
		scripts: make(map[payment.Method][]payment.TerminalStatus),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *ScriptedTerminal) Start(ctx context.Context, req payment.PosRequest) (payment.TransactionRef, error) {
	t.starts.Add(1)
	if err := t.wait(ctx); err != nil {
		return payment.TransactionRef{}, fmt.Errorf("%w: %v", domainErrors.ErrTerminalUnreachable, err)
	}
	if t.startErr != nil {
		return payment.TransactionRef{}, t.startErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.req = req
	t.active = t.scripts[req.Method]
	t.step = 0
	t.session = uuid.NewString()
	t.txID = fmt.Sprintf("sim_txn_%s", uuid.New().String()[:8])
	return payment.TransactionRef{ID: t.txID}, nil
}

func (t *ScriptedTerminal) Poll(ctx context.Context) (payment.TerminalStatus, error) {
	t.polls.Add(1)
	if err := t.wait(ctx); err != nil {
		return payment.TerminalStatus{}, fmt.Errorf("%w: %v", domainErrors.ErrTerminalUnreachable, err)
	}
	if t.pollFailureRate > 0 && rand.Float64() < t.pollFailureRate {
		return payment.TerminalStatus{}, fmt.Errorf("%w: simulated network failure", domainErrors.ErrTerminalUnreachable)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.active) == 0 {
		return payment.TerminalStatus{Action: payment.ActionWait, Broker: t.req.Broker}, nil
	}

	status := t.active[t.step]
	if t.step < len(t.active)-1 {
		t.step++
	}
	if status.Broker == "" {
		status.Broker = t.req.Broker
	}
	status.Session = t.session
	if status.Action == payment.ActionRelease && status.TransactionID == "" {
		status.TransactionID = t.txID
	}
	return status, nil
}

func (t *ScriptedTerminal) Cancel(ctx context.Context) {
	t.cancels.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = nil
	t.step = 0
}

// Starts returns the number of Start calls.
func (t *ScriptedTerminal) Starts() int { return int(t.starts.Load()) }

// Polls returns the number of Poll calls.
func (t *ScriptedTerminal) Polls() int { return int(t.polls.Load()) }

// Cancels returns the number of Cancel calls.
func (t *ScriptedTerminal) Cancels() int { return int(t.cancels.Load()) }

// LastRequest returns the pair of the most recent Start.
func (t *ScriptedTerminal) LastRequest() payment.PosRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.req
}

func (t *ScriptedTerminal) wait(ctx context.Context) error {
	if t.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(t.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
