package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/infrastructure/observability"
	"github.com/cassiomorais/kioskpos/internal/providers"
	"github.com/cassiomorais/kioskpos/pkg/saga"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	evStart         = "start"
	evWait          = "wait"
	evCardReady     = "card_ready"
	evShowQRCode    = "show_qrcode"
	evInsertTapCard = "insert_tap_card"
	evApprove       = "approve"
	evRefuse        = "refuse"
	evFail          = "fail"
	evExpire        = "expire"
	evReset         = "reset"
	evRetryPayment  = "retry_payment"
)

const (
	ReasonQRTimeout      = "QR code generation timeout"
	ReasonConnectionLost = "Connection lost during payment"
	ReasonRefused        = "Payment was refused, you can try again"
	ReasonExpired        = "Payment time expired"
)

func newPaymentFSM() *fsm.FSM {
	states := func(ss ...payment.State) []string {
		out := make([]string, len(ss))
		for i, s := range ss {
			out[i] = string(s)
		}
		return out
	}
	active := states(payment.StateProcessing, payment.StateWait, payment.StateShowQRCode, payment.StateInsertTapCard)
	all := states(
		payment.StateIdle, payment.StateProcessing, payment.StateWait, payment.StateShowQRCode, payment.StateInsertTapCard,
		payment.StateSuccess, payment.StateFailed, payment.StateRetry, payment.StatePaymentTimeout,
	)

	return fsm.NewFSM(
		string(payment.StateIdle),
		fsm.Events{
			{Name: evStart, Src: states(payment.StateIdle, payment.StateRetry), Dst: string(payment.StateProcessing)},
			{Name: evWait, Src: states(payment.StateProcessing, payment.StateWait), Dst: string(payment.StateWait)},
			{Name: evCardReady, Src: states(payment.StateProcessing, payment.StateWait, payment.StateInsertTapCard), Dst: string(payment.StateInsertTapCard)},
			{Name: evShowQRCode, Src: active, Dst: string(payment.StateShowQRCode)},
			{Name: evInsertTapCard, Src: active, Dst: string(payment.StateInsertTapCard)},
			{Name: evApprove, Src: active, Dst: string(payment.StateSuccess)},
			{Name: evRefuse, Src: active, Dst: string(payment.StateRetry)},
			{Name: evFail, Src: active, Dst: string(payment.StateFailed)},
			{Name: evExpire, Src: active, Dst: string(payment.StatePaymentTimeout)},
			{Name: evReset, Src: all, Dst: string(payment.StateIdle)},
			{Name: evRetryPayment, Src: all, Dst: string(payment.StateIdle)},
		},
		fsm.Callbacks{},
	)
}

type attempt struct {
	token        uint64
	id           string
	selection    payment.Selection
	request      payment.PosRequest
	ref          payment.TransactionRef
	startedAt    time.Time
	qrShown      bool
	pollFailures int
	warmup       *time.Timer
}

// Snapshot is the externally visible state of the machine.
type Snapshot struct {
	State         payment.State      `json:"state"`
	AttemptID     string             `json:"attempt_id,omitempty"`
	Selection     payment.Selection  `json:"selection,omitempty"`
	Request       payment.PosRequest `json:"request"`
	TransactionID string             `json:"transaction_id,omitempty"`
	Data          StateData          `json:"data"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type machineOptions struct {
	warmupDelay     time.Duration
	pollInterval    time.Duration
	qrTimeout       time.Duration
	resetCooldown   time.Duration
	cancelTimeout   time.Duration
	stashTimeout    time.Duration
	maxPollFailures int
	retryPolicy     RetryPolicy
	metrics         *observability.Metrics
	logger          zerolog.Logger
	tracer          trace.Tracer
	now             func() time.Time
}

type MachineOption func(*machineOptions)

func WithWarmupDelay(d time.Duration) MachineOption {
	return func(o *machineOptions) { o.warmupDelay = d }
}

func WithPollInterval(d time.Duration) MachineOption {
	return func(o *machineOptions) { o.pollInterval = d }
}

func WithQRTimeout(d time.Duration) MachineOption {
	return func(o *machineOptions) { o.qrTimeout = d }
}

func WithResetCooldown(d time.Duration) MachineOption {
	return func(o *machineOptions) { o.resetCooldown = d }
}

func WithCancelTimeout(d time.Duration) MachineOption {
	return func(o *machineOptions) { o.cancelTimeout = d }
}

// WithMaxPollFailures turns n consecutive poll failures into a failed payment.
// Zero keeps polling indefinitely.
func WithMaxPollFailures(n int) MachineOption {
	return func(o *machineOptions) { o.maxPollFailures = n }
}

func WithRetryPolicy(p RetryPolicy) MachineOption {
	return func(o *machineOptions) { o.retryPolicy = p }
}

func WithMetrics(m *observability.Metrics) MachineOption {
	return func(o *machineOptions) { o.metrics = m }
}

func WithLogger(l zerolog.Logger) MachineOption {
	return func(o *machineOptions) { o.logger = l }
}

func WithTracer(t trace.Tracer) MachineOption {
	return func(o *machineOptions) { o.tracer = t }
}

func WithClock(now func() time.Time) MachineOption {
	return func(o *machineOptions) { o.now = now }
}

// PaymentMachine drives one kiosk's payment attempts. Transitions are applied
// under mu in arrival order; observers are notified in the same order.
type PaymentMachine struct {
	terminal providers.Terminal
	cart     Cart
	stash    AmountStash
	methods  *payment.MethodTable
	opts     machineOptions
	logger   zerolog.Logger

	poller     *Poller
	supervisor *TimeoutSupervisor
	cancels    cancelGuard

	mu       sync.Mutex
	fsm      *fsm.FSM
	token    uint64
	attempt  *attempt
	data     StateData
	updated  time.Time
	latch    *resetLatch
	pending  []StateChange
	draining bool

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

func NewPaymentMachine(
	terminal providers.Terminal,
	cart Cart,
	stash AmountStash,
	methods *payment.MethodTable,
	opts ...MachineOption,
) *PaymentMachine {
	o := machineOptions{
		warmupDelay:   3 * time.Second,
		pollInterval:  time.Second,
		qrTimeout:     20 * time.Second,
		resetCooldown: 500 * time.Millisecond,
		cancelTimeout: 5 * time.Second,
		stashTimeout:  2 * time.Second,
		logger:        zerolog.Nop(),
		tracer:        observability.Tracer("kioskpos/service"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if stash == nil {
		stash = NewMemoryStash()
	}
	if methods == nil {
		methods = payment.DefaultMethodTable()
	}

	m := &PaymentMachine{
		terminal:   terminal,
		cart:       cart,
		stash:      stash,
		methods:    methods,
		opts:       o,
		logger:     observability.WithComponent(o.logger, "payment_machine"),
		supervisor: NewTimeoutSupervisor(),
		fsm:        newPaymentFSM(),
		latch:      newResetLatch(o.resetCooldown, o.now),
		observers:  make(map[int]Observer),
		updated:    o.now(),
	}
	m.poller = NewPoller(terminal, m, o.pollInterval, observability.WithComponent(o.logger, "poller"))
	return m
}

// Subscribe registers an observer and returns a function removing it.
func (m *PaymentMachine) Subscribe(o Observer) func() {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = o
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		delete(m.observers, id)
	}
}

// State returns the current state.
func (m *PaymentMachine) State() payment.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

// Snapshot returns the current state with its payload.
func (m *PaymentMachine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{State: m.current(), Data: m.data, UpdatedAt: m.updated}
	if a := m.attempt; a != nil {
		s.AttemptID = a.id
		s.Selection = a.selection
		s.Request = a.request
		s.TransactionID = a.ref.ID
	}
	return s
}

// Start maps the selection and asks the terminal to begin a payment. Errors
// are returned synchronously; everything after is observable only as state.
func (m *PaymentMachine) Start(ctx context.Context, sel payment.Selection) (payment.TransactionRef, error) {
	ctx, span := m.opts.tracer.Start(ctx, "PaymentMachine.Start",
		trace.WithAttributes(attribute.String("payment.selection", string(sel))))
	defer span.End()

	m.mu.Lock()
	if err := m.checkStartableLocked(); err != nil {
		m.mu.Unlock()
		span.SetStatus(codes.Error, err.Error())
		return payment.TransactionRef{}, err
	}

	m.token++
	token := m.token
	m.teardownLocked()
	a := &attempt{
		token:     token,
		id:        uuid.NewString(),
		selection: sel,
		startedAt: m.opts.now(),
	}
	m.attempt = a
	span.SetAttributes(attribute.String("payment.attempt_id", a.id))

	req, mapErr := m.methods.Map(sel)
	a.request = req
	m.fireLocked(evStart, StateData{})
	if mapErr != nil {
		m.failStartLocked("map", mapErr)
		m.mu.Unlock()
		m.flush()
		span.RecordError(mapErr)
		span.SetStatus(codes.Error, mapErr.Error())
		return payment.TransactionRef{}, mapErr
	}
	log := observability.WithAttempt(m.logger, a.id, string(sel))
	log.Info().Str("broker", string(req.Broker)).Str("method", string(req.Method)).Msg("payment attempt started")
	m.mu.Unlock()
	m.flush()

	ref, err := m.runStart(ctx, token, req)

	m.mu.Lock()
	if m.token != token {
		m.mu.Unlock()
		if err == nil {
			go m.guardedCancel()
		}
		log.Warn().Msg("payment attempt superseded while starting")
		return payment.TransactionRef{}, domainErrors.ErrAttemptSuperseded
	}
	if err != nil {
		m.failStartLocked("start", err)
		m.mu.Unlock()
		m.flush()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return payment.TransactionRef{}, err
	}

	a.ref = ref
	a.warmup = time.AfterFunc(m.opts.warmupDelay, func() { m.beginPolling(token) })
	m.mu.Unlock()

	span.SetAttributes(attribute.String("payment.transaction_id", ref.ID))
	log.Info().Str("transaction_id", ref.ID).Msg("terminal accepted payment")
	return ref, nil
}

func (m *PaymentMachine) checkStartableLocked() error {
	switch cur := m.current(); {
	case cur.IsActive():
		return domainErrors.ErrPaymentInProgress
	case cur == payment.StateRetry:
		if m.opts.retryPolicy != nil && !m.opts.retryPolicy.CanRetry() {
			return domainErrors.ErrMaxRetriesExceeded
		}
		return nil
	case cur == payment.StateIdle:
		return nil
	default:
		return domainErrors.NewDomainError(
			"invalid_transition",
			fmt.Sprintf("cannot start payment from %s, reset first", cur),
			domainErrors.ErrInvalidStateTransition,
		)
	}
}

// runStart refreshes the cart, stashes its total and starts the terminal
// payment. An empty cart never reaches the terminal. A failed terminal start
// drops the stashed amount again.
func (m *PaymentMachine) runStart(ctx context.Context, token uint64, req payment.PosRequest) (payment.TransactionRef, error) {
	var ref payment.TransactionRef

	_, err := saga.New("start_payment").
		AddStep(saga.Step{
			Name: "refresh_cart",
			Execute: func(ctx context.Context) error {
				if r, ok := m.cart.(CartRefresher); ok {
					if err := r.Refresh(ctx); err != nil {
						m.logger.Warn().Err(err).Msg("cart refresh failed, using cached total")
					}
				}
				if !m.cart.Total().IsPositive() {
					return domainErrors.ErrEmptyCart
				}
				return nil
			},
		}).
		AddStep(saga.Step{
			Name: "stash_amount",
			Execute: func(ctx context.Context) error {
				return m.withAttempt(token, func() { m.saveStashLocked(ctx, m.cart.Total()) })
			},
			Compensate: func(ctx context.Context) error {
				return m.withAttempt(token, func() { m.clearStashLocked(ctx) })
			},
		}).
		AddStep(saga.Step{
			Name: "terminal_start",
			Execute: func(ctx context.Context) error {
				var err error
				ref, err = m.terminal.Start(ctx, req)
				return err
			},
		}).
		Execute(ctx)

	var stepErr *saga.StepError
	if errors.As(err, &stepErr) {
		if stepErr.CompensationErr != nil {
			m.logger.Warn().Err(stepErr.CompensationErr).Str("step", stepErr.Step).Msg("start compensation failed")
		}
		return ref, stepErr.Err
	}
	return ref, err
}

func (m *PaymentMachine) withAttempt(token uint64, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != token {
		return domainErrors.ErrAttemptSuperseded
	}
	fn()
	return nil
}

func (m *PaymentMachine) failStartLocked(stage string, err error) {
	if m.opts.metrics != nil {
		m.opts.metrics.PaymentErrors.WithLabelValues(stage, errorType(err)).Inc()
	}
	m.logger.Error().Err(err).Str("stage", stage).Msg("payment start failed")
	m.fireLocked(evFail, StateData{Error: err.Error()})
}

func (m *PaymentMachine) beginPolling(token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != token || !m.current().IsActive() {
		return
	}
	if a := m.attempt; a != nil {
		a.warmup = nil
	}
	m.poller.Start(token)
}

func (m *PaymentMachine) pollable(token uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token == token && m.current().IsActive()
}

func (m *PaymentMachine) handlePoll(token uint64, status payment.TerminalStatus, err error) {
	m.mu.Lock()
	if m.token != token || m.attempt == nil || !m.current().IsActive() {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.pollFailedLocked(err)
	} else {
		m.attempt.pollFailures = 0
		m.applyStatusLocked(status)
	}
	m.mu.Unlock()
	m.flush()
}

// HandleStatus applies a status snapshot to the current attempt. It reports
// whether a transition was accepted; stale or duplicate snapshots are no-ops.
func (m *PaymentMachine) HandleStatus(status payment.TerminalStatus) bool {
	m.mu.Lock()
	if m.attempt == nil || !m.current().IsActive() {
		m.mu.Unlock()
		return false
	}
	accepted := m.applyStatusLocked(status)
	m.mu.Unlock()
	m.flush()
	return accepted
}

func (m *PaymentMachine) applyStatusLocked(status payment.TerminalStatus) bool {
	a := m.attempt

	switch status.Action {
	case payment.ActionWait:
		if payment.IsPix(a.selection) {
			accepted := m.fireLocked(evWait, StateData{})
			if m.current() == payment.StateWait && !a.qrShown {
				if tok, armed := m.supervisor.Token(); !armed || tok != a.token {
					m.supervisor.Arm(m.opts.qrTimeout, a.token, m.onQRTimeout)
				}
			}
			return accepted
		}
		if payment.IsCardBroker(a.request.Broker) {
			return m.fireLocked(evCardReady, StateData{Method: payment.CardMethod(a.selection)})
		}
		return false

	case payment.ActionShowQRCode:
		m.supervisor.Clear()
		a.qrShown = true
		return m.fireLocked(evShowQRCode, StateData{
			QRCodeSource: status.QRCodeSource,
			Amount:       status.Amount,
			Session:      status.Session,
		})

	case payment.ActionInsertTapCard:
		return m.fireLocked(evInsertTapCard, StateData{Method: payment.CardMethod(a.selection)})

	case payment.ActionRelease:
		if !status.Approved() {
			m.logger.Debug().Str("status", status.Status).Msg("release without approval ignored")
			return false
		}
		amount := m.resolveAmountLocked(status.Amount)
		txID := status.TransactionID
		if txID == "" {
			txID = a.ref.ID
		}
		if !m.fireLocked(evApprove, StateData{TransactionID: txID, Amount: &amount}) {
			return false
		}
		m.saveStashLocked(context.Background(), amount)
		return true

	case payment.ActionShowRetry:
		if !status.Refused() {
			m.logger.Debug().Str("status", status.Status).Msg("retry without refusal ignored")
			return false
		}
		return m.fireLocked(evRefuse, StateData{
			Error:  domainErrors.ErrPaymentRefused.Error(),
			Reason: ReasonRefused,
		})
	}

	m.logger.Debug().Str("action", string(status.Action)).Msg("unknown terminal action ignored")
	return false
}

// resolveAmountLocked prefers the terminal amount, then the live cart total,
// then the amount stashed at start.
func (m *PaymentMachine) resolveAmountLocked(reported *decimal.Decimal) decimal.Decimal {
	if reported != nil && !reported.IsZero() {
		return *reported
	}
	if total := m.cart.Total(); !total.IsZero() {
		return total
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.stashTimeout)
	defer cancel()
	if stashed, err := m.stash.Load(ctx); err == nil {
		return stashed
	}
	return decimal.Zero
}

func (m *PaymentMachine) pollFailedLocked(err error) {
	a := m.attempt
	a.pollFailures++
	if m.opts.metrics != nil {
		m.opts.metrics.PollErrors.WithLabelValues(errorType(err)).Inc()
	}
	m.logger.Warn().Err(err).
		Str("attempt_id", a.id).
		Int("consecutive_failures", a.pollFailures).
		Msg("terminal status poll failed")

	if m.opts.maxPollFailures > 0 && a.pollFailures >= m.opts.maxPollFailures {
		m.fireLocked(evFail, StateData{Error: ReasonConnectionLost, Reason: ReasonConnectionLost})
	}
}

func (m *PaymentMachine) onQRTimeout(token uint64) {
	m.mu.Lock()
	if m.token != token || m.current() != payment.StateWait {
		m.mu.Unlock()
		return
	}
	m.logger.Warn().Str("attempt_id", m.attempt.id).Msg("QR code was not generated in time")
	go m.guardedCancel()
	m.fireLocked(evFail, StateData{Error: ReasonQRTimeout, Reason: ReasonQRTimeout})
	m.mu.Unlock()
	m.flush()
}

// ExpirePayment ends an attempt whose QR code was not paid in time.
func (m *PaymentMachine) ExpirePayment(ctx context.Context) error {
	m.mu.Lock()
	if m.attempt == nil || !m.current().IsActive() {
		m.mu.Unlock()
		return domainErrors.ErrNoActivePayment
	}
	token := m.token
	m.teardownLocked()
	m.mu.Unlock()

	m.cancelTerminal(ctx)

	m.mu.Lock()
	if m.token != token {
		m.mu.Unlock()
		return domainErrors.ErrAttemptSuperseded
	}
	m.fireLocked(evExpire, StateData{Reason: ReasonExpired})
	m.mu.Unlock()
	m.flush()
	return nil
}

// CancelPayment aborts the attempt at the terminal and resets the machine.
// Concurrent callers share a single terminal cancel.
func (m *PaymentMachine) CancelPayment(ctx context.Context) {
	cur := m.State()
	if cur == payment.StateIdle {
		return
	}
	if cur.IsActive() {
		m.cancelTerminal(ctx)
	}
	m.Reset(ctx)
}

// Reset returns the machine to idle. When it returns, no transition of the
// previous attempt can be applied anymore.
func (m *PaymentMachine) Reset(ctx context.Context) {
	m.mu.Lock()
	if !m.latch.acquire(m.token) {
		m.mu.Unlock()
		m.logger.Debug().Msg("duplicate reset suppressed")
		return
	}
	m.token++
	m.teardownLocked()
	m.fireLocked(evReset, StateData{})
	m.attempt = nil
	m.clearStashLocked(ctx)
	m.latch.release(m.token)
	m.mu.Unlock()
	m.flush()
}

// RetryPayment returns to method selection. It does not stop an in-flight
// poll; results of that poll are dropped since idle accepts no status.
func (m *PaymentMachine) RetryPayment() bool {
	m.mu.Lock()
	accepted := m.fireLocked(evRetryPayment, StateData{})
	if accepted {
		m.supervisor.Clear()
	}
	m.mu.Unlock()
	m.flush()
	return accepted
}

// Close stops timers and polling without notifying observers.
func (m *PaymentMachine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token++
	m.teardownLocked()
}

func (m *PaymentMachine) cancelTerminal(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.cancelTimeout)
	defer cancel()
	shared := m.cancels.do(ctx, m.terminal.Cancel)
	if m.opts.metrics != nil {
		result := "issued"
		if shared {
			result = "shared"
		}
		m.opts.metrics.SideEffects.WithLabelValues("terminal_cancel", result).Inc()
	}
}

func (m *PaymentMachine) guardedCancel() {
	m.cancelTerminal(context.Background())
}

func (m *PaymentMachine) teardownLocked() {
	if a := m.attempt; a != nil && a.warmup != nil {
		a.warmup.Stop()
		a.warmup = nil
	}
	m.poller.Stop()
	m.supervisor.Clear()
}

func (m *PaymentMachine) saveStashLocked(ctx context.Context, amount decimal.Decimal) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.stashTimeout)
	defer cancel()
	if err := m.stash.Save(ctx, amount); err != nil {
		m.logger.Warn().Err(err).Msg("failed to stash payment amount")
	}
}

func (m *PaymentMachine) clearStashLocked(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.stashTimeout)
	defer cancel()
	if err := m.stash.Clear(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear stashed amount")
	}
}

func (m *PaymentMachine) current() payment.State {
	return payment.State(m.fsm.Current())
}

// fireLocked applies an event and queues the resulting notification. Events
// leading to the current state or not accepted by it are dropped.
func (m *PaymentMachine) fireLocked(event string, data StateData) bool {
	prev := m.current()
	if err := m.fsm.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			m.logger.Debug().Str("state", string(prev)).Str("event", event).Msg("duplicate transition suppressed")
		} else {
			m.logger.Debug().Err(err).Str("state", string(prev)).Str("event", event).Msg("event ignored")
		}
		return false
	}

	next := m.current()
	if next.IsTerminal() {
		m.teardownLocked()
	}

	now := m.opts.now()
	m.data = data
	m.updated = now

	change := StateChange{State: next, Previous: prev, Data: data, At: now}
	if a := m.attempt; a != nil {
		change.Selection = a.selection
		change.Request = a.request
		change.AttemptID = a.id
		change.StartedAt = a.startedAt
	}
	m.pending = append(m.pending, change)
	m.recordTransition(change)

	m.logger.Info().
		Str("attempt_id", change.AttemptID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("payment state changed")
	return true
}

func (m *PaymentMachine) recordTransition(change StateChange) {
	metrics := m.opts.metrics
	if metrics == nil {
		return
	}
	metrics.StateTransitions.WithLabelValues(string(change.Previous), string(change.State)).Inc()
	if change.State.IsActive() {
		metrics.ActivePayments.Set(1)
	} else {
		metrics.ActivePayments.Set(0)
	}
	if change.State.IsTerminal() {
		metrics.PaymentsTotal.WithLabelValues(string(change.Request.Broker), string(change.State)).Inc()
		if !change.StartedAt.IsZero() {
			metrics.PaymentDuration.WithLabelValues(string(change.State)).Observe(change.At.Sub(change.StartedAt).Seconds())
		}
	}
}

// flush delivers queued notifications. Whoever finds the queue idle drains it,
// so delivery order matches transition order across goroutines and observers
// may call back into the machine.
func (m *PaymentMachine) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.pending) > 0 {
		change := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.notify(change)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *PaymentMachine) notify(change StateChange) {
	m.obsMu.RLock()
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	observers := make([]Observer, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		observers = append(observers, m.observers[id])
	}
	m.obsMu.RUnlock()

	for _, o := range observers {
		o.OnStateChange(change)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domainErrors.ErrUnsupportedPaymentMethod):
		return "unsupported_payment_method"
	case errors.Is(err, domainErrors.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domainErrors.ErrTerminalRejected):
		return "terminal_rejected"
	case errors.Is(err, domainErrors.ErrTerminalUnreachable):
		return "terminal_unreachable"
	case errors.Is(err, domainErrors.ErrPollingTransient):
		return "polling_transient"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
