package service

import (
	"context"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/infrastructure/observability"
	"github.com/cassiomorais/kioskpos/pkg/retry"
	"github.com/rs/zerolog"
)

// Screen is a kiosk UI destination.
type Screen string

const (
	ScreenMethodSelection Screen = "method-selection"
	ScreenProcessing      Screen = "processing"
	ScreenPix             Screen = "pix"
	ScreenCard            Screen = "card"
	ScreenSuccess         Screen = "success"
	ScreenFailed          Screen = "failed"
	ScreenRetry           Screen = "retry"
	ScreenTimeout         Screen = "timeout"
)

// Navigation is a request to show a screen.
type Navigation struct {
	Screen    Screen            `json:"screen"`
	Params    map[string]string `json:"params,omitempty"`
	State     payment.State     `json:"state"`
	AttemptID string            `json:"attempt_id,omitempty"`
	At        time.Time         `json:"at"`
}

// Navigator moves the UI to a screen.
type Navigator interface {
	Navigate(nav Navigation)
}

type NavigatorFunc func(nav Navigation)

func (f NavigatorFunc) Navigate(nav Navigation) { f(nav) }

// RetryStatus is the refusal counter as exposed to the UI.
type RetryStatus struct {
	Count    int  `json:"count"`
	Max      int  `json:"max"`
	CanRetry bool `json:"can_retry"`
}

type DispatcherOption func(*Dispatcher)

func WithMaxRetries(n int) DispatcherOption {
	return func(d *Dispatcher) { d.retries = payment.NewRetryCounter(n) }
}

// WithCartClearRetry sets the backoff used when clearing the cart after success.
func WithCartClearRetry(cfg retry.Config) DispatcherOption {
	return func(d *Dispatcher) { d.clearRetry = cfg }
}

func WithDispatcherMetrics(m *observability.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithDispatcherLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = observability.WithComponent(l, "dispatcher") }
}

// Dispatcher turns state changes into screen navigation and success side
// effects. It also owns the refusal counter.
type Dispatcher struct {
	cart       Cart
	navigator  Navigator
	clearRetry retry.Config
	metrics    *observability.Metrics
	logger     zerolog.Logger

	mu          sync.Mutex
	retries     payment.RetryCounter
	current     *Navigation
	lastCleared string

	wg sync.WaitGroup
}

func NewDispatcher(cart Cart, navigator Navigator, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		cart:       cart,
		navigator:  navigator,
		clearRetry: retry.DefaultConfig(),
		logger:     zerolog.Nop(),
		retries:    payment.NewRetryCounter(payment.DefaultMaxRetries),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnStateChange implements Observer.
func (d *Dispatcher) OnStateChange(change StateChange) {
	nav := Navigation{State: change.State, AttemptID: change.AttemptID, At: change.At}

	d.mu.Lock()
	switch change.State {
	case payment.StateIdle:
		d.retries.Reset()
		nav.Screen = ScreenMethodSelection

	case payment.StateProcessing, payment.StateWait:
		nav.Screen = ScreenProcessing

	case payment.StateShowQRCode:
		nav.Screen = ScreenPix
		nav.Params = map[string]string{
			"qrcode":  change.Data.QRCodeSource,
			"amount":  formatAmount(change.Data),
			"session": change.Data.Session,
		}

	case payment.StateInsertTapCard:
		nav.Screen = ScreenCard
		nav.Params = map[string]string{"method": string(change.Data.Method)}

	case payment.StateSuccess:
		nav.Screen = ScreenSuccess
		nav.Params = map[string]string{
			"transactionId": change.Data.TransactionID,
			"amount":        formatAmount(change.Data),
		}
		if change.AttemptID == "" || change.AttemptID != d.lastCleared {
			d.lastCleared = change.AttemptID
			d.clearCartAsync(change.AttemptID)
		}

	case payment.StateFailed:
		nav.Screen = ScreenFailed
		nav.Params = map[string]string{"type": "failed", "error": change.Data.Error}

	case payment.StateRetry:
		if err := d.retries.Increment(); err != nil {
			d.logger.Warn().Err(err).Int("count", d.retries.Count).Msg("refusal limit already reached")
		}
		canRetry := d.retries.CanRetry()
		if d.metrics != nil {
			d.metrics.PaymentRetries.WithLabelValues(strconv.FormatBool(canRetry)).Inc()
		}
		nav.Screen = ScreenRetry
		nav.Params = map[string]string{
			"retryCount": strconv.Itoa(d.retries.Count),
			"maxRetries": strconv.Itoa(d.retries.Max),
			"reason":     change.Data.Reason,
			"canRetry":   strconv.FormatBool(canRetry),
		}

	case payment.StatePaymentTimeout:
		nav.Screen = ScreenTimeout
		if change.Data.Reason != "" {
			nav.Params = map[string]string{"reason": change.Data.Reason}
		}

	default:
		d.mu.Unlock()
		d.logger.Debug().Str("state", string(change.State)).Msg("no screen for state")
		return
	}

	if d.current != nil && d.current.Screen == nav.Screen && maps.Equal(d.current.Params, nav.Params) {
		d.mu.Unlock()
		return
	}
	d.current = &nav
	d.mu.Unlock()

	d.logger.Debug().Str("screen", string(nav.Screen)).Str("attempt_id", nav.AttemptID).Msg("navigating")
	if d.navigator != nil {
		d.navigator.Navigate(nav)
	}
}

// CanRetry implements RetryPolicy.
func (d *Dispatcher) CanRetry() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.retries.CanRetry()
}

func (d *Dispatcher) RetryStatus() RetryStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return RetryStatus{Count: d.retries.Count, Max: d.retries.Max, CanRetry: d.retries.CanRetry()}
}

// Current returns the last navigation issued, if any.
func (d *Dispatcher) Current() (Navigation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return Navigation{}, false
	}
	return *d.current, true
}

// Wait blocks until pending side effects have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) clearCartAsync(attemptID string) {
	if d.cart == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		cfg := d.clearRetry
		cfg.OnRetry = func(n uint, err error) {
			d.logger.Warn().Err(err).Uint("attempt", n+1).Str("attempt_id", attemptID).Msg("cart clear failed, retrying")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result := "ok"
		if err := retry.Do(ctx, cfg, func() error { return d.cart.Clear(ctx) }); err != nil {
			result = "failed"
			d.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("failed to clear cart after payment")
		}
		if d.metrics != nil {
			d.metrics.SideEffects.WithLabelValues("cart_clear", result).Inc()
		}
	}()
}

func formatAmount(data StateData) string {
	if data.Amount == nil {
		return ""
	}
	return data.Amount.StringFixed(2)
}
