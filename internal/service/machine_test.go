package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/cassiomorais/kioskpos/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pixSelection    payment.Selection = "MERCADOPAGO-pix"
	creditSelection payment.Selection = "MERCADOPAGO_PINPAD-credit"
	eventually                        = time.Second
	tick                              = 2 * time.Millisecond
)

type recorder struct {
	mu      sync.Mutex
	changes []service.StateChange
}

func (r *recorder) OnStateChange(c service.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) States() []payment.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]payment.State, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.State
	}
	return out
}

func (r *recorder) Count(state payment.State) int {
	n := 0
	for _, s := range r.States() {
		if s == state {
			n++
		}
	}
	return n
}

func (r *recorder) Last() service.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return service.StateChange{}
	}
	return r.changes[len(r.changes)-1]
}

type fixture struct {
	machine  *service.PaymentMachine
	terminal *testutil.MockTerminal
	cart     *testutil.MockCart
	stash    *testutil.MockStash
	rec      *recorder
}

func newFixture(t *testing.T, terminal *testutil.MockTerminal, opts ...service.MachineOption) *fixture {
	t.Helper()
	f := &fixture{
		terminal: terminal,
		cart:     testutil.NewMockCart("42.50"),
		stash:    testutil.NewMockStash(),
		rec:      &recorder{},
	}
	base := []service.MachineOption{
		service.WithWarmupDelay(5 * time.Millisecond),
		service.WithPollInterval(5 * time.Millisecond),
		service.WithQRTimeout(time.Minute),
		service.WithResetCooldown(0),
		service.WithCancelTimeout(100 * time.Millisecond),
	}
	f.machine = service.NewPaymentMachine(terminal, f.cart, f.stash, payment.DefaultMethodTable(), append(base, opts...)...)
	f.machine.Subscribe(f.rec)
	t.Cleanup(f.machine.Close)
	return f
}

// manual keeps the poller from starting so tests drive statuses themselves.
func manual() service.MachineOption {
	return service.WithWarmupDelay(time.Hour)
}

func (f *fixture) waitState(t *testing.T, state payment.State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.machine.State() == state }, eventually, tick,
		"state never became %s, last %s", state, f.machine.State())
}

func TestStart_PixApproved(t *testing.T) {
	term := testutil.NewMockTerminal(
		testutil.WaitStatus(),
		testutil.QRStatus("00020126pix", testutil.Dec("42.50")),
		testutil.ApprovedStatus("txn-9", nil),
	)
	f := newFixture(t, term)

	ref, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	assert.Equal(t, "txn-1", ref.ID)

	f.waitState(t, payment.StateSuccess)

	assert.Equal(t, []payment.State{
		payment.StateProcessing,
		payment.StateWait,
		payment.StateShowQRCode,
		payment.StateSuccess,
	}, f.rec.States())

	snap := f.machine.Snapshot()
	assert.Equal(t, "txn-9", snap.Data.TransactionID)
	require.NotNil(t, snap.Data.Amount)
	assert.Equal(t, "42.5", snap.Data.Amount.String())
	assert.Equal(t, payment.BrokerMercadoPago, term.Requests()[0].Broker)
	assert.Equal(t, payment.MethodPix, term.Requests()[0].Method)
	assert.Equal(t, 1, f.cart.Refreshes())
}

func TestStart_LegacySelection(t *testing.T) {
	term := testutil.NewMockTerminal()
	f := newFixture(t, term, manual())

	_, err := f.machine.Start(context.Background(), "debit")
	require.NoError(t, err)

	reqs := term.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, payment.PosRequest{Broker: payment.BrokerMercadoPagoPinpad, Method: payment.MethodDebit}, reqs[0])
}

func TestStart_UnsupportedSelection(t *testing.T) {
	term := testutil.NewMockTerminal()
	f := newFixture(t, term, manual())

	_, err := f.machine.Start(context.Background(), "BITCOIN-lightning")
	require.ErrorIs(t, err, domainErrors.ErrUnsupportedPaymentMethod)

	assert.Equal(t, 0, term.Starts())
	assert.Equal(t, payment.StateFailed, f.machine.State())
	assert.Contains(t, f.machine.Snapshot().Data.Error, "BITCOIN-lightning")
}

func TestStart_WhileActive(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	_, err = f.machine.Start(context.Background(), pixSelection)
	require.ErrorIs(t, err, domainErrors.ErrPaymentInProgress)
	assert.Equal(t, 1, f.terminal.Starts())
}

func TestStart_FromFailedNeedsReset(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())

	_, err := f.machine.Start(context.Background(), "nope")
	require.Error(t, err)

	_, err = f.machine.Start(context.Background(), pixSelection)
	require.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)

	f.machine.Reset(context.Background())
	_, err = f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
}

func TestStart_EmptyCartNeverReachesTerminal(t *testing.T) {
	term := testutil.NewMockTerminal()
	f := newFixture(t, term, manual())
	f.cart.SetTotal("0")

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.ErrorIs(t, err, domainErrors.ErrEmptyCart)

	assert.Equal(t, 1, f.cart.Refreshes())
	assert.Equal(t, 0, term.Starts())
	assert.Equal(t, payment.StateFailed, f.machine.State())
	assert.Equal(t, domainErrors.ErrEmptyCart.Error(), f.machine.Snapshot().Data.Error)
	_, loadErr := f.stash.Load(context.Background())
	assert.ErrorIs(t, loadErr, domainErrors.ErrStashMiss)
}

func TestStart_TerminalRejects(t *testing.T) {
	term := testutil.NewMockTerminal()
	term.StartFunc = func(ctx context.Context, req payment.PosRequest) (payment.TransactionRef, error) {
		return payment.TransactionRef{}, &domainErrors.TerminalRejectedError{StatusCode: 409, Body: "busy"}
	}
	f := newFixture(t, term)

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.ErrorIs(t, err, domainErrors.ErrTerminalRejected)

	var rejected *domainErrors.TerminalRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 409, rejected.StatusCode)

	assert.Equal(t, payment.StateFailed, f.machine.State())
	_, loadErr := f.stash.Load(context.Background())
	assert.ErrorIs(t, loadErr, domainErrors.ErrStashMiss, "stashed amount dropped on failed start")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, term.Polls())
}

func TestHandleStatus_DuplicateNotifiesOnce(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	qr := testutil.QRStatus("00020126pix", testutil.Dec("42.50"))
	assert.True(t, f.machine.HandleStatus(qr))
	assert.False(t, f.machine.HandleStatus(qr))
	assert.False(t, f.machine.HandleStatus(qr))

	assert.Equal(t, 1, f.rec.Count(payment.StateShowQRCode))
	assert.Equal(t, "00020126pix", f.rec.Last().Data.QRCodeSource)
}

func TestHandleStatus_AmountFallsBackToStash(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	// cart emptied elsewhere before the terminal released the payment
	f.cart.SetTotal("0")

	require.True(t, f.machine.HandleStatus(testutil.ApprovedStatus("txn-5", nil)))

	last := f.rec.Last()
	require.Equal(t, payment.StateSuccess, last.State)
	require.NotNil(t, last.Data.Amount)
	assert.Equal(t, "42.50", last.Data.Amount.StringFixed(2))
	assert.Equal(t, "txn-5", last.Data.TransactionID)
}

func TestHandleStatus_ZeroAmountFallsBackToCart(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	require.NoError(t, f.stash.Clear(context.Background()))

	require.True(t, f.machine.HandleStatus(testutil.ApprovedStatus("txn-6", testutil.Dec("0"))))

	last := f.rec.Last()
	require.Equal(t, payment.StateSuccess, last.State)
	require.NotNil(t, last.Data.Amount)
	assert.Equal(t, "42.50", last.Data.Amount.StringFixed(2), "a zero terminal amount uses the live cart total")
}

func TestHandleStatus_AmountPrefersTerminal(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	require.True(t, f.machine.HandleStatus(testutil.ApprovedStatus("", testutil.Dec("39.90"))))

	last := f.rec.Last()
	assert.Equal(t, "39.90", last.Data.Amount.StringFixed(2))
	assert.Equal(t, "txn-1", last.Data.TransactionID, "falls back to the start reference")

	stashed, err := f.stash.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "39.90", stashed.StringFixed(2))
}

func TestHandleStatus_Refused(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())

	_, err := f.machine.Start(context.Background(), creditSelection)
	require.NoError(t, err)

	require.True(t, f.machine.HandleStatus(testutil.RefusedStatus()))
	last := f.rec.Last()
	assert.Equal(t, payment.StateRetry, last.State)
	assert.Equal(t, service.ReasonRefused, last.Data.Reason)

	assert.False(t, f.machine.HandleStatus(testutil.ApprovedStatus("late", nil)), "retry accepts no status")
}

func TestHandleStatus_IgnoredWhenIdle(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())
	assert.False(t, f.machine.HandleStatus(testutil.ApprovedStatus("txn", nil)))
	assert.Empty(t, f.rec.States())
}

func TestQRTimeout_FailsAndCancelsOnce(t *testing.T) {
	term := testutil.NewMockTerminal(testutil.WaitStatus())
	f := newFixture(t, term, service.WithQRTimeout(30*time.Millisecond))

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	f.waitState(t, payment.StateFailed)
	assert.Equal(t, service.ReasonQRTimeout, f.rec.Last().Data.Reason)

	require.Eventually(t, func() bool { return term.Cancels() == 1 }, eventually, tick)

	polls := term.Polls()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, term.Cancels())
	assert.LessOrEqual(t, term.Polls(), polls+1, "poller stops after failure")
	assert.Equal(t, 1, f.rec.Count(payment.StateFailed))
}

func TestQRTimeout_ClearedByQRCode(t *testing.T) {
	term := testutil.NewMockTerminal(
		testutil.WaitStatus(),
		testutil.QRStatus("00020126pix", testutil.Dec("42.50")),
	)
	f := newFixture(t, term, service.WithQRTimeout(40*time.Millisecond))

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	f.waitState(t, payment.StateShowQRCode)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, payment.StateShowQRCode, f.machine.State())
	assert.Equal(t, 0, term.Cancels())
}

func TestQRTimeout_ArmedForAttemptAfterRetryPayment(t *testing.T) {
	term := testutil.NewMockTerminal()
	f := newFixture(t, term, manual(), service.WithQRTimeout(200*time.Millisecond))

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	require.True(t, f.machine.HandleStatus(testutil.WaitStatus()))

	time.Sleep(50 * time.Millisecond)
	require.True(t, f.machine.RetryPayment())

	_, err = f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	require.True(t, f.machine.HandleStatus(testutil.WaitStatus()))

	f.waitState(t, payment.StateFailed)
	assert.Equal(t, service.ReasonQRTimeout, f.rec.Last().Data.Reason)
	require.Eventually(t, func() bool { return term.Cancels() == 1 }, eventually, tick)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, term.Cancels())
	assert.Equal(t, 1, f.rec.Count(payment.StateFailed))
}

func TestReset_StopsFurtherTransitions(t *testing.T) {
	term := testutil.NewMockTerminal(testutil.WaitStatus())
	f := newFixture(t, term)

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	f.waitState(t, payment.StateWait)

	f.machine.Reset(context.Background())
	require.Equal(t, payment.StateIdle, f.machine.State())

	n := len(f.rec.States())
	term.Queue(testutil.ApprovedStatus("too-late", nil))
	polls := term.Polls()
	time.Sleep(40 * time.Millisecond)

	assert.Len(t, f.rec.States(), n)
	assert.Equal(t, payment.StateIdle, f.machine.State())
	assert.LessOrEqual(t, term.Polls(), polls+1)

	_, err = f.stash.Load(context.Background())
	assert.ErrorIs(t, err, domainErrors.ErrStashMiss)
}

func TestReset_DuplicateSuppressed(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual(), service.WithResetCooldown(time.Minute))

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	f.machine.Reset(context.Background())
	f.machine.Reset(context.Background())
	f.machine.Reset(context.Background())

	assert.Equal(t, 1, f.rec.Count(payment.StateIdle))

	_, err = f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	f.machine.Reset(context.Background())
	assert.Equal(t, 2, f.rec.Count(payment.StateIdle), "a new attempt may be reset again")
}

func TestRetryPayment(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())

	_, err := f.machine.Start(context.Background(), creditSelection)
	require.NoError(t, err)
	require.True(t, f.machine.HandleStatus(testutil.RefusedStatus()))

	assert.True(t, f.machine.RetryPayment())
	assert.Equal(t, payment.StateIdle, f.machine.State())
	assert.False(t, f.machine.RetryPayment())
}

func TestRetryCounter_ThroughRefusals(t *testing.T) {
	term := testutil.NewMockTerminal()
	d := service.NewDispatcher(nil, nil, service.WithMaxRetries(3))
	f := newFixture(t, term, manual(), service.WithRetryPolicy(d))
	f.machine.Subscribe(d)

	var got []bool
	for range 3 {
		_, err := f.machine.Start(context.Background(), creditSelection)
		require.NoError(t, err)
		require.True(t, f.machine.HandleStatus(testutil.RefusedStatus()))
		got = append(got, d.CanRetry())
	}
	assert.Equal(t, []bool{true, true, false}, got)

	_, err := f.machine.Start(context.Background(), creditSelection)
	require.ErrorIs(t, err, domainErrors.ErrMaxRetriesExceeded)
	assert.Equal(t, 3, term.Starts())

	f.machine.Reset(context.Background())
	assert.True(t, d.CanRetry(), "back at method selection the counter starts over")
}

func TestPinpadRoundTrip(t *testing.T) {
	term := testutil.NewMockTerminal(
		testutil.WaitStatus(),
		testutil.InsertCardStatus(),
		testutil.ApprovedStatus("txn-card", testutil.Dec("10.00")),
	)
	nav := &navRecorder{}
	f := newFixture(t, term)
	d := service.NewDispatcher(f.cart, nav)
	f.machine.Subscribe(d)

	_, err := f.machine.Start(context.Background(), creditSelection)
	require.NoError(t, err)
	f.waitState(t, payment.StateSuccess)
	d.Wait()

	assert.Equal(t, 1, f.cart.Clears())
	assert.Equal(t, 0, term.Cancels())
	assert.Equal(t, 1, f.rec.Count(payment.StateInsertTapCard))

	screens := nav.Screens()
	assert.Equal(t, []service.Screen{service.ScreenProcessing, service.ScreenCard, service.ScreenSuccess}, screens)
	last := nav.Last()
	assert.Equal(t, "txn-card", last.Params["transactionId"])
	assert.Equal(t, "10.00", last.Params["amount"])
}

func TestPollFailures_DefaultKeepsPolling(t *testing.T) {
	term := testutil.NewMockTerminal()
	term.PollFunc = func(ctx context.Context) (payment.TerminalStatus, error) {
		return payment.TerminalStatus{}, domainErrors.ErrTerminalUnreachable
	}
	f := newFixture(t, term)

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return term.Polls() >= 4 }, eventually, tick)
	assert.Equal(t, payment.StateProcessing, f.machine.State())
}

func TestPollFailures_ConnectionLost(t *testing.T) {
	term := testutil.NewMockTerminal()
	term.PollFunc = func(ctx context.Context) (payment.TerminalStatus, error) {
		return payment.TerminalStatus{}, domainErrors.ErrTerminalUnreachable
	}
	f := newFixture(t, term, service.WithMaxPollFailures(2))

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)

	f.waitState(t, payment.StateFailed)
	assert.Equal(t, service.ReasonConnectionLost, f.rec.Last().Data.Error)
}

func TestExpirePayment(t *testing.T) {
	term := testutil.NewMockTerminal()
	f := newFixture(t, term, manual())

	err := f.machine.ExpirePayment(context.Background())
	require.ErrorIs(t, err, domainErrors.ErrNoActivePayment)

	_, err = f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	require.True(t, f.machine.HandleStatus(testutil.QRStatus("qr", nil)))

	require.NoError(t, f.machine.ExpirePayment(context.Background()))
	assert.Equal(t, payment.StatePaymentTimeout, f.machine.State())
	assert.Equal(t, 1, term.Cancels())
}

func TestCancelPayment(t *testing.T) {
	term := testutil.NewMockTerminal()
	f := newFixture(t, term, manual())

	f.machine.CancelPayment(context.Background())
	assert.Equal(t, 0, term.Cancels(), "nothing to cancel when idle")

	_, err := f.machine.Start(context.Background(), creditSelection)
	require.NoError(t, err)

	f.machine.CancelPayment(context.Background())
	assert.Equal(t, payment.StateIdle, f.machine.State())
	assert.Equal(t, 1, term.Cancels())
}

func TestCancelPayment_ConcurrentCallsShareCancel(t *testing.T) {
	release := make(chan struct{})
	term := testutil.NewMockTerminal()
	term.CancelFunc = func(ctx context.Context) { <-release }
	f := newFixture(t, term, manual(), service.WithCancelTimeout(time.Second))

	_, err := f.machine.Start(context.Background(), creditSelection)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); f.machine.CancelPayment(context.Background()) }()
	require.Eventually(t, func() bool { return term.Cancels() == 1 }, eventually, tick)
	go func() { defer wg.Done(); f.machine.CancelPayment(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, term.Cancels())
	assert.Equal(t, payment.StateIdle, f.machine.State())
}

func TestStart_SupersededByReset(t *testing.T) {
	release := make(chan struct{})
	term := testutil.NewMockTerminal()
	term.StartFunc = func(ctx context.Context, req payment.PosRequest) (payment.TransactionRef, error) {
		<-release
		return payment.TransactionRef{ID: "late"}, nil
	}
	f := newFixture(t, term, manual())

	errCh := make(chan error, 1)
	go func() {
		_, err := f.machine.Start(context.Background(), pixSelection)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return term.Starts() == 1 }, eventually, tick)

	f.machine.Reset(context.Background())
	close(release)

	err := <-errCh
	require.ErrorIs(t, err, domainErrors.ErrAttemptSuperseded)
	assert.Equal(t, payment.StateIdle, f.machine.State())
	require.Eventually(t, func() bool { return term.Cancels() == 1 }, eventually, tick)
}

func TestObserver_MayCallBackIntoMachine(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())
	f.machine.Subscribe(service.ObserverFunc(func(c service.StateChange) {
		if c.State == payment.StateSuccess {
			f.machine.Reset(context.Background())
		}
	}))

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	require.True(t, f.machine.HandleStatus(testutil.ApprovedStatus("txn", nil)))

	assert.Equal(t, []payment.State{payment.StateProcessing, payment.StateSuccess, payment.StateIdle}, f.rec.States())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())
	extra := &recorder{}
	unsubscribe := f.machine.Subscribe(extra)

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	unsubscribe()
	f.machine.Reset(context.Background())

	assert.Equal(t, []payment.State{payment.StateProcessing}, extra.States())
	assert.Len(t, f.rec.States(), 2)
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())
	assert.Equal(t, payment.StateIdle, f.machine.Snapshot().State)

	ref, err := f.machine.Start(context.Background(), creditSelection)
	require.NoError(t, err)

	snap := f.machine.Snapshot()
	assert.Equal(t, payment.StateProcessing, snap.State)
	assert.Equal(t, creditSelection, snap.Selection)
	assert.Equal(t, ref.ID, snap.TransactionID)
	assert.NotEmpty(t, snap.AttemptID)
}

func TestStart_StashFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, testutil.NewMockTerminal(), manual())
	f.stash.SaveFunc = func(ctx context.Context, amount decimal.Decimal) error {
		return errors.New("redis down")
	}

	_, err := f.machine.Start(context.Background(), pixSelection)
	require.NoError(t, err)
	assert.Equal(t, payment.StateProcessing, f.machine.State())
	assert.Equal(t, 1, f.terminal.Starts())
}
