package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/infrastructure/backend"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/cassiomorais/kioskpos/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMachine struct {
	mu       sync.Mutex
	snap     service.Snapshot
	startErr error
	expErr   error
	retryOK  bool

	started  []payment.Selection
	statuses []payment.TerminalStatus
	cancels  int
	resets   int
}

func (m *fakeMachine) Start(ctx context.Context, sel payment.Selection) (payment.TransactionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, sel)
	if m.startErr != nil {
		return payment.TransactionRef{}, m.startErr
	}
	m.snap = service.Snapshot{State: payment.StateProcessing, AttemptID: "att-1", Selection: sel}
	return payment.TransactionRef{ID: "txn-1"}, nil
}

func (m *fakeMachine) Snapshot() service.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *fakeMachine) HandleStatus(status payment.TerminalStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return m.snap.State.IsActive()
}

func (m *fakeMachine) CancelPayment(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	m.snap = service.Snapshot{State: payment.StateIdle}
}

func (m *fakeMachine) ExpirePayment(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expErr != nil {
		return m.expErr
	}
	m.snap.State = payment.StatePaymentTimeout
	return nil
}

func (m *fakeMachine) RetryPayment() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retryOK {
		m.snap.State = payment.StateIdle
	}
	return m.retryOK
}

func (m *fakeMachine) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.snap = service.Snapshot{State: payment.StateIdle}
}

type fakeCheckout struct {
	checkout backend.Checkout
	err      error
}

func (f fakeCheckout) Checkout(ctx context.Context) (backend.Checkout, error) {
	return f.checkout, f.err
}

func newPaymentRouter(m *fakeMachine, source service.CheckoutSource) http.Handler {
	disp := service.NewDispatcher(testutil.NewMockCart("10.00"), nil)
	catalog := service.NewMethodCatalog(source, nil, zerolog.Nop())
	h := NewPaymentController(m, disp, catalog)

	r := chi.NewRouter()
	r.Get("/payment/methods", h.ListMethods)
	r.Post("/payment", h.StartPayment)
	r.Get("/payment", h.GetPayment)
	r.Post("/payment/status", h.PushStatus)
	r.Post("/payment/cancel", h.CancelPayment)
	r.Post("/payment/expire", h.ExpirePayment)
	r.Post("/payment/retry", h.RetryPayment)
	r.Post("/payment/reset", h.ResetPayment)
	r.Get("/payment/qrcode.png", h.QRCode)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStartPayment_Accepted(t *testing.T) {
	m := &fakeMachine{}
	w := do(t, newPaymentRouter(m, nil), http.MethodPost, "/payment", `{"selection":"pix"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp StartPaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "txn-1", resp.TransactionID)
	assert.Equal(t, "att-1", resp.AttemptID)
	assert.Equal(t, payment.StateProcessing, resp.State)
	assert.Equal(t, []payment.Selection{"pix"}, m.started)
}

func TestStartPayment_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		startErr   error
		wantStatus int
		wantCode   string
	}{
		{"missing selection", `{}`, nil, http.StatusBadRequest, "validation_error"},
		{"unsupported", `{"selection":"crypto"}`, &domainErrors.UnsupportedPaymentMethodError{Selection: "crypto"}, http.StatusBadRequest, "unsupported_payment_method"},
		{"in progress", `{"selection":"pix"}`, domainErrors.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
		{"terminal down", `{"selection":"pix"}`, domainErrors.ErrTerminalUnreachable, http.StatusServiceUnavailable, "terminal_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMachine{startErr: tt.startErr}
			w := do(t, newPaymentRouter(m, nil), http.MethodPost, "/payment", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestGetPayment_ReportsSnapshot(t *testing.T) {
	amount := testutil.Dec("42.50")
	m := &fakeMachine{snap: service.Snapshot{
		State:         payment.StateSuccess,
		AttemptID:     "att-9",
		Selection:     "pix",
		Request:       payment.PosRequest{Broker: payment.BrokerMercadoPago, Method: payment.MethodPix},
		TransactionID: "txn-9",
		Data:          service.StateData{TransactionID: "txn-9", Amount: amount},
	}}
	w := do(t, newPaymentRouter(m, nil), http.MethodGet, "/payment", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp PaymentStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, payment.StateSuccess, resp.State)
	assert.Equal(t, "txn-9", resp.TransactionID)
	assert.Equal(t, "MERCADOPAGO", resp.Broker)
	require.NotNil(t, resp.Data.Amount)
	assert.True(t, amount.Equal(*resp.Data.Amount))
	assert.True(t, resp.Retry.CanRetry)
	assert.Equal(t, payment.DefaultMaxRetries, resp.Retry.Max)
}

func TestPushStatus(t *testing.T) {
	m := &fakeMachine{snap: service.Snapshot{State: payment.StateWait}}
	h := newPaymentRouter(m, nil)

	w := do(t, h, http.MethodPost, "/payment/status",
		`{"action":"RELEASE","status":"PAYMENT_APPROVED","broker":"MERCADOPAGO","transactionId":"t-1","amount":"12.30"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["accepted"])

	require.Len(t, m.statuses, 1)
	got := m.statuses[0]
	assert.True(t, got.Approved())
	assert.Equal(t, payment.BrokerMercadoPago, got.Broker)
	require.NotNil(t, got.Amount)
	assert.Equal(t, "12.3", got.Amount.String())

	w = do(t, h, http.MethodPost, "/payment/status", `{"action":"PANIC"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, m.statuses, 1)
}

func TestCancelAndReset(t *testing.T) {
	m := &fakeMachine{snap: service.Snapshot{State: payment.StateWait}}
	h := newPaymentRouter(m, nil)

	w := do(t, h, http.MethodPost, "/payment/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, m.cancels)

	w = do(t, h, http.MethodPost, "/payment/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, m.resets)

	var resp PaymentStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, payment.StateIdle, resp.State)
}

func TestExpirePayment(t *testing.T) {
	m := &fakeMachine{snap: service.Snapshot{State: payment.StateWait}}
	w := do(t, newPaymentRouter(m, nil), http.MethodPost, "/payment/expire", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payment.StatePaymentTimeout, m.Snapshot().State)

	m = &fakeMachine{expErr: domainErrors.ErrNoActivePayment}
	w = do(t, newPaymentRouter(m, nil), http.MethodPost, "/payment/expire", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRetryPayment(t *testing.T) {
	m := &fakeMachine{snap: service.Snapshot{State: payment.StateRetry}, retryOK: true}
	w := do(t, newPaymentRouter(m, nil), http.MethodPost, "/payment/retry", "")
	assert.Equal(t, http.StatusOK, w.Code)

	m = &fakeMachine{}
	w = do(t, newPaymentRouter(m, nil), http.MethodPost, "/payment/retry", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestQRCode(t *testing.T) {
	m := &fakeMachine{snap: service.Snapshot{
		State: payment.StateShowQRCode,
		Data:  service.StateData{QRCodeSource: "00020126580014br.gov.bcb.pix"},
	}}
	w := do(t, newPaymentRouter(m, nil), http.MethodGet, "/payment/qrcode.png?size=200", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
}

func TestQRCode_NotShowing(t *testing.T) {
	m := &fakeMachine{snap: service.Snapshot{State: payment.StateWait}}
	w := do(t, newPaymentRouter(m, nil), http.MethodGet, "/payment/qrcode.png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	m = &fakeMachine{snap: service.Snapshot{State: payment.StateShowQRCode, Data: service.StateData{QRCodeSource: "x"}}}
	w = do(t, newPaymentRouter(m, nil), http.MethodGet, "/payment/qrcode.png?size=big", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMethods(t *testing.T) {
	source := fakeCheckout{checkout: backend.Checkout{
		Timestamp: "2026-10-19T10:00:00Z",
		Brokers: []backend.BrokerAvailability{
			{Broker: "MERCADOPAGO", Available: true, Methods: []string{"pix"}},
		},
	}}
	w := do(t, newPaymentRouter(&fakeMachine{}, source), http.MethodGet, "/payment/methods", "")

	require.Equal(t, http.StatusOK, w.Code)
	var list service.MethodList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, service.SourceBackend, list.Source)
	require.Len(t, list.Methods, 1)
	assert.Equal(t, payment.Selection("MERCADOPAGO-pix"), list.Methods[0].Selection)
}

func TestListMethods_Fallback(t *testing.T) {
	source := fakeCheckout{err: errors.New("backend down")}
	w := do(t, newPaymentRouter(&fakeMachine{}, source), http.MethodGet, "/payment/methods", "")

	require.Equal(t, http.StatusOK, w.Code)
	var list service.MethodList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, service.SourceFallback, list.Source)
	assert.Len(t, list.Methods, len(payment.DefaultMethodTable().Options()))
}
