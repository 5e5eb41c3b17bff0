package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/skip2/go-qrcode"
)

// PaymentMachine is the payment core as used by the HTTP layer.
type PaymentMachine interface {
	Start(ctx context.Context, sel payment.Selection) (payment.TransactionRef, error)
	Snapshot() service.Snapshot
	HandleStatus(status payment.TerminalStatus) bool
	CancelPayment(ctx context.Context)
	ExpirePayment(ctx context.Context) error
	RetryPayment() bool
	Reset(ctx context.Context)
}

// PaymentController handles payment-related HTTP requests.
type PaymentController struct {
	machine    PaymentMachine
	dispatcher *service.Dispatcher
	catalog    *service.MethodCatalog
}

func NewPaymentController(
	machine PaymentMachine,
	dispatcher *service.Dispatcher,
	catalog *service.MethodCatalog,
) *PaymentController {
	return &PaymentController{
		machine:    machine,
		dispatcher: dispatcher,
		catalog:    catalog,
	}
}

// ListMethods handles GET /api/v1/payment/methods
func (h *PaymentController) ListMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.Available(r.Context()))
}

// StartPayment handles POST /api/v1/payment
func (h *PaymentController) StartPayment(w http.ResponseWriter, r *http.Request) {
	var req StartPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ref, err := h.machine.Start(r.Context(), payment.Selection(req.Selection))
	if err != nil {
		writeError(w, err)
		return
	}

	snap := h.machine.Snapshot()
	writeJSON(w, http.StatusAccepted, StartPaymentResponse{
		TransactionID: ref.ID,
		AttemptID:     snap.AttemptID,
		State:         snap.State,
	})
}

// GetPayment handles GET /api/v1/payment
func (h *PaymentController) GetPayment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// PushStatus handles POST /api/v1/payment/status
func (h *PaymentController) PushStatus(w http.ResponseWriter, r *http.Request) {
	var req TerminalStatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	accepted := h.machine.HandleStatus(req.toStatus())
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"state":    h.machine.Snapshot().State,
	})
}

// CancelPayment handles POST /api/v1/payment/cancel
func (h *PaymentController) CancelPayment(w http.ResponseWriter, r *http.Request) {
	h.machine.CancelPayment(r.Context())
	writeJSON(w, http.StatusOK, h.status())
}

// ExpirePayment handles POST /api/v1/payment/expire
func (h *PaymentController) ExpirePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.machine.ExpirePayment(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// RetryPayment handles POST /api/v1/payment/retry
func (h *PaymentController) RetryPayment(w http.ResponseWriter, r *http.Request) {
	if !h.machine.RetryPayment() {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "already at method selection", Code: "invalid_state_transition"})
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// ResetPayment handles POST /api/v1/payment/reset
func (h *PaymentController) ResetPayment(w http.ResponseWriter, r *http.Request) {
	h.machine.Reset(r.Context())
	writeJSON(w, http.StatusOK, h.status())
}

// QRCode handles GET /api/v1/payment/qrcode.png
func (h *PaymentController) QRCode(w http.ResponseWriter, r *http.Request) {
	size, err := queryInt(r, "size", 256, 128, 1024)
	if err != nil {
		writeError(w, err)
		return
	}

	snap := h.machine.Snapshot()
	if snap.State != payment.StateShowQRCode || snap.Data.QRCodeSource == "" {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no QR code to show", Code: "not_found"})
		return
	}

	png, err := qrcode.Encode(snap.Data.QRCodeSource, qrcode.Medium, size)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *PaymentController) status() *PaymentStatusResponse {
	snap := h.machine.Snapshot()
	var (
		retry  service.RetryStatus
		screen service.Screen
	)
	if h.dispatcher != nil {
		retry = h.dispatcher.RetryStatus()
		if nav, ok := h.dispatcher.Current(); ok {
			screen = nav.Screen
		}
	}
	return FromSnapshot(snap, retry, screen)
}
