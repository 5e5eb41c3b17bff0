package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	paymentPath = "/payment"
	statusPath  = "/payment/status"
)

// HTTPTerminal talks to the PoS terminal API over HTTP. It never retries.
type HTTPTerminal struct {
	client *resty.Client
	logger zerolog.Logger
	now    func() time.Time
}

type HTTPTerminalOption func(*HTTPTerminal)

func WithHTTPTimeout(d time.Duration) HTTPTerminalOption {
	return func(t *HTTPTerminal) { t.client.SetTimeout(d) }
}

// WithTransport replaces the round tripper, e.g. with an otelhttp transport.
func WithTransport(rt http.RoundTripper) HTTPTerminalOption {
	return func(t *HTTPTerminal) { t.client.SetTransport(rt) }
}

func WithTerminalLogger(l zerolog.Logger) HTTPTerminalOption {
	return func(t *HTTPTerminal) { t.logger = l }
}

func WithClock(now func() time.Time) HTTPTerminalOption {
	return func(t *HTTPTerminal) { t.now = now }
}

func NewHTTPTerminal(baseURL string, opts ...HTTPTerminalOption) *HTTPTerminal {
	t := &HTTPTerminal{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5*time.Second).
			SetHeader("Accept", "application/json"),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *HTTPTerminal) Start(ctx context.Context, req payment.PosRequest) (payment.TransactionRef, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(paymentPath)
	if err != nil {
		return payment.TransactionRef{}, fmt.Errorf("%w: start payment: %v", domainErrors.ErrTerminalUnreachable, err)
	}
	if !resp.IsSuccess() {
		return payment.TransactionRef{}, &domainErrors.TerminalRejectedError{
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
		}
	}

	var body startResponse
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			t.logger.Warn().Err(err).Msg("terminal start response is not JSON, using generated transaction id")
		}
	}
	return body.ref(t.fallbackID), nil
}

func (t *HTTPTerminal) Poll(ctx context.Context) (payment.TerminalStatus, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		Get(statusPath)
	if err != nil {
		return payment.TerminalStatus{}, fmt.Errorf("%w: poll status: %v", domainErrors.ErrTerminalUnreachable, err)
	}
	if !resp.IsSuccess() {
		return payment.TerminalStatus{}, fmt.Errorf("%w: poll status: HTTP %d", domainErrors.ErrTerminalUnreachable, resp.StatusCode())
	}

	var status payment.TerminalStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return payment.TerminalStatus{}, fmt.Errorf("%w: decode status: %v", domainErrors.ErrPollingTransient, err)
	}
	return status, nil
}

func (t *HTTPTerminal) Cancel(ctx context.Context) {
	resp, err := t.client.R().
		SetContext(ctx).
		Delete(paymentPath)
	if err != nil {
		t.logger.Warn().Err(err).Msg("terminal cancel failed")
		return
	}
	if !resp.IsSuccess() {
		t.logger.Warn().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("terminal cancel rejected")
	}
}

func (t *HTTPTerminal) fallbackID() string {
	return fmt.Sprintf("pos-%d", t.now().UnixMilli())
}
