package payment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cassiomorais/kioskpos/internal/domain/errors"
)

// Display holds the UI labels of a broker/method pair.
type Display struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Option is one startable method of the table, with its display labels.
type Option struct {
	Request PosRequest
	Display Display
}

// MethodTable maps UI selections onto terminal requests. It is immutable once built.
type MethodTable struct {
	allowed map[PosRequest]Display
	legacy  map[string]PosRequest
	order   []PosRequest
}

// Map translates a selection into a terminal request
func (t *MethodTable) Map(sel Selection) (PosRequest, error) {
	raw := string(sel)
	if broker, method, ok := strings.Cut(raw, "-"); ok {
		req := PosRequest{Broker: Broker(broker), Method: Method(method)}
		if _, known := t.allowed[req]; known {
			return req, nil
		}
		return PosRequest{}, &errors.UnsupportedPaymentMethodError{Selection: raw}
	}

	if req, ok := t.legacy[raw]; ok {
		return req, nil
	}
	return PosRequest{}, &errors.UnsupportedPaymentMethodError{Selection: raw}
}

// Display returns the labels of an allowed pair.
func (t *MethodTable) Display(req PosRequest) (Display, bool) {
	d, ok := t.allowed[req]
	return d, ok
}

// Options lists the allowed pairs in registration order.
func (t *MethodTable) Options() []Option {
	out := make([]Option, 0, len(t.order))
	for _, req := range t.order {
		out = append(out, Option{Request: req, Display: t.allowed[req]})
	}
	return out
}

// LegacyTokens returns the registered bare tokens, sorted.
func (t *MethodTable) LegacyTokens() []string {
	tokens := make([]string, 0, len(t.legacy))
	for tok := range t.legacy {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

// MethodTableBuilder collects registrations before the table is frozen.
type MethodTableBuilder struct {
	allowed map[PosRequest]Display
	legacy  map[string]PosRequest
	order   []PosRequest
	errs    []error
}

// NewMethodTableBuilder creates an empty builder
func NewMethodTableBuilder() *MethodTableBuilder {
	return &MethodTableBuilder{
		allowed: make(map[PosRequest]Display),
		legacy:  make(map[string]PosRequest),
	}
}

// Allow registers a startable broker/method pair.
func (b *MethodTableBuilder) Allow(broker Broker, method Method, display Display) *MethodTableBuilder {
	switch {
	case broker == "" || method == "":
		b.errs = append(b.errs, errors.NewValidationError("method_table", "broker and method are required"))
		return b
	case strings.Contains(string(broker), "-") || strings.Contains(string(method), "-"):
		b.errs = append(b.errs, errors.NewValidationError("method_table",
			fmt.Sprintf("%s/%s must not contain the selection separator", broker, method)))
		return b
	}

	req := PosRequest{Broker: broker, Method: method}
	if _, dup := b.allowed[req]; !dup {
		b.order = append(b.order, req)
	}
	b.allowed[req] = display
	return b
}

// Legacy maps a bare token onto a pair.
func (b *MethodTableBuilder) Legacy(token string, broker Broker, method Method) *MethodTableBuilder {
	if token == "" || strings.Contains(token, "-") {
		b.errs = append(b.errs, errors.NewValidationError("method_table",
			fmt.Sprintf("invalid legacy token %q", token)))
		return b
	}
	b.legacy[token] = PosRequest{Broker: broker, Method: method}
	return b
}

// Build validates the registrations and returns the frozen table.
func (b *MethodTableBuilder) Build() (*MethodTable, error) {
	for tok, req := range b.legacy {
		if _, ok := b.allowed[req]; !ok {
			b.errs = append(b.errs, errors.NewValidationError("method_table",
				fmt.Sprintf("legacy token %q targets unregistered pair %s", tok, req.Selection())))
		}
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %v", errors.ErrValidationFailed, b.errs[0])
	}

	t := &MethodTable{
		allowed: make(map[PosRequest]Display, len(b.allowed)),
		legacy:  make(map[string]PosRequest, len(b.legacy)),
		order:   append([]PosRequest(nil), b.order...),
	}
	for k, v := range b.allowed {
		t.allowed[k] = v
	}
	for k, v := range b.legacy {
		t.legacy[k] = v
	}
	return t, nil
}

// DefaultMethodTable returns the kiosk's built-in table.
func DefaultMethodTable() *MethodTable {
	t, err := NewMethodTableBuilder().
		Allow(BrokerMercadoPago, MethodPix, Display{Name: "PIX", Description: "Pagamento instantâneo via QR Code", Icon: "qr-code"}).
		Allow(BrokerMercadoPagoPinpad, MethodCredit, Display{Name: "Cartão de Crédito", Description: "Insira ou aproxime seu cartão", Icon: "credit-card"}).
		Allow(BrokerMercadoPagoPinpad, MethodDebit, Display{Name: "Cartão de Débito", Description: "Insira ou aproxime seu cartão", Icon: "landmark"}).
		Allow(BrokerTestPayment, MethodCredit, Display{Name: "Cartão de Crédito para Testes", Description: "Cartão de crédito para testes", Icon: "credit-card"}).
		Allow(BrokerTestPayment, MethodDebit, Display{Name: "Cartão de Débito para Testes", Description: "Cartão de débito para testes", Icon: "landmark"}).
		Legacy("credit", BrokerMercadoPagoPinpad, MethodCredit).
		Legacy("debit", BrokerMercadoPagoPinpad, MethodDebit).
		Legacy("pix", BrokerMercadoPago, MethodPix).
		Build()
	if err != nil {
		panic(err)
	}
	return t
}

// IsPix reports whether the selection pays through a PIX QR code.
func IsPix(sel Selection) bool {
	raw := string(sel)
	if _, method, ok := strings.Cut(raw, "-"); ok {
		return Method(method) == MethodPix
	}
	return raw == string(MethodPix)
}

// CardMethod extracts the card method of a selection, falling back to credit.
func CardMethod(sel Selection) Method {
	raw := string(sel)
	if _, method, ok := strings.Cut(raw, "-"); ok {
		raw = method
	}
	switch Method(raw) {
	case MethodCredit, MethodDebit:
		return Method(raw)
	}
	return MethodCredit
}

var cardBrokers = map[Broker]struct{}{
	BrokerMercadoPagoPinpad: {},
	BrokerTestPayment:       {},
}

// IsCardBroker reports whether the broker's terminal reads physical cards.
func IsCardBroker(b Broker) bool {
	_, ok := cardBrokers[b]
	return ok
}
