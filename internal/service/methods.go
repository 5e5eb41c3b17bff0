package service

import (
	"context"
	"slices"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/infrastructure/backend"
	"github.com/rs/zerolog"
)

// CheckoutSource reports which brokers the backend accepts right now.
type CheckoutSource interface {
	Checkout(ctx context.Context) (backend.Checkout, error)
}

// AvailableMethod is one selectable payment option.
type AvailableMethod struct {
	Selection   payment.Selection `json:"selection"`
	Broker      payment.Broker    `json:"broker"`
	Method      payment.Method    `json:"method"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Icon        string            `json:"icon"`
	QRCode      string            `json:"qrcode,omitempty"`
}

// MethodList is the checkout screen content.
type MethodList struct {
	Methods   []AvailableMethod `json:"methods"`
	Source    string            `json:"source"`
	Timestamp string            `json:"timestamp,omitempty"`
}

const (
	SourceBackend  = "backend"
	SourceFallback = "fallback"
)

// MethodCatalog intersects backend availability with the local method table.
type MethodCatalog struct {
	source CheckoutSource
	table  *payment.MethodTable
	logger zerolog.Logger
}

func NewMethodCatalog(source CheckoutSource, table *payment.MethodTable, logger zerolog.Logger) *MethodCatalog {
	if table == nil {
		table = payment.DefaultMethodTable()
	}
	return &MethodCatalog{source: source, table: table, logger: logger}
}

// Available lists the options a customer may pick. When the backend cannot
// be reached every locally allowed option is offered.
func (c *MethodCatalog) Available(ctx context.Context) MethodList {
	if c.source == nil {
		return c.fallback()
	}
	checkout, err := c.source.Checkout(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("checkout unavailable, offering all configured methods")
		return c.fallback()
	}

	list := MethodList{Source: SourceBackend, Timestamp: checkout.Timestamp, Methods: []AvailableMethod{}}
	for _, opt := range c.table.Options() {
		for _, b := range checkout.Brokers {
			if !b.Available || b.Broker != string(opt.Request.Broker) {
				continue
			}
			if !slices.Contains(b.Methods, string(opt.Request.Method)) {
				continue
			}
			m := toAvailable(opt)
			m.QRCode = b.QRCode
			list.Methods = append(list.Methods, m)
			break
		}
	}
	return list
}

func (c *MethodCatalog) fallback() MethodList {
	opts := c.table.Options()
	list := MethodList{Source: SourceFallback, Methods: make([]AvailableMethod, 0, len(opts))}
	for _, opt := range opts {
		list.Methods = append(list.Methods, toAvailable(opt))
	}
	return list
}

func toAvailable(opt payment.Option) AvailableMethod {
	return AvailableMethod{
		Selection:   opt.Request.Selection(),
		Broker:      opt.Request.Broker,
		Method:      opt.Request.Method,
		Name:        opt.Display.Name,
		Description: opt.Display.Description,
		Icon:        opt.Display.Icon,
	}
}
