package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// numericToDecimal parses a NUMERIC column selected as text. NULL maps to nil.
func numericToDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil, fmt.Errorf("empty numeric string")
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", v, err)
	}
	return &d, nil
}

// decimalToNumeric renders an amount for a NUMERIC(…, 2) parameter.
func decimalToNumeric(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}
