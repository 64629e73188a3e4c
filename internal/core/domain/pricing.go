package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Pricing is computed once at placement and stored verbatim. It is never
// recomputed from the items afterwards.
type Pricing struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

func (p Pricing) Validate() error {
	if p.Subtotal.IsNegative() || p.Shipping.IsNegative() {
		return fmt.Errorf("%w: negative pricing component", ErrInvalidInput)
	}
	if !p.Subtotal.Add(p.Shipping).Equal(p.Total) {
		return fmt.Errorf("%w: subtotal %s + shipping %s != total %s",
			ErrPricingMismatch, p.Subtotal, p.Shipping, p.Total)
	}
	return nil
}
