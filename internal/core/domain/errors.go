package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrPricingMismatch     = errors.New("pricing breakdown does not add up")
	ErrInvalidInput        = errors.New("invalid input")
)

// InsufficientStockError names the product and both quantities so the
// storefront can render an actionable message.
type InsufficientStockError struct {
	Product   string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d",
		e.Product, e.Requested, e.Available)
}

type ProductNotFoundError struct {
	ID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %q not found", e.ID)
}

type InvalidStateTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %q to %q", e.From, e.To)
}
