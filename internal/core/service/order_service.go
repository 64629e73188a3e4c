package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/posterly/order-engine/internal/core/domain"
	"github.com/posterly/order-engine/internal/port"
	"github.com/posterly/order-engine/pkg/logging"
	"github.com/posterly/order-engine/pkg/metrics"
)

const orderNumberPrefix = "ORD"

// OrderService runs the order placement and compensation workflows. All
// correctness-critical steps of a request happen inside one unit of work;
// cart clearing and notifications run after commit.
type OrderService struct {
	store   port.OrderStore
	carts   port.CartStore
	metrics *metrics.OrderMetrics
}

func NewOrderService(store port.OrderStore, carts port.CartStore, m *metrics.OrderMetrics) *OrderService {
	return &OrderService{store: store, carts: carts, metrics: m}
}

type PlaceOrderInput struct {
	Items           []ItemInput
	ShippingAddress domain.Address
	PaymentMethod   string
	PaymentInfo     domain.PaymentInfo
	Pricing         domain.Pricing
	Notes           string
	IdempotencyKey  string
}

type ItemInput struct {
	ProductID     string
	Quantity      int
	Size          string
	UnitPrice     decimal.Decimal
	Customization *domain.Customization
}

// PlaceOrder validates stock, builds the order, decrements inventory and
// records the outbox event inside one transaction, then clears the cart.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, in PlaceOrderInput) (*domain.Order, error) {
	if err := s.validateInput(userID, in); err != nil {
		return nil, err
	}

	var idemKey string
	if in.IdempotencyKey != "" {
		idemKey = fmt.Sprintf("order:%s:%s", userID, in.IdempotencyKey)
		ok, err := s.carts.SetIdempotency(ctx, idemKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
	}

	var order *domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		items, err := s.validateStock(ctx, uow, in.Items)
		if err != nil {
			return err
		}

		order, err = s.buildOrder(ctx, uow, userID, in, items)
		if err != nil {
			return err
		}

		if err := s.decrementInventory(ctx, uow, items); err != nil {
			return err
		}

		return uow.InsertEvent(ctx, domain.EventOrderCreated, order.OrderNumber, map[string]any{
			"orderNumber": order.OrderNumber,
			"userId":      order.UserID,
			"status":      order.Status,
			"total":       order.Pricing.Total,
		})
	})
	if err != nil {
		// An aborted attempt consumed nothing, so the key must not block a
		// retry: insufficient stock and write conflicts are both retryable.
		if idemKey != "" {
			if relErr := s.carts.ReleaseIdempotency(ctx, idemKey); relErr != nil {
				logging.Log(logging.Fields{
					Component: "order_service",
					UserID:    userID,
					Message:   "idempotency key release failed",
					Err:       relErr.Error(),
				})
			}
		}
		s.countFailure(err)
		return nil, err
	}

	// The order is durable; a stale cart is harmless, so a failure here is
	// logged and swallowed.
	if err := s.carts.ClearCart(ctx, userID); err != nil {
		logging.Log(logging.Fields{
			Component:   "order_service",
			OrderNumber: order.OrderNumber,
			UserID:      userID,
			Message:     "cart clear failed after commit",
			Err:         err.Error(),
		})
	}

	if s.metrics != nil {
		s.metrics.OrdersCreated.Inc()
	}
	return order, nil
}

// validateStock is the first phase: every line item is checked against the
// row-locked product inside the transaction, so a concurrent order cannot
// pass validation against stock this transaction is about to consume.
func (s *OrderService) validateStock(ctx context.Context, uow port.UnitOfWork, inputs []ItemInput) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		p, err := uow.ProductForUpdate(ctx, in.ProductID)
		if err != nil {
			return nil, fmt.Errorf("read product %s: %w", in.ProductID, err)
		}
		if p == nil {
			return nil, &domain.ProductNotFoundError{ID: in.ProductID}
		}
		if in.Quantity > p.Stock {
			return nil, &domain.InsufficientStockError{
				Product:   p.Name,
				Available: p.Stock,
				Requested: in.Quantity,
			}
		}
		items = append(items, domain.OrderItem{
			ProductID:     p.ID,
			Name:          p.Name,
			Size:          in.Size,
			Quantity:      in.Quantity,
			UnitPrice:     in.UnitPrice,
			Customization: in.Customization,
		})
	}
	return items, nil
}

// buildOrder assembles and persists the aggregate. Any item carrying a
// customization payload forces the order into admin review; there are no
// exceptions to that rule.
func (s *OrderService) buildOrder(ctx context.Context, uow port.UnitOfWork, userID string, in PlaceOrderInput, items []domain.OrderItem) (*domain.Order, error) {
	seq, err := uow.NextOrderSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("next order sequence: %w", err)
	}
	now := time.Now().UTC()

	order := &domain.Order{
		OrderNumber:     fmt.Sprintf("%s-%d-%d", orderNumberPrefix, now.UnixMilli(), seq),
		UserID:          userID,
		Items:           items,
		Pricing:         in.Pricing,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		PaymentInfo:     in.PaymentInfo,
		Notes:           in.Notes,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.HasCustomItems = order.HasCustomization()
	if order.HasCustomItems {
		order.Status = domain.OrderStatusPendingAdmin
	}
	order.StatusHistory = []domain.StatusChange{{
		Status:    order.Status,
		Note:      "order placed",
		ChangedAt: now,
	}}

	if err := uow.InsertOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// decrementInventory applies stock -= qty, sold += qty per item in list
// order. A zero-row update after validation passed means a concurrent
// transaction consumed the stock first; the negative recheck is
// belt-and-suspenders on top of the guarded update.
func (s *OrderService) decrementInventory(ctx context.Context, uow port.UnitOfWork, items []domain.OrderItem) error {
	for i := range items {
		newStock, err := uow.AdjustInventory(ctx, items[i].ProductID, -items[i].Quantity, items[i].Quantity)
		if err != nil {
			return err
		}
		if newStock < 0 {
			return fmt.Errorf("stock for %s went negative after decrement: %w",
				items[i].ProductID, domain.ErrTransactionConflict)
		}
	}
	return nil
}

// UpdateStatus is the admin path. Moving into cancelled or rejected
// triggers compensation in the same transaction as the status write.
func (s *OrderService) UpdateStatus(ctx context.Context, orderNumber string, next domain.OrderStatus, note, trackingNumber string) (*domain.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, next)
	}

	var order *domain.Order
	var compensated bool
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		o, err := uow.OrderForUpdate(ctx, orderNumber)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.ErrOrderNotFound
		}
		if o.Status == next {
			// Re-applying the current status is a no-op, never a second
			// compensation.
			order = o
			return nil
		}
		if !domain.CanTransition(o.Status, next) {
			return &domain.InvalidStateTransitionError{From: o.Status, To: next}
		}

		if next.Compensated() {
			if err := s.restoreInventory(ctx, uow, o); err != nil {
				return err
			}
			compensated = true
		}

		if err := uow.UpdateOrderStatus(ctx, orderNumber, next, note, trackingNumber); err != nil {
			return err
		}
		order = s.applyStatus(o, next, note, trackingNumber)

		return uow.InsertEvent(ctx, eventTypeFor(next), orderNumber, map[string]any{
			"orderNumber": orderNumber,
			"userId":      o.UserID,
			"status":      next,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil && compensated {
		s.metrics.OrdersCompensated.WithLabelValues(string(next)).Inc()
	}
	return order, nil
}

// CancelOrder is the owner path. Only the owning user may cancel, and only
// while the order is still pending; cancelling an already-cancelled order
// is a no-op.
func (s *OrderService) CancelOrder(ctx context.Context, orderNumber, userID string) (*domain.Order, error) {
	var order *domain.Order
	var compensated bool
	err := s.store.WithinTx(ctx, func(ctx context.Context, uow port.UnitOfWork) error {
		o, err := uow.OrderForUpdate(ctx, orderNumber)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.ErrOrderNotFound
		}
		if o.UserID != userID {
			return domain.ErrNotAuthorized
		}
		if o.Status == domain.OrderStatusCancelled {
			order = o
			return nil
		}
		if !o.Status.UserCancellable() {
			return &domain.InvalidStateTransitionError{From: o.Status, To: domain.OrderStatusCancelled}
		}

		if err := s.restoreInventory(ctx, uow, o); err != nil {
			return err
		}
		if err := uow.UpdateOrderStatus(ctx, orderNumber, domain.OrderStatusCancelled, "cancelled by customer", ""); err != nil {
			return err
		}
		order = s.applyStatus(o, domain.OrderStatusCancelled, "cancelled by customer", "")
		compensated = true

		return uow.InsertEvent(ctx, domain.EventOrderCancelled, orderNumber, map[string]any{
			"orderNumber": orderNumber,
			"userId":      o.UserID,
			"status":      domain.OrderStatusCancelled,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil && compensated {
		s.metrics.OrdersCompensated.WithLabelValues(string(domain.OrderStatusCancelled)).Inc()
	}
	return order, nil
}

// restoreInventory reverses the placement-time mutation for every item.
// Any failure aborts the whole compensation, leaving the order in its
// prior status.
func (s *OrderService) restoreInventory(ctx context.Context, uow port.UnitOfWork, o *domain.Order) error {
	for i := range o.Items {
		if _, err := uow.AdjustInventory(ctx, o.Items[i].ProductID, o.Items[i].Quantity, -o.Items[i].Quantity); err != nil {
			return fmt.Errorf("restore stock for %s: %w", o.Items[i].ProductID, err)
		}
	}
	return nil
}

// GetOrder enforces that only the owner or an admin can read an order.
func (s *OrderService) GetOrder(ctx context.Context, orderNumber, userID string, admin bool) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, domain.ErrOrderNotFound
	}
	if !admin && o.UserID != userID {
		return nil, domain.ErrNotAuthorized
	}
	return o, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}

func (s *OrderService) validateInput(userID string, in PlaceOrderInput) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user id", domain.ErrInvalidInput)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order has no items", domain.ErrInvalidInput)
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: item missing product id", domain.ErrInvalidInput)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidInput)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: negative unit price", domain.ErrInvalidInput)
		}
	}
	return in.Pricing.Validate()
}

func (s *OrderService) applyStatus(o *domain.Order, next domain.OrderStatus, note, trackingNumber string) *domain.Order {
	now := time.Now().UTC()
	o.Status = next
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	o.StatusHistory = append(o.StatusHistory, domain.StatusChange{Status: next, Note: note, ChangedAt: now})
	o.UpdatedAt = now
	return o
}

func (s *OrderService) countFailure(err error) {
	if s.metrics == nil {
		return
	}
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		s.metrics.StockRejections.Inc()
	case errors.Is(err, domain.ErrTransactionConflict):
		s.metrics.StockConflicts.Inc()
	}
}

func eventTypeFor(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusCancelled:
		return domain.EventOrderCancelled
	case domain.OrderStatusRejected:
		return domain.EventOrderRejected
	default:
		return domain.EventOrderStatusChanged
	}
}
