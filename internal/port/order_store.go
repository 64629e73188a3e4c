package port

import (
	"context"

	"github.com/posterly/order-engine/internal/core/domain"
)

// UnitOfWork is the explicit transactional handle threaded through the
// order workflow. Everything called on it is committed or aborted as a
// whole by WithinTx.
type UnitOfWork interface {
	// ProductForUpdate reads a product inside the transaction, locking the
	// row so the later inventory adjustment cannot race a concurrent order.
	// Returns nil when the product does not exist.
	ProductForUpdate(ctx context.Context, productID string) (*domain.Product, error)

	// NextOrderSequence returns a strictly increasing counter value.
	NextOrderSequence(ctx context.Context) (int64, error)

	// InsertOrder persists the aggregate (order, items, initial history).
	// A duplicate order number maps to domain.ErrTransactionConflict.
	InsertOrder(ctx context.Context, order *domain.Order) error

	// AdjustInventory atomically applies stock += stockDelta, sold += soldDelta,
	// refusing any change that would drive stock negative. It returns the
	// resulting stock so the caller can re-check it.
	AdjustInventory(ctx context.Context, productID string, stockDelta, soldDelta int) (int, error)

	// OrderForUpdate loads the full aggregate inside the transaction,
	// locking the order row. Returns nil when no such order exists.
	OrderForUpdate(ctx context.Context, orderNumber string) (*domain.Order, error)

	// UpdateOrderStatus writes the new status (and tracking number when
	// non-empty) and appends a history entry.
	UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, note, trackingNumber string) error

	// InsertEvent records an outbox event in the same transaction.
	InsertEvent(ctx context.Context, eventType, key string, payload any) error
}

// OrderStore is the persistence boundary of the order engine.
type OrderStore interface {
	// WithinTx runs fn inside one transaction. fn returning an error aborts
	// everything; otherwise the transaction commits. This is the single
	// commit/abort decision point of the workflow.
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error

	GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)

	// PendingEvents returns undelivered outbox events, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkEventSent(ctx context.Context, eventID int64) error
}
