package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/posterly/order-engine/internal/core/domain"
	"github.com/posterly/order-engine/internal/port"
)

// MemoryStore implements port.OrderStore and port.CartStore in memory
// with the same transactional semantics as the MySQL adapter: a unit of
// work stages its changes on a copy of the state and the copy replaces
// the state only when the whole closure succeeds. Transactions serialize
// on one mutex, which models the row-lock serialization of InnoDB for a
// single hot product. Used by tests and local tooling.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState

	carts       map[string]*domain.Cart
	idempotency map[string]bool
}

type memoryState struct {
	products map[string]*domain.Product
	orders   map[string]*domain.Order
	events   []domain.OutboxEvent
	seq      int64
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			products: make(map[string]*domain.Product),
			orders:   make(map[string]*domain.Order),
		},
		carts:       make(map[string]*domain.Cart),
		idempotency: make(map[string]bool),
	}
}

func (m *MemoryStore) SeedProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.state.products[p.ID] = &cp
}

// Product returns a snapshot of a product's counters for assertions.
func (m *MemoryStore) Product(productID string) (domain.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productID]
	if !ok {
		return domain.Product{}, false
	}
	return *p, true
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, uow port.UnitOfWork) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.state.clone()
	if err := fn(ctx, &memoryUnitOfWork{state: &staged}); err != nil {
		return err
	}
	m.state = staged
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[orderNumber]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.state.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (m *MemoryStore) PendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutboxEvent
	for _, ev := range m.state.events {
		if ev.SentAt == nil {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkEventSent(ctx context.Context, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.events {
		if m.state.events[i].ID == eventID {
			now := time.Now().UTC()
			m.state.events[i].SentAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox event %d not found", eventID)
}

func (m *MemoryStore) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return &domain.Cart{UserID: userID}, nil
	}
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp, nil
}

func (m *MemoryStore) PutCart(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	cp.UpdatedAt = time.Now().UTC()
	m.carts[cart.UserID] = &cp
	return nil
}

func (m *MemoryStore) ClearCart(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	return nil
}

func (m *MemoryStore) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idempotency[key] {
		return false, nil
	}
	m.idempotency[key] = true
	return true, nil
}

func (m *MemoryStore) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotency, key)
	return nil
}

type memoryUnitOfWork struct {
	state *memoryState
}

func (u *memoryUnitOfWork) ProductForUpdate(ctx context.Context, productID string) (*domain.Product, error) {
	p, ok := u.state.products[productID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (u *memoryUnitOfWork) NextOrderSequence(ctx context.Context) (int64, error) {
	u.state.seq++
	return u.state.seq, nil
}

func (u *memoryUnitOfWork) InsertOrder(ctx context.Context, o *domain.Order) error {
	if _, exists := u.state.orders[o.OrderNumber]; exists {
		return domain.ErrTransactionConflict
	}
	u.state.nextID++
	o.ID = u.state.nextID
	u.state.orders[o.OrderNumber] = cloneOrder(o)
	return nil
}

func (u *memoryUnitOfWork) AdjustInventory(ctx context.Context, productID string, stockDelta, soldDelta int) (int, error) {
	p, ok := u.state.products[productID]
	if !ok {
		return 0, &domain.ProductNotFoundError{ID: productID}
	}
	if p.Stock+stockDelta < 0 {
		return 0, domain.ErrTransactionConflict
	}
	p.Stock += stockDelta
	p.Sold += soldDelta
	p.UpdatedAt = time.Now().UTC()
	return p.Stock, nil
}

func (u *memoryUnitOfWork) OrderForUpdate(ctx context.Context, orderNumber string) (*domain.Order, error) {
	o, ok := u.state.orders[orderNumber]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (u *memoryUnitOfWork) UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, note, trackingNumber string) error {
	o, ok := u.state.orders[orderNumber]
	if !ok {
		return domain.ErrOrderNotFound
	}
	now := time.Now().UTC()
	o.Status = status
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	o.StatusHistory = append(o.StatusHistory, domain.StatusChange{Status: status, Note: note, ChangedAt: now})
	o.UpdatedAt = now
	return nil
}

func (u *memoryUnitOfWork) InsertEvent(ctx context.Context, eventType, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u.state.nextID++
	u.state.events = append(u.state.events, domain.OutboxEvent{
		ID:        u.state.nextID,
		EventID:   uuid.NewString(),
		Type:      eventType,
		Key:       key,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *memoryState) clone() memoryState {
	cp := memoryState{
		products: make(map[string]*domain.Product, len(s.products)),
		orders:   make(map[string]*domain.Order, len(s.orders)),
		events:   append([]domain.OutboxEvent(nil), s.events...),
		seq:      s.seq,
		nextID:   s.nextID,
	}
	for id, p := range s.products {
		pc := *p
		cp.products[id] = &pc
	}
	for n, o := range s.orders {
		cp.orders[n] = cloneOrder(o)
	}
	return cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = make([]domain.OrderItem, len(o.Items))
	for i := range o.Items {
		cp.Items[i] = o.Items[i]
		if o.Items[i].Customization != nil {
			c := *o.Items[i].Customization
			cp.Items[i].Customization = &c
		}
	}
	cp.StatusHistory = append([]domain.StatusChange(nil), o.StatusHistory...)
	return &cp
}
