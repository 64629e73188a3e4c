package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/posterly/order-engine/internal/core/domain"
	"github.com/posterly/order-engine/internal/port"
)

const mysqlDuplicateEntry = 1062

// MySQLStore implements port.OrderStore on database/sql. All writes of an
// order workflow go through one transaction opened by WithinTx.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id         VARCHAR(64) PRIMARY KEY,
		name       VARCHAR(255) NOT NULL,
		stock      INT NOT NULL DEFAULT 0,
		sold       INT NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		CONSTRAINT chk_stock_nonnegative CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_number     VARCHAR(64) NOT NULL,
		user_id          VARCHAR(64) NOT NULL,
		status           VARCHAR(32) NOT NULL,
		payment_method   VARCHAR(32) NOT NULL,
		payment_info     JSON NULL,
		shipping_address JSON NOT NULL,
		subtotal         DECIMAL(12,2) NOT NULL,
		shipping         DECIMAL(12,2) NOT NULL,
		total            DECIMAL(12,2) NOT NULL,
		notes            TEXT NULL,
		tracking_number  VARCHAR(128) NOT NULL DEFAULT '',
		has_custom_items BOOL NOT NULL DEFAULT FALSE,
		created_at       DATETIME(3) NOT NULL,
		updated_at       DATETIME(3) NOT NULL,
		UNIQUE KEY ux_orders_order_number (order_number),
		KEY ix_orders_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id            BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id      BIGINT NOT NULL,
		product_id    VARCHAR(64) NOT NULL,
		name          VARCHAR(255) NOT NULL,
		size          VARCHAR(32) NOT NULL DEFAULT '',
		quantity      INT NOT NULL,
		unit_price    DECIMAL(12,2) NOT NULL,
		customization JSON NULL,
		KEY ix_order_items_order (order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_status_history (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id   BIGINT NOT NULL,
		status     VARCHAR(32) NOT NULL,
		note       VARCHAR(255) NOT NULL DEFAULT '',
		changed_at DATETIME(3) NOT NULL,
		KEY ix_history_order (order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_sequence (
		id    TINYINT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`INSERT IGNORE INTO order_sequence (id, value) VALUES (1, 0)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		event_id   CHAR(36) NOT NULL,
		type       VARCHAR(64) NOT NULL,
		event_key  VARCHAR(128) NOT NULL,
		payload    JSON NOT NULL,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		sent_at    DATETIME(3) NULL,
		KEY ix_outbox_pending (sent_at, id)
	)`,
}

func (m *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, uow port.UnitOfWork) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlUnitOfWork{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", asConflict(err))
	}
	return nil
}

type mysqlUnitOfWork struct {
	tx *sql.Tx
}

func (u *mysqlUnitOfWork) ProductForUpdate(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := u.tx.QueryRowContext(ctx, `
		SELECT id, name, stock, sold, created_at, updated_at
		FROM products WHERE id = ? FOR UPDATE`, productID,
	).Scan(&p.ID, &p.Name, &p.Stock, &p.Sold, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (u *mysqlUnitOfWork) NextOrderSequence(ctx context.Context) (int64, error) {
	if _, err := u.tx.ExecContext(ctx, `
		UPDATE order_sequence SET value = LAST_INSERT_ID(value + 1) WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("advance order sequence: %w", err)
	}
	var seq int64
	if err := u.tx.QueryRowContext(ctx, `SELECT LAST_INSERT_ID()`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read order sequence: %w", err)
	}
	return seq, nil
}

func (u *mysqlUnitOfWork) InsertOrder(ctx context.Context, o *domain.Order) error {
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	payment, err := json.Marshal(o.PaymentInfo)
	if err != nil {
		return fmt.Errorf("marshal payment info: %w", err)
	}

	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO orders (order_number, user_id, status, payment_method, payment_info,
			shipping_address, subtotal, shipping, total, notes, tracking_number,
			has_custom_items, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderNumber, o.UserID, o.Status, o.PaymentMethod, payment,
		address, o.Pricing.Subtotal, o.Pricing.Shipping, o.Pricing.Total,
		o.Notes, o.TrackingNumber, o.HasCustomItems, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", asConflict(err))
	}
	o.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		var customization any
		if !it.Customization.Empty() {
			customization, err = json.Marshal(it.Customization)
			if err != nil {
				return fmt.Errorf("marshal customization: %w", err)
			}
		}
		if _, err := u.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, size, quantity, unit_price, customization)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID, it.ProductID, it.Name, it.Size, it.Quantity, it.UnitPrice, customization,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for _, h := range o.StatusHistory {
		if _, err := u.tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, status, note, changed_at)
			VALUES (?, ?, ?, ?)`,
			o.ID, h.Status, h.Note, h.ChangedAt,
		); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
	}
	return nil
}

func (u *mysqlUnitOfWork) AdjustInventory(ctx context.Context, productID string, stockDelta, soldDelta int) (int, error) {
	res, err := u.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, sold = sold + ?, updated_at = NOW(3)
		WHERE id = ? AND stock + ? >= 0`,
		stockDelta, soldDelta, productID, stockDelta,
	)
	if err != nil {
		return 0, fmt.Errorf("adjust inventory: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("adjust inventory: %w", err)
	}
	if rows == 0 {
		var one int
		err := u.tx.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ?`, productID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, &domain.ProductNotFoundError{ID: productID}
		}
		if err != nil {
			return 0, fmt.Errorf("adjust inventory: %w", err)
		}
		// The row exists but the guard refused the change: a concurrent
		// transaction consumed the stock after our validation read.
		return 0, domain.ErrTransactionConflict
	}

	var stock int
	if err := u.tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, productID).Scan(&stock); err != nil {
		return 0, fmt.Errorf("recheck stock: %w", err)
	}
	return stock, nil
}

func (u *mysqlUnitOfWork) OrderForUpdate(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return loadOrder(ctx, u.tx, orderNumber, true)
}

func (u *mysqlUnitOfWork) UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, note, trackingNumber string) error {
	res, err := u.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, tracking_number = IF(? = '', tracking_number, ?), updated_at = NOW(3)
		WHERE order_number = ?`,
		status, trackingNumber, trackingNumber, orderNumber,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if rows == 0 {
		return domain.ErrOrderNotFound
	}

	if _, err := u.tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, note, changed_at)
		SELECT id, ?, ?, NOW(3) FROM orders WHERE order_number = ?`,
		status, note, orderNumber,
	); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

func (u *mysqlUnitOfWork) InsertEvent(ctx context.Context, eventType, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := u.tx.ExecContext(ctx, `
		INSERT INTO outbox (event_id, type, event_key, payload) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), eventType, key, data,
	); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (m *MySQLStore) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return loadOrder(ctx, m.db, orderNumber, false)
}

func (m *MySQLStore) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT order_number FROM orders WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	out := make([]domain.Order, 0, len(numbers))
	for _, n := range numbers {
		o, err := loadOrder(ctx, m.db, n, false)
		if err != nil {
			return nil, err
		}
		if o != nil {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *MySQLStore) PendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, event_id, type, event_key, payload, created_at, sent_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending events: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Type, &ev.Key, &ev.Payload, &ev.CreatedAt, &ev.SentAt); err != nil {
			return nil, fmt.Errorf("pending events: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (m *MySQLStore) MarkEventSent(ctx context.Context, eventID int64) error {
	_, err := m.db.ExecContext(ctx, `UPDATE outbox SET sent_at = NOW(3) WHERE id = ?`, eventID)
	return err
}

// SeedProduct inserts or resets a product's counters. Used by tooling and
// integration tests; the catalog service owns products in production.
func (m *MySQLStore) SeedProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, name, stock, sold)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), stock = VALUES(stock), sold = VALUES(sold)`,
		p.ID, p.Name, p.Stock, p.Sold,
	)
	return err
}

func (m *MySQLStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, stock, sold, created_at, updated_at
		FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.Name, &p.Stock, &p.Sold, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadOrder(ctx context.Context, q querier, orderNumber string, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT id, order_number, user_id, status, payment_method, payment_info,
			shipping_address, subtotal, shipping, total, notes, tracking_number,
			has_custom_items, created_at, updated_at
		FROM orders WHERE order_number = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		o        domain.Order
		payment  []byte
		address  []byte
		notes    sql.NullString
		subtotal decimal.Decimal
		shipping decimal.Decimal
		total    decimal.Decimal
	)
	err := q.QueryRowContext(ctx, query, orderNumber).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentMethod, &payment,
		&address, &subtotal, &shipping, &total, &notes, &o.TrackingNumber,
		&o.HasCustomItems, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	o.Pricing = domain.Pricing{Subtotal: subtotal, Shipping: shipping, Total: total}
	o.Notes = notes.String
	if len(address) > 0 {
		if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	if len(payment) > 0 {
		if err := json.Unmarshal(payment, &o.PaymentInfo); err != nil {
			return nil, fmt.Errorf("unmarshal payment info: %w", err)
		}
	}

	items, err := loadItems(ctx, q, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	history, err := loadHistory(ctx, q, o.ID)
	if err != nil {
		return nil, err
	}
	o.StatusHistory = history

	return &o, nil
}

func loadItems(ctx context.Context, q querier, orderID int64) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, name, size, quantity, unit_price, customization
		FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var (
			it            domain.OrderItem
			customization []byte
		)
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Size, &it.Quantity, &it.UnitPrice, &customization); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if len(customization) > 0 {
			var c domain.Customization
			if err := json.Unmarshal(customization, &c); err != nil {
				return nil, fmt.Errorf("unmarshal customization: %w", err)
			}
			it.Customization = &c
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func loadHistory(ctx context.Context, q querier, orderID int64) ([]domain.StatusChange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT status, note, changed_at
		FROM order_status_history WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var history []domain.StatusChange
	for rows.Next() {
		var h domain.StatusChange
		if err := rows.Scan(&h.Status, &h.Note, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func asConflict(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return domain.ErrTransactionConflict
	}
	return err
}
