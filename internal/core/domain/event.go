package domain

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderCancelled     = "order.cancelled"
	EventOrderRejected      = "order.rejected"
	EventOrderStatusChanged = "order.status_changed"
)

// OutboxEvent is a durable fact recorded in the same transaction as the
// order mutation it describes. A dispatcher delivers it after commit;
// delivery failure never affects the committed order.
type OutboxEvent struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	SentAt    *time.Time      `json:"sentAt,omitempty"`
}
