package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/posterly/order-engine/internal/core/domain"
	"github.com/posterly/order-engine/internal/port"
	"github.com/posterly/order-engine/pkg/logging"
	"github.com/posterly/order-engine/pkg/metrics"
)

// Dispatcher drains the transactional outbox: committed order facts are
// delivered to the notification topic after the fact, so delivery failure
// can never roll back or block an order that was already returned to the
// caller. An undeliverable event simply stays pending for the next tick.
type Dispatcher struct {
	store     port.OrderStore
	publisher port.Publisher
	metrics   *metrics.OrderMetrics
	interval  time.Duration
	batchSize int
}

func NewDispatcher(store port.OrderStore, publisher port.Publisher, m *metrics.OrderMetrics, interval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		metrics:   m,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Flush(ctx)
		}
	}
}

type envelope struct {
	EventID   string          `json:"eventId"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// Flush publishes pending events in insertion order and returns how many
// were delivered. Delivery stops at the first failure to preserve per-key
// ordering on the topic.
func (d *Dispatcher) Flush(ctx context.Context) int {
	events, err := d.store.PendingEvents(ctx, d.batchSize)
	if err != nil {
		logging.Log(logging.Fields{
			Component: "outbox_dispatcher",
			Message:   "fetch pending events failed",
			Err:       err.Error(),
		})
		return 0
	}

	sent := 0
	for _, ev := range events {
		if err := d.deliver(ctx, ev); err != nil {
			logging.Log(logging.Fields{
				Component: "outbox_dispatcher",
				EventID:   ev.EventID,
				Message:   "publish failed, event stays pending",
				Err:       err.Error(),
			})
			break
		}
		sent++
		if d.metrics != nil {
			d.metrics.EventsPublished.Inc()
		}
	}
	return sent
}

func (d *Dispatcher) deliver(ctx context.Context, ev domain.OutboxEvent) error {
	data, err := json.Marshal(envelope{
		EventID:   ev.EventID,
		Type:      ev.Type,
		CreatedAt: ev.CreatedAt,
		Payload:   ev.Payload,
	})
	if err != nil {
		return err
	}
	if err := d.publisher.Publish(ctx, ev.Key, data); err != nil {
		return err
	}
	return d.store.MarkEventSent(ctx, ev.ID)
}
