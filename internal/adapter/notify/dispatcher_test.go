package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/posterly/order-engine/internal/adapter/storage"
	"github.com/posterly/order-engine/internal/core/domain"
	"github.com/posterly/order-engine/internal/port"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages [][]byte
	keys     []string
	failing  bool
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, key)
	p.messages = append(p.messages, payload)
	return nil
}

func insertEvent(t *testing.T, store *storage.MemoryStore, eventType, key string) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, uow port.UnitOfWork) error {
		return uow.InsertEvent(ctx, eventType, key, map[string]any{"orderNumber": key})
	})
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func TestFlush_PublishesAndMarksSent(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, nil, time.Second, 100)

	insertEvent(t, store, domain.EventOrderCreated, "ORD-1-1")
	insertEvent(t, store, domain.EventOrderCancelled, "ORD-1-2")

	if sent := d.Flush(context.Background()); sent != 2 {
		t.Fatalf("expected 2 events sent, got %d", sent)
	}
	if len(pub.keys) != 2 || pub.keys[0] != "ORD-1-1" || pub.keys[1] != "ORD-1-2" {
		t.Errorf("unexpected keys: %v", pub.keys)
	}

	var env envelope
	if err := json.Unmarshal(pub.messages[0], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != domain.EventOrderCreated || env.EventID == "" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	// Everything is marked sent; a second flush delivers nothing.
	if sent := d.Flush(context.Background()); sent != 0 {
		t.Errorf("expected no events on second flush, got %d", sent)
	}
}

func TestFlush_FailureKeepsEventPending(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := &recordingPublisher{failing: true}
	d := NewDispatcher(store, pub, nil, time.Second, 100)

	insertEvent(t, store, domain.EventOrderCreated, "ORD-1-1")

	if sent := d.Flush(context.Background()); sent != 0 {
		t.Fatalf("expected no events sent, got %d", sent)
	}

	pending, err := store.PendingEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending events: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected event to stay pending, got %d pending", len(pending))
	}

	// The broker recovers and the event goes out on the next tick.
	pub.mu.Lock()
	pub.failing = false
	pub.mu.Unlock()
	if sent := d.Flush(context.Background()); sent != 1 {
		t.Errorf("expected 1 event after recovery, got %d", sent)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := storage.NewMemoryStore()
	d := NewDispatcher(store, &recordingPublisher{}, nil, 10*time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on context cancel")
	}
}
