package storage

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/posterly/order-engine/internal/core/domain"
)

func getRedisCartStore(t *testing.T) (*RedisCartStore, *redis.Client) {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisCartStore(client), client
}

func TestCartRoundTrip(t *testing.T) {
	store, client := getRedisCartStore(t)
	ctx := context.Background()

	client.Del(ctx, "cart:test-user")

	cart := &domain.Cart{
		UserID: "test-user",
		Items: []domain.CartItem{{
			ID:        "item-1",
			ProductID: "poster-1",
			Quantity:  2,
			Size:      "A3",
			Customization: &domain.Customization{
				TextOverlay: "hello",
				Status:      domain.CustomizationPending,
			},
		}},
	}
	if err := store.PutCart(ctx, cart); err != nil {
		t.Fatalf("put cart: %v", err)
	}

	got, err := store.GetCart(ctx, "test-user")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].ProductID != "poster-1" {
		t.Errorf("unexpected cart: %+v", got)
	}
	if got.Items[0].Customization == nil || got.Items[0].Customization.TextOverlay != "hello" {
		t.Errorf("customization not round-tripped: %+v", got.Items[0])
	}
}

func TestClearCart(t *testing.T) {
	store, client := getRedisCartStore(t)
	ctx := context.Background()

	client.Del(ctx, "cart:test-user")
	store.PutCart(ctx, &domain.Cart{
		UserID: "test-user",
		Items:  []domain.CartItem{{ID: "item-1", ProductID: "poster-1", Quantity: 1}},
	})

	if err := store.ClearCart(ctx, "test-user"); err != nil {
		t.Fatalf("clear cart: %v", err)
	}

	got, err := store.GetCart(ctx, "test-user")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(got.Items) != 0 {
		t.Errorf("expected empty cart, got %d items", len(got.Items))
	}
}

func TestClearCart_MissingCartIsNoOp(t *testing.T) {
	store, client := getRedisCartStore(t)
	ctx := context.Background()

	client.Del(ctx, "cart:ghost-user")
	if err := store.ClearCart(ctx, "ghost-user"); err != nil {
		t.Errorf("clearing a missing cart should succeed, got: %v", err)
	}
}

func TestSetIdempotency(t *testing.T) {
	store, client := getRedisCartStore(t)
	ctx := context.Background()

	client.Del(ctx, "idem:order:test-user:req-1")

	ok, err := store.SetIdempotency(ctx, "order:test-user:req-1")
	if err != nil {
		t.Fatalf("first set: %v", err)
	}
	if !ok {
		t.Error("expected first set to succeed")
	}

	ok, err = store.SetIdempotency(ctx, "order:test-user:req-1")
	if err != nil {
		t.Fatalf("second set: %v", err)
	}
	if ok {
		t.Error("expected second set to report duplicate")
	}

	// A released key is free again, as after an aborted placement.
	if err := store.ReleaseIdempotency(ctx, "order:test-user:req-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = store.SetIdempotency(ctx, "order:test-user:req-1")
	if err != nil {
		t.Fatalf("set after release: %v", err)
	}
	if !ok {
		t.Error("expected set after release to succeed")
	}
}
