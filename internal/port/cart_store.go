package port

import (
	"context"

	"github.com/posterly/order-engine/internal/core/domain"
)

type CartStore interface {
	// GetCart returns the user's cart, empty when none exists.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)

	PutCart(ctx context.Context, cart *domain.Cart) error

	// ClearCart empties the cart. Called only after the order transaction
	// has committed; failure is logged, never surfaced.
	ClearCart(ctx context.Context, userID string) error

	// SetIdempotency sets a key for replay detection, returns false if it
	// was already set.
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key reserved by SetIdempotency. Called
	// when the guarded attempt fails, so a retry with the same key is not
	// rejected as a replay.
	ReleaseIdempotency(ctx context.Context, key string) error
}
