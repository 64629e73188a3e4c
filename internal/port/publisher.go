package port

import "context"

// Publisher delivers committed outbox events to the notification fan-out.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}
