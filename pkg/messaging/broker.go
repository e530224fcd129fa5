package messaging

import (
	"context"
)

// Publisher sends message, encoded as JSON, to whoever is subscribed to
// channel at that moment.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Subscriber streams raw payloads from channel. The returned channel is
// closed once ctx is done or the broker is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Broker fans audit records out to downstream consumers. Delivery is at
// most once; the audit table stays the record of truth.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}
