package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by a subscription or transport that has been closed.
var ErrClosed = errors.New("bus: transport closed")

// Transport moves opaque envelopes between instances. Every subscriber,
// including the publishing instance's own, receives every published payload.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

// Subscription yields payloads in publish order.
type Subscription interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}
