package bus

import (
	"context"
	"fmt"
	"time"

	"redis-chat/pkg/logger"

	"github.com/nats-io/nats.go"
)

// NATSTransport publishes on a plain core-NATS subject. No JetStream: the
// bus is fire-and-forget just like redis pub/sub.
type NATSTransport struct {
	nc      *nats.Conn
	subject string
}

// ConnectNATS dials url with the reconnect policy used for the bus.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("[nats] Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[nats] Reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("[nats] Connected to NATS at %s", url)
	return nc, nil
}

func NewNATSTransport(nc *nats.Conn, subject string) *NATSTransport {
	return &NATSTransport{nc: nc, subject: subject}
}

func (t *NATSTransport) Publish(_ context.Context, payload []byte) error {
	if err := t.nc.Publish(t.subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", t.subject, err)
	}
	return nil
}

func (t *NATSTransport) Subscribe(_ context.Context) (Subscription, error) {
	sub, err := t.nc.SubscribeSync(t.subject)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", t.subject, err)
	}
	// Make sure the server knows about the interest before publishing starts.
	if err := t.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	logger.Info("[bus] Subscribed to nats subject %s", t.subject)
	return &natsSubscription{sub: sub}, nil
}

func (t *NATSTransport) Close() error {
	return t.nc.Drain()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

func (s *natsSubscription) Close() error {
	return s.sub.Unsubscribe()
}
