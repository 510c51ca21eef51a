package bus

import (
	"context"
	"sync"
)

// MemoryTransport connects buses living in the same process. It backs the
// single-instance mode and lets tests run several instances side by side.
type MemoryTransport struct {
	mu     sync.Mutex
	subs   map[*memorySubscription]bool
	closed bool
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[*memorySubscription]bool)}
}

func (t *MemoryTransport) Publish(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	for sub := range t.subs {
		select {
		case sub.ch <- payload:
		default:
			// Same contract as pub/sub: a subscriber that can't keep up misses messages.
		}
	}
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		transport: t,
		ch:        make(chan []byte, 1024),
		done:      make(chan struct{}),
	}
	t.subs[sub] = true
	return sub, nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	for sub := range t.subs {
		sub.closeLocked()
	}
	return nil
}

// Disconnect drops every current subscription as a broken connection would.
func (t *MemoryTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for sub := range t.subs {
		sub.closeLocked()
	}
}

// Subscribers reports the number of live subscriptions.
func (t *MemoryTransport) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

type memorySubscription struct {
	transport *MemoryTransport
	ch        chan []byte
	done      chan struct{}
	once      sync.Once
}

func (s *memorySubscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-s.ch:
		return payload, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *memorySubscription) closeLocked() {
	s.once.Do(func() {
		delete(s.transport.subs, s)
		close(s.done)
	})
}
