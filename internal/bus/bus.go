package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"redis-chat/internal/models"
	"redis-chat/pkg/logger"

	"github.com/google/uuid"
)

// Deliverer hands a frame to the local connections in an audience.
type Deliverer interface {
	Deliver(audience models.Audience, frame []byte)
}

// Resolver decides which local audience a remote event is for.
type Resolver func(ctx context.Context, ev models.Event) models.Audience

type Options struct {
	InstanceID string
	RetryMin   time.Duration
	RetryMax   time.Duration
}

type Stats struct {
	InstanceID    string `json:"instanceId"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publishErrors"`
	Received      uint64 `json:"received"`
	Echoes        uint64 `json:"echoes"`
	Delivered     uint64 `json:"delivered"`
	DecodeErrors  uint64 `json:"decodeErrors"`
	Resubscribes  uint64 `json:"resubscribes"`
	Listeners     int    `json:"listeners"`
}

// Bus fans events out to this instance's connections and to every other
// instance through the transport.
type Bus struct {
	instanceID string
	transport  Transport
	local      Deliverer
	retryMin   time.Duration
	retryMax   time.Duration

	mu        sync.RWMutex
	resolve   Resolver
	listeners map[chan []byte]bool
	stopped   bool

	published     atomic.Uint64
	publishErrors atomic.Uint64
	received      atomic.Uint64
	echoes        atomic.Uint64
	delivered     atomic.Uint64
	decodeErrors  atomic.Uint64
	resubscribes  atomic.Uint64
}

func New(transport Transport, local Deliverer, opts Options) *Bus {
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.RetryMin <= 0 {
		opts.RetryMin = 500 * time.Millisecond
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = opts.RetryMin
	}

	return &Bus{
		instanceID: opts.InstanceID,
		transport:  transport,
		local:      local,
		retryMin:   opts.RetryMin,
		retryMax:   opts.RetryMax,
		resolve:    func(context.Context, models.Event) models.Audience { return models.Broadcast },
		listeners:  make(map[chan []byte]bool),
	}
}

func (b *Bus) InstanceID() string {
	return b.instanceID
}

// SetResolver replaces the audience resolver used for remote events.
func (b *Bus) SetResolver(r Resolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolve = r
}

func (b *Bus) resolver() Resolver {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolve
}

// Publish delivers locally first, then hands the event to other instances.
// A transport failure is returned after local delivery has happened.
func (b *Bus) Publish(ctx context.Context, ev models.Event, audience models.Audience) error {
	if err := b.PublishLocal(ev, audience); err != nil {
		return err
	}
	return b.PublishRemote(ctx, ev)
}

func (b *Bus) PublishLocal(ev models.Event, audience models.Audience) error {
	frame, err := models.EncodeFrame(ev)
	if err != nil {
		return err
	}
	b.local.Deliver(audience, frame)
	return nil
}

func (b *Bus) PublishRemote(ctx context.Context, ev models.Event) error {
	env, err := models.NewEnvelope(b.instanceID, ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := b.transport.Publish(ctx, payload); err != nil {
		b.publishErrors.Add(1)
		return err
	}
	b.published.Add(1)
	return nil
}

// Listen registers a receiver for every remote event delivered on this
// instance. The channel is closed by the returned cancel func, or by
// CloseListeners, whichever comes first. Once the bus has stopped the
// channel comes back already closed.
func (b *Bus) Listen() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.listeners[ch] = true
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.listeners[ch] {
			delete(b.listeners, ch)
			close(ch)
		}
	}
}

// CloseListeners closes every listener channel and refuses new ones.
// Run calls it on exit; servers also hook it into their shutdown so open
// streams end without waiting for their clients.
func (b *Bus) CloseListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for ch := range b.listeners {
		delete(b.listeners, ch)
		close(ch)
	}
}

func (b *Bus) notifyListeners(frame []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.listeners {
		select {
		case ch <- frame:
		default:
			logger.Debug("[bus] Listener is behind, dropping event")
		}
	}
}

// Run subscribes to the transport and delivers remote events until ctx is
// cancelled. Transport failures are retried with exponential backoff.
func (b *Bus) Run(ctx context.Context) error {
	logger.Info("[bus] Instance %s listening", b.instanceID)
	defer b.CloseListeners()

	delay := b.retryMin
	for {
		sub, err := b.transport.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("[bus] Subscribe failed, retrying in %s: %v", delay, err)
			if !sleep(ctx, delay) {
				return nil
			}
			delay = b.nextDelay(delay)
			continue
		}

		delay = b.retryMin
		err = b.consume(ctx, sub)
		sub.Close()

		if ctx.Err() != nil {
			logger.Info("[bus] Stopped")
			return nil
		}

		b.resubscribes.Add(1)
		logger.Warn("[bus] Subscription lost, resubscribing in %s: %v", delay, err)
		if !sleep(ctx, delay) {
			return nil
		}
		delay = b.nextDelay(delay)
	}
}

func (b *Bus) consume(ctx context.Context, sub Subscription) error {
	for {
		payload, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		b.handle(ctx, payload)
	}
}

func (b *Bus) handle(ctx context.Context, payload []byte) {
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.decodeErrors.Add(1)
		logger.Warn("[bus] Dropping undecodable envelope: %v", err)
		return
	}
	b.received.Add(1)

	if env.OriginInstanceID == b.instanceID {
		b.echoes.Add(1)
		return
	}

	ev, err := models.DecodeEvent(env.Type, env.Data)
	if err != nil {
		b.decodeErrors.Add(1)
		logger.Warn("[bus] Dropping envelope from %s: %v", env.OriginInstanceID, err)
		return
	}

	frame, err := models.EncodeFrame(ev)
	if err != nil {
		b.decodeErrors.Add(1)
		return
	}

	b.local.Deliver(b.resolver()(ctx, ev), frame)
	b.delivered.Add(1)
	b.notifyListeners(frame)
}

func (b *Bus) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > b.retryMax {
		return b.retryMax
	}
	return d
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	listeners := len(b.listeners)
	b.mu.RUnlock()

	return Stats{
		InstanceID:    b.instanceID,
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
		Received:      b.received.Load(),
		Echoes:        b.echoes.Load(),
		Delivered:     b.delivered.Load(),
		DecodeErrors:  b.decodeErrors.Load(),
		Resubscribes:  b.resubscribes.Load(),
		Listeners:     listeners,
	}
}

// Close releases the transport.
func (b *Bus) Close() error {
	if err := b.transport.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
