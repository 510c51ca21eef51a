package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"redis-chat/internal/models"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	audience models.Audience
	frame    models.Frame
}

type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recorder) Deliver(audience models.Audience, frame []byte) {
	var f models.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{audience: audience, frame: f})
}

func (r *recorder) all() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.deliveries...)
}

func runBus(t *testing.T, b *Bus) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func fastOptions(id string) Options {
	return Options{InstanceID: id, RetryMin: 5 * time.Millisecond, RetryMax: 20 * time.Millisecond}
}

func TestPublishIsNotEchoed(t *testing.T) {
	transport := NewMemoryTransport()
	localA, localB := &recorder{}, &recorder{}
	a := New(transport, localA, fastOptions("A"))
	b := New(transport, localB, fastOptions("B"))
	runBus(t, a)
	runBus(t, b)
	require.Eventually(t, func() bool { return transport.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	ev := models.UserPresenceChanged{ID: 1, Username: "Pablo", Online: true}
	require.NoError(t, a.Publish(context.Background(), ev, models.Broadcast))

	require.Eventually(t, func() bool {
		return a.Stats().Echoes == 1 && b.Stats().Delivered == 1
	}, time.Second, 5*time.Millisecond)

	gotA := localA.all()
	require.Len(t, gotA, 1, "the origin sees only its local delivery")
	assert.Equal(t, models.EventUserConnected, gotA[0].frame.Type)

	gotB := localB.all()
	require.Len(t, gotB, 1)
	assert.True(t, gotB[0].audience.IsBroadcast())
	assert.Equal(t, models.EventUserConnected, gotB[0].frame.Type)
	assert.JSONEq(t, `{"id":1,"username":"Pablo","online":true}`, string(gotB[0].frame.Data))

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(0), stats.Delivered)
}

func TestRemoteAudienceComesFromResolver(t *testing.T) {
	transport := NewMemoryTransport()
	localB := &recorder{}
	a := New(transport, &recorder{}, fastOptions("A"))
	b := New(transport, localB, fastOptions("B"))
	b.SetResolver(func(_ context.Context, ev models.Event) models.Audience {
		if m, ok := ev.(models.MessagePosted); ok {
			return models.RoomAudience(m.RoomID)
		}
		return models.Broadcast
	})
	runBus(t, b)
	require.Eventually(t, func() bool { return transport.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	msg := models.MessagePosted{Message: models.Message{From: 1, RoomID: "1:2", Message: "hi", Date: 10}}
	require.NoError(t, a.Publish(context.Background(), msg, models.RoomAudience("1:2")))

	require.Eventually(t, func() bool { return len(localB.all()) == 1 }, time.Second, 5*time.Millisecond)
	got := localB.all()[0]
	assert.Equal(t, models.RoomAudience("1:2"), got.audience)
	assert.Equal(t, models.EventMessage, got.frame.Type)
}

func TestListenersReceiveRemoteEventsOnly(t *testing.T) {
	transport := NewMemoryTransport()
	a := New(transport, &recorder{}, fastOptions("A"))
	b := New(transport, &recorder{}, fastOptions("B"))
	runBus(t, b)
	require.Eventually(t, func() bool { return transport.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	events, cancel := b.Listen()
	defer cancel()
	assert.Equal(t, 1, b.Stats().Listeners)

	require.NoError(t, b.Publish(context.Background(), models.UserPresenceChanged{ID: 2, Username: "Joe"}, models.Broadcast))
	require.NoError(t, a.Publish(context.Background(), models.UserPresenceChanged{ID: 1, Username: "Pablo", Online: true}, models.Broadcast))

	select {
	case frame := <-events:
		var f models.Frame
		require.NoError(t, json.Unmarshal(frame, &f))
		assert.Equal(t, models.EventUserConnected, f.Type)
	case <-time.After(time.Second):
		t.Fatal("listener got nothing")
	}

	select {
	case frame := <-events:
		t.Fatalf("unexpected frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	cancel()
	_, ok := <-events
	assert.False(t, ok)
	assert.Equal(t, 0, b.Stats().Listeners)
}

func TestStoppingRunClosesListeners(t *testing.T) {
	transport := NewMemoryTransport()
	b := New(transport, &recorder{}, fastOptions("B"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Run(ctx))
	}()
	require.Eventually(t, func() bool { return transport.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	events, stopListening := b.Listen()
	cancel()
	<-done

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("listener channel still open after Run returned")
	}
	assert.Equal(t, 0, b.Stats().Listeners)
	stopListening()

	late, stopLate := b.Listen()
	defer stopLate()
	_, ok := <-late
	assert.False(t, ok, "a stopped bus hands out closed channels")
}

func TestResubscribesAfterTransportFailure(t *testing.T) {
	transport := NewMemoryTransport()
	local := &recorder{}
	b := New(transport, local, fastOptions("B"))
	runBus(t, b)
	require.Eventually(t, func() bool { return transport.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	transport.Disconnect()
	require.Eventually(t, func() bool {
		return b.Stats().Resubscribes == 1 && transport.Subscribers() == 1
	}, time.Second, 5*time.Millisecond)

	a := New(transport, &recorder{}, fastOptions("A"))
	require.NoError(t, a.PublishRemote(context.Background(), models.UserPresenceChanged{ID: 1, Username: "Pablo", Online: true}))
	require.Eventually(t, func() bool { return len(local.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestUndecodableEnvelopesAreDropped(t *testing.T) {
	transport := NewMemoryTransport()
	local := &recorder{}
	b := New(transport, local, fastOptions("B"))
	runBus(t, b)
	require.Eventually(t, func() bool { return transport.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, transport.Publish(ctx, []byte("not json")))
	require.NoError(t, transport.Publish(ctx, []byte(`{"originInstanceId":"X","type":"bogus","data":{}}`)))

	require.Eventually(t, func() bool { return b.Stats().DecodeErrors == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, local.all())
}

func TestPublishAfterCloseFails(t *testing.T) {
	transport := NewMemoryTransport()
	local := &recorder{}
	b := New(transport, local, fastOptions("A"))
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), models.UserPresenceChanged{ID: 1, Username: "Pablo"}, models.Broadcast)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Len(t, local.all(), 1, "local delivery happens before the transport is used")
	assert.Equal(t, uint64(1), b.Stats().PublishErrors)
}

func TestNextDelayIsCapped(t *testing.T) {
	b := New(NewMemoryTransport(), &recorder{}, Options{RetryMin: 100 * time.Millisecond, RetryMax: 300 * time.Millisecond})
	assert.Equal(t, 200*time.Millisecond, b.nextDelay(100*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, b.nextDelay(200*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, b.nextDelay(300*time.Millisecond))
	assert.NotEmpty(t, b.InstanceID())
}

func testTransportRoundTrip(t *testing.T, transport Transport) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := transport.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, transport.Publish(ctx, []byte("one")))
	require.NoError(t, transport.Publish(ctx, []byte("two")))

	for _, want := range []string{"one", "two"} {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestRedisTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	testTransportRoundTrip(t, NewRedisTransport(client, "MESSAGES"))
}

func TestNATSTransport(t *testing.T) {
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	nc, err := ConnectNATS(srv.ClientURL(), "bus-test")
	require.NoError(t, err)
	transport := NewNATSTransport(nc, "MESSAGES")
	t.Cleanup(func() { transport.Close() })

	testTransportRoundTrip(t, transport)
}

func TestMemoryTransportRoundTrip(t *testing.T) {
	transport := NewMemoryTransport()
	testTransportRoundTrip(t, transport)

	require.NoError(t, transport.Close())
	_, err := transport.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
