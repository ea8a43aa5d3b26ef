package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:     false,
		Logger:        quietLogger(),
		EnableMetrics: true,
	})
}

func TestInMemoryEventBus_DeliversByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var changed, all int
	require.NoError(t, bus.Subscribe(shared.EventFluencyLevelChanged, func(e shared.Event) error {
		changed++
		assert.Equal(t, "u1", e.AggregateID())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		all++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewFluencyLevelChangedEvent("u1", "A1", "A2", "t1", "Teacher", true, testTime)))
	require.NoError(t, bus.Publish(shared.NewLearnerRegisteredEvent("u2", "a@b.nl", "Anna", "student", testTime)))

	assert.Equal(t, 1, changed)
	assert.Equal(t, 2, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(1), snap.PublishedByType[string(shared.EventFluencyLevelChanged)])
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var after int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("kaboom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		after++
		return nil
	}))

	assert.NoError(t, bus.Publish(shared.NewCertificateIssuedEvent("u1", "c1", "DLA-2025-A2-000001", "A2", "t1", testTime)))
	assert.Equal(t, 1, after)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.HandlerFailures)
}

func TestInMemoryEventBus_Async(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 2,
		Logger:         quietLogger(),
	})

	var count atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		count.Add(1)
		return nil
	}))
	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewFluencyInitializedEvent("u1", "A1", "system", "initial assignment", testTime)))
	}

	require.NoError(t, bus.Close())
	assert.Equal(t, int32(20), count.Load())
	assert.Nil(t, bus.Metrics())
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewFluencyInitializedEvent("u1", "A1", "system", "", testTime)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.Error(t, bus.Publish(nil))
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis bus
// ─────────────────────────────────────────────────────────────────────────────

// fakeRedis is an in-process Pub/Sub shared by several buses.
type fakeRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (f *fakeRedis) Subscribe(_ context.Context, _ ...string) (<-chan RedisMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	f.subs = append(f.subs, ch)
	return ch, nil
}

func (f *fakeRedis) Close() error { return nil }

func newRedisBus(t *testing.T, client RedisClient, id string) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     id,
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
		Logger:         quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisEventBus_FansOutToOtherInstances(t *testing.T) {
	client := &fakeRedis{}
	a := newRedisBus(t, client, "a")
	b := newRedisBus(t, client, "b")

	var localA atomic.Int32
	require.NoError(t, a.SubscribeAll(func(shared.Event) error {
		localA.Add(1)
		return nil
	}))

	received := make(chan shared.Event, 1)
	require.NoError(t, b.Subscribe(shared.EventCertificateIssued, func(e shared.Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, a.Publish(shared.NewCertificateIssuedEvent("u1", "c1", "DLA-2025-B1-000003", "B1", "t1", testTime)))

	select {
	case e := <-received:
		assert.Equal(t, shared.EventCertificateIssued, e.EventType())
		assert.Equal(t, "u1", e.AggregateID())
		assert.True(t, testTime.Equal(e.OccurredAt()))
		assert.Equal(t, "DLA-2025-B1-000003", e.Payload()["certificate_number"])
	case <-time.After(2 * time.Second):
		t.Fatal("remote instance did not receive event")
	}

	// Own messages echoed back by Redis are not delivered twice.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), localA.Load())
}

type failingRedis struct{ fakeRedis }

func (f *failingRedis) Publish(context.Context, string, any) error {
	return errors.New("redis down")
}

func TestRedisEventBus_LocalDeliveryWhenRedisFails(t *testing.T) {
	bus := newRedisBus(t, &failingRedis{}, "a")

	var n int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		n++
		return nil
	}))
	require.NoError(t, bus.Publish(shared.NewLearnerRegisteredEvent("u1", "x@y.nl", "X", "student", testTime)))
	assert.Equal(t, 1, n)
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
