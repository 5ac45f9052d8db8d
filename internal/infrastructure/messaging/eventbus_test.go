package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/shared"
)

var at = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventCheckinRecorded, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return errors.New("boom")
	}))

	require.NoError(t, bus.Publish(shared.NewCheckinRecordedEvent("c1", "alice", at, "P", 10, at)))
	require.NoError(t, bus.Publish(shared.NewSessionClosedEvent("s1", "completed", at)))

	assert.Equal(t, []shared.EventType{shared.EventCheckinRecorded}, typed)
	assert.Len(t, all, 2)

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.TotalPublished)
	assert.EqualValues(t, 3, snap.TotalHandlerExecs)
	assert.EqualValues(t, 2, snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncRecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var mu sync.Mutex
	delivered := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewSessionClosedEvent("s1", "completed", at)))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, 5, delivered)
	assert.EqualValues(t, 5, bus.Metrics().Snapshot().HandlerFailures)
	assert.ErrorIs(t, bus.Publish(shared.NewSessionClosedEvent("s1", "completed", at)), ErrEventBusClosed)
}

type fakeChannels struct {
	channel string
	body    []byte
	err     error
}

func (f *fakeChannels) Publish(_ context.Context, channel string, message interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.channel = channel
	body, err := json.Marshal(message)
	f.body = body
	return err
}

func (f *fakeChannels) EventChannel(eventType string) string { return "pe:events:" + eventType }

func TestRedisForwarder(t *testing.T) {
	pub := &fakeChannels{}
	fwd := NewRedisForwarder(pub, nil)
	fwd.newID = func() string { return "evt-1" }

	ev := shared.NewExamRegisteredEvent("s1", "alice", "degree", 3, at)
	require.NoError(t, fwd.Handle(ev))
	assert.Equal(t, "pe:events:exam.registered", pub.channel)

	var env shared.EventEnvelope
	require.NoError(t, json.Unmarshal(pub.body, &env))
	assert.Equal(t, "evt-1", env.ID)
	assert.Equal(t, shared.EventExamRegistered, env.Type)

	pub.err = errors.New("redis down")
	assert.Error(t, fwd.Handle(ev))
}
