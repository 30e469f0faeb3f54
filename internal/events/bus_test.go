package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusSubscribeAndEmitSync(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var got atomic.Value
	bus.Subscribe(EventSessionEstablished, "test", func(ctx context.Context, ev Event) error {
		got.Store(ev.Payload)
		return nil
	})

	payload := SessionEstablishedPayload{SessionID: 42, Endpoint: "127.0.0.1:12345"}
	err := bus.EmitSync(context.Background(), Event{
		Type:    EventSessionEstablished,
		Source:  "test",
		Payload: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, payload, got.Load())
}

func TestEventBusEmitAsync(t *testing.T) {
	bus := NewEventBus()

	var count atomic.Int32
	bus.Subscribe(EventLoginSuccess, "a", func(ctx context.Context, ev Event) error {
		count.Add(1)
		return nil
	})
	bus.Subscribe(EventLoginSuccess, "b", func(ctx context.Context, ev Event) error {
		count.Add(1)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventLoginSuccess, Source: "test"})

	// Stop waits for in-flight handlers
	bus.Stop()
	assert.Equal(t, int32(2), count.Load())
}

func TestEventBusEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	wantErr := errors.New("handler failed")
	bus.Subscribe(EventSessionClosed, "failing", func(ctx context.Context, ev Event) error {
		return wantErr
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventSessionClosed})
	assert.ErrorIs(t, err, wantErr)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventShutdown, "one", func(ctx context.Context, ev Event) error { return nil })
	bus.Subscribe(EventShutdown, "two", func(ctx context.Context, ev Event) error { return nil })
	require.Equal(t, 2, bus.HandlerCount(EventShutdown))

	bus.Unsubscribe(EventShutdown, "one")
	assert.Equal(t, 1, bus.HandlerCount(EventShutdown))
}

func TestEventBusRecoverFromPanic(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var ran atomic.Bool
	bus.Subscribe(EventConfigChanged, "panicking", func(ctx context.Context, ev Event) error {
		panic("boom")
	})
	bus.Subscribe(EventConfigChanged, "healthy", func(ctx context.Context, ev Event) error {
		ran.Store(true)
		return nil
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventConfigChanged})
	assert.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestEventBusEmitAfterStop(t *testing.T) {
	bus := NewEventBus()

	var count atomic.Int32
	bus.Subscribe(EventPlayerCount, "counter", func(ctx context.Context, ev Event) error {
		count.Add(1)
		return nil
	})

	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventPlayerCount})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel should be closed")
	}
}
