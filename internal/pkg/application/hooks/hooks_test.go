package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/matryer/is"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

func TestEmitReachesAllSubscribers(t *testing.T) {
	is := is.New(t)
	bus := New()

	var calls atomic.Int32

	bus.Subscribe(types.HookEventIngested, func(ctx context.Context, payload any) error {
		calls.Add(1)
		return nil
	})
	bus.SubscribeAsync(types.HookEventIngested, func(ctx context.Context, payload any) error {
		calls.Add(1)
		return nil
	})

	bus.Emit(context.Background(), types.HookEventIngested, "payload")

	is.Equal(calls.Load(), int32(2)) // Emit waits for async subscribers
}

func TestFailingSubscriberIsIsolated(t *testing.T) {
	is := is.New(t)
	bus := New()

	var survived atomic.Int32

	bus.Subscribe(types.HookDeviceRevoked, func(ctx context.Context, payload any) error {
		return errors.New("boom")
	})
	bus.Subscribe(types.HookDeviceRevoked, func(ctx context.Context, payload any) error {
		panic("worse")
	})
	bus.Subscribe(types.HookDeviceRevoked, func(ctx context.Context, payload any) error {
		survived.Add(1)
		return nil
	})

	bus.Emit(context.Background(), types.HookDeviceRevoked, nil)

	is.Equal(survived.Load(), int32(1))
}

func TestEmitWithoutSubscribersIsNoop(t *testing.T) {
	bus := New()
	bus.Emit(context.Background(), types.HookDuplicateEvent, nil)
}
