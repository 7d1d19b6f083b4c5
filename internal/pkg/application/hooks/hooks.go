package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/toonwire/attendance-mgmt/pkg/types"
)

// Subscriber receives the payload for one hook emission. A returned
// error is logged and isolated; it never reaches the emitter or
// sibling subscribers.
type Subscriber func(ctx context.Context, payload any) error

type Bus interface {
	Subscribe(kind types.HookKind, fn Subscriber)
	SubscribeAsync(kind types.HookKind, fn Subscriber)
	Emit(ctx context.Context, kind types.HookKind, payload any)
}

type subscription struct {
	fn    Subscriber
	async bool
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[types.HookKind][]subscription
}

func New() Bus {
	return &bus{
		subscribers: make(map[types.HookKind][]subscription),
	}
}

func (b *bus) Subscribe(kind types.HookKind, fn Subscriber) {
	b.add(kind, fn, false)
}

func (b *bus) SubscribeAsync(kind types.HookKind, fn Subscriber) {
	b.add(kind, fn, true)
}

func (b *bus) add(kind types.HookKind, fn Subscriber, async bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[kind] = append(b.subscribers[kind], subscription{fn: fn, async: async})
}

// Emit fans the payload out to every subscriber for the kind and
// waits for async ones to finish before returning.
func (b *bus) Emit(ctx context.Context, kind types.HookKind, payload any) {
	b.mu.RLock()
	subs := b.subscribers[kind]
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup

	for _, sub := range subs {
		if sub.async {
			wg.Add(1)
			go func(s subscription) {
				defer wg.Done()
				invoke(ctx, kind, s.fn, payload)
			}(sub)
		} else {
			invoke(ctx, kind, sub.fn, payload)
		}
	}

	wg.Wait()
}

func invoke(ctx context.Context, kind types.HookKind, fn Subscriber, payload any) {
	log := logging.GetFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("hook subscriber panicked", "hook", string(kind), "err", fmt.Sprintf("%v", r))
		}
	}()

	if err := fn(ctx, payload); err != nil {
		log.Error("hook subscriber failed", "hook", string(kind), "err", err.Error())
	}
}
