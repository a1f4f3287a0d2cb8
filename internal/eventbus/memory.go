package eventbus

import (
	"context"
	"sync"
)

// MemoryBus implements EventBus in-process via fan-out channels. It backs
// the PubSubConfig.None{} variant (spec.md §6.5): a single instance with no
// distributed pub/sub still wants its own writes to reach its own
// subscribe() loop so other in-process callers observe the effects.
type MemoryBus struct {
	mu          sync.Mutex
	subscribers []chan Event
	closed      bool
}

// NewMemoryBus creates an in-process event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Slow subscriber: drop rather than block the publisher,
			// consistent with the bus's best-effort contract.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-ch:
			if err := handler(ctx, event); err != nil {
				continue
			}
		}
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
	return nil
}

var _ EventBus = (*MemoryBus)(nil)
