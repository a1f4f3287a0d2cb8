package eventbus

import "context"

// Handler processes a single received event. It must be idempotent: the
// same event may be redelivered (spec.md §6.3).
type Handler func(ctx context.Context, event Event) error

// EventBus is the abstract capability the core depends on for cross-instance
// notification. Publish is fire-and-forget from the core's point of view;
// failures are logged, never retried by the core itself (spec.md §7).
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe runs handler for every event received until ctx is
	// cancelled. It blocks the calling goroutine.
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// Config mirrors spec.md §6.5's
// PubSubConfig ∈ {None{}, Distributed{urls[], channel_name, cluster}}.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	ClusterMode bool
}
