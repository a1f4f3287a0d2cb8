// Package cedrus is the public entry point to Cedrus Core: construct a Core
// from a config.Config and call its Evaluator/WritePath methods directly.
// Everything outside this file is an internal implementation package; the
// HTTP/OIDC/CLI surface named out of scope in spec.md §1 is the embedding
// service's job, not this module's.
package cedrus

import (
	"context"

	"github.com/stratusmedia/cedrus/internal/authz"
	"github.com/stratusmedia/cedrus/internal/bootstrap"
	"github.com/stratusmedia/cedrus/internal/cache"
	"github.com/stratusmedia/cedrus/internal/config"
	"github.com/stratusmedia/cedrus/internal/eventbus"
	"github.com/stratusmedia/cedrus/internal/identity"
	"github.com/stratusmedia/cedrus/internal/logger"
	"github.com/stratusmedia/cedrus/internal/registry"
	"github.com/stratusmedia/cedrus/internal/store"
	"github.com/stratusmedia/cedrus/internal/writepath"
)

// Core bundles the Registry-backed Evaluator with the Write Path, the two
// collaborators spec.md §2 names as the system's actual surface once
// Bootstrap has run. Embedding both lets a caller do
// core.IsAuthorized(...) and core.ProjectCreate(...) directly.
type Core struct {
	*authz.Evaluator
	*writepath.WritePath

	store  store.Store
	shared cache.SharedCache
	bus    eventbus.EventBus
	boot   *bootstrap.Bootstrapper
}

// Open constructs every collaborator from cfg, runs the spec.md §4.5
// startup sequence (init_project, init_cache, load_cache), and starts
// consuming the Event Bus in the background. The returned Core is ready to
// serve IsAuthorized calls and accept writes. Callers own the lifetime of
// the returned Core and must call Close when done.
func Open(ctx context.Context, cfg config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DB)
	if err != nil {
		return nil, err
	}

	shared, err := newSharedCache(cfg.Cache)
	if err != nil {
		st.Close()
		return nil, err
	}

	bus, err := newEventBus(cfg.PubSub)
	if err != nil {
		st.Close()
		shared.Close()
		return nil, err
	}

	reg := registry.New()
	eval := authz.New(reg, cfg.BatchLimit)
	boot := bootstrap.New(st, reg, shared, bus)

	adminHash := ""
	if cfg.AdminAPIKey != "" {
		adminHash, err = identity.DefaultKeyHasher().Hash(cfg.AdminAPIKey)
		if err != nil {
			st.Close()
			shared.Close()
			bus.Close()
			return nil, err
		}
	}

	if err := boot.InitProject(ctx, adminHash); err != nil {
		st.Close()
		shared.Close()
		bus.Close()
		return nil, err
	}
	if err := boot.InitCache(ctx); err != nil {
		logger.WithComponent("cedrus").Warn("warming shared cache failed", "error", err)
	}
	if err := boot.LoadCache(ctx); err != nil {
		st.Close()
		shared.Close()
		bus.Close()
		return nil, err
	}

	go func() {
		if err := boot.Subscribe(ctx); err != nil && ctx.Err() == nil {
			logger.WithComponent("cedrus").Error("event bus subscription ended", "error", err)
		}
	}()

	wp := writepath.New(st, reg, shared, bus, eval)

	return &Core{
		Evaluator: eval,
		WritePath: wp,
		store:     st,
		shared:    shared,
		bus:       bus,
		boot:      boot,
	}, nil
}

// Close releases the Durable Store, Shared Cache, and Event Bus connections.
func (c *Core) Close() error {
	berr := c.bus.Close()
	serr := c.shared.Close()
	terr := c.store.Close()
	if terr != nil {
		return terr
	}
	if serr != nil {
		return serr
	}
	return berr
}

func newSharedCache(cfg config.CacheConfig) (cache.SharedCache, error) {
	switch cfg.Kind {
	case config.CacheRedis:
		return cache.NewRedisCache(&cache.RedisConfig{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.Database,
		})
	default:
		return cache.NewMemoryCache(), nil
	}
}

func newEventBus(cfg config.PubSubConfig) (eventbus.EventBus, error) {
	switch cfg.Kind {
	case config.PubSubKafka:
		return eventbus.NewKafkaBus(eventbus.Config{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		})
	default:
		return eventbus.NewMemoryBus(), nil
	}
}
