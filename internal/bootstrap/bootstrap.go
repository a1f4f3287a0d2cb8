// Package bootstrap implements the startup sequence described in spec.md
// §4.5: mint (or recognize) the distinguished admin project, warm the
// Registry from whatever the Shared Cache already holds, fall back to the
// Durable Store for anything the cache is missing, and start consuming the
// Event Bus so this instance learns about peers' writes going forward.
package bootstrap

import (
	"context"
	"log/slog"

	"github.com/stratusmedia/cedrus/internal/cache"
	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/eventbus"
	"github.com/stratusmedia/cedrus/internal/identity"
	"github.com/stratusmedia/cedrus/internal/logger"
	"github.com/stratusmedia/cedrus/internal/model"
	"github.com/stratusmedia/cedrus/internal/registry"
	"github.com/stratusmedia/cedrus/internal/snapshot"
	"github.com/stratusmedia/cedrus/internal/store"
)

// adminPolicySource is the built-in policy seeded into the admin project at
// first boot, per spec.md §4.5: members of Cedrus::Group::"Admins" may take
// any action on any resource (action and resource are unconstrained), which
// covers every Cedrus::Action on every Cedrus::Project and is what lets the write
// path authorize non-owner callers (internal/writepath's authorize helper).
const adminPolicyID = "builtin-admins"

const adminPolicySource = `permit(
    principal in Cedrus::Group::"Admins",
    action,
    resource
);`

// Bootstrapper runs the startup sequence once per process. It holds no
// state of its own beyond the collaborators it was constructed with.
type Bootstrapper struct {
	store    store.Store
	registry *registry.Registry
	shared   cache.SharedCache
	bus      eventbus.EventBus
	log      *slog.Logger
}

func New(st store.Store, reg *registry.Registry, shared cache.SharedCache, bus eventbus.EventBus) *Bootstrapper {
	return &Bootstrapper{store: st, registry: reg, shared: shared, bus: bus, log: logger.WithComponent("bootstrap")}
}

// InitProject implements spec.md §4.5 step 1: ensure the admin project
// exists with its built-in policy, creating it on first boot. On later boots
// the stored admin project, policies, and entities are loaded as they are;
// they are not compared with the built-in shape. The already-hashed admin
// API key passed in is stored only when the admin project does not yet
// exist; on later boots it is ignored.
func (b *Bootstrapper) InitProject(ctx context.Context, adminKeyHash string) error {
	existing, err := b.store.ProjectGet(ctx, model.AdminProjectID)
	if err != nil && !cedruserr.Is(err, cedruserr.NoSuchProject) {
		return err
	}

	if existing == nil {
		admin := model.Project{
			ID:         model.AdminProjectID,
			Name:       "admin",
			Owner:      model.EntityUID{TypeName: "Cedrus::User", ID: "admin"},
			APIKeyHash: adminKeyHash,
			SchemaMode: model.SchemaLenient,
		}
		if err := b.store.ProjectPut(ctx, admin, store.WriteCreateOnly); err != nil && !cedruserr.Is(err, cedruserr.IdConflict) {
			return err
		}
		if err := b.store.PoliciesPut(ctx, model.AdminProjectID, []model.Policy{{
			ID:     adminPolicyID,
			Effect: model.Permit,
			Source: adminPolicySource,
		}}, store.WriteUpsert); err != nil {
			return err
		}
		existing = &admin
	}

	snap := snapshot.New(*existing)
	policies, err := b.store.PoliciesList(ctx, model.AdminProjectID, "", 0)
	if err != nil {
		return err
	}
	for _, p := range policies.Items {
		snap.Policies[p.ID] = p
	}
	entities, err := b.store.EntitiesList(ctx, model.AdminProjectID, "", 0)
	if err != nil {
		return err
	}
	for _, e := range entities.Items {
		snap.Entities[e.UID] = e
	}
	if err := snap.Recompile(false); err != nil {
		return err
	}

	b.registry.Upsert(model.AdminProjectID, snap)
	b.log.Info("admin project ready", "policy_count", len(snap.Policies))
	return nil
}

// SeedAdminPrincipal ensures a Cedrus::User entity for the given principal
// exists in the admin project and is a member of Cedrus::Group::"Admins",
// so that a freshly onboarded operator can immediately exercise admin
// policies (spec.md §4.5, §4.6).
func (b *Bootstrapper) SeedAdminPrincipal(ctx context.Context, principal model.EntityUID) error {
	entity := model.Entity{
		UID:     principal,
		Parents: []model.EntityUID{identity.AdminsGroup},
	}
	groupEntity := model.Entity{UID: identity.AdminsGroup}

	if err := b.store.EntitiesPut(ctx, model.AdminProjectID, []model.Entity{groupEntity, entity}, store.WriteUpsert); err != nil {
		return err
	}

	return b.registry.Mutate(model.AdminProjectID, false, func(s *snapshot.ProjectSnapshot) error {
		s.Entities[groupEntity.UID] = groupEntity
		s.Entities[entity.UID] = entity
		return nil
	})
}
