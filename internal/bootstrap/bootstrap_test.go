package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratusmedia/cedrus/internal/cache"
	"github.com/stratusmedia/cedrus/internal/eventbus"
	"github.com/stratusmedia/cedrus/internal/identity"
	"github.com/stratusmedia/cedrus/internal/model"
	"github.com/stratusmedia/cedrus/internal/registry"
	"github.com/stratusmedia/cedrus/internal/store"
)

func newTestBootstrapper(t *testing.T) (*Bootstrapper, store.Store, *registry.Registry, cache.SharedCache) {
	t.Helper()
	st := store.NewMemStore()
	reg := registry.New()
	shared := cache.NewMemoryCache()
	bus := eventbus.NewMemoryBus()
	return New(st, reg, shared, bus), st, reg, shared
}

func TestBootstrapper_InitProject_CreatesAdminProjectOnFirstBoot(t *testing.T) {
	boot, st, reg, _ := newTestBootstrapper(t)
	ctx := context.Background()

	hash, err := identity.DefaultKeyHasher().Hash("root-key")
	require.NoError(t, err)

	require.NoError(t, boot.InitProject(ctx, hash))

	stored, err := st.ProjectGet(ctx, model.AdminProjectID)
	require.NoError(t, err)
	assert.Equal(t, hash, stored.APIKeyHash)

	snap, err := reg.Get(model.AdminProjectID)
	require.NoError(t, err)
	assert.NotNil(t, snap.CompiledPolicySet.Get(adminPolicyID))
}

func TestBootstrapper_InitProject_IdempotentOnSecondBoot(t *testing.T) {
	boot, _, reg, _ := newTestBootstrapper(t)
	ctx := context.Background()

	require.NoError(t, boot.InitProject(ctx, "first-hash"))
	require.NoError(t, boot.InitProject(ctx, "second-hash-ignored"))

	snap, err := reg.Get(model.AdminProjectID)
	require.NoError(t, err)
	assert.Equal(t, "first-hash", snap.Meta.APIKeyHash)
}

func TestBootstrapper_SeedAdminPrincipal_JoinsAdminsGroup(t *testing.T) {
	boot, _, reg, _ := newTestBootstrapper(t)
	ctx := context.Background()
	require.NoError(t, boot.InitProject(ctx, "hash"))

	principal := model.EntityUID{TypeName: "Cedrus::User", ID: "ops"}
	require.NoError(t, boot.SeedAdminPrincipal(ctx, principal))

	snap, err := reg.Get(model.AdminProjectID)
	require.NoError(t, err)
	entity, ok := snap.Entities[principal]
	require.True(t, ok)
	assert.Contains(t, entity.Parents, identity.AdminsGroup)
}

func TestBootstrapper_InitCacheThenLoadCache_RehydratesFromDurableStore(t *testing.T) {
	boot, st, reg, shared := newTestBootstrapper(t)
	ctx := context.Background()

	pid, err := model.NewProjectID()
	require.NoError(t, err)
	project := model.Project{ID: pid, Name: "demo", Owner: model.EntityUID{TypeName: "Cedrus::User", ID: "alice"}}
	require.NoError(t, st.ProjectPut(ctx, project, store.WriteCreateOnly))
	require.NoError(t, st.PoliciesPut(ctx, pid, []model.Policy{{ID: "p1", Source: `permit(principal, action, resource);`}}, store.WriteUpsert))

	require.NoError(t, boot.InitCache(ctx))

	entries, err := shared.Scan(ctx, cache.DirectoryNamespace)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pid.String(), entries[0].Key)

	reg2 := registry.New()
	boot2 := New(store.NewMemStore(), reg2, shared, eventbus.NewMemoryBus())
	require.NoError(t, boot2.LoadCache(ctx))

	snap, err := reg2.Get(pid)
	require.NoError(t, err)
	assert.Equal(t, "demo", snap.Meta.Name)
	assert.NotNil(t, snap.CompiledPolicySet.Get("p1"))

	_ = reg
}

func TestBootstrapper_LoadCache_FallsBackToDurableStoreWhenCacheEmpty(t *testing.T) {
	_, st, _, shared := newTestBootstrapper(t)
	ctx := context.Background()

	pid, err := model.NewProjectID()
	require.NoError(t, err)
	project := model.Project{ID: pid, Name: "cold", Owner: model.EntityUID{TypeName: "Cedrus::User", ID: "bob"}}
	require.NoError(t, st.ProjectPut(ctx, project, store.WriteCreateOnly))

	require.NoError(t, shared.Put(ctx, cache.DirectoryNamespace, pid.String(), []byte{1}, 0))

	reg := registry.New()
	boot := New(st, reg, shared, eventbus.NewMemoryBus())
	require.NoError(t, boot.LoadCache(ctx))

	snap, err := reg.Get(pid)
	require.NoError(t, err)
	assert.Equal(t, "cold", snap.Meta.Name)
}

func TestBootstrapper_HandleEvent_ProjectRemoveForgetsProject(t *testing.T) {
	boot, st, reg, shared := newTestBootstrapper(t)
	ctx := context.Background()

	pid, err := model.NewProjectID()
	require.NoError(t, err)
	project := model.Project{ID: pid, Name: "demo"}
	require.NoError(t, st.ProjectPut(ctx, project, store.WriteCreateOnly))
	require.NoError(t, shared.Put(ctx, cache.DirectoryNamespace, pid.String(), []byte{1}, 0))
	require.NoError(t, boot.LoadCache(ctx))

	_, err = reg.Get(pid)
	require.NoError(t, err)

	require.NoError(t, boot.handleEvent(ctx, eventbus.Event{Type: eventbus.ProjectRemove, ProjectID: pid.String()}))

	_, err = reg.Get(pid)
	assert.Error(t, err)
}
