package writepath

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratusmedia/cedrus/internal/authz"
	"github.com/stratusmedia/cedrus/internal/cache"
	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/eventbus"
	"github.com/stratusmedia/cedrus/internal/model"
	"github.com/stratusmedia/cedrus/internal/registry"
	"github.com/stratusmedia/cedrus/internal/snapshot"
	"github.com/stratusmedia/cedrus/internal/store"
)

// owner is granted CreateProject against the admin project by default so
// most tests can call ProjectCreate directly; tests exercising the
// authorization gate itself grant narrower or broader sets of actions.
var owner = model.EntityUID{TypeName: "Cedrus::User", ID: "alice"}

func newTestWritePath(t *testing.T) *WritePath {
	t.Helper()
	st := store.NewMemStore()
	reg := registry.New()
	shared := cache.NewMemoryCache()
	bus := eventbus.NewMemoryBus()
	eval := authz.New(reg, 100)

	reg.Upsert(model.AdminProjectID, snapshot.New(model.Project{ID: model.AdminProjectID}))

	wp := New(st, reg, shared, bus, eval)
	grantAdminAction(t, wp, owner, "CreateProject")
	return wp
}

func grantAdminAction(t *testing.T, wp *WritePath, principal model.EntityUID, action string) {
	t.Helper()
	id := "allow-" + action + "-" + principal.ID
	require.NoError(t, wp.registry.Mutate(model.AdminProjectID, false, func(s *snapshot.ProjectSnapshot) error {
		s.Policies[id] = model.Policy{ID: id, Source: `permit(
			principal == ` + principal.String() + `,
			action == Cedrus::Action::"` + action + `",
			resource
		);`}
		return nil
	}))
}

func createProject(t *testing.T, wp *WritePath) model.Project {
	t.Helper()
	p, _, err := wp.ProjectCreate(context.Background(), owner, "demo", owner, "")
	require.NoError(t, err)
	return p
}

func TestWritePath_ProjectCreate_NonAdminRejected(t *testing.T) {
	wp := newTestWritePath(t)
	stranger := model.EntityUID{TypeName: "Cedrus::User", ID: "mallory"}
	_, _, err := wp.ProjectCreate(context.Background(), stranger, "demo", owner, "")
	assert.True(t, cedruserr.Is(err, cedruserr.Unauthorized))
}

func TestWritePath_ProjectUpdate_OwnerAllowedWithoutAdminGrant(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	updated, err := wp.ProjectUpdate(context.Background(), owner, p.ID, "renamed", "", "")
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
}

func TestWritePath_ProjectUpdate_NonOwnerRejectedWithoutAdminGrant(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	stranger := model.EntityUID{TypeName: "Cedrus::User", ID: "mallory"}
	_, err := wp.ProjectUpdate(context.Background(), stranger, p.ID, "evil", "", "")
	assert.True(t, cedruserr.Is(err, cedruserr.Unauthorized))
}

func TestWritePath_ProjectUpdate_NonOwnerAllowedByAdminPolicy(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	admin := model.EntityUID{TypeName: "Cedrus::User", ID: "ops"}
	grantAdminAction(t, wp, admin, "UpdateProject")

	updated, err := wp.ProjectUpdate(context.Background(), admin, p.ID, "renamed-by-admin", "", "")
	require.NoError(t, err)
	assert.Equal(t, "renamed-by-admin", updated.Name)
}

func TestWritePath_ProjectEntitiesAdd_RejectsUnknownParent(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	child := model.Entity{
		UID:     model.EntityUID{TypeName: "Demo::Doc", ID: "1"},
		Parents: []model.EntityUID{{TypeName: "Demo::Folder", ID: "missing"}},
	}
	err := wp.ProjectEntitiesAdd(context.Background(), owner, p.ID, []model.Entity{child})
	assert.True(t, cedruserr.Is(err, cedruserr.ReferentialIntegrity))
}

func TestWritePath_ProjectEntitiesAdd_AllowsParentInSameBatch(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	folder := model.Entity{UID: model.EntityUID{TypeName: "Demo::Folder", ID: "root"}}
	child := model.Entity{
		UID:     model.EntityUID{TypeName: "Demo::Doc", ID: "1"},
		Parents: []model.EntityUID{folder.UID},
	}
	err := wp.ProjectEntitiesAdd(context.Background(), owner, p.ID, []model.Entity{folder, child})
	require.NoError(t, err)

	snap, err := wp.registry.Get(p.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Entities, 2)
}

func TestWritePath_ProjectEntitiesRemove_RejectsIfStillReferenced(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	folder := model.Entity{UID: model.EntityUID{TypeName: "Demo::Folder", ID: "root"}}
	child := model.Entity{
		UID:     model.EntityUID{TypeName: "Demo::Doc", ID: "1"},
		Parents: []model.EntityUID{folder.UID},
	}
	require.NoError(t, wp.ProjectEntitiesAdd(context.Background(), owner, p.ID, []model.Entity{folder, child}))

	err := wp.ProjectEntitiesRemove(context.Background(), owner, p.ID, []model.EntityUID{folder.UID})
	assert.True(t, cedruserr.Is(err, cedruserr.ReferentialIntegrity))
}

func TestWritePath_ProjectEntitiesRemove_SucceedsOnceUnreferenced(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	folder := model.Entity{UID: model.EntityUID{TypeName: "Demo::Folder", ID: "root"}}
	require.NoError(t, wp.ProjectEntitiesAdd(context.Background(), owner, p.ID, []model.Entity{folder}))
	require.NoError(t, wp.ProjectEntitiesRemove(context.Background(), owner, p.ID, []model.EntityUID{folder.UID}))

	snap, err := wp.registry.Get(p.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
}

func TestWritePath_ProjectPoliciesAdd_RejectsInvalidSource(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	err := wp.ProjectPoliciesAdd(context.Background(), owner, p.ID, []model.Policy{{ID: "bad", Source: "not cedar at all {{"}})
	assert.True(t, cedruserr.Is(err, cedruserr.InvalidPolicy))
}

func TestWritePath_ProjectPoliciesAdd_RejectsLinkIDCollision(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	tmpl := model.Template{ID: "t1", Source: `permit(principal == ?principal, action, resource == ?resource);`}
	require.NoError(t, wp.ProjectTemplatesAdd(ctx, owner, p.ID, []model.Template{tmpl}))

	link := model.TemplateLink{
		TemplateID: "t1",
		LinkID:     "shared-id",
		Values: map[model.SlotID]model.EntityUID{
			model.SlotPrincipal: {TypeName: "Demo::User", ID: "bob"},
			model.SlotResource:  {TypeName: "Demo::Doc", ID: "1"},
		},
	}
	require.NoError(t, wp.ProjectTemplateLinksAdd(ctx, owner, p.ID, []model.TemplateLink{link}))

	err := wp.ProjectPoliciesAdd(ctx, owner, p.ID, []model.Policy{{ID: "shared-id", Source: `permit(principal, action, resource);`}})
	assert.True(t, cedruserr.Is(err, cedruserr.IdConflict))
}

func TestWritePath_ProjectPoliciesRemove_Succeeds(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	require.NoError(t, wp.ProjectPoliciesAdd(ctx, owner, p.ID, []model.Policy{{ID: "p1", Source: `permit(principal, action, resource);`}}))
	require.NoError(t, wp.ProjectPoliciesRemove(ctx, owner, p.ID, []string{"p1"}))

	snap, err := wp.registry.Get(p.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.CompiledPolicySet.Get("p1"))
}

func TestWritePath_ProjectTemplateLinksAdd_RejectsMissingSlotValue(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	tmpl := model.Template{ID: "t1", Source: `permit(principal == ?principal, action, resource == ?resource);`}
	require.NoError(t, wp.ProjectTemplatesAdd(ctx, owner, p.ID, []model.Template{tmpl}))

	link := model.TemplateLink{
		TemplateID: "t1",
		LinkID:     "l1",
		Values: map[model.SlotID]model.EntityUID{
			model.SlotPrincipal: {TypeName: "Demo::User", ID: "bob"},
		},
	}
	err := wp.ProjectTemplateLinksAdd(ctx, owner, p.ID, []model.TemplateLink{link})
	assert.True(t, cedruserr.Is(err, cedruserr.InvalidSlot))
}

func TestWritePath_ProjectTemplateLinksAdd_RejectsUnknownTemplate(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	link := model.TemplateLink{TemplateID: "missing", LinkID: "l1", Values: map[model.SlotID]model.EntityUID{}}
	err := wp.ProjectTemplateLinksAdd(context.Background(), owner, p.ID, []model.TemplateLink{link})
	assert.True(t, cedruserr.Is(err, cedruserr.NoSuchTemplate))
}

func TestWritePath_ProjectPutSchema_StrictModeRejectsUndeclaredType(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	require.NoError(t, wp.ProjectPoliciesAdd(ctx, owner, p.ID, []model.Policy{
		{ID: "p1", Source: `permit(principal, action, resource == Demo::Doc::"1");`},
	}))

	schema := []byte(`{"Demo": {"entityTypes": {"User": {}}, "actions": {}}}`)
	err := wp.ProjectPutSchema(ctx, owner, p.ID, schema, model.SchemaStrict)
	assert.True(t, cedruserr.Is(err, cedruserr.SchemaMismatch))
}

func TestWritePath_ProjectPutSchema_LenientModeRecordsDiagnostic(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	require.NoError(t, wp.ProjectPoliciesAdd(ctx, owner, p.ID, []model.Policy{
		{ID: "p1", Source: `permit(principal, action, resource == Demo::Doc::"1");`},
	}))

	schema := []byte(`{"Demo": {"entityTypes": {"User": {}}, "actions": {}}}`)
	err := wp.ProjectPutSchema(ctx, owner, p.ID, schema, model.SchemaLenient)
	require.NoError(t, err)

	snap, err := wp.registry.Get(p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Diagnostics)
}

func TestWritePath_ProjectTemplatesRemove_RejectsWhileLinkExists(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	tmpl := model.Template{ID: "t1", Source: `permit(principal == ?principal, action, resource == ?resource);`}
	require.NoError(t, wp.ProjectTemplatesAdd(ctx, owner, p.ID, []model.Template{tmpl}))

	link := model.TemplateLink{
		TemplateID: "t1",
		LinkID:     "l1",
		Values: map[model.SlotID]model.EntityUID{
			model.SlotPrincipal: {TypeName: "Demo::User", ID: "bob"},
			model.SlotResource:  {TypeName: "Demo::Doc", ID: "1"},
		},
	}
	require.NoError(t, wp.ProjectTemplateLinksAdd(ctx, owner, p.ID, []model.TemplateLink{link}))

	err := wp.ProjectTemplatesRemove(ctx, owner, p.ID, []string{"t1"})
	assert.True(t, cedruserr.Is(err, cedruserr.ReferentialIntegrity))
}

func TestWritePath_ProjectTemplatesRemove_SucceedsAfterLinkRemoved(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	tmpl := model.Template{ID: "t1", Source: `permit(principal == ?principal, action, resource == ?resource);`}
	require.NoError(t, wp.ProjectTemplatesAdd(ctx, owner, p.ID, []model.Template{tmpl}))

	link := model.TemplateLink{
		TemplateID: "t1",
		LinkID:     "l1",
		Values: map[model.SlotID]model.EntityUID{
			model.SlotPrincipal: {TypeName: "Demo::User", ID: "bob"},
			model.SlotResource:  {TypeName: "Demo::Doc", ID: "1"},
		},
	}
	require.NoError(t, wp.ProjectTemplateLinksAdd(ctx, owner, p.ID, []model.TemplateLink{link}))

	require.NoError(t, wp.ProjectTemplateLinksRemove(ctx, owner, p.ID, []string{"l1"}))
	require.NoError(t, wp.ProjectTemplatesRemove(ctx, owner, p.ID, []string{"t1"}))

	snap, err := wp.registry.Get(p.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Templates)
	assert.Empty(t, snap.Links)
}

func TestWritePath_ProjectTemplateLinksRemove_IdempotentOnUnknownID(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)

	err := wp.ProjectTemplateLinksRemove(context.Background(), owner, p.ID, []string{"never-existed"})
	assert.NoError(t, err)
}

func TestWritePath_ProjectPutSchema_StrictRejectionLeavesSchemaUnpersisted(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	require.NoError(t, wp.ProjectPoliciesAdd(ctx, owner, p.ID, []model.Policy{
		{ID: "p1", Source: `permit(principal, action, resource == Demo::Doc::"1");`},
	}))

	schema := []byte(`{"Demo": {"entityTypes": {"User": {}}, "actions": {}}}`)
	err := wp.ProjectPutSchema(ctx, owner, p.ID, schema, model.SchemaStrict)
	require.True(t, cedruserr.Is(err, cedruserr.SchemaMismatch))

	stored, getErr := wp.store.SchemaGet(ctx, p.ID)
	require.NoError(t, getErr)
	assert.Nil(t, stored)

	snap, err := wp.registry.Get(p.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.Schema)
}

func TestWritePath_ProjectRemove_PurgesRegistryAndCache(t *testing.T) {
	wp := newTestWritePath(t)
	p := createProject(t, wp)
	ctx := context.Background()

	require.NoError(t, wp.ProjectRemove(ctx, owner, p.ID))

	_, err := wp.registry.Get(p.ID)
	assert.True(t, cedruserr.Is(err, cedruserr.NoSuchProject))

	val, err := wp.shared.Get(ctx, cache.ProjectNamespace(p.ID), cache.ProjectMetaKey)
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestWritePath_ProjectRotateAPIKey_ChangesHash(t *testing.T) {
	wp := newTestWritePath(t)
	ctx := context.Background()
	p, firstKey, err := wp.ProjectCreate(ctx, owner, "demo", owner, "")
	require.NoError(t, err)

	secondKey, err := wp.ProjectRotateAPIKey(ctx, owner, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, firstKey, secondKey)

	got, err := wp.registry.Get(p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, p.APIKeyHash, got.Meta.APIKeyHash)
}
