package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/model"
	"github.com/stratusmedia/cedrus/internal/registry"
	"github.com/stratusmedia/cedrus/internal/snapshot"
)

func setupProject(t *testing.T) (*registry.Registry, model.ProjectID) {
	t.Helper()
	r := registry.New()
	id, err := model.NewProjectID()
	require.NoError(t, err)
	r.Upsert(id, snapshot.New(model.Project{ID: id, Name: "demo"}))
	return r, id
}

// scenario 1 from spec.md §8: owner-can-view policy permits alice on doc1.
func TestEvaluator_OwnerCanView_Allows(t *testing.T) {
	r, id := setupProject(t)
	require.NoError(t, r.Mutate(id, true, func(s *snapshot.ProjectSnapshot) error {
		alice := model.EntityUID{TypeName: "MyApp::User", ID: "alice"}
		s.Entities[alice] = model.Entity{UID: alice}
		s.Entities[model.EntityUID{TypeName: "MyApp::Document", ID: "doc1"}] = model.Entity{
			UID:   model.EntityUID{TypeName: "MyApp::Document", ID: "doc1"},
			Attrs: map[string]model.AttrValue{"owner": model.EntityAttr(alice)},
		}
		s.Policies["owner-can-view"] = model.Policy{
			ID:     "owner-can-view",
			Source: `permit(principal, action, resource) when { resource.owner == principal };`,
		}
		return nil
	}))

	eval := New(r, 100)
	resp, err := eval.IsAuthorized(id, Request{
		Principal: model.EntityUID{TypeName: "MyApp::User", ID: "alice"},
		Action:    model.EntityUID{TypeName: "MyApp::Action", ID: "viewDocument"},
		Resource:  model.EntityUID{TypeName: "MyApp::Document", ID: "doc1"},
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, resp.Decision)
	assert.Contains(t, resp.Diagnostics.DeterminingPolicies, "owner-can-view")
}

// scenario 2: unknown principal denies, not errors.
func TestEvaluator_UnknownPrincipal_Denies(t *testing.T) {
	r, id := setupProject(t)
	require.NoError(t, r.Mutate(id, true, func(s *snapshot.ProjectSnapshot) error {
		s.Policies["owner-can-view"] = model.Policy{
			ID:     "owner-can-view",
			Source: `permit(principal, action, resource) when { resource.owner == principal };`,
		}
		return nil
	}))

	eval := New(r, 100)
	resp, err := eval.IsAuthorized(id, Request{
		Principal: model.EntityUID{TypeName: "MyApp::User", ID: "bob"},
		Action:    model.EntityUID{TypeName: "MyApp::Action", ID: "viewDocument"},
		Resource:  model.EntityUID{TypeName: "MyApp::Document", ID: "doc1"},
	})
	require.NoError(t, err)
	assert.Equal(t, Deny, resp.Decision)
}

// tags are a distinct channel from attributes (spec.md §3); a policy that
// reads a tag must see what ProjectEntitiesAdd stored in Entity.Tags.
func TestEvaluator_PolicyReadsEntityTag_Allows(t *testing.T) {
	r, id := setupProject(t)
	doc := model.EntityUID{TypeName: "MyApp::Document", ID: "doc1"}
	require.NoError(t, r.Mutate(id, true, func(s *snapshot.ProjectSnapshot) error {
		s.Entities[doc] = model.Entity{
			UID:  doc,
			Tags: map[string]model.AttrValue{"visibility": model.StringAttr("public")},
		}
		s.Policies["tagged-public"] = model.Policy{
			ID:     "tagged-public",
			Source: `permit(principal, action, resource) when { resource.getTag("visibility") == "public" };`,
		}
		return nil
	}))

	eval := New(r, 100)
	resp, err := eval.IsAuthorized(id, Request{
		Principal: model.EntityUID{TypeName: "MyApp::User", ID: "alice"},
		Action:    model.EntityUID{TypeName: "MyApp::Action", ID: "viewDocument"},
		Resource:  doc,
	})
	require.NoError(t, err)
	assert.Equal(t, Allow, resp.Decision)
}

func TestEvaluator_EmptyPolicySet_Denies(t *testing.T) {
	r, id := setupProject(t)
	eval := New(r, 100)
	resp, err := eval.IsAuthorized(id, Request{
		Principal: model.EntityUID{TypeName: "MyApp::User", ID: "alice"},
		Action:    model.EntityUID{TypeName: "MyApp::Action", ID: "viewDocument"},
		Resource:  model.EntityUID{TypeName: "MyApp::Document", ID: "doc1"},
	})
	require.NoError(t, err)
	assert.Equal(t, Deny, resp.Decision)
}

func TestEvaluator_NoSuchProject(t *testing.T) {
	r := registry.New()
	eval := New(r, 100)
	missing, err := model.NewProjectID()
	require.NoError(t, err)

	_, err = eval.IsAuthorized(missing, Request{})
	assert.True(t, cedruserr.Is(err, cedruserr.NoSuchProject))
}

// parent cycle A->B->A must terminate.
func TestEvaluator_EntityClosure_HandlesParentCycle(t *testing.T) {
	r, id := setupProject(t)
	a := model.EntityUID{TypeName: "MyApp::User", ID: "a"}
	b := model.EntityUID{TypeName: "MyApp::User", ID: "b"}
	require.NoError(t, r.Mutate(id, true, func(s *snapshot.ProjectSnapshot) error {
		s.Entities[a] = model.Entity{UID: a, Parents: []model.EntityUID{b}}
		s.Entities[b] = model.Entity{UID: b, Parents: []model.EntityUID{a}}
		return nil
	}))

	snap, err := r.Get(id)
	require.NoError(t, err)

	closure := entityClosure(snap, Request{Principal: a, Resource: b})
	assert.Len(t, closure, 2)
}

func TestEvaluator_IsAuthorizedBatch_PreservesOrderAndEquivalence(t *testing.T) {
	r, id := setupProject(t)
	require.NoError(t, r.Mutate(id, true, func(s *snapshot.ProjectSnapshot) error {
		s.Policies["p"] = model.Policy{ID: "p", Source: `permit(principal == MyApp::User::"alice", action, resource);`}
		return nil
	}))

	eval := New(r, 100)
	reqs := []Request{
		{Principal: model.EntityUID{TypeName: "MyApp::User", ID: "alice"}, Action: model.EntityUID{TypeName: "MyApp::Action", ID: "a"}, Resource: model.EntityUID{TypeName: "MyApp::Document", ID: "d1"}},
		{Principal: model.EntityUID{TypeName: "MyApp::User", ID: "bob"}, Action: model.EntityUID{TypeName: "MyApp::Action", ID: "a"}, Resource: model.EntityUID{TypeName: "MyApp::Document", ID: "d1"}},
	}

	batch, err := eval.IsAuthorizedBatch(id, reqs)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	for i, req := range reqs {
		single, err := eval.IsAuthorized(id, req)
		require.NoError(t, err)
		assert.Equal(t, single.Decision, batch[i].Decision)
	}
	assert.Equal(t, Allow, batch[0].Decision)
	assert.Equal(t, Deny, batch[1].Decision)
}

func TestEvaluator_IsAuthorizedBatch_RejectsOversizedBatch(t *testing.T) {
	r, id := setupProject(t)
	eval := New(r, 2)

	_, err := eval.IsAuthorizedBatch(id, make([]Request, 3))
	assert.True(t, cedruserr.Is(err, cedruserr.BatchTooLarge))
}
