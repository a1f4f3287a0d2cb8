// Package snapshot implements the ProjectSnapshot and policy-compilation
// algorithm from spec.md §3 and §4.2: the per-project in-memory bundle of
// schema, entities, raw policy inputs, and the derived Cedar PolicySet.
package snapshot

import (
	cedar "github.com/cedar-policy/cedar-go"

	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/model"
)

// ProjectSnapshot is the self-consistent triple described by the Registry's
// invariant in spec.md §4.1: entities, raw policy inputs, and a compiled
// policy set built from exactly those raw inputs.
type ProjectSnapshot struct {
	Meta     model.Project
	Schema   *Schema
	Entities map[model.EntityUID]model.Entity

	Policies  map[string]model.Policy
	Templates map[string]model.Template
	Links     map[string]model.TemplateLink

	CompiledPolicySet *cedar.PolicySet
	Diagnostics       []Diagnostic
}

// New builds an empty snapshot for a freshly created project.
func New(meta model.Project) *ProjectSnapshot {
	return &ProjectSnapshot{
		Meta:      meta,
		Entities:  map[model.EntityUID]model.Entity{},
		Policies:  map[string]model.Policy{},
		Templates: map[string]model.Template{},
		Links:     map[string]model.TemplateLink{},
	}
}

// Clone returns a deep-enough copy for copy-on-write mutation: the maps are
// copied so a mutator can add/remove entries without affecting readers
// still holding the previous snapshot via pointer swap (spec.md §5).
func (s *ProjectSnapshot) Clone() *ProjectSnapshot {
	clone := &ProjectSnapshot{
		Meta:      s.Meta,
		Schema:    s.Schema,
		Entities:  make(map[model.EntityUID]model.Entity, len(s.Entities)),
		Policies:  make(map[string]model.Policy, len(s.Policies)),
		Templates: make(map[string]model.Template, len(s.Templates)),
		Links:     make(map[string]model.TemplateLink, len(s.Links)),
	}
	for k, v := range s.Entities {
		clone.Entities[k] = v
	}
	for k, v := range s.Policies {
		clone.Policies[k] = v
	}
	for k, v := range s.Templates {
		clone.Templates[k] = v
	}
	for k, v := range s.Links {
		clone.Links[k] = v
	}
	return clone
}

// Recompile rebuilds CompiledPolicySet and Diagnostics from the snapshot's
// current raw inputs, per spec.md §4.2. strictSchema controls whether a
// schema violation rejects the recompilation (SchemaMismatch propagated to
// the write path) or is merely recorded as a diagnostic.
func (s *ProjectSnapshot) Recompile(strictSchema bool) error {
	if err := checkLinkPolicyIDCollisions(s.Policies, s.Links); err != nil {
		return err
	}
	ps, diags, err := compile(s.Policies, s.Templates, s.Links, s.Schema, strictSchema)
	if err != nil {
		return err
	}
	s.CompiledPolicySet = ps
	s.Diagnostics = diags
	return nil
}

// checkLinkPolicyIDCollisions enforces the tie-break rule in spec.md §4.2:
// when a policy id and a link id collide, the link wins and the static
// policy write is the one that should have been rejected at validation
// time. Recompile defends in depth by refusing to compile a snapshot that
// somehow still carries the collision.
func checkLinkPolicyIDCollisions(policies map[string]model.Policy, links map[string]model.TemplateLink) error {
	for linkID := range links {
		if _, exists := policies[linkID]; exists {
			return cedruserr.New(cedruserr.IdConflict, "policy id "+linkID+" collides with a template link id")
		}
	}
	return nil
}
