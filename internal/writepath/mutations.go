package writepath

import (
	"context"

	"github.com/stratusmedia/cedrus/internal/cache"
	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/eventbus"
	"github.com/stratusmedia/cedrus/internal/model"
	"github.com/stratusmedia/cedrus/internal/snapshot"
	"github.com/stratusmedia/cedrus/internal/store"
)

// ProjectEntitiesAdd implements spec.md §4.4's add_entities: validate that
// every referenced parent already exists in the project (or is itself part
// of this batch), durably write, then fold into the snapshot.
func (w *WritePath) ProjectEntitiesAdd(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, entities []model.Entity) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "AddEntities"); err != nil {
		return err
	}

	incoming := map[model.EntityUID]bool{}
	for _, e := range entities {
		incoming[e.UID] = true
	}
	for _, e := range entities {
		for _, parent := range e.Parents {
			if incoming[parent] {
				continue
			}
			if _, ok := snap.Entities[parent]; !ok {
				return cedruserr.New(cedruserr.ReferentialIntegrity, "entity "+e.UID.String()+" references unknown parent "+parent.String())
			}
		}
	}

	if _, err := writeWithRollback(entities,
		func(batch []model.Entity) error { return w.store.EntitiesPut(ctx, projectID, batch, store.WriteCreateOnly) },
		func(uids []model.EntityUID) error { return w.store.EntitiesDelete(ctx, projectID, uids) },
		func(e model.Entity) model.EntityUID { return e.UID },
	); err != nil {
		return err
	}

	if err := w.registry.Mutate(projectID, isStrict(snap.Meta), func(s *snapshot.ProjectSnapshot) error {
		for _, e := range entities {
			s.Entities[e.UID] = e
		}
		return nil
	}); err != nil {
		return err
	}

	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.UID.String()
		w.mirrorEntity(ctx, projectID, e)
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectAddEntities, ProjectID: projectID.String(), AffectedIDs: ids})
	return nil
}

// ProjectEntitiesRemove implements remove_entities: an entity referenced as
// a parent by a surviving entity cannot be removed, per spec.md §3's
// referential-integrity invariant.
func (w *WritePath) ProjectEntitiesRemove(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, uids []model.EntityUID) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "RemoveEntities"); err != nil {
		return err
	}

	removing := map[model.EntityUID]bool{}
	for _, u := range uids {
		removing[u] = true
	}
	for uid, e := range snap.Entities {
		if removing[uid] {
			continue
		}
		for _, parent := range e.Parents {
			if removing[parent] {
				return cedruserr.New(cedruserr.ReferentialIntegrity, "entity "+parent.String()+" is still referenced as a parent by "+uid.String())
			}
		}
	}

	if err := w.store.EntitiesDelete(ctx, projectID, uids); err != nil {
		return cedruserr.Wrap(cedruserr.BackendUnavailable, "deleting entities", err)
	}

	if err := w.registry.Mutate(projectID, isStrict(snap.Meta), func(s *snapshot.ProjectSnapshot) error {
		for _, u := range uids {
			delete(s.Entities, u)
		}
		return nil
	}); err != nil {
		return err
	}

	ids := make([]string, len(uids))
	for i, u := range uids {
		ids[i] = u.String()
		if err := w.shared.Delete(ctx, cache.EntitiesNamespace(projectID), u.String()); err != nil {
			w.log.Error("purging entity from cache", "entity", u.String(), "error", err)
		}
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectRemoveEntities, ProjectID: projectID.String(), AffectedIDs: ids})
	return nil
}

// ProjectPoliciesAdd implements add_policies: each source is parsed before
// any durable write (spec.md §4.4 step 1), and a policy id colliding with an
// existing template link id is rejected per §4.2's tie-break rule.
func (w *WritePath) ProjectPoliciesAdd(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, policies []model.Policy) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "AddPolicies"); err != nil {
		return err
	}

	for _, p := range policies {
		if err := snapshot.ValidatePolicySource(p.Source); err != nil {
			return err
		}
		if _, exists := snap.Links[p.ID]; exists {
			return cedruserr.New(cedruserr.IdConflict, "policy id "+p.ID+" collides with a template link id")
		}
	}

	if _, err := writeWithRollback(policies,
		func(batch []model.Policy) error { return w.store.PoliciesPut(ctx, projectID, batch, store.WriteCreateOnly) },
		func(ids []string) error { return w.store.PoliciesDelete(ctx, projectID, ids) },
		func(p model.Policy) string { return p.ID },
	); err != nil {
		return err
	}

	if err := w.registry.Mutate(projectID, isStrict(snap.Meta), func(s *snapshot.ProjectSnapshot) error {
		for _, p := range policies {
			s.Policies[p.ID] = p
		}
		return nil
	}); err != nil {
		return err
	}

	ids := make([]string, len(policies))
	for i, p := range policies {
		ids[i] = p.ID
		w.mirrorPolicy(ctx, projectID, p)
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectAddPolicies, ProjectID: projectID.String(), AffectedIDs: ids})
	return nil
}

// ProjectPoliciesRemove implements remove_policies.
func (w *WritePath) ProjectPoliciesRemove(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, ids []string) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "RemovePolicies"); err != nil {
		return err
	}

	if err := w.store.PoliciesDelete(ctx, projectID, ids); err != nil {
		return cedruserr.Wrap(cedruserr.BackendUnavailable, "deleting policies", err)
	}

	if err := w.registry.Mutate(projectID, isStrict(snap.Meta), func(s *snapshot.ProjectSnapshot) error {
		for _, id := range ids {
			delete(s.Policies, id)
		}
		return nil
	}); err != nil {
		return err
	}

	for _, id := range ids {
		if err := w.shared.Delete(ctx, cache.PoliciesNamespace(projectID), id); err != nil {
			w.log.Error("purging policy from cache", "policy_id", id, "error", err)
		}
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectRemovePolicies, ProjectID: projectID.String(), AffectedIDs: ids})
	return nil
}

// ProjectTemplatesAdd implements add_templates. Templates are validated
// before any durable write, like static policies: since instantiate only
// substitutes text, each source must parse once both slots are filled with
// placeholder entity references (spec.md §4.2).
func (w *WritePath) ProjectTemplatesAdd(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, templates []model.Template) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "AddTemplates"); err != nil {
		return err
	}

	placeholders := map[model.SlotID]model.EntityUID{
		model.SlotPrincipal: {TypeName: "Cedrus::Slot", ID: "principal"},
		model.SlotResource:  {TypeName: "Cedrus::Slot", ID: "resource"},
	}
	for _, t := range templates {
		if err := snapshot.ValidateInstantiation(t.Source, placeholders); err != nil {
			return err
		}
	}

	if _, err := writeWithRollback(templates,
		func(batch []model.Template) error { return w.store.TemplatesPut(ctx, projectID, batch, store.WriteCreateOnly) },
		func(ids []string) error { return w.store.TemplatesDelete(ctx, projectID, ids) },
		func(t model.Template) string { return t.ID },
	); err != nil {
		return err
	}

	if err := w.registry.Mutate(projectID, isStrict(snap.Meta), func(s *snapshot.ProjectSnapshot) error {
		for _, t := range templates {
			s.Templates[t.ID] = t
		}
		return nil
	}); err != nil {
		return err
	}

	ids := make([]string, len(templates))
	for i, t := range templates {
		ids[i] = t.ID
		w.mirrorTemplate(ctx, projectID, t)
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectAddTemplates, ProjectID: projectID.String(), AffectedIDs: ids})
	return nil
}

// ProjectTemplatesRemove implements remove_templates: a template still
// referenced by a live link cannot be removed, mirroring the referential
// integrity remove_entities enforces for parents (spec.md §3; §8 invariant
// 5: "removing a template that has live links fails with ReferentialIntegrity").
func (w *WritePath) ProjectTemplatesRemove(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, ids []string) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "RemoveTemplates"); err != nil {
		return err
	}

	removing := map[string]bool{}
	for _, id := range ids {
		removing[id] = true
	}
	for _, l := range snap.Links {
		if removing[l.TemplateID] {
			return cedruserr.New(cedruserr.ReferentialIntegrity, "template "+l.TemplateID+" is still referenced by link "+l.LinkID)
		}
	}

	if err := w.store.TemplatesDelete(ctx, projectID, ids); err != nil {
		return cedruserr.Wrap(cedruserr.BackendUnavailable, "deleting templates", err)
	}

	if err := w.registry.Mutate(projectID, isStrict(snap.Meta), func(s *snapshot.ProjectSnapshot) error {
		for _, id := range ids {
			delete(s.Templates, id)
		}
		return nil
	}); err != nil {
		return err
	}

	for _, id := range ids {
		if err := w.shared.Delete(ctx, cache.TemplatesNamespace(projectID), id); err != nil {
			w.log.Error("purging template from cache", "template_id", id, "error", err)
		}
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectRemoveTemplates, ProjectID: projectID.String(), AffectedIDs: ids})
	return nil
}

// ProjectTemplateLinksRemove implements remove_template_links. Unlike
// template removal, removing a link id that is already gone is not an
// error: a link has nothing else depending on it, so link removal is
// idempotent (spec.md §8 end-to-end scenario 3: remove the link first, then
// the template, and both succeed).
func (w *WritePath) ProjectTemplateLinksRemove(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, ids []string) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "RemoveTemplateLinks"); err != nil {
		return err
	}

	if err := w.store.LinksDelete(ctx, projectID, ids); err != nil {
		return cedruserr.Wrap(cedruserr.BackendUnavailable, "deleting template links", err)
	}

	if err := w.registry.Mutate(projectID, isStrict(snap.Meta), func(s *snapshot.ProjectSnapshot) error {
		for _, id := range ids {
			delete(s.Links, id)
		}
		return nil
	}); err != nil {
		return err
	}

	for _, id := range ids {
		if err := w.shared.Delete(ctx, cache.LinksNamespace(projectID), id); err != nil {
			w.log.Error("purging template link from cache", "link_id", id, "error", err)
		}
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectRemoveTemplateLinks, ProjectID: projectID.String(), AffectedIDs: ids})
	return nil
}

// ProjectTemplateLinksAdd implements add_template_links: each link is
// instantiated against its template during local validation, so a
// missing-slot-value or dangling template id is caught before any durable
// write (spec.md §4.4 step 1, §4.2).
func (w *WritePath) ProjectTemplateLinksAdd(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, links []model.TemplateLink) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "AddTemplateLinks"); err != nil {
		return err
	}

	for _, l := range links {
		tmpl, ok := snap.Templates[l.TemplateID]
		if !ok {
			return cedruserr.New(cedruserr.NoSuchTemplate, "link "+l.LinkID+" references unknown template "+l.TemplateID)
		}
		if err := snapshot.ValidateInstantiation(tmpl.Source, l.Values); err != nil {
			return err
		}
		if _, exists := snap.Policies[l.LinkID]; exists {
			return cedruserr.New(cedruserr.IdConflict, "link id "+l.LinkID+" collides with a static policy id")
		}
	}

	if _, err := writeWithRollback(links,
		func(batch []model.TemplateLink) error { return w.store.LinksPut(ctx, projectID, batch, store.WriteCreateOnly) },
		func(ids []string) error { return w.store.LinksDelete(ctx, projectID, ids) },
		func(l model.TemplateLink) string { return l.LinkID },
	); err != nil {
		return err
	}

	if err := w.registry.Mutate(projectID, isStrict(snap.Meta), func(s *snapshot.ProjectSnapshot) error {
		for _, l := range links {
			s.Links[l.LinkID] = l
		}
		return nil
	}); err != nil {
		return err
	}

	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.LinkID
		w.mirrorLink(ctx, projectID, l)
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectAddTemplateLinks, ProjectID: projectID.String(), AffectedIDs: ids})
	return nil
}

func (w *WritePath) mirrorEntity(ctx context.Context, projectID model.ProjectID, e model.Entity) {
	payload, err := store.EncodeEntity(e)
	if err != nil {
		w.log.Error("encoding entity for cache mirror", "entity", e.UID.String(), "error", err)
		return
	}
	if err := w.shared.Put(ctx, cache.EntitiesNamespace(projectID), e.UID.String(), payload, 0); err != nil {
		w.log.Error("mirroring entity to shared cache", "entity", e.UID.String(), "error", err)
	}
}

func (w *WritePath) mirrorPolicy(ctx context.Context, projectID model.ProjectID, p model.Policy) {
	payload, err := store.EncodePolicy(p)
	if err != nil {
		w.log.Error("encoding policy for cache mirror", "policy_id", p.ID, "error", err)
		return
	}
	if err := w.shared.Put(ctx, cache.PoliciesNamespace(projectID), p.ID, payload, 0); err != nil {
		w.log.Error("mirroring policy to shared cache", "policy_id", p.ID, "error", err)
	}
}

func (w *WritePath) mirrorTemplate(ctx context.Context, projectID model.ProjectID, t model.Template) {
	payload, err := store.EncodeTemplate(t)
	if err != nil {
		w.log.Error("encoding template for cache mirror", "template_id", t.ID, "error", err)
		return
	}
	if err := w.shared.Put(ctx, cache.TemplatesNamespace(projectID), t.ID, payload, 0); err != nil {
		w.log.Error("mirroring template to shared cache", "template_id", t.ID, "error", err)
	}
}

func (w *WritePath) mirrorLink(ctx context.Context, projectID model.ProjectID, l model.TemplateLink) {
	payload, err := store.EncodeLink(l)
	if err != nil {
		w.log.Error("encoding link for cache mirror", "link_id", l.LinkID, "error", err)
		return
	}
	if err := w.shared.Put(ctx, cache.LinksNamespace(projectID), l.LinkID, payload, 0); err != nil {
		w.log.Error("mirroring link to shared cache", "link_id", l.LinkID, "error", err)
	}
}

// writeWithRollback durably writes items one at a time (the Durable Store
// gives no multi-object transaction, spec.md §6.1) and, on a mid-batch
// failure, attempts to delete the subset already written so a partial batch
// never lingers silently. If the compensating delete itself fails the
// caller is told via PartiallyDurable rather than the original error, since
// at that point the durable store and the about-to-be-built snapshot would
// otherwise diverge with no signal.
func writeWithRollback[T any, K comparable](items []T, put func([]T) error, remove func([]K) error, keyOf func(T) K) ([]T, error) {
	written := make([]T, 0, len(items))
	for _, item := range items {
		if err := put([]T{item}); err != nil {
			if len(written) > 0 {
				keys := make([]K, len(written))
				for i, w := range written {
					keys[i] = keyOf(w)
				}
				if rbErr := remove(keys); rbErr != nil {
					return nil, cedruserr.Wrap(cedruserr.PartiallyDurable, "rolling back partial batch after write failure", rbErr)
				}
			}
			return nil, err
		}
		written = append(written, item)
	}
	return written, nil
}

