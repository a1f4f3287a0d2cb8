package bootstrap

import (
	"context"

	"github.com/stratusmedia/cedrus/internal/cache"
	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/eventbus"
	"github.com/stratusmedia/cedrus/internal/model"
	"github.com/stratusmedia/cedrus/internal/snapshot"
	"github.com/stratusmedia/cedrus/internal/store"
)

// InitCache implements spec.md §4.5 step 2 for a cold Shared Cache: list
// every project the Durable Store knows about and mirror its current
// canonical bytes into the cache, including the project directory marker
// that LoadCache relies on to enumerate known projects and that the write
// path maintains on create and remove (see internal/cache/namespaces.go).
func (b *Bootstrapper) InitCache(ctx context.Context) error {
	page, err := b.store.ProjectList(ctx, "", 0)
	if err != nil {
		return err
	}
	for _, p := range page.Items {
		if err := b.mirrorProjectFromStore(ctx, p); err != nil {
			b.log.Error("mirroring project into cold cache", "project_id", p.ID.String(), "error", err)
		}
	}
	return nil
}

func (b *Bootstrapper) mirrorProjectFromStore(ctx context.Context, p model.Project) error {
	payload, err := store.EncodeProject(p)
	if err != nil {
		return err
	}
	if err := b.shared.Put(ctx, cache.ProjectNamespace(p.ID), cache.ProjectMetaKey, payload, 0); err != nil {
		return err
	}
	if err := b.shared.Put(ctx, cache.DirectoryNamespace, p.ID.String(), []byte{1}, 0); err != nil {
		return err
	}

	if raw, err := b.store.SchemaGet(ctx, p.ID); err == nil && raw != nil {
		if err := b.shared.Put(ctx, cache.SchemaNamespace(p.ID), cache.ProjectMetaKey, raw, 0); err != nil {
			b.log.Error("mirroring schema into cold cache", "project_id", p.ID.String(), "error", err)
		}
	}

	entities, err := b.store.EntitiesList(ctx, p.ID, "", 0)
	if err != nil {
		return err
	}
	for _, e := range entities.Items {
		payload, err := store.EncodeEntity(e)
		if err != nil {
			continue
		}
		if err := b.shared.Put(ctx, cache.EntitiesNamespace(p.ID), e.UID.String(), payload, 0); err != nil {
			b.log.Error("mirroring entity into cold cache", "entity", e.UID.String(), "error", err)
		}
	}

	policies, err := b.store.PoliciesList(ctx, p.ID, "", 0)
	if err != nil {
		return err
	}
	for _, pol := range policies.Items {
		payload, err := store.EncodePolicy(pol)
		if err != nil {
			continue
		}
		if err := b.shared.Put(ctx, cache.PoliciesNamespace(p.ID), pol.ID, payload, 0); err != nil {
			b.log.Error("mirroring policy into cold cache", "policy_id", pol.ID, "error", err)
		}
	}

	templates, err := b.store.TemplatesList(ctx, p.ID, "", 0)
	if err != nil {
		return err
	}
	for _, t := range templates.Items {
		payload, err := store.EncodeTemplate(t)
		if err != nil {
			continue
		}
		if err := b.shared.Put(ctx, cache.TemplatesNamespace(p.ID), t.ID, payload, 0); err != nil {
			b.log.Error("mirroring template into cold cache", "template_id", t.ID, "error", err)
		}
	}

	links, err := b.store.LinksList(ctx, p.ID, "", 0)
	if err != nil {
		return err
	}
	for _, l := range links.Items {
		payload, err := store.EncodeLink(l)
		if err != nil {
			continue
		}
		if err := b.shared.Put(ctx, cache.LinksNamespace(p.ID), l.LinkID, payload, 0); err != nil {
			b.log.Error("mirroring link into cold cache", "link_id", l.LinkID, "error", err)
		}
	}

	return nil
}

// LoadCache implements spec.md §4.5 step 3: populate the Registry for
// every project the directory namespace enumerates, preferring the Shared
// Cache's bytes and falling back to the Durable Store, kind by kind, for
// whatever the cache holds nothing of (spec.md §5's eventual-consistency
// fallback).
func (b *Bootstrapper) LoadCache(ctx context.Context) error {
	directory, err := b.shared.Scan(ctx, cache.DirectoryNamespace)
	if err != nil {
		return err
	}

	for _, entry := range directory {
		id, err := model.ParseProjectID(entry.Key)
		if err != nil {
			b.log.Error("directory entry is not a project id", "key", entry.Key, "error", err)
			continue
		}
		snap, err := b.rehydrate(ctx, id)
		if err != nil {
			b.log.Error("rehydrating project", "project_id", id.String(), "error", err)
			continue
		}
		b.registry.Upsert(id, snap)
	}
	return nil
}

// rehydrate builds a fresh snapshot for one project, reading schema,
// entities, policies, templates, and links from the Shared Cache and
// falling back to the Durable Store per kind: the project meta and schema
// keys are read from the store when absent from the cache, and a whole
// object kind is listed from the store when its cache namespace is empty.
// A namespace that holds only some of a kind's objects is used as is
// (spec.md §5, §9).
func (b *Bootstrapper) rehydrate(ctx context.Context, id model.ProjectID) (*snapshot.ProjectSnapshot, error) {
	meta, err := b.loadProjectMeta(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := snapshot.New(*meta)

	if raw, err := b.loadSchema(ctx, id); err != nil {
		return nil, err
	} else if raw != nil {
		parsed, err := snapshot.ParseSchema(raw)
		if err != nil {
			return nil, err
		}
		snap.Schema = parsed
	}

	entities, err := b.loadEntities(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		snap.Entities[e.UID] = e
	}

	policies, err := b.loadPolicies(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		snap.Policies[p.ID] = p
	}

	templates, err := b.loadTemplates(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		snap.Templates[t.ID] = t
	}

	links, err := b.loadLinks(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		snap.Links[l.LinkID] = l
	}

	if err := snap.Recompile(meta.SchemaMode == model.SchemaStrict); err != nil {
		return nil, err
	}
	return snap, nil
}

func (b *Bootstrapper) loadProjectMeta(ctx context.Context, id model.ProjectID) (*model.Project, error) {
	raw, err := b.shared.Get(ctx, cache.ProjectNamespace(id), cache.ProjectMetaKey)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		p, err := store.DecodeProject(raw)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}
	p, err := b.store.ProjectGet(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Bootstrapper) loadSchema(ctx context.Context, id model.ProjectID) ([]byte, error) {
	raw, err := b.shared.Get(ctx, cache.SchemaNamespace(id), cache.ProjectMetaKey)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		return raw, nil
	}
	return b.store.SchemaGet(ctx, id)
}

func (b *Bootstrapper) loadEntities(ctx context.Context, id model.ProjectID) ([]model.Entity, error) {
	entries, err := b.shared.Scan(ctx, cache.EntitiesNamespace(id))
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		out := make([]model.Entity, 0, len(entries))
		for _, e := range entries {
			entity, err := store.DecodeEntity(e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, entity)
		}
		return out, nil
	}
	page, err := b.store.EntitiesList(ctx, id, "", 0)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (b *Bootstrapper) loadPolicies(ctx context.Context, id model.ProjectID) ([]model.Policy, error) {
	entries, err := b.shared.Scan(ctx, cache.PoliciesNamespace(id))
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		out := make([]model.Policy, 0, len(entries))
		for _, e := range entries {
			p, err := store.DecodePolicy(e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}
	page, err := b.store.PoliciesList(ctx, id, "", 0)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (b *Bootstrapper) loadTemplates(ctx context.Context, id model.ProjectID) ([]model.Template, error) {
	entries, err := b.shared.Scan(ctx, cache.TemplatesNamespace(id))
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		out := make([]model.Template, 0, len(entries))
		for _, e := range entries {
			t, err := store.DecodeTemplate(e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
	page, err := b.store.TemplatesList(ctx, id, "", 0)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (b *Bootstrapper) loadLinks(ctx context.Context, id model.ProjectID) ([]model.TemplateLink, error) {
	entries, err := b.shared.Scan(ctx, cache.LinksNamespace(id))
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		out := make([]model.TemplateLink, 0, len(entries))
		for _, e := range entries {
			l, err := store.DecodeLink(e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, l)
		}
		return out, nil
	}
	page, err := b.store.LinksList(ctx, id, "", 0)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Subscribe implements spec.md §4.5 step 4: consume the Event Bus and
// reload the affected project on every event. It blocks until ctx is
// cancelled, intended to run in its own goroutine from the entrypoint.
func (b *Bootstrapper) Subscribe(ctx context.Context) error {
	return b.bus.Subscribe(ctx, b.handleEvent)
}

// handleEvent implements the one reconciliation rule spec.md §9 specifies
// for peer notifications: the event carries only ids, so the handler always
// re-reads, never trusts event payload fields as the new state. ProjectRemove
// forgets the project instead of rehydrating it.
func (b *Bootstrapper) handleEvent(ctx context.Context, evt eventbus.Event) error {
	id, err := model.ParseProjectID(evt.ProjectID)
	if err != nil {
		return cedruserr.Wrap(cedruserr.InvalidEntity, "event carried an unparseable project id", err)
	}

	if evt.Type == eventbus.ProjectRemove {
		b.registry.Remove(id)
		return nil
	}

	snap, err := b.rehydrate(ctx, id)
	if err != nil {
		return err
	}
	b.registry.Upsert(id, snap)
	return nil
}
