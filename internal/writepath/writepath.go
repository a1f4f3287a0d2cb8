// Package writepath implements the Write Path from spec.md §4.4: the fixed
// local-validation -> durable-write -> snapshot-mutation -> shared-cache-write
// -> event-publish sequence every mutating core operation follows. Ordering
// is chosen so a failure at any step leaves the system in a state the rest
// of the architecture can reconcile (spec.md §5, §9): a durable write that
// never reached the in-memory snapshot is caught by the next cache sync; a
// cache-mirror or event-publish failure is merely logged because the local
// snapshot (the source of truth for this instance's reads) already reflects
// the change.
package writepath

import (
	"context"
	"log/slog"
	"time"

	"github.com/stratusmedia/cedrus/internal/authz"
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

// WritePath wires the Durable Store, Registry, Shared Cache, and Event Bus
// together behind the fixed operation sequence from spec.md §4.4. It also
// holds a read-only Evaluator reference so mutating operations on a project
// that isn't the caller's own can consult admin-project policy, per spec.md
// §4.6's "mutated by their owner or by principals authorized via
// admin-project policies".
type WritePath struct {
	store    store.Store
	registry *registry.Registry
	shared   cache.SharedCache
	bus      eventbus.EventBus
	eval     *authz.Evaluator
	hasher   *identity.KeyHasher
	log      *slog.Logger
}

func New(st store.Store, reg *registry.Registry, shared cache.SharedCache, bus eventbus.EventBus, eval *authz.Evaluator) *WritePath {
	return &WritePath{
		store:    st,
		registry: reg,
		shared:   shared,
		bus:      bus,
		eval:     eval,
		hasher:   identity.DefaultKeyHasher(),
		log:      logger.WithComponent("writepath"),
	}
}

// cedrusAction and cedrusProjectResource build the admin-project request
// used to authorize a non-owner caller, per spec.md §4.6. The admin
// project's built-in policy set (seeded by internal/bootstrap) permits
// members of Cedrus::Group::"Admins" any action on any resource, which
// includes every Cedrus::Action against every Cedrus::Project.
func cedrusAction(name string) model.EntityUID {
	return model.EntityUID{TypeName: "Cedrus::Action", ID: name}
}

func cedrusProjectResource(id model.ProjectID) model.EntityUID {
	return model.EntityUID{TypeName: "Cedrus::Project", ID: id.String()}
}

// authorize enforces spec.md §4.6: the project's own owner may always
// mutate it; anyone else must be permitted by the admin project's compiled
// policy set. A nil caller (the zero EntityUID) is only valid for
// operations invoked by trusted bootstrap code, never from write path
// callers, so it is always rejected here.
func (w *WritePath) authorize(caller model.EntityUID, owner model.EntityUID, projectID model.ProjectID, action string) error {
	if caller == (model.EntityUID{}) {
		return cedruserr.New(cedruserr.Unauthorized, "no caller principal supplied")
	}
	if caller == owner {
		return nil
	}
	resp, err := w.eval.IsAuthorized(model.AdminProjectID, authz.Request{
		Principal: caller,
		Action:    cedrusAction(action),
		Resource:  cedrusProjectResource(projectID),
	})
	if err != nil {
		return err
	}
	if resp.Decision != authz.Allow {
		return cedruserr.New(cedruserr.Unauthorized, caller.String()+" is not permitted to "+action)
	}
	return nil
}

func isStrict(p model.Project) bool {
	return p.SchemaMode == model.SchemaStrict
}

// mirrorProject writes the project's own meta bytes plus the directory
// marker bootstrap/init_cache rely on to enumerate every project (see
// internal/cache/namespaces.go). Failures are logged only, per step 4 of
// spec.md §4.4.
func (w *WritePath) mirrorProject(ctx context.Context, p model.Project) {
	payload, err := store.EncodeProject(p)
	if err != nil {
		w.log.Error("encoding project for cache mirror", "project_id", p.ID.String(), "error", err)
		return
	}
	if err := w.shared.Put(ctx, cache.ProjectNamespace(p.ID), cache.ProjectMetaKey, payload, 0); err != nil {
		w.log.Error("mirroring project to shared cache", "project_id", p.ID.String(), "error", err)
	}
	if err := w.shared.Put(ctx, cache.DirectoryNamespace, p.ID.String(), []byte{1}, 0); err != nil {
		w.log.Error("updating project directory", "project_id", p.ID.String(), "error", err)
	}
}

func (w *WritePath) publish(ctx context.Context, evt eventbus.Event) {
	evt.OccurredAt = time.Now()
	if err := w.bus.Publish(ctx, evt); err != nil {
		w.log.Error("publishing event", "type", evt.Type, "project_id", evt.ProjectID, "error", err)
	}
}

// ProjectCreate implements spec.md §3 Lifecycles: projects are created by
// an admin-authenticated caller. It mints a v7 id, generates and hashes a
// fresh API key (returned once), and installs an empty snapshot.
func (w *WritePath) ProjectCreate(ctx context.Context, caller model.EntityUID, name string, owner model.EntityUID, identitySource string) (model.Project, string, error) {
	resp, err := w.eval.IsAuthorized(model.AdminProjectID, authz.Request{
		Principal: caller,
		Action:    cedrusAction("CreateProject"),
		Resource:  model.EntityUID{TypeName: "Cedrus::Project", ID: "*"},
	})
	if err != nil {
		return model.Project{}, "", err
	}
	if resp.Decision != authz.Allow {
		return model.Project{}, "", cedruserr.New(cedruserr.Unauthorized, caller.String()+" is not permitted to create projects")
	}

	id, err := model.NewProjectID()
	if err != nil {
		return model.Project{}, "", err
	}

	plaintext, err := identity.GenerateKey()
	if err != nil {
		return model.Project{}, "", err
	}
	hash, err := w.hasher.Hash(plaintext)
	if err != nil {
		return model.Project{}, "", err
	}

	p := model.Project{
		ID:             id,
		Name:           name,
		Owner:          owner,
		APIKeyHash:     hash,
		IdentitySource: identitySource,
		SchemaMode:     model.SchemaLenient,
		CreatedAt:      time.Now(),
	}

	if err := w.store.ProjectPut(ctx, p, store.WriteCreateOnly); err != nil {
		return model.Project{}, "", err
	}

	w.registry.Upsert(id, snapshot.New(p))
	w.mirrorProject(ctx, p)
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectCreate, ProjectID: id.String()})

	return p, plaintext, nil
}

// ProjectUpdate changes a project's mutable metadata (name, identity
// source, schema mode). It does not touch the API key; see
// ProjectRotateAPIKey for that.
func (w *WritePath) ProjectUpdate(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, name, identitySource string, mode model.SchemaMode) (model.Project, error) {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return model.Project{}, err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "UpdateProject"); err != nil {
		return model.Project{}, err
	}

	updated := snap.Meta
	updated.Name = name
	updated.IdentitySource = identitySource
	if mode != "" {
		updated.SchemaMode = mode
	}

	if err := w.store.ProjectPut(ctx, updated, store.WriteUpsert); err != nil {
		return model.Project{}, err
	}

	if err := w.registry.Mutate(projectID, isStrict(updated), func(s *snapshot.ProjectSnapshot) error {
		s.Meta = updated
		return nil
	}); err != nil {
		return model.Project{}, err
	}

	w.mirrorProject(ctx, updated)
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectUpdate, ProjectID: projectID.String()})
	return updated, nil
}

// ProjectRotateAPIKey resolves the Open Question in spec.md §9 on key
// rotation: overwrite with no grace window. The new plaintext key is
// returned exactly once.
func (w *WritePath) ProjectRotateAPIKey(ctx context.Context, caller model.EntityUID, projectID model.ProjectID) (string, error) {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return "", err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "RotateAPIKey"); err != nil {
		return "", err
	}

	plaintext, err := identity.GenerateKey()
	if err != nil {
		return "", err
	}
	hash, err := w.hasher.Hash(plaintext)
	if err != nil {
		return "", err
	}

	updated := snap.Meta
	updated.APIKeyHash = hash

	if err := w.store.ProjectPut(ctx, updated, store.WriteUpsert); err != nil {
		return "", err
	}
	if err := w.registry.Mutate(projectID, isStrict(updated), func(s *snapshot.ProjectSnapshot) error {
		s.Meta = updated
		return nil
	}); err != nil {
		return "", err
	}

	w.mirrorProject(ctx, updated)
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectUpdate, ProjectID: projectID.String()})
	return plaintext, nil
}

// ProjectPutSchema implements spec.md §4.4's project_put_schema plus the
// strict/lenient mode resolving the first Open Question in §9. In strict
// mode a schema that the project's current policies would violate rejects
// the whole write (handled inside Recompile); in lenient mode violations
// land in the snapshot's diagnostics buffer instead. Only entity types
// written as literals in policy source are checked; the types of the
// project's stored entities are not.
func (w *WritePath) ProjectPutSchema(ctx context.Context, caller model.EntityUID, projectID model.ProjectID, raw []byte, mode model.SchemaMode) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "PutSchema"); err != nil {
		return err
	}

	parsed, err := snapshot.ParseSchema(raw)
	if err != nil {
		return cedruserr.Wrap(cedruserr.InvalidSchema, "parsing schema", err)
	}
	if mode == "" {
		mode = snap.Meta.SchemaMode
	}
	strict := mode == model.SchemaStrict

	// Local validation (spec.md §4.4 step 1): try the new schema against a
	// cloned snapshot before touching the Durable Store. In strict mode a
	// schema the project's current policies would violate must
	// reject here so a rejected write never persists, rather than being
	// caught only once Mutate recompiles against the already-written schema.
	trial := snap.Clone()
	trial.Meta.SchemaMode = mode
	trial.Schema = parsed
	if err := trial.Recompile(strict); err != nil {
		return err
	}

	if err := w.store.SchemaPut(ctx, projectID, raw); err != nil {
		return err
	}

	updatedMeta := snap.Meta
	updatedMeta.SchemaMode = mode
	if err := w.registry.Mutate(projectID, strict, func(s *snapshot.ProjectSnapshot) error {
		s.Meta = updatedMeta
		s.Schema = parsed
		return nil
	}); err != nil {
		return err
	}
	if err := w.store.ProjectPut(ctx, updatedMeta, store.WriteUpsert); err != nil {
		w.log.Error("persisting updated schema mode", "project_id", projectID.String(), "error", err)
	}

	if err := w.shared.Put(ctx, cache.SchemaNamespace(projectID), cache.ProjectMetaKey, raw, 0); err != nil {
		w.log.Error("mirroring schema to shared cache", "project_id", projectID.String(), "error", err)
	}
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectPutSchema, ProjectID: projectID.String()})
	return nil
}

// ProjectRemove implements spec.md §3 Lifecycles: purge all owned
// schema/entities/policies/links from durable store, shared cache, and
// registry atomically from the local perspective.
func (w *WritePath) ProjectRemove(ctx context.Context, caller model.EntityUID, projectID model.ProjectID) error {
	snap, err := w.registry.Get(projectID)
	if err != nil {
		return err
	}
	if err := w.authorize(caller, snap.Meta.Owner, projectID, "RemoveProject"); err != nil {
		return err
	}

	if err := w.store.PurgeProject(ctx, projectID); err != nil {
		return cedruserr.Wrap(cedruserr.BackendUnavailable, "purging project from durable store", err)
	}

	w.registry.Remove(projectID)
	w.purgeCache(ctx, projectID)
	w.publish(ctx, eventbus.Event{Type: eventbus.ProjectRemove, ProjectID: projectID.String()})
	return nil
}

// purgeCache best-effort clears every namespace a project owns in the
// Shared Cache, including the enumeration directory. Failures are logged:
// a stale cache entry is self-healing (the registry already forgot the
// project, and ProjectGet against Durable Store will 404 for it).
func (w *WritePath) purgeCache(ctx context.Context, projectID model.ProjectID) {
	namespaces := []string{
		cache.SchemaNamespace(projectID),
		cache.EntitiesNamespace(projectID),
		cache.PoliciesNamespace(projectID),
		cache.TemplatesNamespace(projectID),
		cache.LinksNamespace(projectID),
		cache.ProjectNamespace(projectID),
	}
	for _, ns := range namespaces {
		entries, err := w.shared.Scan(ctx, ns)
		if err != nil {
			w.log.Error("scanning namespace for purge", "namespace", ns, "error", err)
			continue
		}
		for _, e := range entries {
			if err := w.shared.Delete(ctx, ns, e.Key); err != nil {
				w.log.Error("purging cache entry", "namespace", ns, "key", e.Key, "error", err)
			}
		}
	}
	if err := w.shared.Delete(ctx, cache.DirectoryNamespace, projectID.String()); err != nil {
		w.log.Error("purging project directory entry", "project_id", projectID.String(), "error", err)
	}
}
