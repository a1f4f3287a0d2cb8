// Package store implements the Durable Store contract from spec.md §6.1:
// per-object-atomic CRUD over projects and their contents, with conditional
// create-only writes so the core can detect IdConflict. Rows are addressed
// by the (project_id, kind, id) tuple from §6.4 regardless of which
// concrete driver backs them.
package store

import (
	"context"

	"github.com/stratusmedia/cedrus/internal/model"
)

// Kind names the object category within a project's row key, per spec.md §6.4.
type Kind string

const (
	KindSchema   Kind = "schema"
	KindEntity   Kind = "entities"
	KindPolicy   Kind = "policies"
	KindTemplate Kind = "templates"
	KindLink     Kind = "links"
)

// WriteMode selects the conditional semantics spec.md §6.1 requires of put:
// create-only writes let the core detect IdConflict without a prior read.
type WriteMode int

const (
	WriteUpsert WriteMode = iota
	WriteCreateOnly
)

// Page is a page token plus the page of results it preceded.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// Store is the abstract Durable Store capability. Every operation is
// suspendable and per-object atomic; no multi-object transactions are
// assumed (spec.md §6.1).
type Store interface {
	ProjectGet(ctx context.Context, id model.ProjectID) (*model.Project, error)
	ProjectList(ctx context.Context, pageToken string, limit int) (Page[model.Project], error)
	ProjectPut(ctx context.Context, p model.Project, mode WriteMode) error
	ProjectDelete(ctx context.Context, id model.ProjectID) error

	SchemaGet(ctx context.Context, projectID model.ProjectID) ([]byte, error)
	SchemaPut(ctx context.Context, projectID model.ProjectID, schema []byte) error

	EntitiesGet(ctx context.Context, projectID model.ProjectID, uids []model.EntityUID) ([]model.Entity, error)
	EntitiesPut(ctx context.Context, projectID model.ProjectID, entities []model.Entity, mode WriteMode) error
	EntitiesDelete(ctx context.Context, projectID model.ProjectID, uids []model.EntityUID) error
	EntitiesList(ctx context.Context, projectID model.ProjectID, pageToken string, limit int) (Page[model.Entity], error)

	PoliciesGet(ctx context.Context, projectID model.ProjectID, ids []string) ([]model.Policy, error)
	PoliciesPut(ctx context.Context, projectID model.ProjectID, policies []model.Policy, mode WriteMode) error
	PoliciesDelete(ctx context.Context, projectID model.ProjectID, ids []string) error
	PoliciesList(ctx context.Context, projectID model.ProjectID, pageToken string, limit int) (Page[model.Policy], error)

	TemplatesGet(ctx context.Context, projectID model.ProjectID, ids []string) ([]model.Template, error)
	TemplatesPut(ctx context.Context, projectID model.ProjectID, templates []model.Template, mode WriteMode) error
	TemplatesDelete(ctx context.Context, projectID model.ProjectID, ids []string) error
	TemplatesList(ctx context.Context, projectID model.ProjectID, pageToken string, limit int) (Page[model.Template], error)

	LinksGet(ctx context.Context, projectID model.ProjectID, ids []string) ([]model.TemplateLink, error)
	LinksPut(ctx context.Context, projectID model.ProjectID, links []model.TemplateLink, mode WriteMode) error
	LinksDelete(ctx context.Context, projectID model.ProjectID, ids []string) error
	LinksList(ctx context.Context, projectID model.ProjectID, pageToken string, limit int) (Page[model.TemplateLink], error)

	// PurgeProject removes every row under the given project id across all
	// kinds, used by ProjectRemove (spec.md §3 Lifecycles).
	PurgeProject(ctx context.Context, id model.ProjectID) error

	Ping(ctx context.Context) error
	Close() error
}
