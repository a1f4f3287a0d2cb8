package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/model"
)

// MemStore is an in-memory Store, useful for tests and single-process
// development the way the teacher's own cache package ships a MemoryCache
// alongside its Redis-backed one.
type MemStore struct {
	mu       sync.RWMutex
	projects map[model.ProjectID]model.Project
	schemas  map[model.ProjectID][]byte
	entities map[model.ProjectID]map[model.EntityUID]model.Entity
	policies map[model.ProjectID]map[string]model.Policy
	tmpls    map[model.ProjectID]map[string]model.Template
	links    map[model.ProjectID]map[string]model.TemplateLink
}

func NewMemStore() *MemStore {
	return &MemStore{
		projects: map[model.ProjectID]model.Project{},
		schemas:  map[model.ProjectID][]byte{},
		entities: map[model.ProjectID]map[model.EntityUID]model.Entity{},
		policies: map[model.ProjectID]map[string]model.Policy{},
		tmpls:    map[model.ProjectID]map[string]model.Template{},
		links:    map[model.ProjectID]map[string]model.TemplateLink{},
	}
}

func (m *MemStore) ProjectGet(_ context.Context, id model.ProjectID) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, cedruserr.New(cedruserr.NoSuchProject, id.String())
	}
	return &p, nil
}

func (m *MemStore) ProjectList(_ context.Context, _ string, limit int) (Page[model.Project], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return Page[model.Project]{Items: out}, nil
}

func (m *MemStore) ProjectPut(_ context.Context, p model.Project, mode WriteMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode == WriteCreateOnly {
		if _, exists := m.projects[p.ID]; exists {
			return cedruserr.New(cedruserr.IdConflict, p.ID.String())
		}
	}
	m.projects[p.ID] = p
	return nil
}

func (m *MemStore) ProjectDelete(_ context.Context, id model.ProjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	return nil
}

func (m *MemStore) SchemaGet(_ context.Context, projectID model.ProjectID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[projectID]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (m *MemStore) SchemaPut(_ context.Context, projectID model.ProjectID, schema []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[projectID] = schema
	return nil
}

func (m *MemStore) EntitiesGet(_ context.Context, projectID model.ProjectID, uids []model.EntityUID) ([]model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.entities[projectID]
	out := make([]model.Entity, 0, len(uids))
	for _, u := range uids {
		if e, ok := bucket[u]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) EntitiesPut(_ context.Context, projectID model.ProjectID, entities []model.Entity, mode WriteMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.entities[projectID]
	if bucket == nil {
		bucket = map[model.EntityUID]model.Entity{}
		m.entities[projectID] = bucket
	}
	if mode == WriteCreateOnly {
		for _, e := range entities {
			if _, exists := bucket[e.UID]; exists {
				return cedruserr.New(cedruserr.IdConflict, e.UID.String())
			}
		}
	}
	for _, e := range entities {
		bucket[e.UID] = e
	}
	return nil
}

func (m *MemStore) EntitiesDelete(_ context.Context, projectID model.ProjectID, uids []model.EntityUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.entities[projectID]
	for _, u := range uids {
		delete(bucket, u)
	}
	return nil
}

func (m *MemStore) EntitiesList(_ context.Context, projectID model.ProjectID, _ string, limit int) (Page[model.Entity], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Entity, 0, len(m.entities[projectID]))
	for _, e := range m.entities[projectID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID.String() < out[j].UID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return Page[model.Entity]{Items: out}, nil
}

func (m *MemStore) PoliciesGet(_ context.Context, projectID model.ProjectID, ids []string) ([]model.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.policies[projectID]
	out := make([]model.Policy, 0, len(ids))
	for _, id := range ids {
		if p, ok := bucket[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStore) PoliciesPut(_ context.Context, projectID model.ProjectID, policies []model.Policy, mode WriteMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.policies[projectID]
	if bucket == nil {
		bucket = map[string]model.Policy{}
		m.policies[projectID] = bucket
	}
	if mode == WriteCreateOnly {
		for _, p := range policies {
			if _, exists := bucket[p.ID]; exists {
				return cedruserr.New(cedruserr.IdConflict, p.ID)
			}
		}
	}
	for _, p := range policies {
		bucket[p.ID] = p
	}
	return nil
}

func (m *MemStore) PoliciesDelete(_ context.Context, projectID model.ProjectID, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.policies[projectID]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

func (m *MemStore) PoliciesList(_ context.Context, projectID model.ProjectID, _ string, limit int) (Page[model.Policy], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Policy, 0, len(m.policies[projectID]))
	for _, p := range m.policies[projectID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return Page[model.Policy]{Items: out}, nil
}

func (m *MemStore) TemplatesGet(_ context.Context, projectID model.ProjectID, ids []string) ([]model.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.tmpls[projectID]
	out := make([]model.Template, 0, len(ids))
	for _, id := range ids {
		if t, ok := bucket[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemStore) TemplatesPut(_ context.Context, projectID model.ProjectID, templates []model.Template, mode WriteMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.tmpls[projectID]
	if bucket == nil {
		bucket = map[string]model.Template{}
		m.tmpls[projectID] = bucket
	}
	if mode == WriteCreateOnly {
		for _, t := range templates {
			if _, exists := bucket[t.ID]; exists {
				return cedruserr.New(cedruserr.IdConflict, t.ID)
			}
		}
	}
	for _, t := range templates {
		bucket[t.ID] = t
	}
	return nil
}

func (m *MemStore) TemplatesDelete(_ context.Context, projectID model.ProjectID, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.tmpls[projectID]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

func (m *MemStore) TemplatesList(_ context.Context, projectID model.ProjectID, _ string, limit int) (Page[model.Template], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Template, 0, len(m.tmpls[projectID]))
	for _, t := range m.tmpls[projectID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return Page[model.Template]{Items: out}, nil
}

func (m *MemStore) LinksGet(_ context.Context, projectID model.ProjectID, ids []string) ([]model.TemplateLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := m.links[projectID]
	out := make([]model.TemplateLink, 0, len(ids))
	for _, id := range ids {
		if l, ok := bucket[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemStore) LinksPut(_ context.Context, projectID model.ProjectID, links []model.TemplateLink, mode WriteMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.links[projectID]
	if bucket == nil {
		bucket = map[string]model.TemplateLink{}
		m.links[projectID] = bucket
	}
	if mode == WriteCreateOnly {
		for _, l := range links {
			if _, exists := bucket[l.LinkID]; exists {
				return cedruserr.New(cedruserr.IdConflict, l.LinkID)
			}
		}
	}
	for _, l := range links {
		bucket[l.LinkID] = l
	}
	return nil
}

func (m *MemStore) LinksDelete(_ context.Context, projectID model.ProjectID, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.links[projectID]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

func (m *MemStore) LinksList(_ context.Context, projectID model.ProjectID, _ string, limit int) (Page[model.TemplateLink], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TemplateLink, 0, len(m.links[projectID]))
	for _, l := range m.links[projectID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkID < out[j].LinkID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return Page[model.TemplateLink]{Items: out}, nil
}

func (m *MemStore) PurgeProject(_ context.Context, id model.ProjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	delete(m.schemas, id)
	delete(m.entities, id)
	delete(m.policies, id)
	delete(m.tmpls, id)
	delete(m.links, id)
	return nil
}

func (m *MemStore) Ping(context.Context) error { return nil }
func (m *MemStore) Close() error               { return nil }

var _ Store = (*MemStore)(nil)
