// Package registry implements the in-memory cache of record described in
// spec.md §4.1 and §9: a concurrent map of project id to ProjectSnapshot
// with many-reader / few-writer semantics and per-project write exclusivity,
// generalized from the teacher's RWMutex-guarded map (internal/cache/memory.go)
// into a fixed set of shards so unrelated projects never contend on the
// same lock.
package registry

import (
	"hash/fnv"
	"sync"

	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/model"
	"github.com/stratusmedia/cedrus/internal/snapshot"
)

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	projects map[model.ProjectID]*snapshot.ProjectSnapshot
	// writeLocks gives each project write exclusivity independent of the
	// shard-wide RWMutex, so a long-running mutate on one project doesn't
	// block reads of sibling projects hashed to the same shard.
	writeLocks map[model.ProjectID]*sync.Mutex
}

// Registry is the Map<ProjectId, ProjectSnapshot> from spec.md §4.1.
// Compiled Cedar artifacts inside a snapshot are immutable once placed;
// replacement is pointer-swap semantics via upsert/mutate, so a reader
// holding an older snapshot continues safely after a writer commits.
type Registry struct {
	shards [shardCount]*shard
}

func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{
			projects:   map[model.ProjectID]*snapshot.ProjectSnapshot{},
			writeLocks: map[model.ProjectID]*sync.Mutex{},
		}
	}
	return r
}

func (r *Registry) shardFor(id model.ProjectID) *shard {
	h := fnv.New32a()
	h.Write(id[:])
	return r.shards[h.Sum32()%shardCount]
}

// Get returns the current snapshot for a project, or NoSuchProject.
func (r *Registry) Get(id model.ProjectID) (*snapshot.ProjectSnapshot, error) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.projects[id]
	if !ok {
		return nil, cedruserr.New(cedruserr.NoSuchProject, id.String())
	}
	return s, nil
}

// Upsert atomically replaces a project's snapshot, e.g. after a cache-sync
// reload. The caller is responsible for having already recompiled s.
func (r *Registry) Upsert(id model.ProjectID, s *snapshot.ProjectSnapshot) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.projects[id] = s
}

// Remove purges a project's snapshot from the registry, part of
// ProjectRemove's local-perspective atomic purge (spec.md §3 Lifecycles).
func (r *Registry) Remove(id model.ProjectID) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.projects, id)
	delete(sh.writeLocks, id)
}

// Mutate applies f to a clone of the project's current snapshot under that
// project's write lock, recompiles the policy set, and only then installs
// the result — concurrent mutators on distinct projects proceed in
// parallel, mutators on the same project serialize (spec.md §4.1).
func (r *Registry) Mutate(id model.ProjectID, strictSchema bool, f func(*snapshot.ProjectSnapshot) error) error {
	sh := r.shardFor(id)

	sh.mu.Lock()
	lock, ok := sh.writeLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		sh.writeLocks[id] = lock
	}
	sh.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	sh.mu.RLock()
	current, ok := sh.projects[id]
	sh.mu.RUnlock()
	if !ok {
		return cedruserr.New(cedruserr.NoSuchProject, id.String())
	}

	next := current.Clone()
	if err := f(next); err != nil {
		return err
	}
	if err := next.Recompile(strictSchema); err != nil {
		return err
	}

	sh.mu.Lock()
	sh.projects[id] = next
	sh.mu.Unlock()
	return nil
}
