package cache

import "github.com/stratusmedia/cedrus/internal/model"

// ProjectMetaKey is the sole key held inside a project's "project:<pid>"
// namespace (spec.md §6.2); the namespace-per-project-per-kind scheme has no
// other use for a second key there.
const ProjectMetaKey = "meta"

// DirectoryNamespace is a single global namespace (not per-project) holding
// one marker entry per known project id. The six namespaces spec.md §6.2
// enumerates are all scoped to a single project; init_cache/load_cache
// (spec.md §4.5) need some way to enumerate every project a peer should
// rehydrate, so the write path and bootstrap maintain this directory
// alongside them.
const DirectoryNamespace = "projects"

func SchemaNamespace(pid model.ProjectID) string   { return "schema:" + pid.String() }
func EntitiesNamespace(pid model.ProjectID) string { return "entities:" + pid.String() }
func PoliciesNamespace(pid model.ProjectID) string { return "policies:" + pid.String() }
func TemplatesNamespace(pid model.ProjectID) string { return "templates:" + pid.String() }
func LinksNamespace(pid model.ProjectID) string    { return "links:" + pid.String() }
func ProjectNamespace(pid model.ProjectID) string  { return "project:" + pid.String() }
