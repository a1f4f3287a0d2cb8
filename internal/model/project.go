package model

import "time"

// SchemaMode resolves the Open Question in spec.md §9 on whether
// project_put_schema should reject breaking changes or accept and flag
// them: it is an explicit per-project mode rather than a fixed policy.
type SchemaMode string

const (
	SchemaStrict  SchemaMode = "strict"
	SchemaLenient SchemaMode = "lenient"
)

// Project is the per-tenant root record from spec.md §3. The owner is an
// entity UID belonging to the admin project's Cedrus::User type. APIKeyHash
// is a salted bcrypt hash; the plaintext key is returned once at creation
// and never stored.
type Project struct {
	ID             ProjectID
	Name           string
	Owner          EntityUID
	APIKeyHash     string
	IdentitySource string
	SchemaMode     SchemaMode
	CreatedAt      time.Time
}

// Entity is one node in a project's entity graph. Invariant enforced at
// write time: every UID in Parents must resolve to an entity present in
// the same project.
type Entity struct {
	UID     EntityUID
	Attrs   map[string]AttrValue
	Parents []EntityUID
	Tags    map[string]AttrValue
}

// PolicyEffect is Permit or Forbid, matching Cedar's two policy effects.
type PolicyEffect string

const (
	Permit PolicyEffect = "permit"
	Forbid PolicyEffect = "forbid"
)

// Policy is a Cedar static policy, keyed within its project by ID (unique
// within the project). Source holds the Cedar policy text as written; Effect
// is recorded separately only for diagnostics convenience, the source text
// remains the ground truth compiled by the snapshot.
type Policy struct {
	ID     string
	Effect PolicyEffect
	Source string
}

// Template is a policy with one or both of the ?principal/?resource slots
// left open, to be filled by a TemplateLink.
type Template struct {
	ID     string
	Source string
}

// TemplateLink instantiates a Template with concrete entity references for
// its slots. LinkID is unique within the project and identifies the
// resulting instantiated policy inside the compiled policy set.
type TemplateLink struct {
	TemplateID string
	LinkID     string
	Values     map[SlotID]EntityUID
}
