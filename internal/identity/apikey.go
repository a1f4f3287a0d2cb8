// Package identity resolves already-minted API keys to principal entity
// UIDs, the one obligation spec.md §4.6 places on the core itself: the rest
// of identity resolution (HTTP/JWT/OIDC) is an external collaborator's job.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/stratusmedia/cedrus/internal/model"
)

// KeyHasher hashes and verifies project API keys with bcrypt, the same
// library and cost-validation shape the teacher's password hasher uses.
type KeyHasher struct {
	cost int
}

// NewKeyHasher builds a hasher with the given bcrypt cost, falling back to
// bcrypt.DefaultCost when out of bcrypt's accepted [MinCost, MaxCost] range.
func NewKeyHasher(cost int) *KeyHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &KeyHasher{cost: cost}
}

func DefaultKeyHasher() *KeyHasher {
	return NewKeyHasher(bcrypt.DefaultCost)
}

// GenerateKey mints a new random API key, returned to the caller exactly
// once. Only its hash is ever persisted.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return "cdr_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash generates a bcrypt hash of a plaintext API key.
func (h *KeyHasher) Hash(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("api key cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether key matches the stored hash.
func (h *KeyHasher) Verify(key, hash string) bool {
	if key == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// Resolver implements the principal-resolution rule from spec.md §4.6: a
// key matching a project's stored hash resolves to that project's owner
// UID; the configured admin key resolves to a synthetic admin UID.
type Resolver struct {
	hasher   *KeyHasher
	adminKey string
	adminUID model.EntityUID
}

// AdminsGroup is the entity UID every admin principal is placed in, per the
// bootstrap seed described in spec.md §4.5.
var AdminsGroup = model.EntityUID{TypeName: "Cedrus::Group", ID: "Admins"}

func NewResolver(adminKey string) *Resolver {
	return &Resolver{
		hasher:   DefaultKeyHasher(),
		adminKey: adminKey,
		adminUID: model.EntityUID{TypeName: "Cedrus::User", ID: "admin"},
	}
}

// ResolveOwner reports whether key matches project's stored hash, in which
// case the project owner UID is the resolved principal.
func (r *Resolver) ResolveOwner(key string, project model.Project) (model.EntityUID, bool) {
	if !r.hasher.Verify(key, project.APIKeyHash) {
		return model.EntityUID{}, false
	}
	return project.Owner, true
}

// ResolveAdmin reports whether key matches the configured admin key, in
// which case the synthetic admin UID is the resolved principal.
func (r *Resolver) ResolveAdmin(key string) (model.EntityUID, bool) {
	if r.adminKey == "" || key != r.adminKey {
		return model.EntityUID{}, false
	}
	return r.adminUID, true
}
