package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratusmedia/cedrus/internal/model"
)

func TestKeyHasher_HashAndVerify(t *testing.T) {
	hasher := DefaultKeyHasher()

	key, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	hash, err := hasher.Hash(key)
	require.NoError(t, err)
	assert.NotEqual(t, key, hash)

	assert.True(t, hasher.Verify(key, hash))
	assert.False(t, hasher.Verify("wrong-key", hash))
	assert.False(t, hasher.Verify("", hash))
	assert.False(t, hasher.Verify(key, ""))
}

func TestNewKeyHasher_InvalidCostFallsBackToDefault(t *testing.T) {
	h := NewKeyHasher(1)
	assert.Equal(t, 10, h.cost)
}

func TestResolver_ResolveOwner(t *testing.T) {
	hasher := DefaultKeyHasher()
	key, err := GenerateKey()
	require.NoError(t, err)
	hash, err := hasher.Hash(key)
	require.NoError(t, err)

	owner := model.EntityUID{TypeName: "Cedrus::User", ID: "alice"}
	project := model.Project{Owner: owner, APIKeyHash: hash}

	r := NewResolver("admin-secret")
	resolved, ok := r.ResolveOwner(key, project)
	assert.True(t, ok)
	assert.Equal(t, owner, resolved)

	_, ok = r.ResolveOwner("wrong-key", project)
	assert.False(t, ok)
}

func TestResolver_ResolveAdmin(t *testing.T) {
	r := NewResolver("admin-secret")

	uid, ok := r.ResolveAdmin("admin-secret")
	assert.True(t, ok)
	assert.Equal(t, "Cedrus::User", uid.TypeName)

	_, ok = r.ResolveAdmin("not-the-key")
	assert.False(t, ok)

	empty := NewResolver("")
	_, ok = empty.ResolveAdmin("")
	assert.False(t, ok)
}
