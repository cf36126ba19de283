package accumulator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
)

func TestEmptyTree(t *testing.T) {
	var tree Tree
	assert.Equal(t, defaults[Depth], tree.Root())
	assert.Equal(t, LeafEmpty, tree.Get(KeyFor("cred_x")))

	key := KeyFor("cred_x")
	root, ok := tree.Prove(key).ComputeRoot(key, LeafEmpty)
	require.True(t, ok)
	assert.Equal(t, tree.Root(), root)
}

func TestSetIsPersistent(t *testing.T) {
	var empty Tree
	a := empty.Set(KeyFor("cred_a"), LeafActive)
	b := a.Set(KeyFor("cred_b"), LeafActive)

	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, LeafEmpty, a.Get(KeyFor("cred_b")))
	assert.Equal(t, LeafActive, b.Get(KeyFor("cred_a")))
	assert.NotEqual(t, a.Root(), b.Root())
}

func TestRootIsOrderIndependent(t *testing.T) {
	var x, y Tree
	for i := range 10 {
		x = x.Set(KeyFor(id.CredentialID(fmt.Sprintf("cred_%d", i))), LeafActive)
	}
	for i := 9; i >= 0; i-- {
		y = y.Set(KeyFor(id.CredentialID(fmt.Sprintf("cred_%d", i))), LeafActive)
	}
	assert.Equal(t, x.Root(), y.Root())
}

func TestProofs(t *testing.T) {
	var tree Tree
	for i := range 20 {
		tree = tree.Set(KeyFor(id.CredentialID(fmt.Sprintf("cred_%d", i))), LeafActive)
	}
	revoked := KeyFor("cred_3")
	tree = tree.Set(revoked, LeafRevoked)

	t.Run("membership", func(t *testing.T) {
		key := KeyFor("cred_7")
		root, ok := tree.Prove(key).ComputeRoot(key, LeafActive)
		require.True(t, ok)
		assert.Equal(t, tree.Root(), root)
	})
	t.Run("revoked leaf proves revoked, not active", func(t *testing.T) {
		p := tree.Prove(revoked)
		root, ok := p.ComputeRoot(revoked, LeafRevoked)
		require.True(t, ok)
		assert.Equal(t, tree.Root(), root)

		forged, ok := p.ComputeRoot(revoked, LeafActive)
		require.True(t, ok)
		assert.NotEqual(t, tree.Root(), forged)
	})
	t.Run("absent key proves empty", func(t *testing.T) {
		key := KeyFor("cred_missing")
		root, ok := tree.Prove(key).ComputeRoot(key, LeafEmpty)
		require.True(t, ok)
		assert.Equal(t, tree.Root(), root)
	})
	t.Run("path for another key fails", func(t *testing.T) {
		p := tree.Prove(KeyFor("cred_7"))
		root, _ := p.ComputeRoot(KeyFor("cred_8"), LeafActive)
		assert.NotEqual(t, tree.Root(), root)
	})
	t.Run("malformed path rejected", func(t *testing.T) {
		p := tree.Prove(KeyFor("cred_7"))
		p.Siblings = append(p.Siblings, digest.Digest{})
		_, ok := p.ComputeRoot(KeyFor("cred_7"), LeafActive)
		assert.False(t, ok)
	})
}

func TestOldPathsStayValidForOldRoots(t *testing.T) {
	var tree Tree
	tree = tree.Set(KeyFor("cred_a"), LeafActive)
	before := tree
	path := before.Prove(KeyFor("cred_a"))

	after := before.Set(KeyFor("cred_b"), LeafActive).Set(KeyFor("cred_c"), LeafRevoked)

	root, ok := path.ComputeRoot(KeyFor("cred_a"), LeafActive)
	require.True(t, ok)
	assert.Equal(t, before.Root(), root)
	assert.NotEqual(t, after.Root(), root)
}
