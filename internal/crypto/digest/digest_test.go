package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumPartsIsFramed(t *testing.T) {
	assert.NotEqual(t, SumParts([]byte("ab"), []byte("c")), SumParts([]byte("a"), []byte("bc")))
	assert.Equal(t, SumParts([]byte("a")), SumParts([]byte("a")))
}

func TestParseRoundTrip(t *testing.T) {
	d := Sum([]byte("hello"))
	parsed, err := Parse(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = Parse("abc")
	assert.Error(t, err)
	_, err = FromBytes([]byte{1, 2})
	assert.Error(t, err)
}

func TestMerkleRoot(t *testing.T) {
	a, b, c := Sum([]byte("a")), Sum([]byte("b")), Sum([]byte("c"))

	t.Run("empty is zero", func(t *testing.T) {
		assert.True(t, MerkleRoot(nil).IsZero())
	})
	t.Run("single leaf is itself", func(t *testing.T) {
		assert.Equal(t, a, MerkleRoot([]Digest{a}))
	})
	t.Run("order independent", func(t *testing.T) {
		assert.Equal(t, MerkleRoot([]Digest{a, b, c}), MerkleRoot([]Digest{c, a, b}))
	})
	t.Run("content sensitive", func(t *testing.T) {
		assert.NotEqual(t, MerkleRoot([]Digest{a, b}), MerkleRoot([]Digest{a, c}))
	})
	t.Run("input not mutated", func(t *testing.T) {
		in := []Digest{c, b, a}
		MerkleRoot(in)
		assert.Equal(t, []Digest{c, b, a}, in)
	})
}
