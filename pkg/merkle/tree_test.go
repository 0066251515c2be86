package merkle

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(b byte) [32]byte {
	var f [32]byte
	f[0] = b
	return f
}

func TestBuild_Empty(t *testing.T) {
	tree, err := Build(nil)
	require.NoError(t, err)
	assert.Equal(t, EmptyRoot(), tree.Root())
	assert.Equal(t, sha256.Sum256(nil), tree.Root())
	assert.Equal(t, 0, tree.LeafCount())
}

func TestBuild_SingleLeaf(t *testing.T) {
	f := fp(1)
	tree, err := Build([][32]byte{f})
	require.NoError(t, err)
	assert.Equal(t, leafHash(f), tree.Root())
}

func TestBuild_OddDuplication(t *testing.T) {
	leaves := [][32]byte{fp(1), fp(2), fp(3)}
	tree, err := Build(leaves)
	require.NoError(t, err)

	h0 := leafHash(leaves[0])
	h1 := leafHash(leaves[1])
	h2 := leafHash(leaves[2])
	n0 := nodeHash(h0, h1)
	n1 := nodeHash(h2, h2)
	want := nodeHash(n0, n1)
	assert.Equal(t, want, tree.Root())
}

func TestProof_RoundTrip(t *testing.T) {
	leaves := make([][32]byte, 0, 7)
	for i := byte(0); i < 7; i++ {
		leaves = append(leaves, fp(i+10))
	}
	tree, err := Build(leaves)
	require.NoError(t, err)

	for i, f := range leaves {
		proof, err := tree.Proof(i)
		require.NoError(t, err)
		assert.True(t, Verify(f, proof, tree.Root()), "member %d should verify", i)
	}
}

func TestProofFor_FindsMember(t *testing.T) {
	leaves := [][32]byte{fp(1), fp(2), fp(3), fp(4)}
	tree, err := Build(leaves)
	require.NoError(t, err)

	proof, idx, err := tree.ProofFor(fp(3))
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.True(t, Verify(fp(3), proof, tree.Root()))
}

func TestProofFor_NotFound(t *testing.T) {
	tree, err := Build([][32]byte{fp(1), fp(2)})
	require.NoError(t, err)

	_, _, err = tree.ProofFor(fp(99))
	assert.ErrorIs(t, err, ErrLeafNotFound)
}

func TestVerify_RejectsWrongRoot(t *testing.T) {
	leaves := [][32]byte{fp(1), fp(2), fp(3), fp(4)}
	tree, err := Build(leaves)
	require.NoError(t, err)

	proof, err := tree.Proof(0)
	require.NoError(t, err)

	var badRoot [32]byte
	badRoot[0] = 0xff
	assert.False(t, Verify(leaves[0], proof, badRoot))
}

func TestVerify_RejectsWrongLeaf(t *testing.T) {
	leaves := [][32]byte{fp(1), fp(2), fp(3), fp(4)}
	tree, err := Build(leaves)
	require.NoError(t, err)

	proof, err := tree.Proof(0)
	require.NoError(t, err)

	assert.False(t, Verify(fp(77), proof, tree.Root()))
}

func TestProof_OutOfRange(t *testing.T) {
	tree, err := Build([][32]byte{fp(1)})
	require.NoError(t, err)

	_, err = tree.Proof(5)
	assert.Error(t, err)
}

func TestLeafHash_DomainSeparated(t *testing.T) {
	f := fp(1)
	h := leafHash(f)
	// Leaf hash must not equal a bare SHA256 of the fingerprint (no
	// domain prefix) to avoid second-preimage confusion with internal nodes.
	plain := sha256.Sum256(f[:])
	assert.NotEqual(t, plain, h)
}
