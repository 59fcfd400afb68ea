package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisLinkShape(t *testing.T) {
	c := New([]byte("genesis"))
	head := c.Head()
	assert.Equal(t, uint64(0), head.Sequence)
	assert.Equal(t, genesisPrevHash, head.PrevHash)
	assert.Len(t, head.PrevHash, 64)
	assert.True(t, head.Verify())
}

func TestAppendAndVerifyFull(t *testing.T) {
	c := New([]byte("genesis"))
	for i := 0; i < 10; i++ {
		c.Append([]byte("event"))
	}
	require.Equal(t, 11, c.Len())
	assert.NoError(t, c.VerifyFull())
}

func TestTamperedLinkDetected(t *testing.T) {
	c := New([]byte("genesis"))
	for i := 0; i < 10; i++ {
		c.Append([]byte("event"))
	}

	c.mu.Lock()
	c.links[5].EventHash = "deadbeef"
	c.mu.Unlock()

	err := c.VerifyFull()
	require.Error(t, err)
	var ce *ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "invalid_link", ce.Kind)
	assert.Equal(t, uint64(5), ce.Sequence)

	assert.NoError(t, c.VerifyFrom(6))
}

func TestMerkleProofRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16} {
		data := make([][]byte, n)
		for i := range data {
			data[i] = []byte{byte(i)}
		}
		tree := NewTree(data)
		root, ok := tree.RootHash()
		require.True(t, ok)
		for i := 0; i < n; i++ {
			proof, ok := tree.Prove(i)
			require.True(t, ok)
			assert.Equal(t, root, proof.RootHash)
			assert.True(t, VerifyProof(data[i], proof), "leaf %d of %d should verify", i, n)
		}
		assert.True(t, tree.Verify())
	}
}

func TestMerkleProofRejectsWrongLeafAndFlippedBit(t *testing.T) {
	data := [][]byte{{0}, {1}, {2}, {3}, {4}}
	tree := NewTree(data)

	proof, ok := tree.Prove(2)
	require.True(t, ok)
	assert.False(t, VerifyProof([]byte{99}, proof))

	if len(proof.Entries) > 0 {
		flipped := *proof
		flipped.Entries = append([]ProofEntry(nil), proof.Entries...)
		flipped.Entries[0].SiblingRight = !flipped.Entries[0].SiblingRight
		assert.False(t, VerifyProof(data[2], &flipped))
	}
}
