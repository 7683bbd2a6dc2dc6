package merkle

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerosync/internal/api"
)

func leaf(i int) api.Hash {
	return api.HashElements(api.Uint64Element(uint64(i) + 1000))
}

func TestPushAndWitness(t *testing.T) {
	tree := New()
	empty := tree.Root()
	for i := 0; i < 9; i++ {
		uid, err := tree.Push(leaf(i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), uid)
	}
	assert.NotEqual(t, empty, tree.Root())
	assert.Equal(t, uint64(9), tree.NumLeaves())

	for i := 0; i < 9; i++ {
		l, path, err := tree.Witness(uint64(i))
		require.NoError(t, err)
		assert.Equal(t, leaf(i), l)
		assert.True(t, VerifyWitness(tree.Root(), l, uint64(i), path))
		assert.False(t, VerifyWitness(tree.Root(), l, uint64(i+1), path))
	}
}

func TestRootIsDeterministic(t *testing.T) {
	a, err := FromLeaves([]api.Hash{leaf(1), leaf(2), leaf(3)})
	require.NoError(t, err)
	b := New()
	for _, i := range []int{1, 2, 3} {
		_, err := b.Push(leaf(i))
		require.NoError(t, err)
	}
	assert.Equal(t, a.Root(), b.Root())
}

func TestForgetPrunesButKeepsFrontier(t *testing.T) {
	tree := New()
	for i := 0; i < 6; i++ {
		_, err := tree.Push(leaf(i))
		require.NoError(t, err)
	}
	full := tree.Clone()
	for i := 0; i < 5; i++ {
		tree.Forget(uint64(i))
	}
	assert.Less(t, len(tree.nodes), len(full.nodes))
	assert.Equal(t, full.Root(), tree.Root())

	_, _, err := tree.Witness(1)
	assert.ErrorIs(t, err, ErrPruned)
	_, path, err := tree.Witness(5)
	require.NoError(t, err)
	assert.True(t, VerifyWitness(tree.Root(), leaf(5), 5, path))

	// appending after pruning must agree with the unpruned tree
	for i := 6; i < 11; i++ {
		_, err := tree.Push(leaf(i))
		require.NoError(t, err)
		_, err = full.Push(leaf(i))
		require.NoError(t, err)
		assert.Equal(t, full.Root(), tree.Root())
	}
}

func TestFrontierAppends(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7, 8, 17} {
		full := New()
		for i := 0; i < n; i++ {
			_, err := full.Push(leaf(i))
			require.NoError(t, err)
		}
		frontier := full.Frontier()
		assert.Equal(t, full.Root(), frontier.Root())
		assert.Equal(t, full.NumLeaves(), frontier.NumLeaves())
		for i := n; i < n+5; i++ {
			_, err := full.Push(leaf(i))
			require.NoError(t, err)
			_, err = frontier.Push(leaf(i))
			require.NoError(t, err)
		}
		assert.Equal(t, full.Root(), frontier.Root(), "frontier of %d leaves", n)
	}
}

func TestRetainAfterForget(t *testing.T) {
	tree := New()
	for i := 0; i < 4; i++ {
		_, err := tree.Push(leaf(i))
		require.NoError(t, err)
	}
	tree.Forget(0)
	tree.Forget(1)
	assert.ErrorIs(t, tree.Retain(0), ErrPruned)
	assert.NoError(t, tree.Retain(2))
	assert.Error(t, tree.Retain(9))
}

func TestWireRoundTrip(t *testing.T) {
	tree := New()
	for i := 0; i < 5; i++ {
		_, err := tree.Push(leaf(i))
		require.NoError(t, err)
	}
	tree.Forget(1)
	frontier := tree.Frontier()

	for _, src := range []*Tree{New(), tree, frontier} {
		b, err := json.Marshal(src)
		require.NoError(t, err)
		var back Tree
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, src.Root(), back.Root())
		assert.Equal(t, src.NumLeaves(), back.NumLeaves())
		assert.Equal(t, len(src.nodes), len(back.nodes))

		cb, err := cbor.Marshal(src)
		require.NoError(t, err)
		var cback Tree
		require.NoError(t, cbor.Unmarshal(cb, &cback))
		assert.Equal(t, src.Root(), cback.Root())

		// a decoded tree keeps growing like the original
		_, err = back.Push(leaf(99))
		require.NoError(t, err)
		clone := src.Clone()
		_, err = clone.Push(leaf(99))
		require.NoError(t, err)
		assert.Equal(t, clone.Root(), back.Root())
	}
}

func TestPushedLeavesAreNotRetained(t *testing.T) {
	tree := New()
	for i := 0; i < 8; i++ {
		_, err := tree.Push(leaf(i))
		require.NoError(t, err)
	}
	require.NoError(t, tree.Retain(2))
	tree.Prune()

	for i := 0; i < 8; i++ {
		_, path, err := tree.Witness(uint64(i))
		switch i {
		case 2, 7:
			require.NoError(t, err, "leaf %d", i)
			assert.True(t, VerifyWitness(tree.Root(), leaf(i), uint64(i), path))
		default:
			// 3 and 6 are still stored, but only as siblings on a kept path
			assert.ErrorIs(t, err, ErrPruned, "leaf %d", i)
		}
	}
	assert.Empty(t, tree.Frontier().retained)

	// retaining a sibling makes it provable again
	require.NoError(t, tree.Retain(6))
	_, path, err := tree.Witness(6)
	require.NoError(t, err)
	assert.True(t, VerifyWitness(tree.Root(), leaf(6), 6, path))
}
