package setmerkle

import (
	"encoding/json"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerosync/internal/api"
)

func randomNullifier(t *testing.T) api.Nullifier {
	t.Helper()
	var e fr.Element
	_, err := e.SetRandom()
	require.NoError(t, err)
	var n api.Nullifier
	b := e.Bytes()
	copy(n[:], b[:])
	return n
}

func randomNullifiers(t *testing.T, count int) []api.Nullifier {
	out := make([]api.Nullifier, count)
	for i := range out {
		out[i] = randomNullifier(t)
	}
	return out
}

func TestInsertAndProve(t *testing.T) {
	tree := New()
	assert.True(t, tree.Hash().IsZero())

	present := randomNullifiers(t, 20)
	for _, n := range present {
		require.NoError(t, tree.Insert(n))
	}
	root := tree.Hash()

	for _, n := range present {
		spent, proof, known := tree.Contains(n)
		require.True(t, known)
		assert.True(t, spent)
		ok, err := proof.Check(n, root)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	for _, n := range randomNullifiers(t, 20) {
		spent, proof, known := tree.Contains(n)
		require.True(t, known)
		assert.False(t, spent)
		ok, err := proof.Check(n, root)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestInsertOrderDoesNotMatter(t *testing.T) {
	elems := randomNullifiers(t, 12)
	a, b := New(), New()
	for i := range elems {
		require.NoError(t, a.Insert(elems[i]))
		require.NoError(t, b.Insert(elems[len(elems)-1-i]))
	}
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestDoubleInsert(t *testing.T) {
	tree := New()
	n := randomNullifier(t)
	require.NoError(t, tree.Insert(n))
	before := tree.Hash()
	err := tree.Insert(n)
	assert.ErrorIs(t, err, api.ErrAlreadySpent)
	assert.Equal(t, before, tree.Hash())
}

func TestNonMembershipSoundness(t *testing.T) {
	tree := New()
	present := randomNullifiers(t, 8)
	for _, n := range present {
		require.NoError(t, tree.Insert(n))
	}
	root := tree.Hash()
	target := present[3]
	_, proof, _ := tree.Contains(target)

	// claiming a present element is absent
	forged := *proof
	forged.Terminal = TerminalEmpty
	_, err := forged.Check(target, root)
	assert.ErrorIs(t, err, api.ErrInvalidProof)

	// corrupting a sibling
	if len(proof.Path) > 0 {
		forged = *proof
		forged.Path = append([]api.Hash(nil), proof.Path...)
		forged.Path[0][0] ^= 1
		_, err = forged.Check(target, root)
		assert.ErrorIs(t, err, api.ErrInvalidProof)
	}

	// checking against another root
	_, err = proof.Check(target, api.Hash{7})
	assert.ErrorIs(t, err, api.ErrInvalidProof)
}

func TestRememberIsIdempotent(t *testing.T) {
	full := New()
	for _, n := range randomNullifiers(t, 16) {
		require.NoError(t, full.Insert(n))
	}
	sparse := full.Sparse()
	require.Equal(t, full.Hash(), sparse.Hash())

	query := randomNullifier(t)
	_, _, known := sparse.Contains(query)
	require.False(t, known)

	_, proof, known := full.Contains(query)
	require.True(t, known)

	require.NoError(t, sparse.Remember(query, *proof))
	assert.Equal(t, full.Hash(), sparse.Hash())
	spent, _, known := sparse.Contains(query)
	assert.True(t, known)
	assert.False(t, spent)

	require.NoError(t, sparse.Remember(query, *proof))
	assert.Equal(t, full.Hash(), sparse.Hash())
	spent2, proof2, known2 := sparse.Contains(query)
	assert.True(t, known2)
	assert.Equal(t, spent, spent2)
	assert.Equal(t, proof.Path, proof2.Path)
}

func TestRememberRejectsStaleProof(t *testing.T) {
	full := New()
	require.NoError(t, full.Insert(randomNullifier(t)))
	query := randomNullifier(t)
	_, proof, _ := full.Contains(query)

	require.NoError(t, full.Insert(randomNullifier(t)))
	sparse := full.Sparse()
	err := sparse.Remember(query, *proof)
	assert.ErrorIs(t, err, api.ErrInvalidProof)
}

func TestSparseInsertNeedsProof(t *testing.T) {
	full := New()
	for _, n := range randomNullifiers(t, 4) {
		require.NoError(t, full.Insert(n))
	}
	sparse := full.Sparse()
	err := sparse.Insert(randomNullifier(t))
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestMultiInsertOnSparseView(t *testing.T) {
	full := New()
	for _, n := range randomNullifiers(t, 10) {
		require.NoError(t, full.Insert(n))
	}
	sparse := full.Sparse()

	batch := randomNullifiers(t, 5)
	spends := make([]Spend, len(batch))
	for i, n := range batch {
		_, proof, _ := full.Contains(n)
		spends[i] = Spend{Nullifier: n, Proof: *proof}
	}
	before := full.Clone()
	require.NoError(t, full.MultiInsert(spends))
	require.NoError(t, sparse.MultiInsert(spends))
	assert.Equal(t, full.Hash(), sparse.Hash())
	assert.NotEqual(t, before.Hash(), full.Hash())

	for _, n := range batch {
		spent, _, known := sparse.Contains(n)
		assert.True(t, known)
		assert.True(t, spent)
	}
}

func TestMultiInsertIsAtomic(t *testing.T) {
	tree := New()
	spent := randomNullifier(t)
	require.NoError(t, tree.Insert(spent))

	fresh := randomNullifier(t)
	_, freshProof, _ := tree.Contains(fresh)
	_, spentProof, _ := tree.Contains(spent)
	before := tree.Hash()

	err := tree.MultiInsert([]Spend{
		{Nullifier: fresh, Proof: *freshProof},
		{Nullifier: spent, Proof: *spentProof},
	})
	assert.ErrorIs(t, err, api.ErrAlreadySpent)
	assert.Equal(t, before, tree.Hash())

	// the same nullifier twice in one batch
	err = tree.MultiInsert([]Spend{
		{Nullifier: fresh, Proof: *freshProof},
		{Nullifier: fresh, Proof: *freshProof},
	})
	assert.ErrorIs(t, err, api.ErrAlreadySpent)
	assert.Equal(t, before, tree.Hash())
}

func TestCloneIsIndependent(t *testing.T) {
	tree := New()
	require.NoError(t, tree.Insert(randomNullifier(t)))
	snapshot := tree.Clone()
	root := snapshot.Hash()
	require.NoError(t, tree.Insert(randomNullifier(t)))
	assert.Equal(t, root, snapshot.Hash())
	assert.NotEqual(t, root, tree.Hash())
}

func TestWireRoundTrip(t *testing.T) {
	full := New()
	elems := randomNullifiers(t, 6)
	for _, n := range elems {
		require.NoError(t, full.Insert(n))
	}
	partial := full.Sparse()
	_, proof, _ := full.Contains(elems[2])
	require.NoError(t, partial.Remember(elems[2], *proof))

	for name, tree := range map[string]*Tree{"full": full, "partial": partial} {
		t.Run(name+"/json", func(t *testing.T) {
			b, err := json.Marshal(tree)
			require.NoError(t, err)
			var back Tree
			require.NoError(t, json.Unmarshal(b, &back))
			assert.Equal(t, tree.Hash(), back.Hash())
			spent, _, known := back.Contains(elems[2])
			assert.True(t, known)
			assert.True(t, spent)
		})
		t.Run(name+"/cbor", func(t *testing.T) {
			b, err := cbor.Marshal(tree)
			require.NoError(t, err)
			var back Tree
			require.NoError(t, cbor.Unmarshal(b, &back))
			assert.Equal(t, tree.Hash(), back.Hash())
		})
	}
}
