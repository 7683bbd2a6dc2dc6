package zerocash

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerosync/internal/api"
	"zerosync/internal/merkle"
	"zerosync/internal/setmerkle"
)

type testLedger struct {
	state      ValidatorState
	nullifiers *setmerkle.Tree
	records    *merkle.Tree
}

func newTestLedger(t *testing.T, genesis ...api.Hash) *testLedger {
	records, err := merkle.FromLeaves(genesis)
	require.NoError(t, err)
	return &testLedger{
		state:      Genesis(DefaultVerifierKeys(), records),
		nullifiers: setmerkle.New(),
		records:    records,
	}
}

func randomElement(t *testing.T) fr.Element {
	e, err := RandomElement()
	require.NoError(t, err)
	return e
}

// spend builds a transfer with two outputs consuming nfs, with proofs taken from the full set.
func (l *testLedger) spend(t *testing.T, nfs ...api.Nullifier) ElaboratedTransaction {
	etx := ElaboratedTransaction{
		Txn: Transaction{
			Kind:       KindTransfer,
			Nullifiers: nfs,
			Outputs:    []api.Hash{api.HashBytes([]byte("out-a")), api.HashBytes([]byte("out-b"))},
		},
	}
	for _, nf := range nfs {
		_, proof, known := l.nullifiers.Contains(nf)
		require.True(t, known)
		etx.Proofs = append(etx.Proofs, *proof)
	}
	return etx
}

func TestApplyBlockDetectsDoubleSpend(t *testing.T) {
	l := newTestLedger(t, api.HashBytes([]byte("genesis")))
	nf := NullifierOf(randomElement(t), randomElement(t))

	blk := &Block{Transactions: []ElaboratedTransaction{l.spend(t, nf)}}
	uids, err := l.state.ApplyBlock(blk, l.nullifiers, l.records)
	require.NoError(t, err)
	assert.Equal(t, [][]uint64{{1, 2}}, uids)
	assert.Equal(t, uint64(1), l.state.BlockHeight)
	assert.Equal(t, blk.Hash(), l.state.PrevBlockHash)
	assert.Equal(t, uint64(3), l.state.NumRecords)

	spent, _, _ := l.nullifiers.Contains(nf)
	assert.True(t, spent)

	// Double-spend detection
	before := l.state
	again := &Block{Transactions: []ElaboratedTransaction{l.spend(t, nf)}}
	_, err = l.state.ApplyBlock(again, l.nullifiers, l.records)
	assert.ErrorIs(t, err, api.ErrAlreadySpent)
	assert.Equal(t, before, l.state)
	assert.Equal(t, before.RecordRoot, l.records.Root())
}

func TestApplyBlockRejectsDuplicateWithinBlock(t *testing.T) {
	l := newTestLedger(t)
	nf := NullifierOf(randomElement(t), randomElement(t))
	blk := &Block{Transactions: []ElaboratedTransaction{l.spend(t, nf), l.spend(t, nf)}}
	_, err := l.state.ApplyBlock(blk, l.nullifiers, l.records)
	assert.ErrorIs(t, err, api.ErrAlreadySpent)
	assert.Equal(t, uint64(0), l.records.NumLeaves())
}

func TestApplyBlockRejectsUnknownArity(t *testing.T) {
	l := newTestLedger(t)
	etx := l.spend(t, NullifierOf(randomElement(t), randomElement(t)))
	etx.Txn.Outputs = append(etx.Txn.Outputs, api.Hash{}, api.Hash{}, api.Hash{})
	_, err := l.state.ApplyBlock(&Block{Transactions: []ElaboratedTransaction{etx}}, l.nullifiers, l.records)
	assert.ErrorIs(t, err, api.ErrRequest)
}

func TestApplyBlockRejectsMissingProofs(t *testing.T) {
	l := newTestLedger(t)
	etx := l.spend(t, NullifierOf(randomElement(t), randomElement(t)))
	etx.Proofs = nil
	_, err := l.state.ApplyBlock(&Block{Transactions: []ElaboratedTransaction{etx}}, l.nullifiers, l.records)
	assert.ErrorIs(t, err, api.ErrRequest)
}

func TestSparseReplayMatchesValidator(t *testing.T) {
	l := newTestLedger(t, api.HashBytes([]byte("a")), api.HashBytes([]byte("b")))

	// the replaying side only knows roots and the frontier
	replay := &testLedger{
		state:      l.state,
		nullifiers: l.nullifiers.Sparse(),
		records:    l.records.Frontier(),
	}

	for round := 0; round < 4; round++ {
		blk := &Block{Transactions: []ElaboratedTransaction{
			l.spend(t, NullifierOf(randomElement(t), randomElement(t))),
			l.spend(t, NullifierOf(randomElement(t), randomElement(t)), NullifierOf(randomElement(t), randomElement(t))),
		}}
		_, err := l.state.ApplyBlock(blk, l.nullifiers, l.records)
		require.NoError(t, err)
		_, err = replay.state.ApplyBlock(blk, replay.nullifiers, replay.records)
		require.NoError(t, err)
		assert.Equal(t, l.state.Commit(), replay.state.Commit())
	}
}

func TestStateCommitmentBindsFields(t *testing.T) {
	base := ValidatorState{VerifierKeys: DefaultVerifierKeys()}
	seen := map[api.Hash]string{base.Commit(): "base"}
	variants := map[string]func(s *ValidatorState){
		"height":  func(s *ValidatorState) { s.BlockHeight = 1 },
		"prev":    func(s *ValidatorState) { s.PrevBlockHash = api.Hash{1} },
		"nullset": func(s *ValidatorState) { s.NullifiersRoot = api.Hash{1} },
		"records": func(s *ValidatorState) { s.RecordRoot = api.Hash{1} },
		"count":   func(s *ValidatorState) { s.NumRecords = 1 },
		"keys":    func(s *ValidatorState) { s.VerifierKeys.Transfer = s.VerifierKeys.Transfer[:1] },
	}
	for name, mutate := range variants {
		s := base
		s.VerifierKeys = DefaultVerifierKeys()
		mutate(&s)
		c := s.Commit()
		_, dup := seen[c]
		assert.False(t, dup, name)
		seen[c] = name
	}
}

func TestMemoSignatures(t *testing.T) {
	key, err := GenerateMemoKey()
	require.NoError(t, err)
	txid := api.TransactionID{Block: 3, Index: 1}
	memos := []Memo{[]byte("first"), []byte("second")}

	sig, err := SignMemos(key, txid, memos)
	require.NoError(t, err)
	require.NoError(t, VerifyMemos(MemoPublicKey(key), txid, memos, sig))

	err = VerifyMemos(MemoPublicKey(key), api.TransactionID{Block: 3, Index: 2}, memos, sig)
	assert.ErrorIs(t, err, api.ErrInvalidSignature)

	err = VerifyMemos(MemoPublicKey(key), txid, []Memo{[]byte("first"), []byte("changed")}, sig)
	assert.ErrorIs(t, err, api.ErrInvalidSignature)

	other, err := GenerateMemoKey()
	require.NoError(t, err)
	err = VerifyMemos(MemoPublicKey(other), txid, memos, sig)
	assert.ErrorIs(t, err, api.ErrInvalidSignature)
}

// record is the opening of a record commitment.
type record struct {
	amount          uint64
	owner, rho, rnd fr.Element
}

func newRecord(t *testing.T, amount uint64, owner fr.Element) record {
	return record{amount: amount, owner: owner, rho: randomElement(t), rnd: randomElement(t)}
}

func TestSpendCircuitIsSolved(t *testing.T) {
	arity := Arity{Inputs: 2, Outputs: 2}
	sk := randomElement(t)
	pkHash := api.HashElements(sk)
	owner := pkHash.Element()

	var in, out []record
	for _, amount := range []uint64{40, 2} {
		in = append(in, newRecord(t, amount, owner))
	}
	for _, amount := range []uint64{30, 11} {
		out = append(out, newRecord(t, amount, owner))
	}

	assignment := NewCircuitSpend(arity)
	assignment.Fee = 1
	for i, r := range in {
		nf := NullifierOf(sk, r.rho)
		nfElem := api.ToElement(nf[:])
		assignment.Nullifiers[i] = nfElem.String()
		assignment.InSk[i] = sk.String()
		assignment.InRho[i] = r.rho.String()
		assignment.InAmount[i] = r.amount
	}
	for j, r := range out {
		cm := Commitment(r.amount, r.owner, r.rho, r.rnd)
		cmElem := cm.Element()
		assignment.Outputs[j] = cmElem.String()
		assignment.OutAmount[j] = r.amount
		assignment.OutOwner[j] = r.owner.String()
		assignment.OutRho[j] = r.rho.String()
		assignment.OutRand[j] = r.rnd.String()
	}
	require.NoError(t, test.IsSolved(NewCircuitSpend(arity), assignment, ecc.BN254.ScalarField()))

	// breaking conservation must fail
	assignment.Fee = 2
	assert.Error(t, test.IsSolved(NewCircuitSpend(arity), assignment, ecc.BN254.ScalarField()))
}

func decodeProvingKey(t *testing.T, pk ProvingKey) {
	t.Helper()
	key := groth16.NewProvingKey(ecc.BN254)
	_, err := key.ReadFrom(bytes.NewReader(pk.Data))
	require.NoError(t, err)
}

func TestGroth16Preprocessor(t *testing.T) {
	dir := t.TempDir()
	pre := &Groth16Preprocessor{KeyDir: dir, Log: zerolog.Nop()}
	vk := VerifierKey{Kind: KindTransfer, Arity: Arity{Inputs: 1, Outputs: 1}}

	pk, err := pre.Preprocess(context.Background(), vk)
	require.NoError(t, err)
	assert.Equal(t, vk.Arity, pk.Arity)
	assert.Equal(t, vk.Kind, pk.Kind)
	decodeProvingKey(t, pk)

	cached, err := filepath.Glob(filepath.Join(dir, "*.bin"))
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	// second run loads the cached keys
	again, err := pre.Preprocess(context.Background(), vk)
	require.NoError(t, err)
	assert.Equal(t, pk.Data, again.Data)

	// a corrupted cache is regenerated
	pkFiles, err := filepath.Glob(filepath.Join(dir, "*_pk.bin"))
	require.NoError(t, err)
	require.Len(t, pkFiles, 1)
	require.NoError(t, os.WriteFile(pkFiles[0], []byte("garbage"), 0o644))
	fresh, err := pre.Preprocess(context.Background(), vk)
	require.NoError(t, err)
	assert.NotEqual(t, pk.Data, fresh.Data)
	decodeProvingKey(t, fresh)
}

func TestGroth16PreprocessorWithoutCache(t *testing.T) {
	pre := &Groth16Preprocessor{Log: zerolog.Nop()}
	pk, vk, err := pre.Setup(KindMint, Arity{Inputs: 1, Outputs: 1})
	require.NoError(t, err)
	assert.NotNil(t, pk)
	assert.NotNil(t, vk)

	_, _, err = pre.Setup(KindMint, Arity{Inputs: -1, Outputs: 1})
	assert.Error(t, err)
}

func TestProverKeyLookup(t *testing.T) {
	keys := ProverKeySet{
		Mint:     ProvingKey{Kind: KindMint, Arity: Arity{Inputs: 1, Outputs: 2}},
		Transfer: []ProvingKey{{Kind: KindTransfer, Arity: Arity{Inputs: 2, Outputs: 2}}},
	}
	_, ok := keys.Lookup(KindTransfer, Arity{Inputs: 2, Outputs: 2})
	assert.True(t, ok)
	_, ok = keys.Lookup(KindFreeze, Arity{Inputs: 2, Outputs: 2})
	assert.False(t, ok)
	_, ok = keys.Lookup(KindMint, Arity{Inputs: 1, Outputs: 2})
	assert.True(t, ok)
}

var _ frontend.Circuit = (*CircuitSpend)(nil)
