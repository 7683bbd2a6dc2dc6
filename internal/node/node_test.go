package node

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerosync/internal/api"
	"zerosync/internal/metrics"
	"zerosync/internal/setmerkle"
	"zerosync/internal/zerocash"
)

func newTestNode(t *testing.T, genesis ...api.Hash) *Node {
	n, err := New(zerolog.Nop(), metrics.NewCollector(), zerocash.DefaultVerifierKeys(), genesis)
	require.NoError(t, err)
	return n
}

func randomNullifier(t *testing.T) api.Nullifier {
	sk, err := zerocash.RandomElement()
	require.NoError(t, err)
	rho, err := zerocash.RandomElement()
	require.NoError(t, err)
	return zerocash.NullifierOf(sk, rho)
}

// transfer builds a 1x2 transfer spending nf, proven against the current nullifier root.
func transfer(t *testing.T, n *Node, nf api.Nullifier, memoKey []byte) zerocash.ElaboratedTransaction {
	ctx := context.Background()
	blocks, err := n.NumBlocks(ctx)
	require.NoError(t, err)
	p, err := n.GetNullifierProofFor(ctx, blocks, nf)
	require.NoError(t, err)
	return zerocash.ElaboratedTransaction{
		Txn: zerocash.Transaction{
			Kind:       zerocash.KindTransfer,
			Nullifiers: []api.Nullifier{nf},
			Outputs:    []api.Hash{api.HashBytes(nf[:]), api.HashBytes(append(nf[:], 1))},
			MemoKey:    memoKey,
		},
		Proofs: []setmerkle.Proof{p.Proof},
	}
}

func TestCommittedStateMatchesNextSnapshot(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, api.HashBytes([]byte("genesis")))

	for i := 0; i < 3; i++ {
		require.NoError(t, n.Submit(ctx, transfer(t, n, randomNullifier(t), nil)))
	}

	for i := uint64(0); i < 3; i++ {
		before, err := n.GetSnapshot(ctx, i, true)
		require.NoError(t, err)
		after, err := n.GetSnapshot(ctx, i+1, false)
		require.NoError(t, err)
		block, err := n.GetBlock(ctx, i)
		require.NoError(t, err)

		// re-derive the post-state from the sparse pre-state
		state := before.State
		_, err = state.ApplyBlock(&block.Block, before.Nullifiers, before.Records)
		require.NoError(t, err)
		assert.Equal(t, after.State.Commit(), state.Commit())
		assert.Equal(t, after.Records.Root(), state.RecordRoot)
	}

	_, err := n.GetBlock(ctx, 3)
	assert.ErrorIs(t, err, api.ErrInvalidBlockID)
	_, err = n.GetSnapshot(ctx, 4, true)
	assert.ErrorIs(t, err, api.ErrInvalidBlockID)
	require.NoError(t, n.Check())
}

func TestDoubleSpendIsRejected(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)
	nf := randomNullifier(t)

	require.NoError(t, n.Submit(ctx, transfer(t, n, nf, nil)))
	err := n.Submit(ctx, transfer(t, n, nf, nil))
	assert.ErrorIs(t, err, api.ErrAlreadySpent)

	summary, err := n.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), summary.NumBlocks)
	assert.Equal(t, uint64(2), summary.NumEvents)

	p, err := n.GetNullifierProofFor(ctx, 1, nf)
	require.NoError(t, err)
	assert.True(t, p.Spent)
	p, err = n.GetNullifierProofFor(ctx, 0, nf)
	require.NoError(t, err)
	assert.False(t, p.Spent)
}

func TestNullifierProofByRoot(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)
	nf := randomNullifier(t)
	require.NoError(t, n.Submit(ctx, transfer(t, n, nf, nil)))

	snap, err := n.GetSnapshot(ctx, 1, true)
	require.NoError(t, err)
	p, err := n.GetNullifierProof(ctx, snap.Nullifiers.Hash(), nf)
	require.NoError(t, err)
	assert.True(t, p.Spent)
	spent, err := p.Proof.Check(nf, snap.State.NullifiersRoot)
	require.NoError(t, err)
	assert.True(t, spent)

	_, err = n.GetNullifierProof(ctx, api.HashBytes([]byte("unknown root")), nf)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestPostMemos(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t)
	key, err := zerocash.GenerateMemoKey()
	require.NoError(t, err)
	require.NoError(t, n.Submit(ctx, transfer(t, n, randomNullifier(t), zerocash.MemoPublicKey(key))))

	txid := api.TransactionID{Block: 0, Index: 0}
	memos := []zerocash.Memo{[]byte("for alice"), []byte("change")}

	forged, err := zerocash.GenerateMemoKey()
	require.NoError(t, err)
	badSig, err := zerocash.SignMemos(forged, txid, memos)
	require.NoError(t, err)
	assert.ErrorIs(t, n.PostMemos(ctx, txid, TxMemos{Memos: memos, Signature: badSig}), api.ErrInvalidSignature)

	sig, err := zerocash.SignMemos(key, txid, memos)
	require.NoError(t, err)
	assert.ErrorIs(t, n.PostMemos(ctx, txid, TxMemos{Memos: memos[:1], Signature: sig}), api.ErrRequest)
	assert.ErrorIs(t, n.PostMemos(ctx, api.TransactionID{Block: 0, Index: 1}, TxMemos{Memos: memos, Signature: sig}), api.ErrInvalidTransactionID)
	require.NoError(t, n.PostMemos(ctx, txid, TxMemos{Memos: memos, Signature: sig}))
	assert.ErrorIs(t, n.PostMemos(ctx, txid, TxMemos{Memos: memos, Signature: sig}), api.ErrRequest)

	block, err := n.GetBlock(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, block.Memos[0])
	assert.Equal(t, memos, block.Memos[0].Memos)
}

func TestSubscribeFromCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := newTestNode(t)
	for i := 0; i < 2; i++ {
		require.NoError(t, n.Submit(ctx, transfer(t, n, randomNullifier(t), nil)))
	}

	events := n.Subscribe(ctx, 1)
	next := func() IndexedEvent {
		select {
		case ev, ok := <-events:
			require.True(t, ok)
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
			return IndexedEvent{}
		}
	}

	ev := next()
	assert.Equal(t, uint64(1), ev.Index)
	assert.Equal(t, EventCommit, ev.Event.Kind)
	assert.Equal(t, api.BlockID(1), ev.Event.Commit.BlockID)

	// events committed after subscribing are pushed live
	require.NoError(t, n.Submit(ctx, transfer(t, n, randomNullifier(t), nil)))
	ev = next()
	assert.Equal(t, uint64(2), ev.Index)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEventFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := newTestNode(t)
	require.NoError(t, n.Submit(ctx, transfer(t, n, randomNullifier(t), nil)))
	events := n.Subscribe(ctx, 0)
	ev := <-events

	text, err := EncodeJSON(ev)
	require.NoError(t, err)
	fromText, err := DecodeJSON(text)
	require.NoError(t, err)
	assert.Equal(t, ev.Index, fromText.Index)
	assert.Equal(t, ev.Event.Commit.StateCommitment, fromText.Event.Commit.StateCommitment)
	assert.Equal(t, ev.Event.Commit.Block.Hash(), fromText.Event.Commit.Block.Hash())

	bin, err := EncodeCBOR(ev)
	require.NoError(t, err)
	fromBin, err := DecodeCBOR(bin)
	require.NoError(t, err)
	assert.Equal(t, ev.Event.Commit.Block.Hash(), fromBin.Event.Commit.Block.Hash())

	_, err = DecodeJSON([]byte(`{"index":0,"type":"bogus","payload":{}}`))
	assert.Error(t, err)
	_, err = EncodeJSON(IndexedEvent{Event: LedgerEvent{Kind: EventMemos}})
	assert.Error(t, err)
}
