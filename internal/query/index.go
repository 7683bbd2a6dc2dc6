// index.go - Ledger query index: committed blocks, transactions and records by address.
//
// Every operation resolves its address against the authority at request time. "Latest" is a
// resolution rule, so two latest requests may see different blocks if commits happen between
// them.

package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"zerosync/internal/api"
	"zerosync/internal/node"
	"zerosync/internal/setmerkle"
	"zerosync/internal/zerocash"
)

// CommittedTransaction is a transaction as committed in a block.
type CommittedTransaction struct {
	ID             api.TransactionID    `json:"id" cbor:"1,keyasint"`
	Data           zerocash.Transaction `json:"data" cbor:"2,keyasint"`
	Proofs         []setmerkle.Proof    `json:"proofs" cbor:"3,keyasint"`
	OutputUIDs     []uint64             `json:"output_uids" cbor:"4,keyasint"`
	OutputMemos    []zerocash.Memo      `json:"output_memos,omitempty" cbor:"5,keyasint,omitempty"`
	MemosSignature []byte               `json:"memos_signature,omitempty" cbor:"6,keyasint,omitempty"`
}

// Elaborated returns the transaction with its nullifier proofs.
func (c *CommittedTransaction) Elaborated() zerocash.ElaboratedTransaction {
	return zerocash.ElaboratedTransaction{Txn: c.Data, Proofs: c.Proofs}
}

// CommittedBlock is a block with the state commitment after applying it.
type CommittedBlock struct {
	ID              api.BlockID            `json:"id" cbor:"1,keyasint"`
	Index           uint64                 `json:"index" cbor:"2,keyasint"`
	Hash            api.Hash               `json:"hash" cbor:"3,keyasint"`
	StateCommitment api.Hash               `json:"state_commitment" cbor:"4,keyasint"`
	Transactions    []CommittedTransaction `json:"transactions" cbor:"5,keyasint"`
}

// UnspentRecord is one output of a committed transaction.
type UnspentRecord struct {
	Commitment api.Hash      `json:"commitment" cbor:"1,keyasint"`
	UID        uint64        `json:"uid" cbor:"2,keyasint"`
	Memo       zerocash.Memo `json:"memo,omitempty" cbor:"3,keyasint,omitempty"`
}

// BlockSpec selects a block by index, id or content hash. The zero value means latest.
type BlockSpec struct {
	Index *uint64
	ID    *api.BlockID
	Hash  *api.Hash
}

// Latest selects the highest committed block.
func Latest() BlockSpec { return BlockSpec{} }

// AtIndex selects a block by index.
func AtIndex(i uint64) BlockSpec { return BlockSpec{Index: &i} }

// ByID selects a block by its id.
func ByID(id api.BlockID) BlockSpec { return BlockSpec{ID: &id} }

// ByHash selects a block by its content hash.
func ByHash(h api.Hash) BlockSpec { return BlockSpec{Hash: &h} }

// Index answers address-based queries against a query authority.
type Index struct {
	svc node.QueryService
}

// New creates an index over svc.
func New(svc node.QueryService) *Index {
	return &Index{svc: svc}
}

// ResolveBlockIndex turns spec into a block index. Explicit indices are not range checked here;
// fetching the block does that.
func (x *Index) ResolveBlockIndex(ctx context.Context, spec BlockSpec) (uint64, error) {
	switch {
	case spec.Index != nil:
		return *spec.Index, nil
	case spec.ID != nil:
		return spec.ID.Index(), nil
	case spec.Hash != nil:
		return x.svc.GetBlockIDByHash(ctx, *spec.Hash)
	}
	n, err := x.svc.NumBlocks(ctx)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: latest block of an empty ledger", api.ErrInvalidBlockID)
	}
	return n - 1, nil
}

// GetCommittedBlock fetches block index and snapshot index+1, the state the block produced.
func (x *Index) GetCommittedBlock(ctx context.Context, index uint64) (*CommittedBlock, error) {
	var (
		transition *node.LedgerTransition
		after      *node.LedgerSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		transition, err = x.svc.GetBlock(gctx, index)
		return err
	})
	g.Go(func() error {
		var err error
		after, err = x.svc.GetSnapshot(gctx, index+1, true)
		if err != nil {
			return fmt.Errorf("snapshot after block %d: %w", index, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	txs, err := zip(api.BlockID(index), transition)
	if err != nil {
		return nil, err
	}
	return &CommittedBlock{
		ID:              api.BlockID(index),
		Index:           index,
		Hash:            transition.Block.Hash(),
		StateCommitment: after.State.Commit(),
		Transactions:    txs,
	}, nil
}

// zip joins transactions, proofs, memos and uids. The authority keeps them the same length; a
// mismatch means it broke that invariant.
func zip(block api.BlockID, t *node.LedgerTransition) ([]CommittedTransaction, error) {
	n := len(t.Block.Transactions)
	if len(t.Memos) != n || len(t.UIDs) != n {
		return nil, fmt.Errorf("%w: block %d has %d transactions, %d memo sets, %d uid sets",
			api.ErrProtocolViolation, block.Index(), n, len(t.Memos), len(t.UIDs))
	}
	txs := make([]CommittedTransaction, n)
	for i := 0; i < n; i++ {
		tx, err := committed(api.TransactionID{Block: block, Index: uint64(i)}, t)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return txs, nil
}

func committed(id api.TransactionID, t *node.LedgerTransition) (CommittedTransaction, error) {
	etx := t.Block.Transactions[id.Index]
	uids := t.UIDs[id.Index]
	if len(uids) != len(etx.Txn.Outputs) {
		return CommittedTransaction{}, fmt.Errorf("%w: %s has %d outputs but %d uids",
			api.ErrProtocolViolation, id, len(etx.Txn.Outputs), len(uids))
	}
	tx := CommittedTransaction{ID: id, Data: etx.Txn, Proofs: etx.Proofs, OutputUIDs: uids}
	if m := t.Memos[id.Index]; m != nil {
		if len(m.Memos) != len(etx.Txn.Outputs) {
			return CommittedTransaction{}, fmt.Errorf("%w: %s has %d outputs but %d memos",
				api.ErrProtocolViolation, id, len(etx.Txn.Outputs), len(m.Memos))
		}
		tx.OutputMemos = m.Memos
		tx.MemosSignature = m.Signature
	}
	return tx, nil
}

// GetCommittedTransaction fetches one transaction of a committed block.
func (x *Index) GetCommittedTransaction(ctx context.Context, id api.TransactionID) (*CommittedTransaction, error) {
	t, err := x.transition(ctx, id)
	if err != nil {
		return nil, err
	}
	tx, err := committed(id, t)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetUnspentRecord fetches one output of a committed transaction. Mempool lookups are not
// supported.
func (x *Index) GetUnspentRecord(ctx context.Context, id api.TransactionID, output uint64, mempool bool) (*UnspentRecord, error) {
	if mempool {
		return nil, fmt.Errorf("%w: mempool queries", api.ErrUnimplemented)
	}
	t, err := x.transition(ctx, id)
	if err != nil {
		return nil, err
	}
	tx, err := committed(id, t)
	if err != nil {
		return nil, err
	}
	if output >= uint64(len(tx.Data.Outputs)) {
		return nil, fmt.Errorf("%w: output %d of %s, which has %d outputs",
			api.ErrInvalidOutputIndex, output, id, len(tx.Data.Outputs))
	}
	rec := &UnspentRecord{Commitment: tx.Data.Outputs[output], UID: tx.OutputUIDs[output]}
	if tx.OutputMemos != nil {
		rec.Memo = tx.OutputMemos[output]
	}
	return rec, nil
}

// transition fetches the block holding id and checks the transaction index.
func (x *Index) transition(ctx context.Context, id api.TransactionID) (*node.LedgerTransition, error) {
	t, err := x.svc.GetBlock(ctx, id.Block.Index())
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, err)
	}
	n := len(t.Block.Transactions)
	if id.Index >= uint64(n) {
		return nil, fmt.Errorf("%w: %s: block %d has %d transactions", api.ErrInvalidTransactionID, id, id.Block.Index(), n)
	}
	if len(t.Memos) != n || len(t.UIDs) != n {
		return nil, fmt.Errorf("%w: block %d has %d transactions, %d memo sets, %d uid sets",
			api.ErrProtocolViolation, id.Block.Index(), n, len(t.Memos), len(t.UIDs))
	}
	return t, nil
}

// GetBlockHash returns the content hash of block index.
func (x *Index) GetBlockHash(ctx context.Context, index uint64) (api.Hash, error) {
	t, err := x.svc.GetBlock(ctx, index)
	if err != nil {
		return api.Hash{}, err
	}
	return t.Block.Hash(), nil
}

// GetBlockID returns the id of block index, checking that it exists.
func (x *Index) GetBlockID(ctx context.Context, index uint64) (api.BlockID, error) {
	n, err := x.svc.NumBlocks(ctx)
	if err != nil {
		return 0, err
	}
	if index >= n {
		return 0, fmt.Errorf("%w: block %d of %d", api.ErrInvalidBlockID, index, n)
	}
	return api.BlockID(index), nil
}

func (x *Index) GetSummary(ctx context.Context) (node.LedgerSummary, error) {
	return x.svc.GetSummary(ctx)
}

func (x *Index) GetBlockCount(ctx context.Context) (uint64, error) {
	s, err := x.svc.GetSummary(ctx)
	if err != nil {
		return 0, err
	}
	return s.NumBlocks, nil
}
