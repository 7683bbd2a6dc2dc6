// types.go - Query authority capability and the artifacts it serves.
//
// Block i is applied to snapshot i and produces snapshot i+1, so the post-state of block i is
// always read from snapshot i+1. Snapshot 0 is the genesis state.

package node

import (
	"context"

	"zerosync/internal/api"
	"zerosync/internal/merkle"
	"zerosync/internal/setmerkle"
	"zerosync/internal/zerocash"
)

// TxMemos are the receiver memos attached to one transaction, one memo per output, together
// with the signature authorizing them.
type TxMemos struct {
	Memos     []zerocash.Memo `json:"memos" cbor:"1,keyasint"`
	Signature []byte          `json:"signature" cbor:"2,keyasint"`
}

// LedgerTransition is a committed block with its per-transaction memos and output uids. Memos,
// UIDs and Block.Transactions always have the same length; a nil Memos entry means no memos
// were posted yet.
type LedgerTransition struct {
	Block zerocash.Block `json:"block" cbor:"1,keyasint"`
	Memos []*TxMemos     `json:"memos" cbor:"2,keyasint"`
	UIDs  [][]uint64     `json:"uids" cbor:"3,keyasint"`
}

// LedgerSnapshot is the validator state and both trees before a block. Sparse snapshots carry
// only the nullifier root and the frontier of the record tree.
type LedgerSnapshot struct {
	State      zerocash.ValidatorState `json:"state" cbor:"1,keyasint"`
	Nullifiers *setmerkle.Tree         `json:"nullifiers" cbor:"2,keyasint"`
	Records    *merkle.Tree            `json:"records" cbor:"3,keyasint"`
}

// LedgerSummary is what getinfo reports.
type LedgerSummary struct {
	NumBlocks       uint64   `json:"num_blocks" cbor:"1,keyasint"`
	NumRecords      uint64   `json:"num_records" cbor:"2,keyasint"`
	NumEvents       uint64   `json:"num_events" cbor:"3,keyasint"`
	StateCommitment api.Hash `json:"state_commitment" cbor:"4,keyasint"`
}

// NullifierProof answers a nullifier query against one set root.
type NullifierProof struct {
	Nullifier api.Nullifier   `json:"nullifier" cbor:"1,keyasint"`
	Root      api.Hash        `json:"root" cbor:"2,keyasint"`
	Spent     bool            `json:"spent" cbor:"3,keyasint"`
	Proof     setmerkle.Proof `json:"proof" cbor:"4,keyasint"`
}

// QueryService is the read side of the ledger authority.
type QueryService interface {
	GetSummary(ctx context.Context) (LedgerSummary, error)
	NumBlocks(ctx context.Context) (uint64, error)
	// GetBlock fails with api.ErrInvalidBlockID for index >= NumBlocks.
	GetBlock(ctx context.Context, index uint64) (*LedgerTransition, error)
	// GetSnapshot accepts index <= NumBlocks.
	GetSnapshot(ctx context.Context, index uint64, sparse bool) (*LedgerSnapshot, error)
	GetBlockIDByHash(ctx context.Context, hash api.Hash) (uint64, error)
	// GetNullifierProof proves against the set with the given root.
	GetNullifierProof(ctx context.Context, root api.Hash, n api.Nullifier) (NullifierProof, error)
	// GetNullifierProofFor proves against the set before block index.
	GetNullifierProofFor(ctx context.Context, index uint64, n api.Nullifier) (NullifierProof, error)
	// Subscribe streams events from index start until ctx is done.
	Subscribe(ctx context.Context, start uint64) <-chan IndexedEvent
}

// Validator accepts transactions for inclusion.
type Validator interface {
	Submit(ctx context.Context, tx zerocash.ElaboratedTransaction) error
}

// Bulletin stores receiver memos for committed transactions.
type Bulletin interface {
	PostMemos(ctx context.Context, txid api.TransactionID, memos TxMemos) error
}
