// state.go - Wallet ledger-sync state and its persistence.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"zerosync/internal/api"
	"zerosync/internal/merkle"
	"zerosync/internal/node"
	"zerosync/internal/query"
	"zerosync/internal/setmerkle"
	"zerosync/internal/storage"
	"zerosync/internal/zerocash"
)

// ErrNoWallet is returned by Storage.Load before a wallet has been created.
var ErrNoWallet = errors.New("wallet does not exist")

// Backend is what the wallet needs from the ledger services.
type Backend interface {
	// Snapshot returns the sparse snapshot before block index.
	Snapshot(ctx context.Context, index uint64) (*node.LedgerSnapshot, error)
	GetNullifierProof(ctx context.Context, root api.Hash, nf api.Nullifier) (node.NullifierProof, error)
	GetTransaction(ctx context.Context, id api.TransactionID) (*query.CommittedTransaction, error)
	Submit(ctx context.Context, tx zerocash.ElaboratedTransaction) error
	PostMemos(ctx context.Context, txid api.TransactionID, memos node.TxMemos) error
	Subscribe(ctx context.Context, start uint64) (*EventStream, error)
}

// Storage persists the wallet state. Create fails if a wallet already exists; Commit replaces
// the stored state atomically.
type Storage interface {
	Load() (*State, error)
	Create(s *State) error
	Commit(s *State) error
}

// PendingSubmission is a transaction accepted by the validator but not yet seen on the stream.
type PendingSubmission struct {
	Hash      api.Hash `json:"hash" cbor:"1,keyasint"`
	Submitted uint64   `json:"submitted" cbor:"2,keyasint"`
}

// Registries hold per-wallet key material indexes. They are created empty and filled by key
// management, which lives outside this package.
type Registries struct {
	KeyScans      map[string][]byte `json:"key_scans" cbor:"1,keyasint"`
	KeyState      map[string][]byte `json:"key_state" cbor:"2,keyasint"`
	DefinedAssets map[string][]byte `json:"defined_assets" cbor:"3,keyasint"`
	AuditKeys     map[string][]byte `json:"audit_keys" cbor:"4,keyasint"`
	FreezeKeys    map[string][]byte `json:"freeze_keys" cbor:"5,keyasint"`
	UserKeys      map[string][]byte `json:"user_keys" cbor:"6,keyasint"`
}

func emptyRegistries() Registries {
	return Registries{
		KeyScans:      map[string][]byte{},
		KeyState:      map[string][]byte{},
		DefinedAssets: map[string][]byte{},
		AuditKeys:     map[string][]byte{},
		FreezeKeys:    map[string][]byte{},
		UserKeys:      map[string][]byte{},
	}
}

// State is everything the wallet keeps about the ledger.
type State struct {
	ProvingKeys zerocash.ProverKeySet   `json:"proving_keys" cbor:"1,keyasint"`
	Validator   zerocash.ValidatorState `json:"validator" cbor:"2,keyasint"`
	Nullifiers  *setmerkle.Tree         `json:"nullifiers" cbor:"3,keyasint"`
	Records     *merkle.Tree            `json:"records" cbor:"4,keyasint"`
	// LeafToForget is the last appended record leaf, kept until the next one arrives.
	LeafToForget *uint64 `json:"leaf_to_forget,omitempty" cbor:"5,keyasint,omitempty"`
	// Now counts applied events.
	Now uint64 `json:"now" cbor:"6,keyasint"`
	// Cursor is the index of the next event to apply.
	Cursor     uint64                       `json:"cursor" cbor:"7,keyasint"`
	Pending    map[string]PendingSubmission `json:"pending" cbor:"8,keyasint"`
	Registries Registries                   `json:"registries" cbor:"9,keyasint"`
}

// clone copies the state deeply enough that applying an event to the copy leaves s untouched.
func (s *State) clone() *State {
	c := *s
	c.Nullifiers = s.Nullifiers.Clone()
	c.Records = s.Records.Clone()
	if s.LeafToForget != nil {
		leaf := *s.LeafToForget
		c.LeafToForget = &leaf
	}
	c.Pending = make(map[string]PendingSubmission, len(s.Pending))
	for k, v := range s.Pending {
		c.Pending[k] = v
	}
	return &c
}

const stateKey = "wallet/state"

// LevelDBStorage keeps the state under one key of a storage.Store.
type LevelDBStorage struct {
	store *storage.Store
}

// NewLevelDBStorage wraps an open store.
func NewLevelDBStorage(store *storage.Store) *LevelDBStorage {
	return &LevelDBStorage{store: store}
}

func (l *LevelDBStorage) Load() (*State, error) {
	var s State
	if err := l.store.Get(stateKey, &s); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoWallet
		}
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if s.Nullifiers == nil || s.Records == nil {
		return nil, fmt.Errorf("load wallet: stored state has no trees")
	}
	if s.Pending == nil {
		s.Pending = map[string]PendingSubmission{}
	}
	return &s, nil
}

func (l *LevelDBStorage) Create(s *State) error {
	b := new(storage.Batch)
	b.Put(stateKey, s)
	if err := l.store.Create(b); err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (l *LevelDBStorage) Commit(s *State) error {
	b := new(storage.Batch)
	b.Put(stateKey, s)
	if err := l.store.Write(b); err != nil {
		return fmt.Errorf("commit wallet: %w", err)
	}
	return nil
}
