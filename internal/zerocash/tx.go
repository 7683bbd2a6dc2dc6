// tx.go - Transaction and block payloads.
//
// A transaction reveals the nullifiers of the records it consumes and the commitments of the
// records it creates. The validity proof is opaque here; what the ledger checks on its own is
// that every nullifier comes with a non-membership proof against the set before the block.

package zerocash

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"zerosync/internal/api"
	"zerosync/internal/setmerkle"
)

// TransactionKind selects the circuit family of a transaction.
type TransactionKind uint8

const (
	KindMint TransactionKind = iota
	KindFreeze
	KindTransfer
)

func (k TransactionKind) String() string {
	switch k {
	case KindMint:
		return "mint"
	case KindFreeze:
		return "freeze"
	case KindTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k TransactionKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *TransactionKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "mint":
		*k = KindMint
	case "freeze":
		*k = KindFreeze
	case "transfer":
		*k = KindTransfer
	default:
		return fmt.Errorf("%w: unknown transaction kind %q", api.ErrRequest, s)
	}
	return nil
}

// Transaction is the public part of a ledger transaction.
type Transaction struct {
	Kind       TransactionKind `json:"kind" cbor:"1,keyasint"`
	Nullifiers []api.Nullifier `json:"nullifiers" cbor:"2,keyasint"`
	Outputs    []api.Hash      `json:"outputs" cbor:"3,keyasint"`
	Fee        uint64          `json:"fee" cbor:"4,keyasint"`
	MemoKey    []byte          `json:"memo_key,omitempty" cbor:"5,keyasint,omitempty"`
	Proof      []byte          `json:"proof,omitempty" cbor:"6,keyasint,omitempty"`
}

// Arity returns the input and output counts of the transaction.
func (tx *Transaction) Arity() Arity {
	return Arity{Inputs: len(tx.Nullifiers), Outputs: len(tx.Outputs)}
}

var canonical = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Hash is the content hash of the transaction over its canonical CBOR encoding.
func (tx *Transaction) Hash() api.Hash {
	b, err := canonical.Marshal(tx)
	if err != nil {
		// Every field is a plain value; encoding cannot fail.
		panic(fmt.Sprintf("encode transaction: %v", err))
	}
	return api.HashBytes(b)
}

// ElaboratedTransaction carries a transaction together with one nullifier proof per nullifier.
type ElaboratedTransaction struct {
	Txn    Transaction       `json:"txn" cbor:"1,keyasint"`
	Proofs []setmerkle.Proof `json:"proofs" cbor:"2,keyasint"`
}

// Spends pairs nullifiers with their proofs.
func (e *ElaboratedTransaction) Spends() ([]setmerkle.Spend, error) {
	if len(e.Proofs) != len(e.Txn.Nullifiers) {
		return nil, fmt.Errorf("%w: %d nullifiers but %d proofs", api.ErrRequest, len(e.Txn.Nullifiers), len(e.Proofs))
	}
	spends := make([]setmerkle.Spend, len(e.Proofs))
	for i := range e.Proofs {
		spends[i] = setmerkle.Spend{Nullifier: e.Txn.Nullifiers[i], Proof: e.Proofs[i]}
	}
	return spends, nil
}

// Block is an ordered batch of transactions committed together.
type Block struct {
	Transactions []ElaboratedTransaction `json:"transactions" cbor:"1,keyasint"`
}

// Hash commits to the transaction hashes of the block.
func (b *Block) Hash() api.Hash {
	hashes := make([]api.Hash, len(b.Transactions))
	for i := range b.Transactions {
		hashes[i] = b.Transactions[i].Txn.Hash()
	}
	return api.HashWithTag(uint64(len(hashes))+blockTagBase, hashes...)
}

// blockTagBase keeps block hashes apart from the other tagged digests.
const blockTagBase = 1 << 32
