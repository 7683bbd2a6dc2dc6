// state.go - Validator state and key sets.
//
// The validator state is the summary every participant agrees on after each block. Its
// commitment is what committed blocks and snapshots report, and what a syncing wallet compares
// its own re-application against.

package zerocash

import (
	"fmt"

	"zerosync/internal/api"
)

const stateTag = 4

// Arity is the number of inputs and outputs a circuit handles.
type Arity struct {
	Inputs  int `json:"inputs" cbor:"1,keyasint"`
	Outputs int `json:"outputs" cbor:"2,keyasint"`
}

func (a Arity) String() string {
	return fmt.Sprintf("%dx%d", a.Inputs, a.Outputs)
}

// VerifierKey identifies one circuit the validators accept. Key holds the serialized verifying
// key when one has been set up.
type VerifierKey struct {
	Kind  TransactionKind `json:"kind" cbor:"1,keyasint"`
	Arity Arity           `json:"arity" cbor:"2,keyasint"`
	Key   []byte          `json:"key,omitempty" cbor:"3,keyasint,omitempty"`
}

// VerifierKeySet holds one mint key and any number of freeze and transfer keys.
type VerifierKeySet struct {
	Mint     VerifierKey   `json:"mint" cbor:"1,keyasint"`
	Freeze   []VerifierKey `json:"freeze" cbor:"2,keyasint"`
	Transfer []VerifierKey `json:"transfer" cbor:"3,keyasint"`
}

// DefaultVerifierKeys is the key set used by a fresh ledger.
func DefaultVerifierKeys() VerifierKeySet {
	return VerifierKeySet{
		Mint: VerifierKey{Kind: KindMint, Arity: Arity{Inputs: 1, Outputs: 2}},
		Freeze: []VerifierKey{
			{Kind: KindFreeze, Arity: Arity{Inputs: 2, Outputs: 2}},
			{Kind: KindFreeze, Arity: Arity{Inputs: 3, Outputs: 3}},
		},
		Transfer: []VerifierKey{
			{Kind: KindTransfer, Arity: Arity{Inputs: 1, Outputs: 2}},
			{Kind: KindTransfer, Arity: Arity{Inputs: 2, Outputs: 2}},
			{Kind: KindTransfer, Arity: Arity{Inputs: 2, Outputs: 3}},
			{Kind: KindTransfer, Arity: Arity{Inputs: 3, Outputs: 3}},
		},
	}
}

// All lists the keys in mint, freeze, transfer order.
func (s *VerifierKeySet) All() []VerifierKey {
	all := make([]VerifierKey, 0, 1+len(s.Freeze)+len(s.Transfer))
	all = append(all, s.Mint)
	all = append(all, s.Freeze...)
	all = append(all, s.Transfer...)
	return all
}

// Lookup finds the key for a transaction kind and arity.
func (s *VerifierKeySet) Lookup(kind TransactionKind, arity Arity) (VerifierKey, bool) {
	for _, vk := range s.All() {
		if vk.Kind == kind && vk.Arity == arity {
			return vk, true
		}
	}
	return VerifierKey{}, false
}

// Hash commits to the kinds, arities and key bytes of the set.
func (s *VerifierKeySet) Hash() api.Hash {
	all := s.All()
	parts := make([]api.Hash, len(all))
	for i, vk := range all {
		parts[i] = api.HashElements(
			api.Uint64Element(uint64(vk.Kind)),
			api.Uint64Element(uint64(vk.Arity.Inputs)),
			api.Uint64Element(uint64(vk.Arity.Outputs)),
			api.HashBytes(vk.Key).Element(),
		)
	}
	return api.HashWithTag(uint64(len(parts)), parts...)
}

// ValidatorState is the agreed ledger summary after a block.
type ValidatorState struct {
	BlockHeight    uint64         `json:"block_height" cbor:"1,keyasint"`
	PrevBlockHash  api.Hash       `json:"prev_block_hash" cbor:"2,keyasint"`
	NullifiersRoot api.Hash       `json:"nullifiers_root" cbor:"3,keyasint"`
	RecordRoot     api.Hash       `json:"record_root" cbor:"4,keyasint"`
	NumRecords     uint64         `json:"num_records" cbor:"5,keyasint"`
	VerifierKeys   VerifierKeySet `json:"verifier_keys" cbor:"6,keyasint"`
}

// Commit returns the state commitment.
func (s *ValidatorState) Commit() api.Hash {
	vkHash := s.VerifierKeys.Hash()
	return api.HashElements(
		api.Uint64Element(stateTag),
		api.Uint64Element(s.BlockHeight),
		s.PrevBlockHash.Element(),
		s.NullifiersRoot.Element(),
		s.RecordRoot.Element(),
		api.Uint64Element(s.NumRecords),
		vkHash.Element(),
	)
}

// ProvingKey is the output of preprocessing one circuit. Data holds the serialized Groth16 key
// and may be empty for keys that were never set up locally.
type ProvingKey struct {
	Kind  TransactionKind `json:"kind" cbor:"1,keyasint"`
	Arity Arity           `json:"arity" cbor:"2,keyasint"`
	Data  []byte          `json:"data,omitempty" cbor:"3,keyasint,omitempty"`
}

// ProverKeySet mirrors VerifierKeySet on the proving side.
type ProverKeySet struct {
	Mint     ProvingKey   `json:"mint" cbor:"1,keyasint"`
	Freeze   []ProvingKey `json:"freeze" cbor:"2,keyasint"`
	Transfer []ProvingKey `json:"transfer" cbor:"3,keyasint"`
}

// Lookup finds the proving key for a transaction kind and arity.
func (s *ProverKeySet) Lookup(kind TransactionKind, arity Arity) (ProvingKey, bool) {
	candidates := s.Transfer
	switch kind {
	case KindMint:
		if s.Mint.Arity == arity {
			return s.Mint, true
		}
		return ProvingKey{}, false
	case KindFreeze:
		candidates = s.Freeze
	}
	for _, pk := range candidates {
		if pk.Arity == arity {
			return pk, true
		}
	}
	return ProvingKey{}, false
}
