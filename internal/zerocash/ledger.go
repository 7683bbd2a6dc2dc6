// ledger.go - Block application and double-spend detection.
//
// ApplyBlock is the single state transition shared by the validator that produces blocks and
// the wallets that replay them. It works on whatever view of the nullifier set the caller holds:
// a validator has the full set, a wallet a sparse one that the block's proofs fill in.
//
// NOTE: ApplyBlock is not thread-safe; callers serialize access to the state and trees.

package zerocash

import (
	"fmt"

	"zerosync/internal/api"
	"zerosync/internal/merkle"
	"zerosync/internal/setmerkle"
)

// ApplyBlock validates blk against the state and, on success, inserts its nullifiers, appends
// its outputs and advances the state. It returns the uid of every output, per transaction.
// Nothing is modified when an error is returned.
func (s *ValidatorState) ApplyBlock(blk *Block, nullifiers *setmerkle.Tree, records *merkle.Tree) ([][]uint64, error) {
	// Step 1: the trees must be the ones the state describes
	if nullifiers.Hash() != s.NullifiersRoot {
		return nil, fmt.Errorf("%w: nullifier root %s, state has %s", api.ErrProtocolViolation, nullifiers.Hash(), s.NullifiersRoot)
	}
	if records.Root() != s.RecordRoot || records.NumLeaves() != s.NumRecords {
		return nil, fmt.Errorf("%w: record tree %s/%d, state has %s/%d", api.ErrProtocolViolation,
			records.Root(), records.NumLeaves(), s.RecordRoot, s.NumRecords)
	}

	// Step 2: every transaction needs an accepted circuit and one proof per nullifier
	var spends []setmerkle.Spend
	numOutputs := uint64(0)
	for i := range blk.Transactions {
		etx := &blk.Transactions[i]
		if _, ok := s.VerifierKeys.Lookup(etx.Txn.Kind, etx.Txn.Arity()); !ok {
			return nil, fmt.Errorf("%w: transaction %d: no %s verifier key of arity %s",
				api.ErrRequest, i, etx.Txn.Kind, etx.Txn.Arity())
		}
		txSpends, err := etx.Spends()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		spends = append(spends, txSpends...)
		numOutputs += uint64(len(etx.Txn.Outputs))
	}
	if numOutputs > records.Capacity() {
		return nil, fmt.Errorf("%w: block adds %d records", merkle.ErrFull, numOutputs)
	}

	// Step 3: double-spend detection, against the set and within the block
	if err := nullifiers.MultiInsert(spends); err != nil {
		return nil, err
	}

	// Step 4: append output commitments
	uids := make([][]uint64, len(blk.Transactions))
	for i := range blk.Transactions {
		outs := blk.Transactions[i].Txn.Outputs
		uids[i] = make([]uint64, len(outs))
		for j, cm := range outs {
			uid, err := records.Push(cm)
			if err != nil {
				// Capacity was checked above.
				return nil, err
			}
			uids[i][j] = uid
		}
	}

	// Step 5: advance the state
	s.BlockHeight++
	s.PrevBlockHash = blk.Hash()
	s.NullifiersRoot = nullifiers.Hash()
	s.RecordRoot = records.Root()
	s.NumRecords = records.NumLeaves()
	return uids, nil
}

// Genesis returns the state of a ledger seeded with the given records.
func Genesis(keys VerifierKeySet, records *merkle.Tree) ValidatorState {
	return ValidatorState{
		NullifiersRoot: setmerkle.New().Hash(),
		RecordRoot:     records.Root(),
		NumRecords:     records.NumLeaves(),
		VerifierKeys:   keys,
	}
}
