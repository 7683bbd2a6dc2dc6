// node.go - In-process ledger authority.
//
// Node validates each submitted transaction as a one-transaction block, keeps every block,
// snapshot and event in memory, and pushes events to subscribers. It implements QueryService,
// Validator and Bulletin and is what the HTTP server and the tests talk to. It has no consensus.

package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"zerosync/internal/api"
	"zerosync/internal/logging"
	"zerosync/internal/merkle"
	"zerosync/internal/metrics"
	"zerosync/internal/setmerkle"
	"zerosync/internal/zerocash"
)

type snapshot struct {
	state      zerocash.ValidatorState
	nullifiers *setmerkle.Tree
}

// Node represents the ledger authority.
type Node struct {
	log     zerolog.Logger
	metrics *metrics.Collector

	mu          sync.RWMutex
	state       zerocash.ValidatorState
	nullifiers  *setmerkle.Tree
	records     *merkle.Tree
	commitments []api.Hash
	blocks      []LedgerTransition
	snapshots   []snapshot
	byHash      map[api.Hash]uint64
	// nullifier root -> first snapshot with it
	byRoot map[api.Hash]uint64
	events []LedgerEvent
	// closed and replaced whenever an event is appended
	notify chan struct{}
}

// New creates a ledger seeded with the genesis record commitments.
func New(log zerolog.Logger, m *metrics.Collector, keys zerocash.VerifierKeySet, genesis []api.Hash) (*Node, error) {
	records, err := merkle.FromLeaves(genesis)
	if err != nil {
		return nil, fmt.Errorf("genesis records: %w", err)
	}
	n := &Node{
		log:         logging.Component(log, "node"),
		metrics:     m,
		state:       zerocash.Genesis(keys, records),
		nullifiers:  setmerkle.New(),
		records:     records,
		commitments: append([]api.Hash(nil), genesis...),
		byHash:      make(map[api.Hash]uint64),
		byRoot:      make(map[api.Hash]uint64),
		notify:      make(chan struct{}),
	}
	n.pushSnapshot()
	n.log.Info().Int("genesis_records", len(genesis)).Str("commitment", n.state.Commit().String()).Msg("ledger initialized")
	return n, nil
}

func (n *Node) pushSnapshot() {
	index := uint64(len(n.snapshots))
	n.snapshots = append(n.snapshots, snapshot{state: n.state, nullifiers: n.nullifiers.Clone()})
	if _, ok := n.byRoot[n.state.NullifiersRoot]; !ok {
		n.byRoot[n.state.NullifiersRoot] = index
	}
}

func (n *Node) emit(ev LedgerEvent) {
	n.events = append(n.events, ev)
	close(n.notify)
	n.notify = make(chan struct{})
}

// Submit validates tx as the next block. A rejected block is still reported on the event feed.
func (n *Node) Submit(ctx context.Context, tx zerocash.ElaboratedTransaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	blk := zerocash.Block{Transactions: []zerocash.ElaboratedTransaction{tx}}

	// ApplyBlock leaves state and trees untouched on error
	uids, err := n.state.ApplyBlock(&blk, n.nullifiers, n.records)
	if err != nil {
		n.emit(LedgerEvent{Kind: EventReject, Reject: &RejectEvent{Block: blk, Error: err.Error()}})
		n.metrics.Submission("rejected")
		if errors.Is(err, api.ErrAlreadySpent) {
			logging.Audit(n.log, "double_spend", map[string]interface{}{"txn": tx.Txn.Hash().String()})
		}
		n.log.Debug().Err(err).Msg("transaction rejected")
		return err
	}

	index := uint64(len(n.blocks))
	n.blocks = append(n.blocks, LedgerTransition{Block: blk, Memos: make([]*TxMemos, 1), UIDs: uids})
	n.commitments = append(n.commitments, tx.Txn.Outputs...)
	n.byHash[blk.Hash()] = index
	n.pushSnapshot()
	n.emit(LedgerEvent{Kind: EventCommit, Commit: &CommitEvent{
		Block:           blk,
		BlockID:         api.BlockID(index),
		StateCommitment: n.state.Commit(),
	}})

	n.metrics.Submission("committed")
	n.metrics.BlockHeight(uint64(len(n.blocks)))
	n.log.Info().Uint64("block", index).Int("outputs", len(tx.Txn.Outputs)).Msg("block committed")
	return nil
}

// PostMemos attaches memos to a committed transaction after checking the signature against the
// transaction's memo key.
func (n *Node) PostMemos(ctx context.Context, txid api.TransactionID, memos TxMemos) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Step 1: locate the transaction
	if txid.Block.Index() >= uint64(len(n.blocks)) {
		return fmt.Errorf("%w: %s: block %d of %d", api.ErrInvalidTransactionID, txid, txid.Block.Index(), len(n.blocks))
	}
	transition := &n.blocks[txid.Block.Index()]
	if txid.Index >= uint64(len(transition.Block.Transactions)) {
		return fmt.Errorf("%w: %s: block has %d transactions", api.ErrInvalidTransactionID, txid, len(transition.Block.Transactions))
	}
	txn := &transition.Block.Transactions[txid.Index].Txn

	// Step 2: one memo per output, posted once
	if len(memos.Memos) != len(txn.Outputs) {
		return fmt.Errorf("%w: %d memos for %d outputs", api.ErrRequest, len(memos.Memos), len(txn.Outputs))
	}
	if transition.Memos[txid.Index] != nil {
		return fmt.Errorf("%w: memos for %s already posted", api.ErrRequest, txid)
	}

	// Step 3: authorization
	if err := zerocash.VerifyMemos(txn.MemoKey, txid, memos.Memos, memos.Signature); err != nil {
		logging.Audit(n.log, "memo_spoofing", map[string]interface{}{"txid": txid.String()})
		return err
	}

	// Step 4: attach and announce
	transition.Memos[txid.Index] = &memos
	outputs := make([]MemoOutput, len(txn.Outputs))
	for i, cm := range txn.Outputs {
		outputs[i] = MemoOutput{Memo: memos.Memos[i], Commitment: cm, UID: transition.UIDs[txid.Index][i]}
	}
	n.emit(LedgerEvent{Kind: EventMemos, Memos: &MemosEvent{TxID: txid, Outputs: outputs}})
	return nil
}

// GetSummary implements QueryService.
func (n *Node) GetSummary(ctx context.Context) (LedgerSummary, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return LedgerSummary{
		NumBlocks:       uint64(len(n.blocks)),
		NumRecords:      n.state.NumRecords,
		NumEvents:       uint64(len(n.events)),
		StateCommitment: n.state.Commit(),
	}, nil
}

// NumBlocks implements QueryService.
func (n *Node) NumBlocks(ctx context.Context) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return uint64(len(n.blocks)), nil
}

// GetBlock implements QueryService. The returned transition is a copy.
func (n *Node) GetBlock(ctx context.Context, index uint64) (*LedgerTransition, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if index >= uint64(len(n.blocks)) {
		return nil, fmt.Errorf("%w: block %d of %d", api.ErrInvalidBlockID, index, len(n.blocks))
	}
	t := n.blocks[index]
	t.Memos = append([]*TxMemos(nil), t.Memos...)
	return &t, nil
}

// GetSnapshot implements QueryService. Record trees are rebuilt from the commitment list.
func (n *Node) GetSnapshot(ctx context.Context, index uint64, sparse bool) (*LedgerSnapshot, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if index >= uint64(len(n.snapshots)) {
		return nil, fmt.Errorf("%w: snapshot %d of %d", api.ErrInvalidBlockID, index, len(n.snapshots))
	}
	snap := n.snapshots[index]
	records, err := merkle.FromLeaves(n.commitments[:snap.state.NumRecords])
	if err != nil {
		return nil, err
	}
	if sparse {
		return &LedgerSnapshot{State: snap.state, Nullifiers: snap.nullifiers.Sparse(), Records: records.Frontier()}, nil
	}
	return &LedgerSnapshot{State: snap.state, Nullifiers: snap.nullifiers.Clone(), Records: records}, nil
}

// GetBlockIDByHash implements QueryService.
func (n *Node) GetBlockIDByHash(ctx context.Context, hash api.Hash) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	index, ok := n.byHash[hash]
	if !ok {
		return 0, fmt.Errorf("%w: no block with hash %s", api.ErrInvalidBlockID, hash)
	}
	return index, nil
}

// GetNullifierProof implements QueryService.
func (n *Node) GetNullifierProof(ctx context.Context, root api.Hash, nf api.Nullifier) (NullifierProof, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	index, ok := n.byRoot[root]
	if !ok {
		return NullifierProof{}, fmt.Errorf("%w: nullifier root %s", api.ErrNotFound, root)
	}
	return prove(n.snapshots[index].nullifiers, nf)
}

// GetNullifierProofFor implements QueryService.
func (n *Node) GetNullifierProofFor(ctx context.Context, index uint64, nf api.Nullifier) (NullifierProof, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if index >= uint64(len(n.snapshots)) {
		return NullifierProof{}, fmt.Errorf("%w: snapshot %d of %d", api.ErrInvalidBlockID, index, len(n.snapshots))
	}
	return prove(n.snapshots[index].nullifiers, nf)
}

func prove(set *setmerkle.Tree, nf api.Nullifier) (NullifierProof, error) {
	spent, proof, known := set.Contains(nf)
	if !known {
		// snapshots hold the full set
		return NullifierProof{}, fmt.Errorf("nullifier set of root %s is incomplete", set.Hash())
	}
	return NullifierProof{Nullifier: nf, Root: set.Hash(), Spent: spent, Proof: *proof}, nil
}

// Subscribe implements QueryService. The channel is closed when ctx is done.
func (n *Node) Subscribe(ctx context.Context, start uint64) <-chan IndexedEvent {
	out := make(chan IndexedEvent)
	n.metrics.SubscriberAdded()
	go func() {
		defer close(out)
		defer n.metrics.SubscriberRemoved()
		for next := start; ; {
			n.mu.RLock()
			pending := n.events[min(next, uint64(len(n.events))):]
			wake := n.notify
			n.mu.RUnlock()

			for _, ev := range pending {
				select {
				case out <- IndexedEvent{Index: next, Event: ev}:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Check verifies that the trees still match the current state.
func (n *Node) Check() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.nullifiers.Hash() != n.state.NullifiersRoot {
		return errors.New("nullifier root diverged from state")
	}
	if n.records.Root() != n.state.RecordRoot || n.records.NumLeaves() != uint64(len(n.commitments)) {
		return errors.New("record tree diverged from state")
	}
	return nil
}
