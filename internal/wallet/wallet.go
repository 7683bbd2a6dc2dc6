// Package wallet keeps a local view of the ledger in sync with the remote services.
//
// A Wallet owns its state exclusively. Every mutation takes the wallet lock for its whole
// duration; network calls are made before the lock is taken and their results applied after,
// so a slow round trip never blocks other callers.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
	"github.com/rs/zerolog"

	"zerosync/internal/api"
	"zerosync/internal/logging"
	"zerosync/internal/metrics"
	"zerosync/internal/node"
	"zerosync/internal/zerocash"
)

// maxRootChanges bounds how often CheckNullifier refetches when blocks keep moving the root
// while a proof is in flight.
const maxRootChanges = 8

// Wallet is the single owner of a State.
type Wallet struct {
	mu      sync.Mutex
	log     zerolog.Logger
	metrics *metrics.Collector
	backend Backend
	storage Storage
	state   *State
}

// Bootstrap builds the initial state from snapshot 0 and stores it. It fails if a wallet
// already exists in storage.
func Bootstrap(ctx context.Context, log zerolog.Logger, m *metrics.Collector, backend Backend, storage Storage, pre zerocash.Preprocessor) (*Wallet, error) {
	log = logging.Component(log, "wallet")

	// Step 1: sparse snapshot of the genesis state
	snap, err := backend.Snapshot(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot 0: %w", err)
	}
	if snap.Nullifiers.Hash() != snap.State.NullifiersRoot {
		return nil, fmt.Errorf("%w: snapshot nullifier root %s, state has %s",
			api.ErrProtocolViolation, snap.Nullifiers.Hash(), snap.State.NullifiersRoot)
	}
	if snap.Records.Root() != snap.State.RecordRoot || snap.Records.NumLeaves() != snap.State.NumRecords {
		return nil, fmt.Errorf("%w: snapshot record tree %s/%d, state has %s/%d", api.ErrProtocolViolation,
			snap.Records.Root(), snap.Records.NumLeaves(), snap.State.RecordRoot, snap.State.NumRecords)
	}

	// Step 2: one proving key per verifier key
	keys, err := preprocess(ctx, pre, &snap.State.VerifierKeys)
	if err != nil {
		return nil, err
	}

	state := &State{
		ProvingKeys: keys,
		Validator:   snap.State,
		Nullifiers:  snap.Nullifiers,
		Records:     snap.Records,
		Pending:     map[string]PendingSubmission{},
		Registries:  emptyRegistries(),
	}

	// Step 3: the frontier always holds the last leaf; mark it so it is dropped once it is
	// no longer last
	if n := state.Records.NumLeaves(); n > 0 {
		leaf := n - 1
		if err := state.Records.Retain(leaf); err != nil {
			return nil, fmt.Errorf("%w: snapshot frontier: %v", api.ErrProtocolViolation, err)
		}
		state.LeafToForget = &leaf
	}

	// Step 4: persist before reporting success
	if err := storage.Create(state); err != nil {
		return nil, err
	}
	log.Info().Uint64("records", state.Validator.NumRecords).
		Int("proving_keys", 1+len(keys.Freeze)+len(keys.Transfer)).Msg("wallet bootstrapped")
	return &Wallet{log: log, metrics: m, backend: backend, storage: storage, state: state}, nil
}

// preprocess derives a proving key for every verifier key. A key of another arity is fatal.
func preprocess(ctx context.Context, pre zerocash.Preprocessor, vks *zerocash.VerifierKeySet) (zerocash.ProverKeySet, error) {
	derive := func(vk zerocash.VerifierKey) (zerocash.ProvingKey, error) {
		pk, err := pre.Preprocess(ctx, vk)
		if err != nil {
			return zerocash.ProvingKey{}, fmt.Errorf("preprocess %s %s: %w", vk.Kind, vk.Arity, err)
		}
		if pk.Arity != vk.Arity || pk.Kind != vk.Kind {
			return zerocash.ProvingKey{}, fmt.Errorf("%w: %s verifier key has arity %s, proving key %s %s",
				api.ErrArityMismatch, vk.Kind, vk.Arity, pk.Kind, pk.Arity)
		}
		return pk, nil
	}

	var keys zerocash.ProverKeySet
	var err error
	if keys.Mint, err = derive(vks.Mint); err != nil {
		return keys, err
	}
	for _, vk := range vks.Freeze {
		pk, err := derive(vk)
		if err != nil {
			return keys, err
		}
		keys.Freeze = append(keys.Freeze, pk)
	}
	for _, vk := range vks.Transfer {
		pk, err := derive(vk)
		if err != nil {
			return keys, err
		}
		keys.Transfer = append(keys.Transfer, pk)
	}
	return keys, nil
}

// Open loads a wallet created by Bootstrap.
func Open(log zerolog.Logger, m *metrics.Collector, backend Backend, storage Storage) (*Wallet, error) {
	state, err := storage.Load()
	if err != nil {
		return nil, err
	}
	return &Wallet{
		log:     logging.Component(log, "wallet"),
		metrics: m,
		backend: backend,
		storage: storage,
		state:   state,
	}, nil
}

// Now returns the logical clock: the number of events applied since bootstrap.
func (w *Wallet) Now() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Now
}

// Cursor returns the index of the next event the wallet expects.
func (w *Wallet) Cursor() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Cursor
}

// Validator returns a copy of the validator state.
func (w *Wallet) Validator() zerocash.ValidatorState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Validator
}

// LeafToForget returns the record leaf scheduled to be forgotten, if any.
func (w *Wallet) LeafToForget() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.LeafToForget == nil {
		return 0, false
	}
	return *w.state.LeafToForget, true
}

// ProvingKey returns the proving key for a transaction kind and arity.
func (w *Wallet) ProvingKey(kind zerocash.TransactionKind, arity zerocash.Arity) (zerocash.ProvingKey, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.ProvingKeys.Lookup(kind, arity)
}

// Pending lists submissions not yet seen on the event stream, oldest first.
func (w *Wallet) Pending() []PendingSubmission {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := make([]PendingSubmission, 0, len(w.state.Pending))
	for _, p := range w.state.Pending {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Submitted != pending[j].Submitted {
			return pending[i].Submitted < pending[j].Submitted
		}
		return pending[i].Hash.String() < pending[j].Hash.String()
	})
	return pending
}

// ApplyEvent applies the event at the cursor. The state is persisted before it becomes
// visible; nothing changes if the event fails to apply or to persist.
func (w *Wallet) ApplyEvent(ev node.IndexedEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Index != w.state.Cursor {
		return fmt.Errorf("%w: event %d delivered, expected %d", api.ErrProtocolViolation, ev.Index, w.state.Cursor)
	}
	next := w.state.clone()
	var err error
	switch ev.Event.Kind {
	case node.EventCommit:
		err = w.applyCommit(next, ev.Event.Commit)
	case node.EventReject:
		err = w.applyReject(next, ev.Event.Reject)
	case node.EventMemos:
		err = w.applyMemos(ev.Event.Memos)
	default:
		err = fmt.Errorf("%w: unknown event kind %q", api.ErrProtocolViolation, ev.Event.Kind)
	}
	if err != nil {
		return fmt.Errorf("event %d: %w", ev.Index, err)
	}
	next.Now++
	next.Cursor++

	if err := w.storage.Commit(next); err != nil {
		return err
	}
	w.state = next
	w.metrics.EventApplied(string(ev.Event.Kind))
	w.metrics.BlockHeight(next.Validator.BlockHeight)
	return nil
}

func (w *Wallet) applyCommit(s *State, c *node.CommitEvent) error {
	if c == nil {
		return fmt.Errorf("%w: commit event without payload", api.ErrProtocolViolation)
	}
	if c.BlockID.Index() != s.Validator.BlockHeight {
		return fmt.Errorf("%w: block %d committed at height %d", api.ErrProtocolViolation, c.BlockID.Index(), s.Validator.BlockHeight)
	}

	before := s.Records.NumLeaves()
	root := s.Nullifiers.Hash()
	if _, err := s.Validator.ApplyBlock(&c.Block, s.Nullifiers, s.Records); err != nil {
		return fmt.Errorf("apply block %d: %w", c.BlockID.Index(), err)
	}
	// Paths remembered under the old root are stale once the block moves it.
	if s.Nullifiers.Hash() != root {
		s.Nullifiers = s.Nullifiers.Sparse()
	}
	if got := s.Validator.Commit(); got != c.StateCommitment {
		return fmt.Errorf("%w: block %d yields state %s, authority reports %s",
			api.ErrProtocolViolation, c.BlockID.Index(), got, c.StateCommitment)
	}

	// Only the newest leaf stays known; the previous marker and every output of this block
	// before the last one are pruned.
	if after := s.Records.NumLeaves(); after > before {
		last := after - 1
		if err := s.Records.Retain(last); err != nil {
			return err
		}
		if s.LeafToForget != nil {
			s.Records.Forget(*s.LeafToForget)
		} else {
			s.Records.Prune()
		}
		s.LeafToForget = &last
	}

	for i := range c.Block.Transactions {
		h := c.Block.Transactions[i].Txn.Hash()
		if _, ok := s.Pending[h.String()]; ok {
			delete(s.Pending, h.String())
			w.log.Info().Str("txn", h.String()).Uint64("block", c.BlockID.Index()).Msg("submission committed")
		}
	}
	return nil
}

func (w *Wallet) applyReject(s *State, r *node.RejectEvent) error {
	if r == nil {
		return fmt.Errorf("%w: reject event without payload", api.ErrProtocolViolation)
	}
	for i := range r.Block.Transactions {
		h := r.Block.Transactions[i].Txn.Hash()
		if _, ok := s.Pending[h.String()]; ok {
			delete(s.Pending, h.String())
			w.log.Warn().Str("txn", h.String()).Str("reason", r.Error).Msg("submission rejected")
		}
	}
	return nil
}

func (w *Wallet) applyMemos(m *node.MemosEvent) error {
	if m == nil {
		return fmt.Errorf("%w: memos event without payload", api.ErrProtocolViolation)
	}
	w.log.Debug().Str("txid", m.TxID.String()).Int("outputs", len(m.Outputs)).Msg("memos posted")
	return nil
}

// Sync applies events from the cursor until ctx is done or the stream fails. Reconnecting is
// up to the caller; a new Sync resumes from the persisted cursor.
func (w *Wallet) Sync(ctx context.Context) error {
	return w.sync(ctx, func(uint64) bool { return false })
}

// SyncTo applies events until the cursor reaches target.
func (w *Wallet) SyncTo(ctx context.Context, target uint64) error {
	return w.sync(ctx, func(cursor uint64) bool { return cursor >= target })
}

func (w *Wallet) sync(ctx context.Context, done func(cursor uint64) bool) error {
	cursor := w.Cursor()
	if done(cursor) {
		return nil
	}
	stream, err := w.backend.Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer stream.Close()
	w.log.Debug().Uint64("cursor", cursor).Msg("subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return ctx.Err()
			}
			if err := w.ApplyEvent(ev); err != nil {
				return err
			}
			if done(ev.Index + 1) {
				return nil
			}
		}
	}
}

// CheckNullifier reports whether nf is spent under the wallet's current nullifier root.
// Known paths are answered locally; otherwise a proof is fetched for the current root,
// verified and remembered. A root that moved during the fetch invalidates the answer.
func (w *Wallet) CheckNullifier(ctx context.Context, nf api.Nullifier) (bool, error) {
	for attempt := 0; attempt < maxRootChanges; attempt++ {
		w.mu.Lock()
		root := w.state.Nullifiers.Hash()
		spent, _, known := w.state.Nullifiers.Contains(nf)
		w.mu.Unlock()
		if known {
			w.metrics.NullifierCheck(metrics.SourceLocal)
			return spent, nil
		}

		start := time.Now()
		p, err := w.backend.GetNullifierProof(ctx, root, nf)
		w.metrics.ProofFetch(time.Since(start))
		if err != nil {
			return false, fmt.Errorf("fetch proof for %s: %w", nf, err)
		}
		spent, err = p.Proof.Check(nf, root)
		if err != nil {
			return false, fmt.Errorf("nullifier %s: %w", nf, err)
		}
		if spent != p.Spent {
			return false, fmt.Errorf("%w: proof for %s shows spent=%t, answer says %t", api.ErrInvalidProof, nf, spent, p.Spent)
		}

		remembered, err := w.remember(root, nf, p)
		if err != nil {
			return false, err
		}
		if !remembered {
			w.log.Debug().Str("nullifier", nf.String()).Msg("nullifier root moved during proof fetch")
			continue
		}
		w.metrics.NullifierCheck(metrics.SourceRemote)
		return spent, nil
	}
	return false, fmt.Errorf("%w: changed %d times while checking %s", api.ErrRootUnstable, maxRootChanges, nf)
}

// remember merges a verified proof if the set still has the root it was fetched for.
func (w *Wallet) remember(root api.Hash, nf api.Nullifier, p node.NullifierProof) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Nullifiers.Hash() != root {
		return false, nil
	}
	next := w.state.clone()
	if err := next.Nullifiers.Remember(nf, p.Proof); err != nil {
		return false, fmt.Errorf("remember %s: %w", nf, err)
	}
	if err := w.storage.Commit(next); err != nil {
		return false, err
	}
	w.state = next
	return true, nil
}

// Submit sends tx to the validator. The transaction stays pending until a commit or reject
// event names it.
func (w *Wallet) Submit(ctx context.Context, tx zerocash.ElaboratedTransaction) error {
	h := tx.Txn.Hash()
	if err := w.setPending(h, true); err != nil {
		return err
	}
	if err := w.backend.Submit(ctx, tx); err != nil {
		w.metrics.Submission("failed")
		if perr := w.setPending(h, false); perr != nil {
			w.log.Error().Err(perr).Str("txn", h.String()).Msg("failed to clear pending submission")
		}
		return fmt.Errorf("submit %s: %w", h, err)
	}
	w.metrics.Submission("accepted")
	return nil
}

func (w *Wallet) setPending(h api.Hash, pending bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next := w.state.clone()
	if pending {
		next.Pending[h.String()] = PendingSubmission{Hash: h, Submitted: next.Now}
	} else {
		delete(next.Pending, h.String())
	}
	if err := w.storage.Commit(next); err != nil {
		return err
	}
	w.state = next
	return nil
}

// PostMemos signs memos for a committed transaction with its memo key and posts them.
func (w *Wallet) PostMemos(ctx context.Context, txid api.TransactionID, memos []zerocash.Memo, key *eddsa.PrivateKey) error {
	if key == nil {
		return errors.New("no memo key")
	}
	sig, err := zerocash.SignMemos(key, txid, memos)
	if err != nil {
		return err
	}
	return w.backend.PostMemos(ctx, txid, node.TxMemos{Memos: memos, Signature: sig})
}
