// event.go - Ledger events and their wire envelope.
//
// Events travel as an envelope {index, type, payload} whose payload is decoded according to
// type, the same way a network message is dispatched on its type field.

package node

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"zerosync/internal/api"
	"zerosync/internal/zerocash"
)

// EventKind names a ledger event variant.
type EventKind string

const (
	EventCommit EventKind = "commit"
	EventReject EventKind = "reject"
	EventMemos  EventKind = "memos"
)

// CommitEvent reports a committed block and the state commitment after it.
type CommitEvent struct {
	Block           zerocash.Block `json:"block" cbor:"1,keyasint"`
	BlockID         api.BlockID    `json:"block_id" cbor:"2,keyasint"`
	StateCommitment api.Hash       `json:"state_commitment" cbor:"3,keyasint"`
}

// RejectEvent reports a block that failed validation.
type RejectEvent struct {
	Block zerocash.Block `json:"block" cbor:"1,keyasint"`
	Error string         `json:"error" cbor:"2,keyasint"`
}

// MemoOutput is one output of a transaction with its memo.
type MemoOutput struct {
	Memo       zerocash.Memo `json:"memo" cbor:"1,keyasint"`
	Commitment api.Hash      `json:"commitment" cbor:"2,keyasint"`
	UID        uint64        `json:"uid" cbor:"3,keyasint"`
}

// MemosEvent reports memos attached to a committed transaction.
type MemosEvent struct {
	TxID    api.TransactionID `json:"txid" cbor:"1,keyasint"`
	Outputs []MemoOutput      `json:"outputs" cbor:"2,keyasint"`
}

// LedgerEvent holds exactly one of its variants, selected by Kind.
type LedgerEvent struct {
	Kind   EventKind
	Commit *CommitEvent
	Reject *RejectEvent
	Memos  *MemosEvent
}

// IndexedEvent is an event with its position in the feed.
type IndexedEvent struct {
	Index uint64
	Event LedgerEvent
}

func (e LedgerEvent) payload() (interface{}, error) {
	switch e.Kind {
	case EventCommit:
		if e.Commit != nil {
			return e.Commit, nil
		}
	case EventReject:
		if e.Reject != nil {
			return e.Reject, nil
		}
	case EventMemos:
		if e.Memos != nil {
			return e.Memos, nil
		}
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil, fmt.Errorf("%s event has no payload", e.Kind)
}

func (e *LedgerEvent) target() (interface{}, error) {
	switch e.Kind {
	case EventCommit:
		e.Commit = new(CommitEvent)
		return e.Commit, nil
	case EventReject:
		e.Reject = new(RejectEvent)
		return e.Reject, nil
	case EventMemos:
		e.Memos = new(MemosEvent)
		return e.Memos, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// Envelope is the JSON wire form of an IndexedEvent.
type Envelope struct {
	Index   uint64          `json:"index"`
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type cborEnvelope struct {
	Index   uint64          `cbor:"1,keyasint"`
	Type    EventKind       `cbor:"2,keyasint"`
	Payload cbor.RawMessage `cbor:"3,keyasint"`
}

// EncodeJSON returns the text frame for ev.
func EncodeJSON(ev IndexedEvent) ([]byte, error) {
	p, err := ev.Event.payload()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Event.Kind, err)
	}
	return json.Marshal(Envelope{Index: ev.Index, Type: ev.Event.Kind, Payload: raw})
}

// DecodeJSON parses a text frame.
func DecodeJSON(b []byte) (IndexedEvent, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return IndexedEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	ev := IndexedEvent{Index: env.Index, Event: LedgerEvent{Kind: env.Type}}
	target, err := ev.Event.target()
	if err != nil {
		return IndexedEvent{}, err
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return IndexedEvent{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}

// EncodeCBOR returns the binary frame for ev.
func EncodeCBOR(ev IndexedEvent) ([]byte, error) {
	p, err := ev.Event.payload()
	if err != nil {
		return nil, err
	}
	raw, err := cbor.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Event.Kind, err)
	}
	return cbor.Marshal(cborEnvelope{Index: ev.Index, Type: ev.Event.Kind, Payload: raw})
}

// DecodeCBOR parses a binary frame.
func DecodeCBOR(b []byte) (IndexedEvent, error) {
	var env cborEnvelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return IndexedEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	ev := IndexedEvent{Index: env.Index, Event: LedgerEvent{Kind: env.Type}}
	target, err := ev.Event.target()
	if err != nil {
		return IndexedEvent{}, err
	}
	if err := cbor.Unmarshal(env.Payload, target); err != nil {
		return IndexedEvent{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}
