// address.go - Canonical addresses of ledger objects.
//
// A BlockID is the position of a committed block, a TransactionID is a block plus the position
// of the transaction inside it. Both have a tagged text form that round-trips exactly and is
// shared by query routes, submissions and events.

package api

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// BlockID identifies a committed block by its index. IDs are assigned at commit time and never
// reused.
type BlockID uint64

func (b BlockID) Index() uint64 { return uint64(b) }

func (b BlockID) String() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b))
	return EncodeTagged(TagBlockID, buf[:])
}

func (b BlockID) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BlockID) UnmarshalText(text []byte) error {
	parsed, err := ParseBlockID(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ParseBlockID parses BK~... text.
func ParseBlockID(s string) (BlockID, error) {
	data, err := DecodeTaggedAs(TagBlockID, 8, s)
	if err != nil {
		return 0, err
	}
	return BlockID(binary.BigEndian.Uint64(data)), nil
}

// ParseBlockIndex parses a plain decimal block index.
func ParseBlockIndex(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: block index %q: %v", ErrMalformedAddress, s, err)
	}
	return v, nil
}

// TransactionID identifies a committed transaction.
type TransactionID struct {
	Block BlockID `json:"block" cbor:"1,keyasint"`
	Index uint64  `json:"index" cbor:"2,keyasint"`
}

func (t TransactionID) String() string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(t.Block))
	binary.BigEndian.PutUint64(buf[8:], t.Index)
	return EncodeTagged(TagTransaction, buf[:])
}

// ParseTransactionID parses TX~... text.
func ParseTransactionID(s string) (TransactionID, error) {
	data, err := DecodeTaggedAs(TagTransaction, 16, s)
	if err != nil {
		return TransactionID{}, err
	}
	return TransactionID{
		Block: BlockID(binary.BigEndian.Uint64(data[:8])),
		Index: binary.BigEndian.Uint64(data[8:]),
	}, nil
}

// Nullifier marks a spent record. Nullifiers are field elements; values are reduced before they
// are hashed.
type Nullifier [HashSize]byte

func (n Nullifier) String() string {
	return EncodeTagged(TagNullifier, n[:])
}

func (n Nullifier) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Nullifier) UnmarshalText(text []byte) error {
	parsed, err := ParseNullifier(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// ParseNullifier parses NUL~... text.
func ParseNullifier(s string) (Nullifier, error) {
	var n Nullifier
	data, err := DecodeTaggedAs(TagNullifier, HashSize, s)
	if err != nil {
		return n, err
	}
	copy(n[:], data)
	return n, nil
}

// Key is the digest whose bits address n in the nullifier set.
func (n Nullifier) Key() Hash {
	return HashElements(Uint64Element(0), ToElement(n[:]))
}
