// hash.go - MiMC hashing conventions over the BN254 scalar field.
//
// All ledger digests (set nodes, record tree nodes, state commitments, block and transaction
// hashes) are MiMC outputs, so they stay valid field elements and can be fed back into the
// hash or into a circuit without further reduction.

package api

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// HashSize is the byte length of a digest.
const HashSize = fr.Bytes

// Hash is a 32-byte MiMC digest.
type Hash [HashSize]byte

// String returns the tagged text form (HASH~...).
func (h Hash) String() string {
	return EncodeTagged(TagHash, h[:])
}

// Hex returns the plain hex encoding, used in logs.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) Equal(o Hash) bool {
	return bytes.Equal(h[:], o[:])
}

// Element interprets h as a field element, reducing it if needed.
func (h Hash) Element() fr.Element {
	return ToElement(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses the tagged text form of a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	data, err := DecodeTaggedAs(TagHash, HashSize, s)
	if err != nil {
		return h, err
	}
	copy(h[:], data)
	return h, nil
}

// ToElement reduces an arbitrary big-endian byte string into a field element.
func ToElement(b []byte) fr.Element {
	var e fr.Element
	e.SetBytes(b)
	return e
}

// Uint64Element lifts an integer into the field.
func Uint64Element(v uint64) fr.Element {
	return fr.NewElement(v)
}

// HashElements hashes a sequence of field elements with MiMC.
func HashElements(elems ...fr.Element) Hash {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		// Write only fails on non-reduced blocks, and Bytes is always reduced.
		_, _ = h.Write(b[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashWithTag hashes a domain tag followed by the given digests.
func HashWithTag(tag uint64, parts ...Hash) Hash {
	elems := make([]fr.Element, 0, len(parts)+1)
	elems = append(elems, fr.NewElement(tag))
	for _, p := range parts {
		elems = append(elems, p.Element())
	}
	return HashElements(elems...)
}

// HashBytes hashes arbitrary data. The input is split into 31-byte chunks so every chunk is a
// canonical field element, and the length is absorbed first to keep chunking unambiguous.
func HashBytes(data []byte) Hash {
	const chunk = HashSize - 1
	elems := make([]fr.Element, 0, len(data)/chunk+2)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	elems = append(elems, ToElement(lenBuf[:]))
	for start := 0; start < len(data); start += chunk {
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		elems = append(elems, ToElement(data[start:end]))
	}
	return HashElements(elems...)
}
