// crypto.go - Cryptographic primitives for records, nullifiers and memo signatures.
//
// Implements the MiMC PRF used for nullifiers, record commitments and the EdDSA (BN254 twisted
// Edwards) signatures that authorize memos posted for a committed transaction.
// All hashing happens over the BN254 scalar field so native values match the circuit.

package zerocash

import (
	"crypto/rand"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"

	"zerosync/internal/api"
)

// prf implements the MiMC pseudo-random function used for nullifiers.
func prf(sk, rho fr.Element) fr.Element {
	h := api.HashElements(sk, rho)
	return h.Element()
}

// Commitment commits to a record: cm = H(amount || owner || rho || r).
func Commitment(amount uint64, owner, rho, r fr.Element) api.Hash {
	return api.HashElements(fr.NewElement(amount), owner, rho, r)
}

// NullifierOf derives the nullifier of a record from the owner secret and the record nonce.
func NullifierOf(sk, rho fr.Element) api.Nullifier {
	var n api.Nullifier
	e := prf(sk, rho)
	b := e.Bytes()
	copy(n[:], b[:])
	return n
}

// RandomElement samples a uniformly random field element.
func RandomElement() (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return e, fmt.Errorf("sample field element: %w", err)
	}
	return e, nil
}

// Memo is an opaque encrypted note attached to a transaction output.
type Memo []byte

// MemoDigest is the message signed when memos are posted for txid.
func MemoDigest(txid api.TransactionID, memos []Memo) api.Hash {
	parts := make([]api.Hash, 0, len(memos)+1)
	parts = append(parts, api.HashBytes([]byte(txid.String())))
	for _, m := range memos {
		parts = append(parts, api.HashBytes(m))
	}
	return api.HashWithTag(uint64(len(memos)), parts...)
}

// GenerateMemoKey creates a fresh memo signing key.
func GenerateMemoKey() (*eddsa.PrivateKey, error) {
	return eddsa.GenerateKey(rand.Reader)
}

// MemoPublicKey returns the compressed public key carried in a transaction.
func MemoPublicKey(key *eddsa.PrivateKey) []byte {
	return key.PublicKey.Bytes()
}

// SignMemos signs the memo digest of txid.
func SignMemos(key *eddsa.PrivateKey, txid api.TransactionID, memos []Memo) ([]byte, error) {
	digest := MemoDigest(txid, memos)
	sig, err := key.Sign(digest[:], mimc.NewMiMC())
	if err != nil {
		return nil, fmt.Errorf("sign memos: %w", err)
	}
	return sig, nil
}

// VerifyMemos checks a memo signature against the public key of the transaction.
func VerifyMemos(pub []byte, txid api.TransactionID, memos []Memo, sig []byte) error {
	var pk eddsa.PublicKey
	if _, err := pk.SetBytes(pub); err != nil {
		return fmt.Errorf("%w: memo key: %v", api.ErrInvalidSignature, err)
	}
	digest := MemoDigest(txid, memos)
	ok, err := pk.Verify(sig, digest[:], mimc.NewMiMC())
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidSignature, err)
	}
	if !ok {
		return fmt.Errorf("%w: memos of %s", api.ErrInvalidSignature, txid)
	}
	return nil
}
