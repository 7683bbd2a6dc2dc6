// tree.go - Authenticated nullifier set.
//
// The set is a compressed sparse Merkle tree keyed by the bits of Nullifier.Key(), most
// significant bit first. A subtree holding a single element is collapsed into a leaf at the
// highest position on its path, so a branch always has at least two elements below it. Subtrees
// the local view does not know are kept as their hash only ("forgotten"), which lets a wallet
// hold the root of the global set and lazily remember the paths it needs.
//
// Nodes are immutable and shared between versions; every update copies the path it touches, so
// Clone is O(1) and old snapshots stay valid.

package setmerkle

import (
	"errors"
	"fmt"

	"zerosync/internal/api"
)

// MaxDepth is the number of key bits.
const MaxDepth = api.HashSize * 8

const (
	leafTag   = 1
	branchTag = 2
)

// ErrIncomplete is returned when an update needs a path the local view has forgotten.
var ErrIncomplete = errors.New("nullifier set path is not known locally")

type nodeKind uint8

const (
	kindEmpty nodeKind = iota
	kindLeaf
	kindBranch
	kindForgotten
)

type node struct {
	kind        nodeKind
	hash        api.Hash
	elem        api.Nullifier
	left, right *node
}

var emptyNode = &node{kind: kindEmpty}

func newLeaf(elem api.Nullifier) *node {
	return &node{kind: kindLeaf, elem: elem, hash: leafHash(elem)}
}

func newBranch(left, right *node) *node {
	return &node{kind: kindBranch, left: left, right: right, hash: branchHash(left.hash, right.hash)}
}

// newForgotten returns the node standing for a subtree known only by hash. The zero hash is the
// empty subtree, which is always fully known.
func newForgotten(h api.Hash) *node {
	if h.IsZero() {
		return emptyNode
	}
	return &node{kind: kindForgotten, hash: h}
}

func leafHash(elem api.Nullifier) api.Hash {
	return api.HashElements(api.Uint64Element(leafTag), api.ToElement(elem[:]))
}

func branchHash(l, r api.Hash) api.Hash {
	return api.HashWithTag(branchTag, l, r)
}

// bit returns the i-th key bit, counting from the most significant.
func bit(key api.Hash, i int) uint8 {
	return (key[i/8] >> (7 - uint(i%8))) & 1
}

// Tree is a local view of the nullifier set.
type Tree struct {
	root *node
}

// New returns an empty, fully known set.
func New() *Tree {
	return &Tree{root: emptyNode}
}

// FromRoot returns a view that knows nothing but the root hash.
func FromRoot(h api.Hash) *Tree {
	return &Tree{root: newForgotten(h)}
}

// top treats the zero Tree as the empty set.
func (t *Tree) top() *node {
	if t.root == nil {
		return emptyNode
	}
	return t.root
}

// Hash returns the root commitment of the set.
func (t *Tree) Hash() api.Hash {
	return t.top().hash
}

// Clone returns an independent view sharing all nodes with t.
func (t *Tree) Clone() *Tree {
	return &Tree{root: t.top()}
}

// Sparse returns a view of the same set that only knows its root.
func (t *Tree) Sparse() *Tree {
	return FromRoot(t.Hash())
}

// Contains answers membership from local knowledge. known is false when the path runs into a
// forgotten subtree, in which case a proof has to be fetched and remembered first.
func (t *Tree) Contains(elem api.Nullifier) (spent bool, proof *Proof, known bool) {
	key := elem.Key()
	var path []api.Hash
	n := t.top()
	for depth := 0; ; depth++ {
		switch n.kind {
		case kindEmpty:
			return false, &Proof{Terminal: TerminalEmpty, Path: path}, true
		case kindLeaf:
			p := &Proof{Terminal: TerminalLeaf, Leaf: n.elem, Path: path}
			return n.elem == elem, p, true
		case kindForgotten:
			return false, nil, false
		case kindBranch:
			if bit(key, depth) == 0 {
				path = append(path, n.right.hash)
				n = n.left
			} else {
				path = append(path, n.left.hash)
				n = n.right
			}
		}
	}
}

// Remember merges a proof for elem into the local view. The proof must verify against the
// current root, so remembering never changes the root; remembering the same proof twice is a
// no-op.
func (t *Tree) Remember(elem api.Nullifier, proof Proof) error {
	if _, err := proof.Check(elem, t.Hash()); err != nil {
		return err
	}
	key := elem.Key()
	// hashes[i] is the hash of the node at depth i on elem's path.
	depth := len(proof.Path)
	hashes := make([]api.Hash, depth+1)
	hashes[depth] = proof.terminalHash()
	for i := depth - 1; i >= 0; i-- {
		if bit(key, i) == 0 {
			hashes[i] = branchHash(hashes[i+1], proof.Path[i])
		} else {
			hashes[i] = branchHash(proof.Path[i], hashes[i+1])
		}
	}
	t.root = remember(t.top(), key, 0, &proof, hashes)
	return nil
}

func remember(n *node, key api.Hash, depth int, proof *Proof, hashes []api.Hash) *node {
	switch n.kind {
	case kindEmpty, kindLeaf:
		return n
	case kindBranch:
		if depth >= len(proof.Path) {
			return n
		}
		if bit(key, depth) == 0 {
			return newBranch(remember(n.left, key, depth+1, proof, hashes), n.right)
		}
		return newBranch(n.left, remember(n.right, key, depth+1, proof, hashes))
	}

	// Forgotten: expand it from the proof.
	if depth == len(proof.Path) {
		if proof.Terminal == TerminalLeaf {
			return newLeaf(proof.Leaf)
		}
		return emptyNode
	}
	onPath := remember(newForgotten(hashes[depth+1]), key, depth+1, proof, hashes)
	sibling := newForgotten(proof.Path[depth])
	if bit(key, depth) == 0 {
		return newBranch(onPath, sibling)
	}
	return newBranch(sibling, onPath)
}

// Insert adds elem to the set. The path to elem must be known locally.
func (t *Tree) Insert(elem api.Nullifier) error {
	root, err := insert(t.top(), elem, elem.Key(), 0)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func insert(n *node, elem api.Nullifier, key api.Hash, depth int) (*node, error) {
	switch n.kind {
	case kindEmpty:
		return newLeaf(elem), nil
	case kindForgotten:
		return nil, fmt.Errorf("%w: insert %s at depth %d", ErrIncomplete, elem, depth)
	case kindLeaf:
		if n.elem == elem {
			return nil, fmt.Errorf("%w: %s", api.ErrAlreadySpent, elem)
		}
		return split(n, newLeaf(elem), n.elem.Key(), key, depth)
	}
	if depth >= MaxDepth {
		return nil, fmt.Errorf("nullifier set exceeds depth %d", MaxDepth)
	}
	if bit(key, depth) == 0 {
		left, err := insert(n.left, elem, key, depth+1)
		if err != nil {
			return nil, err
		}
		return newBranch(left, n.right), nil
	}
	right, err := insert(n.right, elem, key, depth+1)
	if err != nil {
		return nil, err
	}
	return newBranch(n.left, right), nil
}

// split builds the smallest subtree at depth holding two leaves whose keys share a prefix.
func split(a, b *node, keyA, keyB api.Hash, depth int) (*node, error) {
	if depth >= MaxDepth {
		return nil, fmt.Errorf("nullifier key collision at depth %d", depth)
	}
	ba, bb := bit(keyA, depth), bit(keyB, depth)
	if ba == bb {
		child, err := split(a, b, keyA, keyB, depth+1)
		if err != nil {
			return nil, err
		}
		if ba == 0 {
			return newBranch(child, emptyNode), nil
		}
		return newBranch(emptyNode, child), nil
	}
	if ba == 0 {
		return newBranch(a, b), nil
	}
	return newBranch(b, a), nil
}

// Spend pairs a nullifier with its non-membership proof against the set before the block that
// spends it.
type Spend struct {
	Nullifier api.Nullifier `json:"nullifier" cbor:"1,keyasint"`
	Proof     Proof         `json:"proof" cbor:"2,keyasint"`
}

// MultiInsert remembers every proof against the current root, then inserts the nullifiers in
// order. A proof that shows its nullifier as already present fails the whole batch. The set is
// left untouched on error.
func (t *Tree) MultiInsert(spends []Spend) error {
	work := t.Clone()
	for _, s := range spends {
		spent, err := s.Proof.Check(s.Nullifier, work.Hash())
		if err != nil {
			return fmt.Errorf("nullifier %s: %w", s.Nullifier, err)
		}
		if spent {
			return fmt.Errorf("%w: %s", api.ErrAlreadySpent, s.Nullifier)
		}
		if err := work.Remember(s.Nullifier, s.Proof); err != nil {
			return err
		}
	}
	for _, s := range spends {
		if err := work.Insert(s.Nullifier); err != nil {
			return err
		}
	}
	t.root = work.root
	return nil
}
