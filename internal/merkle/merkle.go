// Package merkle provides the append-only record commitment tree.
//
// The tree has a fixed height and grows left to right. Nodes live in a sparse map keyed by
// (level, index); missing right-hand subtrees are zero hashes. A tree can be pruned: Forget drops
// the nodes that are only needed to prove a leaf, while the path of the last leaf (the frontier)
// is always kept so that appending stays possible.
package merkle

import (
	"errors"
	"fmt"

	"zerosync/internal/api"
)

const (
	// Height is the number of levels above the leaves.
	Height = 24

	// MaxLeaves is the capacity of the tree.
	MaxLeaves = uint64(1) << Height

	nodeTag = 3
)

var (
	ErrFull   = errors.New("record tree is full")
	ErrPruned = errors.New("record tree leaf has been forgotten")
)

var zeroHashes = func() [Height + 1]api.Hash {
	var z [Height + 1]api.Hash
	for i := 1; i <= Height; i++ {
		z[i] = hashPair(z[i-1], z[i-1])
	}
	return z
}()

func hashPair(l, r api.Hash) api.Hash {
	return api.HashWithTag(nodeTag, l, r)
}

type position struct {
	Level uint8
	Index uint64
}

// Tree is a record commitment tree.
type Tree struct {
	size     uint64
	root     api.Hash
	nodes    map[position]api.Hash
	retained map[uint64]struct{}
	// hashOnly holds leaves kept by the last Prune only as a sibling on a kept path.
	hashOnly map[uint64]struct{}
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		root:     zeroHashes[Height],
		nodes:    make(map[position]api.Hash),
		retained: make(map[uint64]struct{}),
		hashOnly: make(map[uint64]struct{}),
	}
}

// Root returns the current root.
func (t *Tree) Root() api.Hash {
	return t.root
}

// NumLeaves returns the number of appended leaves.
func (t *Tree) NumLeaves() uint64 {
	return t.size
}

// Push appends a commitment and returns its uid (leaf index). A new leaf is not retained: its
// witness lasts until the next Prune or Forget unless Retain is called.
func (t *Tree) Push(leaf api.Hash) (uint64, error) {
	if t.size >= MaxLeaves {
		return 0, fmt.Errorf("%w: %d leaves", ErrFull, t.size)
	}
	uid := t.size
	t.updatePath(uid, leaf)
	t.size++
	return uid, nil
}

// Capacity returns how many more leaves fit.
func (t *Tree) Capacity() uint64 {
	return MaxLeaves - t.size
}

func (t *Tree) updatePath(index uint64, leaf api.Hash) {
	current := leaf
	for level := uint8(0); level < Height; level++ {
		t.nodes[position{level, index}] = current
		if index%2 == 0 {
			sibling, ok := t.nodes[position{level, index + 1}]
			if !ok {
				sibling = zeroHashes[level]
			}
			current = hashPair(current, sibling)
		} else {
			// Left siblings are always on the frontier.
			current = hashPair(t.nodes[position{level, index - 1}], current)
		}
		index /= 2
	}
	t.root = current
}

// Retain marks a leaf so that its witness survives pruning. The leaf must still be known.
func (t *Tree) Retain(uid uint64) error {
	if uid >= t.size {
		return fmt.Errorf("leaf %d out of range (size=%d)", uid, t.size)
	}
	if _, ok := t.nodes[position{0, uid}]; !ok {
		return fmt.Errorf("%w: %d", ErrPruned, uid)
	}
	t.retained[uid] = struct{}{}
	delete(t.hashOnly, uid)
	return nil
}

// Forget releases a leaf and prunes. Forgetting the last leaf only unmarks it, since the
// frontier keeps its path anyway.
func (t *Tree) Forget(uid uint64) {
	delete(t.retained, uid)
	t.Prune()
}

// Prune drops every node that neither a retained leaf nor the frontier needs. A leaf that
// survives only as the sibling of a kept leaf no longer has a witness.
func (t *Tree) Prune() {
	needed := make(map[position]struct{})
	kept := make(map[uint64]struct{}, len(t.retained)+1)
	keep := func(uid uint64) {
		kept[uid] = struct{}{}
		index := uid
		for level := uint8(0); level < Height; level++ {
			needed[position{level, index}] = struct{}{}
			needed[position{level, index ^ 1}] = struct{}{}
			index /= 2
		}
	}
	if t.size > 0 {
		keep(t.size - 1)
	}
	for uid := range t.retained {
		keep(uid)
	}
	t.hashOnly = make(map[uint64]struct{})
	for pos := range t.nodes {
		if _, ok := needed[pos]; !ok {
			delete(t.nodes, pos)
			continue
		}
		if _, ok := kept[pos.Index]; pos.Level == 0 && !ok {
			t.hashOnly[pos.Index] = struct{}{}
		}
	}
}

// Witness returns the sibling path of a leaf, bottom up.
func (t *Tree) Witness(uid uint64) (api.Hash, []api.Hash, error) {
	if uid >= t.size {
		return api.Hash{}, nil, fmt.Errorf("leaf %d out of range (size=%d)", uid, t.size)
	}
	leaf, ok := t.nodes[position{0, uid}]
	if _, sibling := t.hashOnly[uid]; !ok || sibling {
		return api.Hash{}, nil, fmt.Errorf("%w: %d", ErrPruned, uid)
	}
	path := make([]api.Hash, Height)
	index := uid
	for level := uint8(0); level < Height; level++ {
		sibling, ok := t.nodes[position{level, index ^ 1}]
		if !ok {
			if index^1 < t.levelWidth(level) {
				return api.Hash{}, nil, fmt.Errorf("%w: %d", ErrPruned, uid)
			}
			sibling = zeroHashes[level]
		}
		path[level] = sibling
		index /= 2
	}
	return leaf, path, nil
}

// levelWidth is the number of non-empty nodes at level.
func (t *Tree) levelWidth(level uint8) uint64 {
	if t.size == 0 {
		return 0
	}
	return ((t.size - 1) >> level) + 1
}

// VerifyWitness checks that leaf sits at uid under root.
func VerifyWitness(root, leaf api.Hash, uid uint64, path []api.Hash) bool {
	if len(path) != Height {
		return false
	}
	current := leaf
	index := uid
	for level := 0; level < Height; level++ {
		if index%2 == 0 {
			current = hashPair(current, path[level])
		} else {
			current = hashPair(path[level], current)
		}
		index /= 2
	}
	return current == root
}

// Clone returns a deep copy.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		size:     t.size,
		root:     t.root,
		nodes:    make(map[position]api.Hash, len(t.nodes)),
		retained: make(map[uint64]struct{}, len(t.retained)),
		hashOnly: make(map[uint64]struct{}, len(t.hashOnly)),
	}
	for k, v := range t.nodes {
		c.nodes[k] = v
	}
	for k := range t.retained {
		c.retained[k] = struct{}{}
	}
	for k := range t.hashOnly {
		c.hashOnly[k] = struct{}{}
	}
	return c
}

// Frontier returns a copy that keeps only the path of the last leaf.
func (t *Tree) Frontier() *Tree {
	c := t.Clone()
	c.retained = make(map[uint64]struct{})
	c.Prune()
	return c
}

// FromLeaves builds a tree that still knows every leaf.
func FromLeaves(leaves []api.Hash) (*Tree, error) {
	t := New()
	for _, l := range leaves {
		if _, err := t.Push(l); err != nil {
			return nil, err
		}
	}
	return t, nil
}
