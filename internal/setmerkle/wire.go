package setmerkle

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"zerosync/internal/api"
)

// wireNode is the serialized form of a (possibly partial) tree. Branch hashes are recomputed on
// decode; only forgotten subtrees carry a hash.
type wireNode struct {
	Kind  nodeKind       `json:"k" cbor:"1,keyasint"`
	Hash  *api.Hash      `json:"h,omitempty" cbor:"2,keyasint,omitempty"`
	Elem  *api.Nullifier `json:"e,omitempty" cbor:"3,keyasint,omitempty"`
	Left  *wireNode      `json:"l,omitempty" cbor:"4,keyasint,omitempty"`
	Right *wireNode      `json:"r,omitempty" cbor:"5,keyasint,omitempty"`
}

func toWire(n *node) *wireNode {
	w := &wireNode{Kind: n.kind}
	switch n.kind {
	case kindLeaf:
		elem := n.elem
		w.Elem = &elem
	case kindForgotten:
		h := n.hash
		w.Hash = &h
	case kindBranch:
		w.Left = toWire(n.left)
		w.Right = toWire(n.right)
	}
	return w
}

func fromWire(w *wireNode, depth int) (*node, error) {
	if w == nil {
		return nil, fmt.Errorf("missing node at depth %d", depth)
	}
	if depth > MaxDepth {
		return nil, fmt.Errorf("node below depth %d", MaxDepth)
	}
	switch w.Kind {
	case kindEmpty:
		return emptyNode, nil
	case kindLeaf:
		if w.Elem == nil {
			return nil, fmt.Errorf("leaf at depth %d has no element", depth)
		}
		return newLeaf(*w.Elem), nil
	case kindForgotten:
		if w.Hash == nil {
			return nil, fmt.Errorf("forgotten node at depth %d has no hash", depth)
		}
		return newForgotten(*w.Hash), nil
	case kindBranch:
		left, err := fromWire(w.Left, depth+1)
		if err != nil {
			return nil, err
		}
		right, err := fromWire(w.Right, depth+1)
		if err != nil {
			return nil, err
		}
		return newBranch(left, right), nil
	default:
		return nil, fmt.Errorf("unknown node kind %d", w.Kind)
	}
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(t.top()))
}

func (t *Tree) UnmarshalJSON(b []byte) error {
	var w wireNode
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	root, err := fromWire(&w, 0)
	if err != nil {
		return fmt.Errorf("decode nullifier set: %w", err)
	}
	t.root = root
	return nil
}

func (t *Tree) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(toWire(t.top()))
}

func (t *Tree) UnmarshalCBOR(b []byte) error {
	var w wireNode
	if err := cbor.Unmarshal(b, &w); err != nil {
		return err
	}
	root, err := fromWire(&w, 0)
	if err != nil {
		return fmt.Errorf("decode nullifier set: %w", err)
	}
	t.root = root
	return nil
}
