package merkle

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"zerosync/internal/api"
)

type wireNode struct {
	Level uint8    `json:"level" cbor:"1,keyasint"`
	Index uint64   `json:"index" cbor:"2,keyasint"`
	Hash  api.Hash `json:"hash" cbor:"3,keyasint"`
}

type wireTree struct {
	Size     uint64     `json:"size" cbor:"1,keyasint"`
	Root     api.Hash   `json:"root" cbor:"2,keyasint"`
	Nodes    []wireNode `json:"nodes" cbor:"3,keyasint"`
	Retained []uint64   `json:"retained" cbor:"4,keyasint"`
	HashOnly []uint64   `json:"hash_only,omitempty" cbor:"5,keyasint,omitempty"`
}

func (t *Tree) toWire() wireTree {
	w := wireTree{
		Size:     t.size,
		Root:     t.root,
		Nodes:    make([]wireNode, 0, len(t.nodes)),
		Retained: make([]uint64, 0, len(t.retained)),
	}
	for pos, h := range t.nodes {
		w.Nodes = append(w.Nodes, wireNode{Level: pos.Level, Index: pos.Index, Hash: h})
	}
	sort.Slice(w.Nodes, func(i, j int) bool {
		if w.Nodes[i].Level != w.Nodes[j].Level {
			return w.Nodes[i].Level < w.Nodes[j].Level
		}
		return w.Nodes[i].Index < w.Nodes[j].Index
	})
	for uid := range t.retained {
		w.Retained = append(w.Retained, uid)
	}
	sort.Slice(w.Retained, func(i, j int) bool { return w.Retained[i] < w.Retained[j] })
	for uid := range t.hashOnly {
		w.HashOnly = append(w.HashOnly, uid)
	}
	sort.Slice(w.HashOnly, func(i, j int) bool { return w.HashOnly[i] < w.HashOnly[j] })
	return w
}

func (t *Tree) fromWire(w wireTree) error {
	if w.Size > MaxLeaves {
		return fmt.Errorf("record tree of %d leaves exceeds capacity", w.Size)
	}
	nodes := make(map[position]api.Hash, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.Level >= Height {
			return fmt.Errorf("record tree node at level %d", n.Level)
		}
		nodes[position{n.Level, n.Index}] = n.Hash
	}
	retained := make(map[uint64]struct{}, len(w.Retained))
	for _, uid := range w.Retained {
		if uid >= w.Size {
			return fmt.Errorf("retained leaf %d out of range (size=%d)", uid, w.Size)
		}
		retained[uid] = struct{}{}
	}
	hashOnly := make(map[uint64]struct{}, len(w.HashOnly))
	for _, uid := range w.HashOnly {
		hashOnly[uid] = struct{}{}
	}
	root := w.Root
	if w.Size == 0 {
		root = zeroHashes[Height]
	}
	t.size, t.root, t.nodes, t.retained, t.hashOnly = w.Size, root, nodes, retained, hashOnly
	return nil
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.toWire())
}

func (t *Tree) UnmarshalJSON(b []byte) error {
	var w wireTree
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	return t.fromWire(w)
}

func (t *Tree) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(t.toWire())
}

func (t *Tree) UnmarshalCBOR(b []byte) error {
	var w wireTree
	if err := cbor.Unmarshal(b, &w); err != nil {
		return err
	}
	return t.fromWire(w)
}
