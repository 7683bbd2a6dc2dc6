package setmerkle

import (
	"fmt"

	"zerosync/internal/api"
)

// TerminalKind says what a proof path ends in.
type TerminalKind uint8

const (
	// TerminalEmpty ends in an empty subtree: the element is absent.
	TerminalEmpty TerminalKind = iota
	// TerminalLeaf ends in a leaf. The element is present if the leaf holds it, and absent if
	// the leaf holds another element sharing the path.
	TerminalLeaf
)

func (k TerminalKind) String() string {
	switch k {
	case TerminalEmpty:
		return "empty"
	case TerminalLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("terminal(%d)", uint8(k))
	}
}

// Proof is a membership or non-membership proof. Path holds sibling hashes from the root down.
type Proof struct {
	Terminal TerminalKind  `json:"terminal" cbor:"1,keyasint"`
	Leaf     api.Nullifier `json:"leaf" cbor:"2,keyasint"`
	Path     []api.Hash    `json:"path" cbor:"3,keyasint"`
}

func (p *Proof) terminalHash() api.Hash {
	if p.Terminal == TerminalLeaf {
		return leafHash(p.Leaf)
	}
	return api.Hash{}
}

// Check verifies the proof for elem against root and reports whether elem is in the set.
func (p *Proof) Check(elem api.Nullifier, root api.Hash) (bool, error) {
	depth := len(p.Path)
	if depth > MaxDepth {
		return false, fmt.Errorf("%w: path of %d exceeds depth %d", api.ErrInvalidProof, depth, MaxDepth)
	}
	if p.Terminal != TerminalEmpty && p.Terminal != TerminalLeaf {
		return false, fmt.Errorf("%w: unknown terminal %s", api.ErrInvalidProof, p.Terminal)
	}
	key := elem.Key()
	spent := false
	if p.Terminal == TerminalLeaf {
		spent = p.Leaf == elem
		if !spent {
			// The other leaf has to sit on elem's path for its presence to rule elem out.
			other := p.Leaf.Key()
			for i := 0; i < depth; i++ {
				if bit(other, i) != bit(key, i) {
					return false, fmt.Errorf("%w: leaf %s is off the path of %s", api.ErrInvalidProof, p.Leaf, elem)
				}
			}
		}
	}

	h := p.terminalHash()
	for i := depth - 1; i >= 0; i-- {
		if bit(key, i) == 0 {
			h = branchHash(h, p.Path[i])
		} else {
			h = branchHash(p.Path[i], h)
		}
	}
	if h != root {
		return false, fmt.Errorf("%w: computed root %s, expected %s", api.ErrInvalidProof, h, root)
	}
	return spent, nil
}
