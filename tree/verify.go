package tree

import (
	"bytes"

	"github.com/larry0x/mttree/nibble"
	"github.com/larry0x/mttree/node"
	"github.com/larry0x/mttree/treeerr"
)

// VerifyMembership recomputes the tree's root hash from proof, a key, and
// its claimed value, and reports whether it matches rootHash. It is pure:
// no storage access occurs. Per §4.E, proof is ordered bottom-up (the leaf
// node first, the root last).
func VerifyMembership(rootHash node.Hash, key, value []byte, proof Proof) error {
	if len(proof) == 0 {
		return treeerr.ErrEmptyProof
	}
	keyPath := nibble.FromBytes(key)
	if uint32(len(proof)) > keyPath.Len()+1 {
		return treeerr.ErrProofTooLong
	}

	leaf := proof[0]
	cur := leaf.toNode()
	cur.Data = &node.Record{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
	curHash := cur.Hash()

	// proof[i] sits at depth (n-1-i); the nibble consumed descending from
	// it into proof[i-1] is the key's nibble at that same depth.
	n := len(proof)
	for i := 1; i < n; i++ {
		depth := n - 1 - i
		idx := keyPath.GetNibble(depth)
		pn := proof[i]
		for _, c := range pn.Children {
			if c.Index == idx {
				return treeerr.ErrUnexpectedChild
			}
		}
		curHash = pn.hashWithChild(idx, curHash)
	}

	if curHash != rootHash {
		return treeerr.ErrRootHashMismatch
	}
	return nil
}

// VerifyNonMembership recomputes the tree's root hash from proof and a key,
// confirming the proof demonstrates key's absence, and reports whether the
// recomputed hash matches rootHash.
func VerifyNonMembership(rootHash node.Hash, key []byte, proof Proof) error {
	if len(proof) == 0 {
		return treeerr.ErrEmptyProof
	}
	keyPath := nibble.FromBytes(key)
	if uint32(len(proof)) > keyPath.Len()+1 {
		return treeerr.ErrProofTooLong
	}

	first := proof[0]
	depth := len(proof) - 1

	// The miss must genuinely be a miss: the node's own data, if any, must
	// not match the requested key...
	if first.Data != nil && bytes.Equal(first.Data.Key, key) {
		return treeerr.ErrKeyExists
	}
	// ...and if there was a next nibble left to consume (the miss wasn't
	// simply running out of path), the node must lack a child there.
	if depth < int(keyPath.Len()) {
		idx := keyPath.GetNibble(depth)
		for _, c := range first.Children {
			if c.Index == idx {
				return treeerr.ErrUnexpectedChild
			}
		}
	}

	curHash := first.hash()
	n := len(proof)
	for i := 1; i < n; i++ {
		d := n - 1 - i
		idx := keyPath.GetNibble(d)
		pn := proof[i]
		for _, c := range pn.Children {
			if c.Index == idx {
				return treeerr.ErrUnexpectedChild
			}
		}
		curHash = pn.hashWithChild(idx, curHash)
	}

	if curHash != rootHash {
		return treeerr.ErrRootHashMismatch
	}
	return nil
}
