package tree

import (
	"context"

	"github.com/larry0x/mttree/nibble"
	"github.com/larry0x/mttree/node"
	"github.com/larry0x/mttree/treeerr"
)

// RootInfo reports the resolved version and its root hash.
type RootInfo struct {
	Version  uint64
	RootHash node.Hash
}

// Root resolves version (the current version if nil) and returns its root
// hash, per §4.E's root operation.
func (t *Tree) Root(ctx context.Context, version *uint64) (RootInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, _, err := t.resolveVersion(ctx, version)
	if err != nil {
		return RootInfo{}, err
	}
	root, err := t.loadNode(ctx, node.Root(v))
	if err != nil {
		return RootInfo{}, err
	}
	if root == nil {
		return RootInfo{}, treeerr.ErrRootNotFound
	}
	return RootInfo{Version: v, RootHash: root.Hash()}, nil
}

// GetResult is the outcome of a Get call.
type GetResult struct {
	Value []byte
	Found bool
	Proof Proof
}

// Get performs a point lookup at the given version (current, if nil),
// optionally constructing a membership or non-membership proof, per §4.E.
// The proof, when requested, is ordered bottom-up: the target or miss node
// first, the root last.
func (t *Tree) Get(ctx context.Context, key []byte, prove bool, version *uint64) (GetResult, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, current, err := t.resolveVersion(ctx, version)
	if err != nil {
		return GetResult{}, err
	}

	keyPath := nibble.FromBytes(key)
	root, err := t.loadNode(ctx, node.Root(v))
	if err != nil {
		return GetResult{}, err
	}
	if root == nil {
		if v == current {
			return GetResult{}, nil
		}
		return GetResult{}, treeerr.ErrRootNotFound
	}

	// proof is accumulated root-first during the descent, then reversed
	// before returning so the target/miss node comes first.
	var proof Proof
	cur := root
	curPath := nibble.Empty()

	for {
		if cur.Data != nil && nibble.FromBytes(cur.Data.Key).Equal(keyPath) {
			if prove {
				proof = append(proof, proofNodeFrom(cur, nil, true))
				reverseProof(proof)
			}
			return GetResult{Value: append([]byte(nil), cur.Data.Value...), Found: true, Proof: proof}, nil
		}

		depth := int(curPath.Len())
		if depth >= int(keyPath.Len()) {
			if prove {
				proof = append(proof, proofNodeFrom(cur, nil, false))
				reverseProof(proof)
			}
			return GetResult{Proof: proof}, nil
		}

		nib := keyPath.GetNibble(depth)
		child, ok := cur.Children.Get(nib)
		if !ok {
			if prove {
				proof = append(proof, proofNodeFrom(cur, nil, false))
				reverseProof(proof)
			}
			return GetResult{Proof: proof}, nil
		}

		if prove {
			idx := nib
			proof = append(proof, proofNodeFrom(cur, &idx, false))
		}

		childKey := node.Key{Version: child.Version, Path: curPath.Child(nib)}
		childNode, err := t.loadNode(ctx, childKey)
		if err != nil {
			return GetResult{}, err
		}
		if childNode == nil {
			return GetResult{}, treeerr.NewCorruptNodeError(childKey)
		}
		cur, curPath = childNode, curPath.Child(nib)
	}
}

func reverseProof(p Proof) {
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
}
