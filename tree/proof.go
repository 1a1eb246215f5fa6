package tree

import (
	"github.com/larry0x/mttree/nibble"
	"github.com/larry0x/mttree/node"
)

// ProofChild is one child pointer retained in a ProofNode.
type ProofChild struct {
	Index nibble.Nibble
	Hash  node.Hash
}

// ProofNode is a copy of a node visited during a get, stripped per the
// rules of §4.E: the data is dropped on a hit, the descended-into child is
// dropped on a descent, and nothing is dropped on a miss.
type ProofNode struct {
	Children []ProofChild
	Data     *node.Record
}

// Proof is an ordered bottom-up list of ProofNodes: the target or miss node
// first, the root last.
type Proof []ProofNode

func proofNodeFrom(n *node.Node, excludeIndex *nibble.Nibble, excludeData bool) ProofNode {
	pn := ProofNode{}
	for _, c := range n.Children.All() {
		if excludeIndex != nil && c.Index == *excludeIndex {
			continue
		}
		pn.Children = append(pn.Children, ProofChild{Index: c.Index, Hash: c.Hash})
	}
	if !excludeData {
		pn.Data = n.Data.Clone()
	}
	return pn
}

// hash recomputes the hash of this proof node's content as stored (no
// synthetic child or data substituted), for non-membership's starting point.
func (pn ProofNode) hash() node.Hash {
	return pn.toNode().Hash()
}

func (pn ProofNode) toNode() *node.Node {
	n := &node.Node{Data: pn.Data}
	for _, c := range pn.Children {
		n.Children.Insert(node.Child{Index: c.Index, Hash: c.Hash})
	}
	return n
}

// hashWithChild recomputes this proof node's hash with an additional synthetic
// child merged in ascending-index order.
func (pn ProofNode) hashWithChild(idx nibble.Nibble, h node.Hash) node.Hash {
	n := pn.toNode()
	n.Children.Insert(node.Child{Index: idx, Hash: h})
	return n.Hash()
}
