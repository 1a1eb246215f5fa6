// Package node defines the tree's node model and its canonical, deterministic
// hashing and encoding, grounded on BLAKE3 as required by the commitment
// scheme: lukechampine.com/blake3 is the same package the retrieval pack's
// only BLAKE3 consumer (the Optakt flow-dps ledger trie) depends on.
package node

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"lukechampine.com/blake3"

	"github.com/larry0x/mttree/nibble"
)

// HashLen is the width of the canonical node hash, in bytes.
const HashLen = 32

// Hash is the BLAKE3-256 digest of a node.
type Hash [HashLen]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Child is a pointer from a parent node to one of its up-to-sixteen
// children: which nibble it occupies, the version at which the child's
// subtree root lives, and a copy of the child's own hash (so proofs can be
// built without fetching the child).
type Child struct {
	Index   nibble.Nibble
	Version uint64
	Hash    Hash
}

// Children holds a node's child pointers sorted ascending by nibble index.
type Children struct {
	items []Child
}

func (c Children) search(idx nibble.Nibble) (int, bool) {
	i := sort.Search(len(c.items), func(i int) bool { return c.items[i].Index >= idx })
	if i < len(c.items) && c.items[i].Index == idx {
		return i, true
	}
	return i, false
}

// Get returns the child at the given index, if present.
func (c *Children) Get(idx nibble.Nibble) (Child, bool) {
	i, ok := c.search(idx)
	if !ok {
		return Child{}, false
	}
	return c.items[i], true
}

// Insert adds ch, replacing any existing child at the same index, keeping
// the slice sorted by index.
func (c *Children) Insert(ch Child) {
	i, ok := c.search(ch.Index)
	if ok {
		c.items[i] = ch
		return
	}
	c.items = append(c.items, Child{})
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = ch
}

// Remove deletes the child at idx. It is a no-op if absent.
func (c *Children) Remove(idx nibble.Nibble) {
	i, ok := c.search(idx)
	if !ok {
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
}

// Count returns the number of children.
func (c *Children) Count() int {
	return len(c.items)
}

// IsEmpty reports whether the container has no children.
func (c *Children) IsEmpty() bool {
	return len(c.items) == 0
}

// GetOnly returns the sole child. It panics if Count() != 1.
func (c *Children) GetOnly() Child {
	if len(c.items) != 1 {
		panic(fmt.Sprintf("node: GetOnly called with %d children", len(c.items)))
	}
	return c.items[0]
}

// All returns the children in ascending index order. The caller must not
// mutate the returned slice.
func (c *Children) All() []Child {
	return c.items
}

// Reverse returns the children in descending index order.
func (c *Children) Reverse() []Child {
	out := make([]Child, len(c.items))
	for i, ch := range c.items {
		out[len(c.items)-1-i] = ch
	}
	return out
}

// Equal reports whether two Children containers hold identical entries.
func (c Children) Equal(other Children) bool {
	if len(c.items) != len(other.items) {
		return false
	}
	for i := range c.items {
		if c.items[i] != other.items[i] {
			return false
		}
	}
	return true
}

func (c Children) clone() Children {
	return Children{items: append([]Child(nil), c.items...)}
}

// Record is the raw key/value payload attached to a node.
type Record struct {
	Key   []byte
	Value []byte
}

func (r *Record) clone() *Record {
	return r.Clone()
}

// Clone returns a deep copy of r, or nil if r is nil.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{Key: append([]byte(nil), r.Key...), Value: append([]byte(nil), r.Value...)}
}

func (r *Record) equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return bytes.Equal(r.Key, other.Key) && bytes.Equal(r.Value, other.Value)
}

// Node is a single vertex of the tree: up to sixteen children and, unlike
// classical Patricia/Jellyfish designs, optionally data even when children
// are present (see the "dangling data" design note).
type Node struct {
	Children Children
	Data     *Record
}

// IsLeaf reports whether n has data and no children.
func (n *Node) IsLeaf() bool {
	return n.Data != nil && n.Children.IsEmpty()
}

// IsInternal reports whether n has at least one child.
func (n *Node) IsInternal() bool {
	return !n.Children.IsEmpty()
}

// IsEmpty reports whether n has neither children nor data. Empty nodes are
// never persisted.
func (n *Node) IsEmpty() bool {
	return n.Data == nil && n.Children.IsEmpty()
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	return &Node{Children: n.Children.clone(), Data: n.Data.clone()}
}

// Equal reports whether two nodes have identical content.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.Children.Equal(other.Children) && n.Data.equal(other.Data)
}

// Hash computes the canonical BLAKE3-256 hash of the node. Children are
// folded in ascending index order (index byte, then 32-byte child hash);
// data, if present, follows as a 2-byte big-endian key length, the key
// bytes, then the value bytes with no length prefix. There is no
// domain-separation byte between internal and leaf nodes: presence or
// absence of children in the preimage carries that distinction.
func (n *Node) Hash() Hash {
	h := blake3.New(HashLen, nil)
	for _, c := range n.Children.All() {
		h.Write([]byte{c.Index.Byte()})
		h.Write(c.Hash[:])
	}
	if n.Data != nil {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(n.Data.Key)))
		h.Write(lenBuf[:])
		h.Write(n.Data.Key)
		h.Write(n.Data.Value)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// Key is the persistent identity of a node: the version at which its
// subtree root was written, and its position in the tree expressed as a
// nibble path from the tree root.
type Key struct {
	Version uint64
	Path    nibble.Path
}

// Root returns the node key of the root of the given version.
func Root(version uint64) Key {
	return Key{Version: version, Path: nibble.Empty()}
}

// Child returns the node key of this key's child at nibble n, at the given
// version (the version at which that child's subtree root was last
// written).
func (k Key) Child(n nibble.Nibble, version uint64) Key {
	return Key{Version: version, Path: k.Path.Child(n)}
}

// Depth is the number of nibbles already consumed to reach this key, i.e.
// the nibble index at which its children are dispatched.
func (k Key) Depth() int {
	return int(k.Path.Len())
}

func (k Key) String() string {
	return fmt.Sprintf("NodeKey(v=%d, path=%s)", k.Version, k.Path.Hex())
}
