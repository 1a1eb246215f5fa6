package node

import (
	"encoding/binary"
	"fmt"

	"github.com/larry0x/mttree/nibble"
)

// Encode serializes a node deterministically: a single child-count byte
// (at most 16 children, one per nibble value, always fits), then for
// each child (in the order already held, which Children guarantees is
// ascending by index) one index byte, its 32-byte hash and its 8-byte
// big-endian version, then a
// data-present flag and, if set, the record's key length, key bytes, value
// length, and value bytes. The encoding never reorders children, since the
// node's hash depends on that order (see Hash).
func Encode(n *Node) []byte {
	children := n.Children.All()

	buf := make([]byte, 0, 1+len(children)*(1+HashLen+8)+7)
	buf = append(buf, byte(len(children)))
	for _, c := range children {
		buf = append(buf, c.Index.Byte())
		buf = append(buf, c.Hash[:]...)
		var verBuf [8]byte
		binary.BigEndian.PutUint64(verBuf[:], c.Version)
		buf = append(buf, verBuf[:]...)
	}
	if n.Data == nil {
		buf = append(buf, 0)
		return buf
	}
	buf = append(buf, 1)
	var keyLen [2]byte
	binary.BigEndian.PutUint16(keyLen[:], uint16(len(n.Data.Key)))
	buf = append(buf, keyLen[:]...)
	buf = append(buf, n.Data.Key...)
	var valLen [4]byte
	binary.BigEndian.PutUint32(valLen[:], uint32(len(n.Data.Value)))
	buf = append(buf, valLen[:]...)
	buf = append(buf, n.Data.Value...)
	return buf
}

// Decode parses the encoding produced by Encode.
func Decode(buf []byte) (*Node, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("node: truncated encoding")
	}
	count := int(buf[0])
	buf = buf[1:]
	var children Children
	for i := 0; i < count; i++ {
		if len(buf) < 1+HashLen+8 {
			return nil, fmt.Errorf("node: truncated child %d", i)
		}
		idx := buf[0]
		if idx > 0x0f {
			return nil, fmt.Errorf("node: invalid nibble index %#x", idx)
		}
		var hash Hash
		copy(hash[:], buf[1:1+HashLen])
		version := binary.BigEndian.Uint64(buf[1+HashLen : 1+HashLen+8])
		children.Insert(Child{Index: nibble.Nibble(idx), Version: version, Hash: hash})
		buf = buf[1+HashLen+8:]
	}
	if len(buf) < 1 {
		return nil, fmt.Errorf("node: truncated data flag")
	}
	present := buf[0]
	buf = buf[1:]
	if present == 0 {
		return &Node{Children: children}, nil
	}
	if len(buf) < 2 {
		return nil, fmt.Errorf("node: truncated key length")
	}
	keyLen := int(binary.BigEndian.Uint16(buf[:2]))
	buf = buf[2:]
	if len(buf) < keyLen {
		return nil, fmt.Errorf("node: truncated key")
	}
	key := append([]byte(nil), buf[:keyLen]...)
	buf = buf[keyLen:]
	if len(buf) < 4 {
		return nil, fmt.Errorf("node: truncated value length")
	}
	valLen := int(binary.BigEndian.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < valLen {
		return nil, fmt.Errorf("node: truncated value")
	}
	value := append([]byte(nil), buf[:valLen]...)
	return &Node{Children: children, Data: &Record{Key: key, Value: value}}, nil
}

// EncodeKey serializes a NodeKey as (version: u64 big-endian, num_nibbles:
// u16 big-endian, nibble bytes). This is a bit-exact compatibility surface:
// external tools may snapshot and replay it, so its layout must not change.
func EncodeKey(k Key) []byte {
	buf := make([]byte, 8+2+len(k.Path.Bytes()))
	binary.BigEndian.PutUint64(buf[0:8], k.Version)
	binary.BigEndian.PutUint16(buf[8:10], uint16(k.Path.Len()))
	copy(buf[10:], k.Path.Bytes())
	return buf
}

// DecodeKey parses the encoding produced by EncodeKey.
func DecodeKey(buf []byte) (Key, error) {
	if len(buf) < 10 {
		return Key{}, fmt.Errorf("node: truncated node key")
	}
	version := binary.BigEndian.Uint64(buf[0:8])
	numNibbles := binary.BigEndian.Uint16(buf[8:10])
	packedLen := int(numNibbles) / 2
	if numNibbles%2 != 0 {
		packedLen++
	}
	rest := buf[10:]
	if len(rest) != packedLen {
		return Key{}, fmt.Errorf("node: num_nibbles and byte length mismatch")
	}
	// FromBytes always yields an even nibble count (2 per byte); crop back
	// down to the exact count when it was odd.
	path := nibble.FromBytes(rest).Crop(uint32(numNibbles))
	return Key{Version: version, Path: path}, nil
}
