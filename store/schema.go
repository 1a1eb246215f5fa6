package store

import (
	"encoding/binary"

	"github.com/larry0x/mttree/node"
)

// Three distinct byte prefixes partition the keyspace into the logical
// namespaces §4.C requires: the version counter, tree nodes, and orphans.
// The prefix-byte-plus-fixed-fields shape mirrors the pack's IAVL fork
// KeyFormat convention (nodeKeyFormat = NewKeyFormat('n', hashSize),
// orphanKeyFormat = NewKeyFormat('o', int64Size, int64Size, hashSize)).
const (
	prefixVersion byte = 'v'
	prefixNode    byte = 'n'
	prefixOrphan  byte = 'o'
)

// VersionKey is the single slot holding the current committed version.
func VersionKey() []byte {
	return []byte{prefixVersion}
}

// NodeKey encodes a node.Key as (prefix 'n', version, num_nibbles,
// nibble_bytes). All nodes of a version are contiguous under this ordering,
// and within a version shallower paths precede deeper ones.
func NodeKey(k node.Key) []byte {
	inner := node.EncodeKey(k)
	out := make([]byte, 1+len(inner))
	out[0] = prefixNode
	copy(out[1:], inner)
	return out
}

// NodePrefixForVersion returns the shared prefix of every node key belonging
// to the given version, for bounding scans (not required by the public API
// but useful to tests and tooling walking a whole version).
func NodePrefixForVersion(version uint64) []byte {
	out := make([]byte, 1+8)
	out[0] = prefixNode
	binary.BigEndian.PutUint64(out[1:], version)
	return out
}

// OrphanKey encodes an orphan entry (prefix 'o', orphaned_since_version,
// node_key encoding). A prefix scan bounded by orphaned_since_version ≤ V
// retrieves exactly the orphans eligible for pruning at cutoff V.
func OrphanKey(sinceVersion uint64, nk node.Key) []byte {
	inner := node.EncodeKey(nk)
	out := make([]byte, 1+8+len(inner))
	out[0] = prefixOrphan
	binary.BigEndian.PutUint64(out[1:9], sinceVersion)
	copy(out[9:], inner)
	return out
}

// DecodeOrphanKey parses the encoding produced by OrphanKey.
func DecodeOrphanKey(buf []byte) (sinceVersion uint64, nk node.Key, err error) {
	if len(buf) < 9 || buf[0] != prefixOrphan {
		return 0, node.Key{}, errInvalidOrphanKey
	}
	sinceVersion = binary.BigEndian.Uint64(buf[1:9])
	nk, err = node.DecodeKey(buf[9:])
	return sinceVersion, nk, err
}

// OrphanPrefix is the shared byte prefix of every orphan key, for scanning
// the whole orphans namespace.
func OrphanPrefix() []byte {
	return []byte{prefixOrphan}
}

// OrphanUpperBound returns the exclusive upper bound (within the orphans
// namespace) admitting every orphan whose orphaned_since_version is ≤
// upToInclusive. It returns nil (no bound) when upToInclusive is the largest
// uint64, since every orphan then qualifies.
func OrphanUpperBound(upToInclusive uint64) []byte {
	if upToInclusive == ^uint64(0) {
		return nil
	}
	out := make([]byte, 9)
	binary.BigEndian.PutUint64(out[1:], upToInclusive)
	incrementLastByte(out)
	return out[1:]
}

func incrementLastByte(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

var errInvalidOrphanKey = invalidKeyError("store: invalid orphan key")

type invalidKeyError string

func (e invalidKeyError) Error() string { return string(e) }
