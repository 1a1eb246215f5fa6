// Package treeerr is the tree's error taxonomy: sentinel values comparable
// with errors.Is, wrapped with github.com/pkg/errors for stack context in
// the style the retrieval pack's IAVL fork uses throughout its nodedb.
package treeerr

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/larry0x/mttree/node"
)

// Sentinels for the non-substrate error classes of §7.
var (
	// ErrVersionTooNew is returned when a caller asks for a version greater
	// than the current committed version.
	ErrVersionTooNew = errors.New("version too new")

	// ErrRootNotFound is returned when a version ≤ current has no root node
	// (pruned, or the tree was empty at that version).
	ErrRootNotFound = errors.New("root not found")

	// ErrCorruptNode marks a non-root node expected by a parent's pointer
	// but missing from the store. It is always wrapped in a
	// *CorruptNodeError carrying the offending key.
	ErrCorruptNode = errors.New("corrupt node")

	// Verification error sentinels (component E's pure verifier).
	ErrEmptyProof       = errors.New("empty proof")
	ErrProofTooLong     = errors.New("proof longer than key's nibble count + 1")
	ErrUnexpectedChild  = errors.New("unexpected child present at divergence index")
	ErrKeyExists        = errors.New("data present in proof matches the queried key")
	ErrRootHashMismatch = errors.New("recomputed hash does not match claimed root hash")
)

// CorruptNodeError diagnoses a corrupt-node failure with the node key a
// parent expected to find but didn't.
type CorruptNodeError struct {
	Key node.Key
}

func NewCorruptNodeError(key node.Key) error {
	return errors.WithStack(&CorruptNodeError{Key: key})
}

func (e *CorruptNodeError) Error() string {
	return fmt.Sprintf("corrupt node: expected node at %s not found in store", e.Key)
}

func (e *CorruptNodeError) Unwrap() error {
	return ErrCorruptNode
}

// WrapSubstrate wraps an error returned by the storage substrate with
// operation context. Substrate errors are otherwise propagated unchanged,
// per the §7 propagation policy.
func WrapSubstrate(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
