package tree

import (
	"context"
	"sort"

	"github.com/larry0x/mttree/nibble"
	"github.com/larry0x/mttree/node"
	"github.com/larry0x/mttree/store"
	"github.com/larry0x/mttree/treeerr"
)

// Op is a single write against a key: either Insert a value or Delete.
type Op struct {
	Delete bool
	Value  []byte
}

// Insert constructs an Insert op.
func Insert(value []byte) Op { return Op{Value: value} }

// Delete constructs a Delete op.
func Delete() Op { return Op{Delete: true} }

// Batch is a caller-supplied mapping of keys to ops. Map iteration order is
// irrelevant: Apply sorts by nibble path itself.
type Batch map[string]Op

type entry struct {
	path   nibble.Path
	key    []byte
	value  []byte
	delete bool
}

// outcome is the three-way result apply_at reports up the recursion per
// §4.D: a subtree either produced a new node, vanished entirely, or was left
// untouched (copy-on-write: its storage entry at the old version stands).
type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeDeleted
)

// Apply commits batch as exactly one new version (or zero, if the batch is
// entirely a no-op), per §4.D's top-level procedure.
func (t *Tree) Apply(ctx context.Context, batch Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldVersion, err := t.currentVersionLocked(ctx)
	if err != nil {
		return err
	}
	newVersion := oldVersion + 1

	entries := make([]entry, 0, len(batch))
	for k, op := range batch {
		e := entry{path: nibble.FromBytes([]byte(k)), key: []byte(k), delete: op.Delete}
		if !op.Delete {
			e.value = op.Value
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path.Compare(entries[j].path) < 0 })

	if len(entries) == 0 {
		return nil
	}

	txn := &applyTxn{ctx: ctx, kv: t.kv, batch: t.kv.NewBatch()}

	rootKey := node.Root(oldVersion)
	out, root, err := applyAt(txn, newVersion, rootKey, entries, true)
	if err != nil {
		return err
	}

	switch out {
	case outcomeUnchanged:
		t.log.Debug().Uint64("version", oldVersion).Msg("apply: no-op batch, version unchanged")
		return nil
	case outcomeUpdated:
		if err := txn.saveNode(node.Root(newVersion), root); err != nil {
			return err
		}
		if oldVersion > 0 {
			if err := txn.orphan(newVersion, rootKey); err != nil {
				return err
			}
		}
	case outcomeDeleted:
		if oldVersion > 0 {
			if err := txn.orphan(newVersion, rootKey); err != nil {
				return err
			}
		}
	}
	if err := txn.writeVersion(newVersion); err != nil {
		return err
	}
	if err := txn.batch.Write(ctx); err != nil {
		return treeerr.WrapSubstrate(err, "commit batch for version %d", newVersion)
	}
	t.log.Debug().Uint64("old_version", oldVersion).Uint64("new_version", newVersion).Int("ops", len(entries)).Msg("apply: committed")
	return nil
}

// applyTxn threads the storage context and a write-batch through one Apply
// call's recursion. Reads always hit the underlying store directly: the
// recursion never needs to re-read a node it has itself written earlier in
// the same call, since a node is only persisted once its ancestor has
// decided to keep it (step 7), and every read before that point targets
// nodes untouched by this batch.
type applyTxn struct {
	ctx   context.Context
	kv    store.KVStore
	batch store.Batch
}

func (t *applyTxn) loadNode(k node.Key) (*node.Node, error) {
	raw, err := t.kv.Get(t.ctx, store.NodeKey(k))
	if err != nil {
		return nil, treeerr.WrapSubstrate(err, "load node %s", k)
	}
	if raw == nil {
		return nil, nil
	}
	n, decErr := node.Decode(raw)
	if decErr != nil {
		return nil, treeerr.WrapSubstrate(decErr, "decode node %s", k)
	}
	return n, nil
}

func (t *applyTxn) saveNode(k node.Key, n *node.Node) error {
	if err := t.batch.Put(t.ctx, store.NodeKey(k), node.Encode(n)); err != nil {
		return treeerr.WrapSubstrate(err, "save node %s", k)
	}
	return nil
}

func (t *applyTxn) orphan(sinceVersion uint64, k node.Key) error {
	if err := t.batch.Put(t.ctx, store.OrphanKey(sinceVersion, k), []byte{1}); err != nil {
		return treeerr.WrapSubstrate(err, "record orphan for %s", k)
	}
	return nil
}

func (t *applyTxn) writeVersion(v uint64) error {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(v >> (8 * i))
	}
	if err := t.batch.Put(t.ctx, store.VersionKey(), buf[:]); err != nil {
		return treeerr.WrapSubstrate(err, "write version counter")
	}
	return nil
}

// applyAt is the recursive §4.D algorithm. It returns the outcome at
// currentKey along with the resulting node (nil unless Updated). mayBeAbsent
// is true when currentKey was never a prior sibling's child pointer (the
// root of a possibly-empty tree, or a nibble the parent just now dispatched
// to for the first time): a missing node there means "empty subtree", not
// corruption.
func applyAt(t *applyTxn, version uint64, currentKey node.Key, batch []entry, mayBeAbsent bool) (outcome, *node.Node, error) {
	original, err := t.loadNode(currentKey)
	if err != nil {
		return 0, nil, err
	}
	if original == nil && !mayBeAbsent {
		return 0, nil, treeerr.NewCorruptNodeError(currentKey)
	}

	cur := original
	if cur == nil {
		cur = &node.Node{}
	} else {
		cur = cur.Clone()
	}

	// Step 2: dangling data.
	var dangling *node.Record
	if cur.Data != nil {
		dataPath := nibble.FromBytes(cur.Data.Key)
		if !dataPath.Equal(currentKey.Path) {
			dangling = cur.Data
			cur.Data = nil
		}
	}

	working := batch

	// Step 3: direct hit.
	if len(working) > 0 && working[0].path.Equal(currentKey.Path) {
		e := working[0]
		if e.delete {
			cur.Data = nil
		} else {
			cur.Data = &node.Record{Key: e.key, Value: e.value}
		}
		working = working[1:]
	}

	// Step 4: re-insert dangling data.
	if dangling != nil {
		working = reinsertDangling(working, dangling)
	}

	switch {
	case len(working) == 0:
		// Nothing more to do; fall through to the collapse/compare step.
	case len(working) == 1 && cur.Data == nil && cur.Children.IsEmpty():
		// Step 5: short-circuit at an empty node.
		e := working[0]
		if !e.delete {
			cur.Data = &node.Record{Key: e.key, Value: e.value}
		}
		// A delete of a key that never existed leaves the node empty; the
		// collapse/compare step below correctly reports Unchanged for that
		// case since original is nil here.
	default:
		pending := map[nibble.Nibble]*node.Node{}
		if err := dispatchToChildren(t, version, currentKey, working, cur, pending); err != nil {
			return 0, nil, err
		}
		return finalize(t, version, currentKey, original, cur, pending)
	}

	return finalize(t, version, currentKey, original, cur, nil)
}

// dispatchToChildren implements step 6: group the batch by nibble at this
// node's depth and recurse into each child range. Updated children are
// buffered in pending rather than persisted immediately, since this node
// itself may yet collapse away (step 7).
func dispatchToChildren(t *applyTxn, version uint64, currentKey node.Key, working []entry, cur *node.Node, pending map[nibble.Nibble]*node.Node) error {
	depth := currentKey.Depth()
	ranges := nibble.GroupByNibble(working, func(e entry) nibble.Path { return e.path }, depth)

	for _, r := range ranges {
		nib := r.Nibble
		existing, hadChild := cur.Children.Get(nib)

		var childVersion uint64
		if hadChild {
			childVersion = existing.Version
		} else {
			childVersion = version
		}
		childKey := node.Key{Version: childVersion, Path: currentKey.Path.Child(nib)}

		childOut, childNode, err := applyAt(t, version, childKey, working[r.Start:r.End+1], !hadChild)
		if err != nil {
			return err
		}

		switch childOut {
		case outcomeUpdated:
			cur.Children.Insert(node.Child{Index: nib, Version: version, Hash: childNode.Hash()})
			if hadChild {
				if err := t.orphan(version, childKey); err != nil {
					return err
				}
			}
			pending[nib] = childNode
		case outcomeDeleted:
			cur.Children.Remove(nib)
			if hadChild {
				if err := t.orphan(version, childKey); err != nil {
					return err
				}
			}
		case outcomeUnchanged:
			// nothing to do
		}
	}
	return nil
}

// finalize implements steps 7-8: the collapse rule and the
// compare-and-report step.
func finalize(t *applyTxn, version uint64, currentKey node.Key, original, cur *node.Node, pending map[nibble.Nibble]*node.Node) (outcome, *node.Node, error) {
	if cur.Data == nil && cur.Children.IsEmpty() {
		if original == nil {
			return outcomeUnchanged, nil, nil
		}
		return outcomeDeleted, nil, nil
	}

	if cur.Data == nil && cur.Children.Count() == 1 {
		only := cur.Children.GetOnly()
		childNode, ok := pending[only.Index]
		loadedFromStore := !ok
		if !ok {
			childKey := node.Key{Version: only.Version, Path: currentKey.Path.Child(only.Index)}
			loaded, err := t.loadNode(childKey)
			if err != nil {
				return 0, nil, err
			}
			if loaded == nil {
				return 0, nil, treeerr.NewCorruptNodeError(childKey)
			}
			childNode = loaded
		}
		if childNode.IsLeaf() {
			// Collapse: the internal node dissolves and the leaf is
			// reported upward under this node's own identity. Its node
			// value doesn't encode a path, so no rehashing is needed; only
			// the eventual persisting ancestor assigns it a physical key.
			//
			// When the leaf was loaded from store rather than produced by
			// this batch (i.e. it was Unchanged), its old physical entry at
			// the child's own path becomes unreachable the moment the new
			// root is built around this collapsed identity instead: orphan
			// it here, since dispatchToChildren only orphans children it
			// itself saw as Updated/Deleted.
			//
			// A collapse that rebuilds exactly the node loaded here (its
			// dangling data pushed down and pulled back up by a batch that
			// changed nothing else) is no change at all.
			if original != nil && childNode.Equal(original) {
				return outcomeUnchanged, original, nil
			}
			if loadedFromStore {
				childKey := node.Key{Version: only.Version, Path: currentKey.Path.Child(only.Index)}
				if err := t.orphan(version, childKey); err != nil {
					return 0, nil, err
				}
			}
			return outcomeUpdated, childNode, nil
		}
	}

	for nib, childNode := range pending {
		childKey := node.Key{Version: version, Path: currentKey.Path.Child(nib)}
		if err := t.saveNode(childKey, childNode); err != nil {
			return 0, nil, err
		}
	}

	if original != nil && cur.Equal(original) {
		return outcomeUnchanged, cur, nil
	}
	return outcomeUpdated, cur, nil
}

// reinsertDangling merges dangling data back into the sorted working batch
// at its sorted position, unless a batch entry already targets that nibble
// path (in which case the batch wins), per step 4.
func reinsertDangling(working []entry, data *node.Record) []entry {
	dataPath := nibble.FromBytes(data.Key)
	idx := sort.Search(len(working), func(i int) bool { return working[i].path.Compare(dataPath) >= 0 })
	if idx < len(working) && working[idx].path.Equal(dataPath) {
		return working
	}
	out := make([]entry, 0, len(working)+1)
	out = append(out, working[:idx]...)
	out = append(out, entry{path: dataPath, key: data.Key, value: data.Value})
	out = append(out, working[idx:]...)
	return out
}
