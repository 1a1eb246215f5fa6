package tree

import (
	"bytes"
	"context"

	"github.com/gammazero/deque"

	"github.com/larry0x/mttree/nibble"
	"github.com/larry0x/mttree/node"
	"github.com/larry0x/mttree/store"
	"github.com/larry0x/mttree/treeerr"
)

// visItem is one entry in a frame's ordered visit plan: either the frame
// node's own data, or one of its children.
type visItem struct {
	isData bool
	child  node.Child
}

// frame is one level of the DFS stack: the node at path, and how far the
// scan of its ordered visit plan has progressed.
type frame struct {
	path  nibble.Path
	n     *node.Node
	items []visItem
	pos   int
}

// Iterator walks live (key, value) pairs of a single version in ascending
// or descending byte-string order over a half-open [min, max) range, via a
// DFS stack of (path, node) frames. It is single-pass and lazy; mirrors the
// pack's stack-based trie walk (github.com/gammazero/deque pushed/popped as
// a LIFO stack, as the Optakt flow-dps ledger trie's Leaves() does).
type Iterator struct {
	ctx     context.Context
	t       *Tree
	order   store.Order
	min     []byte
	max     []byte
	minPath *nibble.Path
	maxPath *nibble.Path

	stack *deque.Deque[*frame]
	done  bool
	err   error

	key   []byte
	value []byte
}

// Iterate constructs an Iterator over the given version (current, if nil).
// The façade lock is held only long enough to resolve the version and load
// the root: once constructed, the iterator reads committed, copy-on-write
// nodes that a concurrent Apply never mutates, so holding the lock across
// the iterator's full (potentially long) lifetime would serialize readers
// against writers for no correctness benefit.
func (t *Tree) Iterate(ctx context.Context, order store.Order, min, max []byte, version *uint64) (*Iterator, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, current, err := t.resolveVersion(ctx, version)
	if err != nil {
		return nil, err
	}

	it := &Iterator{ctx: ctx, t: t, order: order, min: min, max: max, stack: deque.New[*frame]()}
	if min != nil {
		p := nibble.FromBytes(min)
		it.minPath = &p
	}
	if max != nil {
		p := nibble.FromBytes(max)
		it.maxPath = &p
	}
	if min != nil && max != nil && bytes.Compare(min, max) > 0 {
		it.done = true
		return it, nil
	}

	root, err := t.loadNode(ctx, node.Root(v))
	if err != nil {
		return nil, err
	}
	if root == nil {
		if v == current {
			it.done = true
			return it, nil
		}
		return nil, treeerr.ErrRootNotFound
	}

	it.stack.PushBack(&frame{path: nibble.Empty(), n: root, items: it.buildItems(nibble.Empty(), root)})
	return it, nil
}

func (it *Iterator) buildItems(path nibble.Path, n *node.Node) []visItem {
	children := n.Children.All()
	if it.order == store.Desc {
		children = n.Children.Reverse()
	}

	var childItems []visItem
	for _, c := range children {
		childPath := path.Child(c.Index)
		if !it.pathMayIntersect(childPath) {
			continue
		}
		childItems = append(childItems, visItem{child: c})
	}

	if n.Data == nil {
		return childItems
	}
	dataItem := visItem{isData: true}
	if it.order == store.Asc {
		return append([]visItem{dataItem}, childItems...)
	}
	return append(childItems, dataItem)
}

// pathMayIntersect reports whether a partial nibble path p could still lead
// to a key within [min, max), per §4.E's iteration range check.
func (it *Iterator) pathMayIntersect(p nibble.Path) bool {
	if it.maxPath != nil && bytes.Compare(p.Bytes(), it.maxPath.Bytes()) >= 0 {
		return false
	}
	if it.minPath != nil && p.Len() <= it.minPath.Len() {
		cropped := it.minPath.Crop(p.Len())
		if bytes.Compare(p.Bytes(), cropped.Bytes()) < 0 {
			return false
		}
	}
	return true
}

// Next advances to the next entry, returning false when exhausted or on
// error (distinguish the two via Err).
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for it.stack.Len() > 0 {
		top := it.stack.Back()
		if top.pos >= len(top.items) {
			it.stack.PopBack()
			continue
		}
		item := top.items[top.pos]
		top.pos++

		if item.isData {
			if it.min != nil && bytes.Compare(top.n.Data.Key, it.min) < 0 {
				continue
			}
			if it.max != nil && bytes.Compare(top.n.Data.Key, it.max) >= 0 {
				continue
			}
			it.key = append([]byte(nil), top.n.Data.Key...)
			it.value = append([]byte(nil), top.n.Data.Value...)
			return true
		}

		childPath := top.path.Child(item.child.Index)
		childKey := node.Key{Version: item.child.Version, Path: childPath}
		childNode, err := it.t.loadNode(it.ctx, childKey)
		if err != nil {
			it.err = err
			return false
		}
		if childNode == nil {
			it.err = treeerr.NewCorruptNodeError(childKey)
			return false
		}
		it.stack.PushBack(&frame{path: childPath, n: childNode, items: it.buildItems(childPath, childNode)})
	}

	it.done = true
	return false
}

// Key returns the key of the current entry.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the value of the current entry.
func (it *Iterator) Value() []byte { return it.value }

// Err returns the error, if any, that stopped iteration.
func (it *Iterator) Err() error { return it.err }
