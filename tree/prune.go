package tree

import (
	"context"

	"github.com/larry0x/mttree/store"
	"github.com/larry0x/mttree/treeerr"
)

// pruneBatchSize bounds each internal scan-delete round purely for
// progress-bounding inside one call, per §4.D/§4.F; it is not a budget on
// the overall prune.
const pruneBatchSize = 10

// Prune deletes every orphaned node whose orphaned_since_version is ≤
// upToInclusive (or every orphan, if nil), along with its orphan entry, in
// bounded batches until a batch comes back short.
func (t *Tree) Prune(ctx context.Context, upToInclusive *uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var upperBound []byte
	if upToInclusive != nil {
		upperBound = store.OrphanUpperBound(*upToInclusive)
	}

	total := 0
	for {
		n, err := t.pruneOneBatch(ctx, upperBound)
		if err != nil {
			return err
		}
		total += n
		if n < pruneBatchSize {
			break
		}
	}
	t.log.Debug().Int("pruned", total).Msg("prune: complete")
	return nil
}

func (t *Tree) pruneOneBatch(ctx context.Context, upperBound []byte) (int, error) {
	iter, err := t.kv.PrefixRange(ctx, store.OrphanPrefix(), nil, upperBound, store.Asc)
	if err != nil {
		return 0, treeerr.WrapSubstrate(err, "scan orphans")
	}
	defer iter.Close()

	batch := t.kv.NewBatch()
	n := 0
	for n < pruneBatchSize && iter.Next() {
		orphanKey := append([]byte(nil), iter.Key()...)
		_, nk, err := store.DecodeOrphanKey(orphanKey)
		if err != nil {
			return 0, treeerr.WrapSubstrate(err, "decode orphan key")
		}
		if err := batch.Delete(ctx, store.NodeKey(nk)); err != nil {
			return 0, treeerr.WrapSubstrate(err, "delete node %s", nk)
		}
		if err := batch.Delete(ctx, orphanKey); err != nil {
			return 0, treeerr.WrapSubstrate(err, "delete orphan entry")
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, treeerr.WrapSubstrate(err, "scan orphans")
	}
	if n == 0 {
		return 0, nil
	}
	if err := batch.Write(ctx); err != nil {
		return 0, treeerr.WrapSubstrate(err, "commit prune batch")
	}
	return n, nil
}
