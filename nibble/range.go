package nibble

import "sort"

// Range describes a contiguous run within a sorted batch whose entries share
// the same nibble at a given depth. Start and End are both inclusive indices
// into the batch.
type Range struct {
	Nibble Nibble
	Start  int
	End    int
}

// GroupByNibble partitions a batch that is sorted ascending by pathOf(item)
// into contiguous runs sharing the same nibble at nibbleIdx. It uses
// bisection so the total work for one level is O(children * log(batch)),
// the mechanism the batch engine uses to dispatch a sorted batch to up to 16
// children in a single pass.
func GroupByNibble[T any](items []T, pathOf func(T) Path, nibbleIdx int) []Range {
	var ranges []Range
	n := len(items)
	start := 0
	for start < n {
		nib := pathOf(items[start]).GetNibble(nibbleIdx)
		offset := sort.Search(n-start, func(i int) bool {
			return pathOf(items[start+i]).GetNibble(nibbleIdx) != nib
		})
		end := start + offset - 1
		ranges = append(ranges, Range{Nibble: nib, Start: start, End: end})
		start = end + 1
	}
	return ranges
}
