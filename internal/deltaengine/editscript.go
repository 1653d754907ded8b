// Package deltaengine computes edit scripts between ordered lists (used for
// release component/file list diffing) and release-to-release delta
// manifests describing which chunks a client must fetch to move from one
// release to the next.
package deltaengine

import "sort"

// Op identifies one run in an edit script.
type Op int

const (
	Keep Op = iota
	Del
	Ins
)

// Run is one coalesced run of the same Op, len elements long.
type Run struct {
	Op  Op
	Len int
}

// EditScript is the compact description of how to transform a parent list
// into a child list: a sequence of Keep/Del/Ins runs plus the payloads
// consumed by Ins runs, in child order.
type EditScript struct {
	Runs    []Run
	Inserts []int // child indices, in order, consumed one per Ins run element
}

// Diff computes the edit script turning parent into child. parentKey and
// childKey extract a comparable key for each element; keys must be unique
// within each list for the result to be meaningful.
func Diff[T any, K comparable](parent, child []T, parentKey, childKey func(T) K) EditScript {
	parentIndex := make(map[K]int, len(parent))
	for i, p := range parent {
		parentIndex[parentKey(p)] = i
	}

	// matched[i] is the parent index that child[i] corresponds to, or -1
	// if child[i] has no match in parent (a pure insert).
	matched := make([]int, len(child))
	for i, c := range child {
		if pi, ok := parentIndex[childKey(c)]; ok {
			matched[i] = pi
		} else {
			matched[i] = -1
		}
	}

	// The LIS over the matched parent indices (ignoring unmatched -1
	// entries) identifies the child positions whose relative order agrees
	// with parent order; those become Keep anchors.
	anchorChildIdx := longestIncreasingSubsequence(matched)

	var runs []Run
	var inserts []int
	parentCursor := 0
	childCursor := 0

	emit := func(op Op, n int) {
		if n <= 0 {
			return
		}
		if len(runs) > 0 && runs[len(runs)-1].Op == op {
			runs[len(runs)-1].Len += n
			return
		}
		runs = append(runs, Run{Op: op, Len: n})
	}

	for _, anchorIdx := range anchorChildIdx {
		anchorParentIdx := matched[anchorIdx]

		// Inserts: child items strictly before this anchor that were not
		// themselves anchors.
		for childCursor < anchorIdx {
			emit(Ins, 1)
			inserts = append(inserts, childCursor)
			childCursor++
		}
		// Deletes: parent items strictly before this anchor's parent
		// position that were skipped.
		emit(Del, anchorParentIdx-parentCursor)
		parentCursor = anchorParentIdx

		emit(Keep, 1)
		parentCursor++
		childCursor++
	}

	// Trailing tail past the last anchor.
	for childCursor < len(child) {
		emit(Ins, 1)
		inserts = append(inserts, childCursor)
		childCursor++
	}
	emit(Del, len(parent)-parentCursor)

	return EditScript{Runs: runs, Inserts: inserts}
}

// longestIncreasingSubsequence returns the child indices (in increasing
// order) of the longest strictly increasing subsequence of matched parent
// indices, skipping unmatched (-1) entries. Classic O(n log n) patience
// sort with predecessor back-tracking.
func longestIncreasingSubsequence(matched []int) []int {
	tails := make([]int, 0, len(matched))  // tails[k] = child index ending the best length-(k+1) run
	predecessor := make([]int, len(matched))

	for i, v := range matched {
		if v < 0 {
			predecessor[i] = -1
			continue
		}
		pos := sort.Search(len(tails), func(k int) bool {
			return matched[tails[k]] >= v
		})
		if pos > 0 {
			predecessor[i] = tails[pos-1]
		} else {
			predecessor[i] = -1
		}
		if pos == len(tails) {
			tails = append(tails, i)
		} else {
			tails[pos] = i
		}
	}

	if len(tails) == 0 {
		return nil
	}
	result := make([]int, len(tails))
	cursor := tails[len(tails)-1]
	for i := len(tails) - 1; i >= 0; i-- {
		result[i] = cursor
		cursor = predecessor[cursor]
	}
	return result
}

// Apply re-walks runs over parent, using insertValues (the same data backing the
// Inserts index list already resolved to values by the caller) to
// reconstruct child.
func Apply[T any](parent []T, script EditScript, insertValues []T) []T {
	out := make([]T, 0, len(parent)+len(insertValues))
	parentCursor := 0
	insertCursor := 0
	for _, run := range script.Runs {
		switch run.Op {
		case Keep:
			out = append(out, parent[parentCursor:parentCursor+run.Len]...)
			parentCursor += run.Len
		case Del:
			parentCursor += run.Len
		case Ins:
			out = append(out, insertValues[insertCursor:insertCursor+run.Len]...)
			insertCursor += run.Len
		}
	}
	return out
}

// KeepLength returns the total number of elements covered by Keep runs.
func (s EditScript) KeepLength() int {
	n := 0
	for _, r := range s.Runs {
		if r.Op == Keep {
			n += r.Len
		}
	}
	return n
}
