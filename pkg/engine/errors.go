package engine

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrIndexNotBuilt is returned when a query or report runs against a store
	// that has no document-frequency model yet.
	ErrIndexNotBuilt = errors.New("engine: index not built, run hash first")

	// ErrStoreUnavailable is returned when the store rejects an operation for
	// infrastructure reasons.
	ErrStoreUnavailable = errors.New("engine: store unavailable")

	// ErrInputUnreadable is returned when the queried input cannot be read.
	ErrInputUnreadable = errors.New("engine: input unreadable")

	// ErrUnitNotFound is returned when a function-scoped query names a unit
	// the extractor cannot locate in the input.
	ErrUnitNotFound = errors.New("engine: function unit not found")
)

// Skip reasons accumulated during indexing. Per-document failures are counted
// under these keys instead of aborting the run.
const (
	SkipUnreadable  = "input-unreadable"
	SkipExtractor   = "extractor-failed"
	SkipNoFunctions = "no-functions"
	SkipSketchEmpty = "sketch-empty"
)

// SkipCounts tallies skipped documents by reason.
type SkipCounts map[string]int

// Total returns the number of skips across all reasons.
func (s SkipCounts) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}

	return total
}

// Reasons returns the recorded reasons in lexicographic order.
func (s SkipCounts) Reasons() []string {
	reasons := make([]string, 0, len(s))
	for reason := range s {
		reasons = append(reasons, reason)
	}

	sort.Strings(reasons)

	return reasons
}

// skipTally is the mutex-guarded accumulator used by concurrent workers.
type skipTally struct {
	mu     sync.Mutex
	counts SkipCounts
}

func newSkipTally() *skipTally {
	return &skipTally{counts: make(SkipCounts)}
}

func (t *skipTally) add(reason string) {
	t.mu.Lock()
	t.counts[reason]++
	t.mu.Unlock()
}
