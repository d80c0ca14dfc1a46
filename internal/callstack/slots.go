package callstack

import (
	"math"

	"github.com/google/btree"

	"tracefold/internal/attr"
)

const openEnd = math.MaxInt64

type span struct {
	start, end int64
}

// slot is one lane of a thread's call stack. Finished intervals on a slot
// never overlap, so ordering by start also orders by end.
type slot struct {
	quark    attr.Quark
	busy     *btree.BTreeG[span]
	open     bool
	openFrom int64
}

func newSlot(q attr.Quark) *slot {
	return &slot{
		quark: q,
		busy:  btree.NewG(16, func(a, b span) bool { return a.start < b.start }),
	}
}

// overlaps reports whether [start, end) intersects anything on the slot,
// including a still-open begin which occupies [openFrom, +inf).
func (s *slot) overlaps(start, end int64) bool {
	if s.open && end > s.openFrom {
		return true
	}
	hit := false
	s.busy.DescendLessOrEqual(span{start: end - 1}, func(sp span) bool {
		hit = sp.end > start
		return false
	})
	return hit
}

func (s *slot) occupy(start, end int64) {
	s.busy.ReplaceOrInsert(span{start: start, end: end})
}

// prune forgets intervals ending at or before floor; nothing that can still
// arrive starts before floor.
func (s *slot) prune(floor int64) {
	for {
		sp, ok := s.busy.Min()
		if !ok || sp.end > floor {
			return
		}
		s.busy.DeleteMin()
	}
}
