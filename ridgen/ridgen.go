// Package ridgen allocates RIDs: positive, monotonically increasing on the
// base side; negative, monotonically decreasing on the tail side. Each
// logical page draws exactly common.SlotsPerPage consecutive RIDs from one
// side.
//
// Grounded on the original lstore rid.py (two independently-locked
// counters, get_base_rids/get_tail_rids each handing out a full page's
// worth of RIDs at once, slot derivation via abs(rid)-1 mod page size).
package ridgen

import (
	"sync"

	"github.com/intellect4all/lstore/common"
)

// Generator hands out disjoint base/tail RID ranges.
type Generator struct {
	baseMu   sync.Mutex
	currBase int64

	tailMu   sync.Mutex
	currTail int64
}

// New returns a generator starting at the spec's canonical base/tail
// origins (1 and -1).
func New() *Generator {
	return &Generator{
		currBase: common.StartBaseRID,
		currTail: common.StartTailRID,
	}
}

// Restore returns a generator that continues issuing RIDs from nextBase/
// nextTail, used by the catalog to resume numbering across a close/reopen
// cycle.
func Restore(nextBase, nextTail int64) *Generator {
	return &Generator{currBase: nextBase, currTail: nextTail}
}

// Snapshot returns the next base and tail RIDs this generator would issue,
// for catalog persistence.
func (g *Generator) Snapshot() (nextBase, nextTail int64) {
	g.baseMu.Lock()
	nextBase = g.currBase
	g.baseMu.Unlock()
	g.tailMu.Lock()
	nextTail = g.currTail
	g.tailMu.Unlock()
	return
}

// NewBaseRIDsForPage returns SlotsPerPage consecutive base RIDs, in
// descending order so that popping from the end hands out ascending RIDs,
// whose slots (common.SlotOf) therefore fill from 0 upwards.
func (g *Generator) NewBaseRIDsForPage() []int64 {
	g.baseMu.Lock()
	defer g.baseMu.Unlock()

	start := g.currBase
	rids := make([]int64, common.SlotsPerPage)
	for i := 0; i < common.SlotsPerPage; i++ {
		rids[common.SlotsPerPage-1-i] = start + int64(i)
	}
	g.currBase = start + common.SlotsPerPage
	return rids
}

// NewTailRIDsForPage returns SlotsPerPage consecutive tail RIDs, in
// ascending (i.e. most-negative-first) order, symmetric to the base side.
func (g *Generator) NewTailRIDsForPage() []int64 {
	g.tailMu.Lock()
	defer g.tailMu.Unlock()

	low := g.currTail - common.SlotsPerPage
	rids := make([]int64, common.SlotsPerPage)
	for i := 0; i < common.SlotsPerPage; i++ {
		rids[i] = low + 1 + int64(i)
	}
	g.currTail = low
	return rids
}
