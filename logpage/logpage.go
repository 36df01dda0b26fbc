// Package logpage implements the logical page: one record-slot unit
// spanning NumTotalCols physical pages, fetched lazily through the buffer
// pool. Base and Tail share the Logical embedded type; Base additionally
// carries a merge iteration and a tail-page-sequence watermark.
//
// Grounded on the original lstore page.py (LogicalPage/BasePage/TailPage:
// insert_record pops a free slot and writes each column, is_full checks
// the free list) and on the teacher's base/tail-via-shared-header idiom in
// btree/page.go (one struct, a type tag, type-specific methods).
package logpage

import (
	"sync"

	"github.com/intellect4all/lstore/bufferpool"
	"github.com/intellect4all/lstore/common"
	"github.com/pkg/errors"
)

// Logical is the state shared by base and tail logical pages.
//
// The slot a record occupies is always common.SlotOf(rid) — spec.md §3
// defines slot as a pure function of the RID, and the page directory maps
// only a page's starting RID to the logical page, not each individual RID
// to a slot. So reservedRIDs doubles as the free-RID stack: popping a RID
// off it and deriving its slot keeps the two in lock-step by construction,
// with no separate free-slot bookkeeping needed.
type Logical struct {
	mu           sync.Mutex
	table        string
	startingRID  common.RID
	numTotalCols int
	numUserCols  int
	pool         *bufferpool.Pool
	reservedRIDs []int64
}

func newLogical(table string, startingRID common.RID, numTotalCols, numUserCols int, pool *bufferpool.Pool, reservedRIDs []int64) Logical {
	return Logical{
		table:        table,
		startingRID:  startingRID,
		numTotalCols: numTotalCols,
		numUserCols:  numUserCols,
		pool:         pool,
		reservedRIDs: reservedRIDs,
	}
}

// StartingRID returns the first RID owned by this logical page.
func (l *Logical) StartingRID() common.RID { return l.startingRID }

// UsedSlots reports how many of the page's slots are occupied — the
// complement of its free-RID stack — used by catalog persistence to
// describe a page without dumping the full reserved-RID stack.
func (l *Logical) UsedSlots() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return common.SlotsPerPage - len(l.reservedRIDs)
}

// reservedRIDsForUsedSlots reconstructs the free-RID stack for a logical
// page with usedSlots already occupied, matching the layout
// ridgen.Generator produces so pop order (and therefore slot assignment
// order) is unaffected by a close/reopen cycle.
//
// Base pages fill ascending from startingRID; the stack holds the
// remaining RIDs in descending order so popping (from the end) yields them
// ascending. Tail pages fill the symmetric way on the negative side.
func reservedRIDsForUsedSlots(startingRID common.RID, usedSlots int) []int64 {
	remaining := common.SlotsPerPage - usedSlots
	rids := make([]int64, remaining)
	if startingRID > 0 {
		for i := 0; i < remaining; i++ {
			rids[i] = startingRID + int64(common.SlotsPerPage-1-i)
		}
	} else {
		for i := 0; i < remaining; i++ {
			rids[i] = startingRID - int64(common.SlotsPerPage-1-i)
		}
	}
	return rids
}

// IsFull reports whether every slot has been allocated.
func (l *Logical) IsFull() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reservedRIDs) == 0
}

// pageID resolves the physical page backing column col. Only user-column
// pages (col < numUserCols) are iteration-specific: CopyForMerge duplicates
// exactly those, leaving metadata columns (indirection, base_rid, schema
// encoding) pointing at the same physical page across every merge
// iteration, which is what keeps indirection writes issued after a merge
// snapshot was taken visible through the copy (spec.md §4.5, §4.10).
func (l *Logical) pageID(col int, mergeIteration int) common.PageID {
	if mergeIteration == 0 || col >= l.numUserCols {
		return common.MakePageID(l.table, l.startingRID, col)
	}
	return common.MakeBasePageID(l.table, l.startingRID, col, mergeIteration)
}

// GetColumn reads column col at slot through the buffer pool.
func (l *Logical) GetColumn(col int, slot int, mergeIteration int) (int64, error) {
	phys, err := l.pool.Get(l.pageID(col, mergeIteration))
	if err != nil {
		return 0, errors.Wrapf(err, "logpage: get column %d slot %d", col, slot)
	}
	if phys == nil {
		// A column never written to (e.g. a null user column) reads as 0.
		return 0, nil
	}
	return phys.Get(slot)
}

// setColumn writes value into column col at slot through the buffer pool.
func (l *Logical) setColumn(col int, slot int, value int64, mergeIteration int) error {
	return l.pool.Insert(l.pageID(col, mergeIteration), slot, value)
}

// insertRecord pops the next reserved RID, derives its slot via
// common.SlotOf, and writes the given columns (nil entries are skipped,
// leaving the physical page's zero default), returning (rid, slot) or
// (InvalidRID, InvalidSlot) if the page is already full.
func (l *Logical) insertRecord(columns []*int64, mergeIteration int) (common.RID, int, error) {
	l.mu.Lock()
	if len(l.reservedRIDs) == 0 {
		l.mu.Unlock()
		return common.InvalidRID, common.InvalidSlot, nil
	}
	rid := l.reservedRIDs[len(l.reservedRIDs)-1]
	l.reservedRIDs = l.reservedRIDs[:len(l.reservedRIDs)-1]
	l.mu.Unlock()

	slot := common.SlotOf(common.RID(rid))
	for col, v := range columns {
		if v == nil {
			continue
		}
		if err := l.setColumn(col, slot, *v, mergeIteration); err != nil {
			return common.InvalidRID, common.InvalidSlot, errors.Wrapf(err, "logpage: insert record col %d", col)
		}
	}
	return common.RID(rid), slot, nil
}

// Base is a base logical page: holds first-version records, mutable only
// by the merger (via UpdateRecord/CopyForMerge), append-only otherwise.
type Base struct {
	Logical
	mergeIteration int
	tps            int64 // tail-page-sequence watermark
}

// NewBase allocates a fresh base logical page. reservedRIDs must be the
// common.SlotsPerPage RIDs a ridgen.Generator allocated for this page
// (ridgen.Generator.NewBaseRIDsForPage).
func NewBase(table string, startingRID common.RID, numTotalCols, numUserCols int, pool *bufferpool.Pool, reservedRIDs []int64) *Base {
	return &Base{
		Logical: newLogical(table, startingRID, numTotalCols, numUserCols, pool, reservedRIDs),
	}
}

// RehydrateBase reconstructs a base logical page from catalog-persisted
// metadata on database open: its free-RID stack is rebuilt from usedSlots
// rather than replayed from the original ridgen allocation.
func RehydrateBase(table string, startingRID common.RID, numTotalCols, numUserCols int, pool *bufferpool.Pool, mergeIteration int, tps int64, usedSlots int) *Base {
	reserved := reservedRIDsForUsedSlots(startingRID, usedSlots)
	return &Base{
		Logical:        newLogical(table, startingRID, numTotalCols, numUserCols, pool, reserved),
		mergeIteration: mergeIteration,
		tps:            tps,
	}
}

// InsertRecord inserts a new record (columns in user-column + metadata
// order) and returns its RID and slot.
func (b *Base) InsertRecord(columns []*int64) (common.RID, int, error) {
	return b.insertRecord(columns, b.mergeIteration)
}

// GetColumn reads column col at slot, through the page's current merge
// iteration.
func (b *Base) GetColumn(col int, slot int) (int64, error) {
	return b.Logical.GetColumn(col, slot, b.mergeIteration)
}

// SetIndirection overwrites the indirection column for the record at slot.
func (b *Base) SetIndirection(indirectionCol int, slot int, value int64) error {
	return b.setColumn(indirectionCol, slot, value, b.mergeIteration)
}

// SetColumn overwrites an arbitrary column for the record at slot, e.g. a
// base row's own base_rid metadata column immediately after insertion (its
// value, the row's own RID, isn't known until after the slot is assigned).
func (b *Base) SetColumn(col int, slot int, value int64) error {
	return b.setColumn(col, slot, value, b.mergeIteration)
}

// UpdateRecord overwrites the user columns (not metadata columns) of the
// record at slot in place. Used exclusively by the merger.
func (b *Base) UpdateRecord(userCols []*int64, slot int) error {
	for col, v := range userCols {
		if v == nil {
			continue
		}
		if err := b.setColumn(col, slot, *v, b.mergeIteration); err != nil {
			return errors.Wrapf(err, "logpage: update record col %d", col)
		}
	}
	return nil
}

// MergeIteration returns the page's current merge generation (0 = never
// merged).
func (b *Base) MergeIteration() int { return b.mergeIteration }

// TPS returns the tail-page-sequence watermark: the largest tail RID
// already consolidated into this base image.
func (b *Base) TPS() int64 { return b.tps }

// SetTPS installs a new watermark after a merge pass completes.
func (b *Base) SetTPS(tps int64) { b.tps = tps }

// CopyForMerge produces a new base page at the next merge iteration: user
// column physical pages are duplicated (bufferpool.Copy) under fresh
// page-ids, metadata column page-ids are shared verbatim with the
// original. That sharing is what keeps indirection updates written after
// the snapshot was taken visible through the copy (spec.md §4.5, §4.10).
func (b *Base) CopyForMerge(numUserCols int) (*Base, error) {
	b.mu.Lock()
	nextIter := b.mergeIteration + 1
	reserved := append([]int64(nil), b.reservedRIDs...)
	b.mu.Unlock()

	next := &Base{
		Logical: Logical{
			table:        b.table,
			startingRID:  b.startingRID,
			numTotalCols: b.numTotalCols,
			numUserCols:  b.numUserCols,
			pool:         b.pool,
			reservedRIDs: reserved,
		},
		mergeIteration: nextIter,
		tps:            b.tps,
	}

	for col := 0; col < numUserCols; col++ {
		src := b.pageID(col, b.mergeIteration)
		dst := next.pageID(col, nextIter)
		if err := b.pool.Copy(src, dst); err != nil {
			return nil, errors.Wrapf(err, "logpage: copy-for-merge col %d", col)
		}
	}
	return next, nil
}

// Tail is a tail logical page: holds update versions, sealed (never
// modified again) once full.
type Tail struct {
	Logical
}

// NewTail allocates a fresh tail logical page. reservedRIDs must be the
// common.SlotsPerPage RIDs a ridgen.Generator allocated for this page
// (ridgen.Generator.NewTailRIDsForPage).
//
// Tail rows are never merge-copied, so their column page-ids never need to
// diverge by iteration; numUserCols is threaded through anyway so
// Logical.pageID's rule is uniform across both page kinds.
func NewTail(table string, startingRID common.RID, numTotalCols, numUserCols int, pool *bufferpool.Pool, reservedRIDs []int64) *Tail {
	return &Tail{Logical: newLogical(table, startingRID, numTotalCols, numUserCols, pool, reservedRIDs)}
}

// RehydrateTail reconstructs a tail logical page from catalog-persisted
// metadata on database open.
func RehydrateTail(table string, startingRID common.RID, numTotalCols, numUserCols int, pool *bufferpool.Pool, usedSlots int) *Tail {
	reserved := reservedRIDsForUsedSlots(startingRID, usedSlots)
	return &Tail{Logical: newLogical(table, startingRID, numTotalCols, numUserCols, pool, reserved)}
}

// InsertRecord inserts a new tail row and returns its RID and slot.
func (t *Tail) InsertRecord(columns []*int64) (common.RID, int, error) {
	return t.insertRecord(columns, 0)
}

// GetColumn reads column col at slot.
func (t *Tail) GetColumn(col int, slot int) (int64, error) {
	return t.Logical.GetColumn(col, slot, 0)
}

// SetIndirection overwrites the indirection column for the record at slot.
// Tail rows carry an indirection column too (it chains to the prior
// version), so invalidate_record's chain walk can rewrite it regardless of
// whether the current link is a base or a tail page.
func (t *Tail) SetIndirection(indirectionCol int, slot int, value int64) error {
	return t.setColumn(indirectionCol, slot, value, 0)
}

// SetColumn overwrites an arbitrary column for the record at slot, e.g. the
// base_rid metadata column a tail row carries back to its owning base.
func (t *Tail) SetColumn(col int, slot int, value int64) error {
	return t.setColumn(col, slot, value, 0)
}
