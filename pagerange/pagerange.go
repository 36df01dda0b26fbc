// Package pagerange implements the page-range update/version chain: the
// bounded cluster of base pages plus the unbounded tail-page chain that
// together hold one contiguous slice of a table's base RID space.
//
// Grounded on the original lstore page_range.py (insert_record/
// update_record/get_latest_column_value/invalidate_record/tail chain
// walking via indirection, cumulative-vs-non-cumulative reconstruction) and
// on the teacher's btree/latch.go two-named-mutex idiom for
// insert_lock/update_lock.
package pagerange

import (
	"sync"

	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/logpage"
	"github.com/intellect4all/lstore/pagedir"
	"github.com/intellect4all/lstore/ridgen"

	"github.com/intellect4all/lstore/bufferpool"
	"github.com/pkg/errors"
)

// Capacity is the record capacity of one page range: common.MaxBasePagesPerRange
// base pages of common.SlotsPerPage slots each.
const Capacity = common.RecordsPerPageRange

// chainEntry is one row surfaced by TailChain.
type chainEntry struct {
	RID    common.RID
	Values []int64
}

// Range owns a bounded run of base pages and an open-ended chain of tail
// pages, and implements the version-chain logic: insert, update, point
// read, logical delete and diagnostic chain walking.
type Range struct {
	insertLock sync.Mutex
	updateLock sync.Mutex

	table       string
	numUserCols int
	cumulative  bool
	layout      common.MetadataLayout

	pool *bufferpool.Pool
	dir  *pagedir.Directory
	rids *ridgen.Generator

	// mu guards the bookkeeping slices/maps below, which insert_lock/
	// update_lock holders mutate; reads of GetLatestColumnValue never touch
	// mu, only the shared directory and physical-page locks, per spec.md
	// §4.7's lock-free-reader requirement.
	mu              sync.Mutex
	basePages       []*logpage.Base
	tailPages       []*logpage.Tail
	openTail        *logpage.Tail
	sealedTail      []*logpage.Tail
	updatedBases    map[common.RID]*logpage.Base
	firstUpdateSeen map[common.RID]bool
	lastWatermark   int64
}

// New returns an empty page range ready to accept inserts.
func New(table string, numUserCols int, cumulative bool, pool *bufferpool.Pool, dir *pagedir.Directory, rids *ridgen.Generator) *Range {
	return &Range{
		table:           table,
		numUserCols:     numUserCols,
		cumulative:      cumulative,
		layout:          common.NewMetadataLayout(numUserCols, cumulative),
		pool:            pool,
		dir:             dir,
		rids:            rids,
		updatedBases:    make(map[common.RID]*logpage.Base),
		firstUpdateSeen: make(map[common.RID]bool),
	}
}

// NumUserCols reports how many user columns this range's table has.
func (r *Range) NumUserCols() int { return r.numUserCols }

// Cumulative reports the range's tail-materialization mode.
func (r *Range) Cumulative() bool { return r.cumulative }

// IsFull reports whether the range has reached MaxBasePagesPerRange base
// pages and the last one is full — i.e. insert_record would fail.
func (r *Range) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.basePages) >= common.MaxBasePagesPerRange && r.basePages[len(r.basePages)-1].IsFull()
}

func startingRIDOfBatch(rids []int64) common.RID {
	return rids[len(rids)-1]
}

// allocateBasePage reserves a fresh base page's worth of RIDs and registers
// it in the shared directory. Caller holds insertLock and r.mu.
func (r *Range) allocateBasePage() *logpage.Base {
	rids := r.rids.NewBaseRIDsForPage()
	startingRID := startingRIDOfBatch(rids)
	page := logpage.NewBase(r.table, startingRID, r.layout.NumTotalCols, r.numUserCols, r.pool, rids)
	r.dir.Insert(page)
	r.basePages = append(r.basePages, page)
	return page
}

// allocateTailPage reserves a fresh tail page's worth of RIDs and registers
// it in the shared directory. Caller holds updateLock and r.mu.
func (r *Range) allocateTailPage() *logpage.Tail {
	rids := r.rids.NewTailRIDsForPage()
	startingRID := startingRIDOfBatch(rids)
	page := logpage.NewTail(r.table, startingRID, r.layout.NumTotalCols, r.numUserCols, r.pool, rids)
	r.dir.Insert(page)
	r.tailPages = append(r.tailPages, page)
	return page
}

// InsertRecord appends a new base record holding userCols, returning its
// base RID, or common.InvalidRID if the range is at capacity.
func (r *Range) InsertRecord(userCols []int64) (common.RID, error) {
	if len(userCols) != r.numUserCols {
		return common.InvalidRID, errors.Errorf("pagerange: insert: expected %d user columns, got %d", r.numUserCols, len(userCols))
	}

	r.insertLock.Lock()
	defer r.insertLock.Unlock()

	r.mu.Lock()
	var page *logpage.Base
	if len(r.basePages) == 0 || r.basePages[len(r.basePages)-1].IsFull() {
		if len(r.basePages) >= common.MaxBasePagesPerRange {
			r.mu.Unlock()
			return common.InvalidRID, nil
		}
		page = r.allocateBasePage()
	} else {
		page = r.basePages[len(r.basePages)-1]
	}
	r.mu.Unlock()

	columns := make([]*int64, r.layout.NumTotalCols)
	for i := range userCols {
		v := userCols[i]
		columns[i] = &v
	}

	rid, slot, err := page.InsertRecord(columns)
	if err != nil {
		return common.InvalidRID, errors.Wrap(err, "pagerange: insert record")
	}
	if rid == common.InvalidRID {
		return common.InvalidRID, nil
	}

	// A base record's indirection is its own RID until a tail is appended —
	// this doubles as the "no tail yet" sentinel (spec.md §4.7, §9).
	if err := page.SetIndirection(r.layout.Indirection, slot, rid); err != nil {
		return common.InvalidRID, errors.Wrap(err, "pagerange: insert record: set indirection")
	}
	if r.layout.BaseRID >= 0 {
		if err := page.SetColumn(r.layout.BaseRID, slot, rid); err != nil {
			return common.InvalidRID, errors.Wrap(err, "pagerange: insert record: set base_rid")
		}
	}
	return rid, nil
}

// resolveRow returns the logical page owning rid (base or tail, resolved
// through the shared directory) and the slot rid occupies within it.
func (r *Range) resolveRow(rid common.RID) (pagedir.LogicalPage, int, error) {
	startingRID := common.StartingRIDOf(rid)
	page, err := r.dir.Get(startingRID)
	if err != nil {
		return nil, common.InvalidSlot, errors.Wrapf(err, "pagerange: resolve rid %d", rid)
	}
	return page, common.SlotOf(rid), nil
}

func (r *Range) findBasePage(baseRID common.RID) (*logpage.Base, int, error) {
	lp, slot, err := r.resolveRow(baseRID)
	if err != nil {
		return nil, common.InvalidSlot, err
	}
	base, ok := lp.(*logpage.Base)
	if !ok {
		return nil, common.InvalidSlot, errors.Errorf("pagerange: rid %d is not a base record", baseRID)
	}
	return base, slot, nil
}

// GetLatestColumnValue returns the current value of column col for baseRID,
// following the indirection chain (cumulative: single hop to the latest
// tail; non-cumulative: walk until a schema-encoding bit is found set).
// Lock-free: relies only on the atomicity of individual column writes.
func (r *Range) GetLatestColumnValue(baseRID common.RID, col int) (int64, error) {
	base, baseSlot, err := r.findBasePage(baseRID)
	if err != nil {
		return 0, err
	}

	indirection, err := base.GetColumn(r.layout.Indirection, baseSlot)
	if err != nil {
		return 0, errors.Wrap(err, "pagerange: get latest: read base indirection")
	}
	if indirection == common.LogicalDelete {
		return 0, errors.Wrapf(common.ErrKeyNotFound, "pagerange: base rid %d is deleted", baseRID)
	}
	if indirection == baseRID {
		return base.GetColumn(col, baseSlot)
	}

	if r.cumulative {
		row, slot, err := r.resolveRow(indirection)
		if err != nil {
			return 0, err
		}
		return row.GetColumn(col, slot)
	}

	cur := indirection
	for cur != baseRID {
		row, slot, err := r.resolveRow(cur)
		if err != nil {
			return 0, err
		}
		schemaBits, err := row.GetColumn(r.layout.SchemaEnc, slot)
		if err != nil {
			return 0, errors.Wrap(err, "pagerange: get latest: read schema encoding")
		}
		if schemaBits&(int64(1)<<uint(col)) != 0 {
			return row.GetColumn(col, slot)
		}
		next, err := row.GetColumn(r.layout.Indirection, slot)
		if err != nil {
			return 0, errors.Wrap(err, "pagerange: get latest: follow indirection")
		}
		cur = next
	}
	return base.GetColumn(col, baseSlot)
}

// appendTailRow writes columns as a new tail row, sealing the currently
// open tail page (and reporting it for merge) if it becomes full. Caller
// holds updateLock.
func (r *Range) appendTailRow(columns []*int64) (common.RID, error) {
	r.mu.Lock()
	if r.openTail == nil {
		r.openTail = r.allocateTailPage()
	}
	page := r.openTail
	r.mu.Unlock()

	rid, _, err := page.InsertRecord(columns)
	if err != nil {
		return common.InvalidRID, errors.Wrap(err, "pagerange: append tail row")
	}
	if rid == common.InvalidRID {
		return common.InvalidRID, errors.New("pagerange: append tail row: open tail page unexpectedly full")
	}

	if page.IsFull() {
		r.mu.Lock()
		r.sealedTail = append(r.sealedTail, page)
		r.openTail = nil
		r.mu.Unlock()
	}
	return rid, nil
}

// UpdateRecord appends a new tail row reflecting cols (nil entries leave the
// corresponding column unchanged), returning the new tail RID and, for each
// position where indexedMask[c] is true and the value changed, the value it
// displaced (nil otherwise).
func (r *Range) UpdateRecord(baseRID common.RID, cols []*int64, indexedMask []bool) (common.RID, []*int64, error) {
	if len(cols) != r.numUserCols {
		return common.InvalidRID, nil, errors.Errorf("pagerange: update: expected %d user columns, got %d", r.numUserCols, len(cols))
	}

	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	base, baseSlot, err := r.findBasePage(baseRID)
	if err != nil {
		return common.InvalidRID, nil, err
	}

	indirection, err := base.GetColumn(r.layout.Indirection, baseSlot)
	if err != nil {
		return common.InvalidRID, nil, errors.Wrap(err, "pagerange: update: read base indirection")
	}
	if indirection == common.LogicalDelete {
		return common.InvalidRID, nil, errors.Wrapf(common.ErrKeyNotFound, "pagerange: update: base rid %d is deleted", baseRID)
	}

	// Snapshot prior values for indexed, changing columns before anything
	// is mutated, via the same chain walk readers use.
	prior := make([]*int64, r.numUserCols)
	for c := 0; c < r.numUserCols; c++ {
		if cols[c] == nil {
			continue
		}
		if indexedMask != nil && c < len(indexedMask) && indexedMask[c] {
			old, err := r.GetLatestColumnValue(baseRID, c)
			if err != nil {
				return common.InvalidRID, nil, err
			}
			if old == *cols[c] {
				continue
			}
			oldCopy := old
			prior[c] = &oldCopy
		}
	}

	r.mu.Lock()
	seen := r.firstUpdateSeen[baseRID]
	r.mu.Unlock()

	if r.cumulative && !seen {
		zeroth := make([]*int64, r.layout.NumTotalCols)
		for c := 0; c < r.numUserCols; c++ {
			v, err := base.GetColumn(c, baseSlot)
			if err != nil {
				return common.InvalidRID, nil, errors.Wrap(err, "pagerange: update: materialize zeroth tail row")
			}
			zeroth[c] = &v
		}
		zeroth[r.layout.BaseRID] = &baseRID
		selfRID := baseRID
		zeroth[r.layout.Indirection] = &selfRID

		zerothRID, err := r.appendTailRow(zeroth)
		if err != nil {
			return common.InvalidRID, nil, errors.Wrap(err, "pagerange: update: append zeroth tail row")
		}
		if err := base.SetIndirection(r.layout.Indirection, baseSlot, zerothRID); err != nil {
			return common.InvalidRID, nil, errors.Wrap(err, "pagerange: update: link zeroth tail row")
		}
		indirection = zerothRID

		r.mu.Lock()
		r.firstUpdateSeen[baseRID] = true
		r.mu.Unlock()
	}

	newRow := make([]*int64, r.layout.NumTotalCols)
	if r.cumulative {
		latestRow, latestSlot, err := r.resolveRow(indirection)
		if err != nil {
			return common.InvalidRID, nil, err
		}
		for c := 0; c < r.numUserCols; c++ {
			if cols[c] != nil {
				newRow[c] = cols[c]
				continue
			}
			v, err := latestRow.GetColumn(c, latestSlot)
			if err != nil {
				return common.InvalidRID, nil, errors.Wrap(err, "pagerange: update: read prior column for merge")
			}
			newRow[c] = &v
		}
	} else {
		var schemaBits int64
		for c := 0; c < r.numUserCols; c++ {
			if cols[c] != nil {
				newRow[c] = cols[c]
				schemaBits |= int64(1) << uint(c)
			}
		}
		newRow[r.layout.SchemaEnc] = &schemaBits
	}
	newRow[r.layout.BaseRID] = &baseRID
	newRow[r.layout.Indirection] = &indirection

	tailRID, err := r.appendTailRow(newRow)
	if err != nil {
		return common.InvalidRID, nil, errors.Wrap(err, "pagerange: update: append tail row")
	}

	if err := base.SetIndirection(r.layout.Indirection, baseSlot, tailRID); err != nil {
		return common.InvalidRID, nil, errors.Wrap(err, "pagerange: update: link new tail row")
	}

	r.mu.Lock()
	r.updatedBases[base.StartingRID()] = base
	r.mu.Unlock()

	return tailRID, prior, nil
}

// InvalidateRecord marks the entire chain for baseRID as logically deleted,
// returning a snapshot of the indexed columns' pre-delete values.
func (r *Range) InvalidateRecord(baseRID common.RID, indexedMask []bool) ([]*int64, error) {
	r.updateLock.Lock()
	defer r.updateLock.Unlock()

	snapshot := make([]*int64, r.numUserCols)
	for c := 0; c < r.numUserCols; c++ {
		if indexedMask != nil && c < len(indexedMask) && indexedMask[c] {
			v, err := r.GetLatestColumnValue(baseRID, c)
			if err != nil {
				return nil, err
			}
			snapshot[c] = &v
		}
	}

	cur := baseRID
	for {
		row, slot, err := r.resolveRow(cur)
		if err != nil {
			return nil, err
		}
		next, err := row.GetColumn(r.layout.Indirection, slot)
		if err != nil {
			return nil, errors.Wrap(err, "pagerange: invalidate: read indirection")
		}
		if err := row.SetIndirection(r.layout.Indirection, slot, common.LogicalDelete); err != nil {
			return nil, errors.Wrap(err, "pagerange: invalidate: set logical delete")
		}
		if next == baseRID {
			break
		}
		cur = next
	}
	return snapshot, nil
}

// TailChain returns the ordered sequence of (rid, full row) from the base
// forward through its indirection chain, stopping on loopback. Diagnostic
// only (spec.md §4.7).
func (r *Range) TailChain(baseRID common.RID) ([]common.RID, [][]int64, error) {
	var rids []common.RID
	var rows [][]int64

	cur := baseRID
	for {
		row, slot, err := r.resolveRow(cur)
		if err != nil {
			return nil, nil, err
		}
		values := make([]int64, r.layout.NumTotalCols)
		for c := 0; c < r.layout.NumTotalCols; c++ {
			v, err := row.GetColumn(c, slot)
			if err != nil {
				return nil, nil, errors.Wrap(err, "pagerange: tail chain: read column")
			}
			values[c] = v
		}
		rids = append(rids, cur)
		rows = append(rows, values)

		next, err := row.GetColumn(r.layout.Indirection, slot)
		if err != nil {
			return nil, nil, errors.Wrap(err, "pagerange: tail chain: follow indirection")
		}
		if next == baseRID {
			break
		}
		cur = next
	}
	return rids, rows, nil
}

// MergeInput is the batch of work the table hands the merger for this
// range: every base page touched since the last merge request, every tail
// page sealed since then, and the watermark the previous merge left behind.
type MergeInput struct {
	UpdatedBases     []*logpage.Base
	SealedTailPages  []*logpage.Tail
	PreviousWatermark int64
}

// SealedTailCount reports how many tail pages have sealed since the last
// merge request was drained — the table compares this against
// common.MergeTailThreshold.
func (r *Range) SealedTailCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sealedTail)
}

// DrainMergeInput snapshots the sealed-tail/updated-base lists for a merge
// request and clears them, per spec.md §4.9's "clears the page range's
// sealed-tail/updated-base lists" contract. The caller (the merger) is
// responsible for computing the new watermark and reporting it back via
// SetWatermark once the consolidation pass completes.
func (r *Range) DrainMergeInput() MergeInput {
	r.mu.Lock()
	defer r.mu.Unlock()

	input := MergeInput{
		UpdatedBases:      append([]*logpage.Base(nil), r.sealedBasesLocked()...),
		SealedTailPages:   append([]*logpage.Tail(nil), r.sealedTail...),
		PreviousWatermark: r.lastWatermark,
	}

	r.sealedTail = nil
	r.updatedBases = make(map[common.RID]*logpage.Base)
	return input
}

// Watermark returns the tail RID watermark already consolidated by the most
// recently completed merge pass (0 if none has run yet).
func (r *Range) Watermark() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastWatermark
}

// SetWatermark records the watermark a completed merge pass consolidated
// up to. Tail RIDs are negative, so "newer" means more negative.
func (r *Range) SetWatermark(w int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w < r.lastWatermark {
		r.lastWatermark = w
	}
}

func (r *Range) sealedBasesLocked() []*logpage.Base {
	bases := make([]*logpage.Base, 0, len(r.updatedBases))
	for _, b := range r.updatedBases {
		bases = append(bases, b)
	}
	return bases
}

// InstallMergedBase replaces a base page in the directory with a
// merge-produced copy, used by the merger to publish a consolidated image.
func (r *Range) InstallMergedBase(next *logpage.Base) {
	r.dir.ReplacePage(next.StartingRID(), next)
	r.mu.Lock()
	for i, b := range r.basePages {
		if b.StartingRID() == next.StartingRID() {
			r.basePages[i] = next
			break
		}
	}
	r.mu.Unlock()
}

// BasePages returns the range's base pages in append order, for merge
// scheduling and diagnostics.
func (r *Range) BasePages() []*logpage.Base {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*logpage.Base(nil), r.basePages...)
}

// Layout exposes the range's resolved metadata-column layout.
func (r *Range) Layout() common.MetadataLayout { return r.layout }

// AllTailPages returns every tail page ever created in this range, in
// creation order (sealed and open alike) — used by catalog persistence.
func (r *Range) AllTailPages() []*logpage.Tail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*logpage.Tail(nil), r.tailPages...)
}

// OpenTail returns the currently open (not yet sealed) tail page, or nil.
func (r *Range) OpenTail() *logpage.Tail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openTail
}

// PendingSealedTailPages returns the sealed tail pages not yet drained into
// a merge request.
func (r *Range) PendingSealedTailPages() []*logpage.Tail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*logpage.Tail(nil), r.sealedTail...)
}

// PendingUpdatedBases returns the base pages touched since the last merge
// request was drained.
func (r *Range) PendingUpdatedBases() []*logpage.Base {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealedBasesLocked()
}

// FirstUpdateSeen returns every base RID that has already received its
// cumulative-mode zeroth tail row — persisted so a reopen doesn't mistake a
// previously-updated record for one being updated for the first time.
func (r *Range) FirstUpdateSeen() []common.RID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rids := make([]common.RID, 0, len(r.firstUpdateSeen))
	for rid := range r.firstUpdateSeen {
		rids = append(rids, rid)
	}
	return rids
}

// RehydrateState is the catalog-persisted description of a page range's
// bookkeeping, used to rebuild a Range across a close/reopen cycle.
type RehydrateState struct {
	BasePages          []*logpage.Base
	TailPages          []*logpage.Tail // all tail pages, in creation order
	OpenTailIndex      int             // index into TailPages, or -1 if none open
	SealedIndexes      []int           // indexes into TailPages not yet merge-drained
	UpdatedBaseIndexes []int           // indexes into BasePages touched since last drain
	FirstUpdateSeen    []common.RID    // base RIDs whose zeroth cumulative tail row already exists
	Watermark          int64
}

// Adopt installs previously-reconstructed base/tail pages and bookkeeping
// into this (freshly New()-constructed) range, without touching the shared
// directory — callers register pages in the directory themselves as they
// reconstruct them.
func (r *Range) Adopt(state RehydrateState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.basePages = append([]*logpage.Base(nil), state.BasePages...)
	r.tailPages = append([]*logpage.Tail(nil), state.TailPages...)

	if state.OpenTailIndex >= 0 && state.OpenTailIndex < len(r.tailPages) {
		r.openTail = r.tailPages[state.OpenTailIndex]
	}

	r.sealedTail = nil
	for _, idx := range state.SealedIndexes {
		if idx >= 0 && idx < len(r.tailPages) {
			r.sealedTail = append(r.sealedTail, r.tailPages[idx])
		}
	}

	r.updatedBases = make(map[common.RID]*logpage.Base)
	for _, idx := range state.UpdatedBaseIndexes {
		if idx >= 0 && idx < len(r.basePages) {
			b := r.basePages[idx]
			r.updatedBases[b.StartingRID()] = b
		}
	}

	r.firstUpdateSeen = make(map[common.RID]bool, len(state.FirstUpdateSeen))
	for _, rid := range state.FirstUpdateSeen {
		r.firstUpdateSeen[rid] = true
	}

	r.lastWatermark = state.Watermark
}
