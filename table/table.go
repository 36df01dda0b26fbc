// Package table implements the table: the owner of a RID generator, a page
// directory, a growing sequence of page ranges, a primary index, one
// secondary index per indexed user column, and the background merger that
// consolidates them.
//
// Grounded on the original lstore table.py (Table.__insert_record/
// __update_record/__delete_record/select/merge-threshold bookkeeping) and on
// the teacher's btree.Tree top-level coordinator (owns the pager, dispatches
// to node-level operations, exposes a small persisted-metadata surface for
// reopen).
package table

import (
	"encoding/gob"
	"os"
	"sync"

	"github.com/intellect4all/lstore/bufferpool"
	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/index"
	"github.com/intellect4all/lstore/logpage"
	"github.com/intellect4all/lstore/merge"
	"github.com/intellect4all/lstore/pagedir"
	"github.com/intellect4all/lstore/pagerange"
	"github.com/intellect4all/lstore/ridgen"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config describes a table's shape at creation time.
type Config struct {
	Name            string
	NumUserCols     int
	PrimaryKeyCol   int
	Cumulative      bool
	SecondaryCols   []int // user columns to maintain a secondary index for
	SeedCols        []int // subset of SecondaryCols with ordered-RID seed tracking enabled
	AsyncIndexes    bool  // drive secondary indexes through a background worker
	MergeQueueDepth int
}

// Table is one relation: a growing sequence of page ranges sharing one RID
// namespace, a unique primary-key index, and zero or more secondary
// indexes.
type Table struct {
	name          string
	numUserCols   int
	primaryKeyCol int
	cumulative    bool
	layout        common.MetadataLayout
	secondaryCols []int
	asyncIndexes  bool

	pool *bufferpool.Pool
	dir  *pagedir.Directory
	rids *ridgen.Generator

	primary   *index.Primary
	secondary map[int]*index.Secondary
	workers   map[int]*index.Worker

	merger          *merge.Merger
	mergeQueueDepth int

	mu     sync.Mutex
	ranges []*pagerange.Range

	log *logrus.Logger
}

// New creates a fresh, empty table. Its merger is constructed but not
// started — call StartMerger (and, for async indexes, the workers are
// started automatically) once the table is registered with its catalog.
func New(cfg Config, pool *bufferpool.Pool, log *logrus.Logger) *Table {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Table{
		name:            cfg.Name,
		numUserCols:     cfg.NumUserCols,
		primaryKeyCol:   cfg.PrimaryKeyCol,
		cumulative:      cfg.Cumulative,
		layout:          common.NewMetadataLayout(cfg.NumUserCols, cfg.Cumulative),
		secondaryCols:   append([]int(nil), cfg.SecondaryCols...),
		asyncIndexes:    cfg.AsyncIndexes,
		pool:            pool,
		dir:             pagedir.New(),
		rids:            ridgen.New(),
		primary:         index.NewPrimary(),
		secondary:       make(map[int]*index.Secondary),
		mergeQueueDepth: cfg.MergeQueueDepth,
		log:             log,
	}
	t.merger = merge.New(cfg.MergeQueueDepth, log)

	seeded := make(map[int]bool, len(cfg.SeedCols))
	for _, c := range cfg.SeedCols {
		seeded[c] = true
	}
	for _, c := range t.secondaryCols {
		t.secondary[c] = index.NewSecondary(c, seeded[c])
	}
	if t.asyncIndexes {
		t.workers = make(map[int]*index.Worker, len(t.secondaryCols))
		for _, c := range t.secondaryCols {
			t.workers[c] = index.NewWorker(t.secondary[c], 256, log)
		}
	}
	return t
}

// StartMerger launches the table's background merge goroutine and, for
// async-index tables, every secondary index worker goroutine.
func (t *Table) StartMerger() {
	t.merger.Start()
	for _, w := range t.workers {
		w.Start()
	}
}

// StopMerger drains and stops the background merge goroutine.
func (t *Table) StopMerger() {
	t.merger.Stop()
}

// StopAsyncWorkers drains and stops every secondary-index worker goroutine.
// A no-op for tables configured with synchronous indexes.
func (t *Table) StopAsyncWorkers() {
	for _, w := range t.workers {
		w.Stop()
	}
}

// Name, NumUserColumns, PrimaryKeyColumn, Cumulative and SecondaryColumns
// expose the table's fixed shape.
func (t *Table) Name() string           { return t.name }
func (t *Table) NumUserColumns() int     { return t.numUserCols }
func (t *Table) PrimaryKeyColumn() int   { return t.primaryKeyCol }
func (t *Table) Cumulative() bool        { return t.cumulative }
func (t *Table) SecondaryColumns() []int { return append([]int(nil), t.secondaryCols...) }

func (t *Table) indexedMask() []bool {
	mask := make([]bool, t.numUserCols)
	for _, c := range t.secondaryCols {
		mask[c] = true
	}
	return mask
}

// currentRangeLocked returns the range new inserts should target, allocating
// a fresh one if there are none yet or the last one is full. Caller holds t.mu.
func (t *Table) currentRangeLocked() *pagerange.Range {
	if len(t.ranges) == 0 || t.ranges[len(t.ranges)-1].IsFull() {
		r := pagerange.New(t.name, t.numUserCols, t.cumulative, t.pool, t.dir, t.rids)
		t.ranges = append(t.ranges, r)
		return r
	}
	return t.ranges[len(t.ranges)-1]
}

// rangeFor returns the range owning base RID rid. Valid only for base RIDs:
// ranges fill to exactly pagerange.Capacity records in strict allocation
// order before a new one is opened, so integer division routes correctly
// (spec.md §4.9); tail RIDs are resolved purely through the shared page
// directory and never need this.
func (t *Table) rangeFor(rid common.RID) (*pagerange.Range, error) {
	if !common.IsBase(rid) {
		return nil, errors.Errorf("table: rid %d is not a base rid", rid)
	}
	idx := int((rid - 1) / int64(pagerange.Capacity))
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.ranges) {
		return nil, errors.Wrapf(common.ErrNotFound, "table: no page range for rid %d", rid)
	}
	return t.ranges[idx], nil
}

// addToIndex posts value → rid to the secondary index for col, through its
// worker if async indexing is enabled.
func (t *Table) addToIndex(col int, value int64, rid common.RID) {
	if w, ok := t.workers[col]; ok {
		w.Insert(value, rid)
		return
	}
	t.secondary[col].Add(value, rid)
}

func (t *Table) deleteFromIndex(col int, value int64, rid common.RID) {
	if w, ok := t.workers[col]; ok {
		w.Delete(value, rid)
		return
	}
	t.secondary[col].Delete(value, rid)
}

// InsertRecord inserts a new record, maintaining the primary and secondary
// indexes, and returns its base RID.
func (t *Table) InsertRecord(cols []int64) (common.RID, error) {
	if len(cols) != t.numUserCols {
		return common.InvalidRID, errors.Errorf("table: insert: expected %d columns, got %d", t.numUserCols, len(cols))
	}
	key := cols[t.primaryKeyCol]
	if t.primary.Exists(key) {
		return common.InvalidRID, errors.Wrapf(common.ErrDuplicateKey, "table %s: key %d", t.name, key)
	}

	var rid common.RID
	for attempt := 0; attempt < 2; attempt++ {
		t.mu.Lock()
		r := t.currentRangeLocked()
		t.mu.Unlock()

		got, err := r.InsertRecord(cols)
		if err != nil {
			return common.InvalidRID, errors.Wrap(err, "table: insert record")
		}
		if got != common.InvalidRID {
			rid = got
			break
		}
		// Lost the race to fill the last range; loop once to allocate a new one.
	}
	if rid == common.InvalidRID {
		return common.InvalidRID, errors.New("table: insert record: failed to allocate a page range")
	}

	if err := t.primary.Add(key, rid); err != nil {
		return common.InvalidRID, errors.Wrap(err, "table: insert record: primary index")
	}
	for _, c := range t.secondaryCols {
		t.addToIndex(c, cols[c], rid)
	}
	return rid, nil
}

// UpdateRecord appends a new version of the record identified by primaryKey.
// Entries in cols left nil are unchanged. If cols[PrimaryKeyColumn()] is
// non-nil and differs from primaryKey, the primary index is re-keyed.
func (t *Table) UpdateRecord(primaryKey int64, cols []*int64) error {
	rid, err := t.primary.Get(primaryKey)
	if err != nil {
		return errors.Wrapf(err, "table %s: update", t.name)
	}

	r, err := t.rangeFor(rid)
	if err != nil {
		return err
	}

	mask := t.indexedMask()
	_, prior, err := r.UpdateRecord(rid, cols, mask)
	if err != nil {
		return errors.Wrap(err, "table: update record")
	}

	if newKey := cols[t.primaryKeyCol]; newKey != nil && *newKey != primaryKey {
		if t.primary.Exists(*newKey) {
			return errors.Wrapf(common.ErrDuplicateKey, "table %s: update: key %d", t.name, *newKey)
		}
		if err := t.primary.Delete(primaryKey); err != nil {
			return errors.Wrap(err, "table: update record: re-key primary index")
		}
		if err := t.primary.Add(*newKey, rid); err != nil {
			return errors.Wrap(err, "table: update record: re-key primary index")
		}
	}

	for _, c := range t.secondaryCols {
		if cols[c] == nil || prior[c] == nil {
			continue
		}
		if *prior[c] == *cols[c] {
			continue
		}
		t.deleteFromIndex(c, *prior[c], rid)
		t.addToIndex(c, *cols[c], rid)
	}

	if r.SealedTailCount() >= common.MergeTailThreshold {
		t.enqueueMerge(r)
	}
	return nil
}

// enqueueMerge drains r's pending merge input and posts it to the table's
// merger.
func (t *Table) enqueueMerge(r *pagerange.Range) {
	drained := r.DrainMergeInput()
	req := merge.Request{
		Sink: r,
		Input: merge.Input{
			UpdatedBases:      drained.UpdatedBases,
			SealedTailPages:   drained.SealedTailPages,
			PreviousWatermark: drained.PreviousWatermark,
		},
		NumUserCols: t.numUserCols,
		Cumulative:  t.cumulative,
		Layout:      t.layout,
	}
	t.merger.Enqueue(req)
}

// DeleteRecord logically deletes the record identified by primaryKey,
// removing it from the primary and secondary indexes.
func (t *Table) DeleteRecord(primaryKey int64) error {
	rid, err := t.primary.Get(primaryKey)
	if err != nil {
		return errors.Wrapf(err, "table %s: delete", t.name)
	}
	r, err := t.rangeFor(rid)
	if err != nil {
		return err
	}

	snapshot, err := r.InvalidateRecord(rid, t.indexedMask())
	if err != nil {
		return errors.Wrap(err, "table: delete record")
	}
	if err := t.primary.Delete(primaryKey); err != nil {
		return errors.Wrap(err, "table: delete record: primary index")
	}
	for _, c := range t.secondaryCols {
		if snapshot[c] != nil {
			t.deleteFromIndex(c, *snapshot[c], rid)
		}
	}
	return nil
}

// GetLatestColumnValues returns, for each requested RID, the current value
// of every column col where projection[col] is true (zero otherwise).
func (t *Table) GetLatestColumnValues(rids []common.RID, projection []bool) ([][]int64, error) {
	out := make([][]int64, len(rids))
	for i, rid := range rids {
		r, err := t.rangeFor(rid)
		if err != nil {
			return nil, err
		}
		row := make([]int64, t.numUserCols)
		for c := 0; c < t.numUserCols; c++ {
			if projection != nil && c < len(projection) && !projection[c] {
				continue
			}
			v, err := r.GetLatestColumnValue(rid, c)
			if err != nil {
				return nil, errors.Wrapf(err, "table: get column values: rid %d col %d", rid, c)
			}
			row[c] = v
		}
		out[i] = row
	}
	return out, nil
}

// GetVersionedRID resolves the RID of a specific past version of the record
// rooted at baseRID. relativeVersion 0 names the most recent version, -1 the
// one before it, and so on back to the original inserted version.
func (t *Table) GetVersionedRID(baseRID common.RID, relativeVersion int) (common.RID, error) {
	if relativeVersion > 0 {
		return common.InvalidRID, errors.Errorf("table: relative version must be <= 0, got %d", relativeVersion)
	}
	r, err := t.rangeFor(baseRID)
	if err != nil {
		return common.InvalidRID, err
	}
	chain, _, err := r.TailChain(baseRID)
	if err != nil {
		return common.InvalidRID, errors.Wrap(err, "table: get versioned rid")
	}

	// chain is [base, newest tail, ..., oldest tail]; newest-to-oldest order
	// is every tail entry followed by the base record itself.
	var newestToOldest []common.RID
	if len(chain) > 1 {
		newestToOldest = append(newestToOldest, chain[1:]...)
	}
	newestToOldest = append(newestToOldest, chain[0])

	idx := -relativeVersion
	if idx < 0 || idx >= len(newestToOldest) {
		return common.InvalidRID, errors.Errorf("table: relative version %d out of range for rid %d", relativeVersion, baseRID)
	}
	return newestToOldest[idx], nil
}

// BruteForceSearch scans every live primary key and returns the RIDs whose
// column col currently holds value — used when no secondary index covers
// col (spec.md §4.8's fallback path).
func (t *Table) BruteForceSearch(value int64, col int) ([]common.RID, error) {
	var out []common.RID
	for _, key := range t.primary.Keys() {
		rid, err := t.primary.Get(key)
		if err != nil {
			continue // deleted between Keys() and Get()
		}
		r, err := t.rangeFor(rid)
		if err != nil {
			return nil, err
		}
		v, err := r.GetLatestColumnValue(rid, col)
		if err != nil {
			continue
		}
		if v == value {
			out = append(out, rid)
		}
	}
	return out, nil
}

// Search returns the RIDs matching value in col, using col's secondary
// index if one exists (synchronously, or via WaitFor when async), falling
// back to BruteForceSearch otherwise.
func (t *Table) Search(value int64, col int) ([]common.RID, error) {
	if w, ok := t.workers[col]; ok {
		id := w.Search(value)
		resp := w.WaitFor(id)
		return resp.Result, resp.Err
	}
	if sec, ok := t.secondary[col]; ok {
		return sec.Search(value), nil
	}
	return t.BruteForceSearch(value, col)
}

// primaryFileName and secondaryFileName follow spec.md §6's
// "<table>_attr_attribute_<col_index>" convention; the primary index is
// persisted the same way under a reserved "primary" pseudo-column name.
func primaryFileName(root, table string) string {
	return root + "/" + table + "_attr_attribute_primary"
}

func secondaryFileName(root, table string, col int) string {
	return root + "/" + table + "_attr_attribute_" + itoa(col)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SaveIndexes persists the primary index and every secondary index to files
// under root, posting through each index's worker (and waiting for
// completion) when async indexing is enabled.
func (t *Table) SaveIndexes(root string) error {
	f, err := os.Create(primaryFileName(root, t.name))
	if err != nil {
		return errors.Wrap(err, "table: save primary index")
	}
	err = gob.NewEncoder(f).Encode(t.primary.Entries())
	f.Close()
	if err != nil {
		return errors.Wrap(err, "table: save primary index")
	}

	for _, c := range t.secondaryCols {
		path := secondaryFileName(root, t.name, c)
		if w, ok := t.workers[c]; ok {
			id := w.SaveIndex(path)
			if resp := w.WaitFor(id); resp.Err != nil {
				return errors.Wrapf(resp.Err, "table: save secondary index col %d", c)
			}
			continue
		}
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "table: save secondary index col %d", c)
		}
		err = t.secondary[c].Save(f)
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "table: save secondary index col %d", c)
		}
	}
	return nil
}

// LoadIndexes restores the primary index and every secondary index from
// files previously written by SaveIndexes.
func (t *Table) LoadIndexes(root string) error {
	f, err := os.Open(primaryFileName(root, t.name))
	if err != nil {
		return errors.Wrap(err, "table: load primary index")
	}
	var entries map[int64]common.RID
	err = gob.NewDecoder(f).Decode(&entries)
	f.Close()
	if err != nil {
		return errors.Wrap(err, "table: load primary index")
	}
	t.primary.LoadEntries(entries)

	for _, c := range t.secondaryCols {
		path := secondaryFileName(root, t.name, c)
		if w, ok := t.workers[c]; ok {
			id := w.LoadIndex(path)
			if resp := w.WaitFor(id); resp.Err != nil {
				return errors.Wrapf(resp.Err, "table: load secondary index col %d", c)
			}
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "table: load secondary index col %d", c)
		}
		err = t.secondary[c].Load(f)
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "table: load secondary index col %d", c)
		}
	}
	return nil
}

// BasePageMeta, TailPageMeta, RangeMeta and TableMeta are the catalog's
// persisted description of a table's page-level bookkeeping, rebuilt on
// reopen via Restore.
type BasePageMeta struct {
	StartingRID    common.RID
	MergeIteration int
	TPS            int64
	UsedSlots      int
}

type TailPageMeta struct {
	StartingRID common.RID
	UsedSlots   int
}

type RangeMeta struct {
	BasePages          []BasePageMeta
	TailPages          []TailPageMeta
	OpenTailIndex      int
	SealedIndexes      []int
	UpdatedBaseIndexes []int
	FirstUpdateSeen    []common.RID
	Watermark          int64
}

type TableMeta struct {
	Name            string
	NumUserCols     int
	PrimaryKeyCol   int
	Cumulative      bool
	SecondaryCols   []int
	SeedCols        []int
	AsyncIndexes    bool
	MergeQueueDepth int
	Ranges          []RangeMeta
	NextBaseRID     int64
	NextTailRID     int64
}

// Describe snapshots the table's full page-range bookkeeping into a
// TableMeta the catalog can serialize.
func (t *Table) Describe() TableMeta {
	t.mu.Lock()
	ranges := append([]*pagerange.Range(nil), t.ranges...)
	t.mu.Unlock()

	nextBase, nextTail := t.rids.Snapshot()
	meta := TableMeta{
		Name:            t.name,
		NumUserCols:     t.numUserCols,
		PrimaryKeyCol:   t.primaryKeyCol,
		Cumulative:      t.cumulative,
		SecondaryCols:   append([]int(nil), t.secondaryCols...),
		AsyncIndexes:    t.asyncIndexes,
		MergeQueueDepth: t.mergeQueueDepth,
		NextBaseRID:     nextBase,
		NextTailRID:     nextTail,
	}
	for _, c := range t.secondaryCols {
		// RangeSeeds fails only when seed tracking is off for the index.
		if _, err := t.secondary[c].RangeSeeds(0, 0); err == nil {
			meta.SeedCols = append(meta.SeedCols, c)
		}
	}

	for _, r := range ranges {
		basePages := r.BasePages()
		tailPages := r.AllTailPages()
		openTail := r.OpenTail()
		sealed := r.PendingSealedTailPages()
		updated := r.PendingUpdatedBases()

		rm := RangeMeta{OpenTailIndex: -1, Watermark: r.Watermark(), FirstUpdateSeen: r.FirstUpdateSeen()}
		for _, b := range basePages {
			rm.BasePages = append(rm.BasePages, BasePageMeta{
				StartingRID:    b.StartingRID(),
				MergeIteration: b.MergeIteration(),
				TPS:            b.TPS(),
				UsedSlots:      b.UsedSlots(),
			})
			for _, ub := range updated {
				if ub.StartingRID() == b.StartingRID() {
					rm.UpdatedBaseIndexes = append(rm.UpdatedBaseIndexes, len(rm.BasePages)-1)
					break
				}
			}
		}
		for i, tp := range tailPages {
			rm.TailPages = append(rm.TailPages, TailPageMeta{
				StartingRID: tp.StartingRID(),
				UsedSlots:   tp.UsedSlots(),
			})
			if openTail != nil && tp.StartingRID() == openTail.StartingRID() {
				rm.OpenTailIndex = i
			}
			for _, st := range sealed {
				if st.StartingRID() == tp.StartingRID() {
					rm.SealedIndexes = append(rm.SealedIndexes, i)
					break
				}
			}
		}
		meta.Ranges = append(meta.Ranges, rm)
	}
	return meta
}

// Restore rebuilds a table from catalog-persisted metadata: logical pages
// are reconstructed and re-registered in a fresh page directory, the RID
// generator resumes from where it left off, and a fresh merger/worker set
// is created (not started — the caller starts them once every table in the
// database has been restored).
func Restore(meta TableMeta, pool *bufferpool.Pool, log *logrus.Logger) *Table {
	t := New(Config{
		Name:            meta.Name,
		NumUserCols:     meta.NumUserCols,
		PrimaryKeyCol:   meta.PrimaryKeyCol,
		Cumulative:      meta.Cumulative,
		SecondaryCols:   meta.SecondaryCols,
		SeedCols:        meta.SeedCols,
		AsyncIndexes:    meta.AsyncIndexes,
		MergeQueueDepth: meta.MergeQueueDepth,
	}, pool, log)
	t.rids = ridgen.Restore(meta.NextBaseRID, meta.NextTailRID)

	for _, rm := range meta.Ranges {
		r := pagerange.New(t.name, t.numUserCols, t.cumulative, t.pool, t.dir, t.rids)

		basePages := make([]*logpage.Base, len(rm.BasePages))
		for i, bm := range rm.BasePages {
			b := logpage.RehydrateBase(t.name, bm.StartingRID, t.layout.NumTotalCols, t.numUserCols, t.pool, bm.MergeIteration, bm.TPS, bm.UsedSlots)
			t.dir.Insert(b)
			basePages[i] = b
		}
		tailPages := make([]*logpage.Tail, len(rm.TailPages))
		for i, tm := range rm.TailPages {
			tp := logpage.RehydrateTail(t.name, tm.StartingRID, t.layout.NumTotalCols, t.numUserCols, t.pool, tm.UsedSlots)
			t.dir.Insert(tp)
			tailPages[i] = tp
		}

		r.Adopt(pagerange.RehydrateState{
			BasePages:          basePages,
			TailPages:          tailPages,
			OpenTailIndex:      rm.OpenTailIndex,
			SealedIndexes:      rm.SealedIndexes,
			UpdatedBaseIndexes: rm.UpdatedBaseIndexes,
			FirstUpdateSeen:    rm.FirstUpdateSeen,
			Watermark:          rm.Watermark,
		})
		t.ranges = append(t.ranges, r)
	}
	return t
}
