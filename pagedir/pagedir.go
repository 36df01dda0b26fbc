// Package pagedir implements the page directory: the map from a logical
// page's starting RID to the page itself (base or tail alike), used to
// resolve an arbitrary RID to its owning page via
// common.StartingRIDOf(rid) + common.SlotOf(rid).
//
// Grounded on the original lstore page_directory.py (insert_page/get_page/
// delete_page/update_page over one dict). spec.md §4.6/§5 calls out that a
// single mutex is sufficient here — unlike the secondary index, which this
// module (see package index) shards for write concurrency — so no sharding
// is applied.
package pagedir

import (
	"sync"

	"github.com/intellect4all/lstore/common"
	"github.com/pkg/errors"
)

// LogicalPage is the subset of *logpage.Base / *logpage.Tail the directory
// and chain-walking code need, independent of which concrete page type
// backs a given starting RID.
type LogicalPage interface {
	StartingRID() common.RID
	GetColumn(col int, slot int) (int64, error)
	SetIndirection(indirectionCol int, slot int, value int64) error
}

// Directory maps starting RIDs to the logical page currently authoritative
// for them. A merge pass replaces base-page entries in place (ReplacePage)
// so readers never observe a starting RID mapped to nothing.
type Directory struct {
	mu    sync.Mutex
	pages map[common.RID]LogicalPage
}

// New returns an empty page directory.
func New() *Directory {
	return &Directory{pages: make(map[common.RID]LogicalPage)}
}

// Insert registers a freshly allocated logical page under its starting RID.
// common.Invariant panics if the starting RID is already present — the
// original's insert_page has no such guard, but spec.md treats a directory
// double-insert as assertion-class corruption, matching delete_page's own
// assert-on-missing-key behavior in the original.
func (d *Directory) Insert(page LogicalPage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rid := page.StartingRID()
	_, exists := d.pages[rid]
	common.Invariant(!exists, "pagedir: starting RID %d already present", rid)
	d.pages[rid] = page
}

// Get returns the logical page owning startingRID, or common.ErrNotFound.
func (d *Directory) Get(startingRID common.RID) (LogicalPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	page, ok := d.pages[startingRID]
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "pagedir: starting RID %d", startingRID)
	}
	return page, nil
}

// Delete removes the entry for startingRID. common.Invariant panics if
// absent, mirroring the original's assert.
func (d *Directory) Delete(startingRID common.RID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pages[startingRID]
	common.Invariant(ok, "pagedir: delete of missing starting RID %d", startingRID)
	delete(d.pages, startingRID)
}

// ReplacePage atomically swaps the page registered under startingRID, used
// by the merger to install a freshly merged CopyForMerge result without a
// window where the starting RID maps to nothing.
func (d *Directory) ReplacePage(startingRID common.RID, next LogicalPage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pages[startingRID]
	common.Invariant(ok, "pagedir: replace of missing starting RID %d", startingRID)
	d.pages[startingRID] = next
}

// StartingRIDs returns every registered starting RID, base and tail alike,
// in no particular order.
func (d *Directory) StartingRIDs() []common.RID {
	d.mu.Lock()
	defer d.mu.Unlock()

	rids := make([]common.RID, 0, len(d.pages))
	for rid := range d.pages {
		rids = append(rids, rid)
	}
	return rids
}

// Len reports how many logical pages are currently registered.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pages)
}
