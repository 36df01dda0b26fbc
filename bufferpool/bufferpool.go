// Package bufferpool caches physical pages in memory and mediates all
// access to them: faulting pages in from disk, evicting the coldest
// unpinned page when full, and write-through on eviction and close.
//
// Grounded on the original lstore bufferpool.py (insert_page/copy_page/
// get_page/evict_all_pages over a dict keyed by page-id, with a
// timestamp-sorted scan to pick an eviction victim) and, for the resident
// map plus LRU-by-recency idiom, the teacher's btree/pager.go
// (cache/lru/lruMap/dirty fields, evictLRU). The teacher's pager keys pages
// by uint32 page number within one file; here the key is the spec's
// string page-id and the backing store is one file per page (disk.Interface).
package bufferpool

import (
	"container/list"
	"sync"

	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/disk"
	"github.com/intellect4all/lstore/page"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Pool is a fixed-capacity cache of physical pages, keyed by page-id.
type Pool struct {
	mu       sync.Mutex
	disk     *disk.Interface
	capacity int
	resident map[common.PageID]*page.Physical
	lru      *list.List                           // front = most recently touched
	lruElem  map[common.PageID]*list.Element
	log      *logrus.Logger

	evictions int64
}

// New returns a buffer pool of the given capacity (in physical pages),
// backed by the given disk root directory.
func New(dir string, capacity int, log *logrus.Logger) (*Pool, error) {
	if capacity <= 0 {
		capacity = common.MaxBufferPoolSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	d, err := disk.New(dir)
	if err != nil {
		return nil, err
	}
	return &Pool{
		disk:     d,
		capacity: capacity,
		resident: make(map[common.PageID]*page.Physical),
		lru:      list.New(),
		lruElem:  make(map[common.PageID]*list.Element),
		log:      log,
	}, nil
}

// touch moves id to the front of the LRU list (most recently used),
// creating its entry if absent.
func (p *Pool) touch(id common.PageID) {
	if elem, ok := p.lruElem[id]; ok {
		p.lru.MoveToFront(elem)
		return
	}
	elem := p.lru.PushFront(id)
	p.lruElem[id] = elem
}

func (p *Pool) forget(id common.PageID) {
	if elem, ok := p.lruElem[id]; ok {
		p.lru.Remove(elem)
		delete(p.lruElem, id)
	}
}

// Insert writes value into slot of page-id, faulting the page in from disk
// or creating a fresh zero-filled page if it exists nowhere yet. Evicts
// first if the pool is full. The page is marked dirty.
func (p *Pool) Insert(id common.PageID, slot int, value int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	phys, ok := p.resident[id]
	if !ok {
		var err error
		phys, err = p.faultInLocked(id)
		if err != nil {
			return err
		}
	}

	if err := phys.Set(slot, value); err != nil {
		return err
	}
	p.touch(id)
	return nil
}

// faultInLocked returns the resident page for id, evicting room for it and
// loading it from disk or creating it fresh. Caller holds p.mu.
func (p *Pool) faultInLocked(id common.PageID) (*page.Physical, error) {
	if len(p.resident) >= p.capacity {
		p.evictLocked()
	}

	var phys *page.Physical
	if p.disk.Exists(id) {
		loaded, err := p.disk.Read(id)
		if err != nil {
			return nil, errors.Wrapf(err, "bufferpool: fault in %q", id)
		}
		phys = loaded
		p.log.WithField("page", string(id)).Debug("bufferpool: fault in from disk")
	} else {
		phys = page.New()
	}
	p.resident[id] = phys
	p.touch(id)
	return phys, nil
}

// Get returns the resident or on-disk page for id, or nil if it exists
// neither in memory nor on disk. Faults the page in (without marking it
// dirty) and counts toward the pool's capacity.
func (p *Pool) Get(id common.PageID) (*page.Physical, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if phys, ok := p.resident[id]; ok {
		p.touch(id)
		return phys, nil
	}
	if !p.disk.Exists(id) {
		return nil, nil
	}
	return p.faultInLocked(id)
}

// Copy duplicates the page under src into a fresh page under dst. Fails if
// dst already exists resident or on disk — merge relies on this to refuse
// double-installing a snapshot under the same id.
func (p *Pool) Copy(src, dst common.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.resident[dst]; ok {
		return errors.Errorf("bufferpool: copy destination %q already resident", dst)
	}
	if p.disk.Exists(dst) {
		return errors.Errorf("bufferpool: copy destination %q already on disk", dst)
	}

	srcPhys, ok := p.resident[src]
	if !ok {
		var err error
		srcPhys, err = p.faultInLocked(src)
		if err != nil {
			return errors.Wrapf(err, "bufferpool: copy source %q", src)
		}
	}

	if len(p.resident) >= p.capacity {
		p.evictLocked()
	}

	clone := srcPhys.Clone()
	p.resident[dst] = clone
	p.touch(dst)
	return nil
}

// evictLocked picks the oldest evictable (unpinned) resident page by
// timestamp and removes it, flushing first if dirty. If no page is
// evictable it is a no-op — spec.md §4.3 treats that case as a conceptual
// block; callers retry by simply proceeding (faultIn will exceed capacity
// by one rather than hang).
func (p *Pool) evictLocked() {
	type candidate struct {
		id   common.PageID
		phys *page.Physical
	}
	candidates := make([]candidate, 0, len(p.resident))
	for id, phys := range p.resident {
		if phys.CanEvict() {
			candidates = append(candidates, candidate{id, phys})
		}
	}
	if len(candidates) == 0 {
		return
	}
	oldest := candidates[0]
	for _, c := range candidates[1:] {
		if c.phys.Timestamp().Before(oldest.phys.Timestamp()) {
			oldest = c
		}
	}

	if oldest.phys.IsDirty() {
		if err := p.disk.Write(oldest.id, oldest.phys); err != nil {
			p.log.WithError(err).WithField("page", string(oldest.id)).Warn("bufferpool: flush on evict failed")
			return
		}
		oldest.phys.ClearDirty()
	}
	delete(p.resident, oldest.id)
	p.forget(oldest.id)
	p.evictions++
}

// EvictAll flushes and discards every resident page, e.g. on database close.
func (p *Pool) EvictAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.resident) > 0 {
		before := len(p.resident)
		p.evictLocked()
		if len(p.resident) == before {
			// Nothing evictable (all pinned) — drop the pin requirement so
			// close can still make progress; a pinned page left after the
			// caller is done using it is a caller bug, not a reason to hang.
			for id, phys := range p.resident {
				if phys.IsDirty() {
					if err := p.disk.Write(id, phys); err != nil {
						return errors.Wrapf(err, "bufferpool: evict-all flush %q", id)
					}
					phys.ClearDirty()
				}
				delete(p.resident, id)
				p.forget(id)
				break
			}
		}
	}
	return nil
}

// Flush writes every dirty resident page to disk without evicting it,
// giving callers a durability point cheaper than a full EvictAll. Used by
// catalog.Database's optional periodic flush job.
func (p *Pool) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, phys := range p.resident {
		if !phys.IsDirty() {
			continue
		}
		if err := p.disk.Write(id, phys); err != nil {
			return errors.Wrapf(err, "bufferpool: flush %q", id)
		}
		phys.ClearDirty()
	}
	return nil
}

// Evictions reports how many evictions have occurred, for diagnostics.
func (p *Pool) Evictions() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictions
}

// Resident reports how many pages currently occupy the pool.
func (p *Pool) Resident() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resident)
}
