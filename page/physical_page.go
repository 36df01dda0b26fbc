// Package page implements the physical page: a fixed-size byte buffer
// holding one column's slot array, plus the dirty/pin/timestamp metadata
// the buffer pool needs to manage it.
//
// Grounded on the original lstore phys_page.py (get/insert/pin/dirty/
// timestamp semantics) and on the teacher's btree/page.go fixed-buffer,
// header-at-construction layout style.
package page

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/intellect4all/lstore/common"
	"github.com/pkg/errors"
)

// Physical is one physical page: common.SlotsPerPage slots of
// common.AttributeSize bytes each, two's complement big-endian.
//
// spec.md §4.7/§5 lets page-range readers race lock-free with concurrent
// updaters, relying only on "the atomic slot write of physical pages" —
// in the original Python that's an artifact of the GIL; Go has no
// equivalent, so this mutex is what actually delivers that guarantee here.
type Physical struct {
	mu        sync.Mutex
	data      [common.PhysicalPageSize]byte
	pinCount  int
	dirty     bool
	timestamp time.Time
}

// New returns a zero-filled physical page.
func New() *Physical {
	return &Physical{timestamp: time.Now()}
}

// FromBytes reconstructs a physical page from a previously-written byte
// image (exactly common.PhysicalPageSize bytes).
func FromBytes(data []byte) (*Physical, error) {
	if len(data) != common.PhysicalPageSize {
		return nil, errors.Wrapf(common.ErrCorrupt, "physical page: expected %d bytes, got %d", common.PhysicalPageSize, len(data))
	}
	p := &Physical{timestamp: time.Now()}
	copy(p.data[:], data)
	return p, nil
}

// Bytes returns the raw byte image of the page, for writing to disk.
func (p *Physical) Bytes() []byte {
	return p.data[:]
}

func validSlot(slot int) bool {
	return slot >= 0 && slot < common.SlotsPerPage
}

// Get reads the int64 value stored at slot, refreshing the timestamp.
func (p *Physical) Get(slot int) (int64, error) {
	if !validSlot(slot) {
		return 0, errors.Errorf("physical page: slot %d out of range", slot)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	off := slot * common.AttributeSize
	v := int64(binary.BigEndian.Uint64(p.data[off : off+common.AttributeSize]))
	p.timestamp = time.Now()
	return v, nil
}

// Set writes value at slot. Every int64 fits a full-width (AttributeSize 8)
// slot, so no range check is made and common.ErrOutOfRange is never
// returned; a bad slot returns an error without touching state.
func (p *Physical) Set(slot int, value int64) error {
	if !validSlot(slot) {
		return errors.Errorf("physical page: slot %d out of range", slot)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	off := slot * common.AttributeSize
	binary.BigEndian.PutUint64(p.data[off:off+common.AttributeSize], uint64(value))
	p.dirty = true
	p.timestamp = time.Now()
	return nil
}

// IsDirty reports whether the page has unflushed writes.
func (p *Physical) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// MarkDirty forces the dirty flag, e.g. after an in-place merge rewrite.
func (p *Physical) MarkDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = true
}

// ClearDirty is called by the buffer pool immediately after a successful
// flush to disk.
func (p *Physical) ClearDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = false
}

// Pin increments the pin count; a pinned page can't be evicted.
func (p *Physical) Pin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinCount++
}

// Unpin decrements the pin count.
func (p *Physical) Unpin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pinCount > 0 {
		p.pinCount--
	}
}

// CanEvict reports whether the page's pin count is zero.
func (p *Physical) CanEvict() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pinCount == 0
}

// Timestamp returns the time of the last Get/Set, used by the buffer
// pool's LRU-like eviction policy.
func (p *Physical) Timestamp() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timestamp
}

// Clone deep-copies the page's byte image under a fresh timestamp, used
// by the buffer pool's Copy operation (page-range merge snapshots).
func (p *Physical) Clone() *Physical {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := &Physical{timestamp: time.Now(), dirty: true}
	copy(clone.data[:], p.data[:])
	return clone
}
