// Package index implements the primary and secondary indexes: the unique
// primary-key → base-RID map, and the multi-valued attribute-value →
// base-RID-set maps kept one per non-primary user column, optionally
// backed by an out-of-process-equivalent async worker.
//
// Grounded on the original lstore index.py/secondary.py/mp_secondary.py and
// on the teacher's hashindex/shard.go sharded concurrent map plus
// hashindex/hashindex.go's background-worker-with-stop-channel idiom.
package index

import (
	"sync"

	"github.com/intellect4all/lstore/common"
	"github.com/pkg/errors"
)

// Primary is the unique primary-key → base-RID map.
type Primary struct {
	mu   sync.RWMutex
	rids map[int64]common.RID
}

// NewPrimary returns an empty primary index.
func NewPrimary() *Primary {
	return &Primary{rids: make(map[int64]common.RID)}
}

// Add registers key → rid. Fails with common.ErrDuplicateKey if key is
// already present.
func (p *Primary) Add(key int64, rid common.RID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.rids[key]; exists {
		return errors.Wrapf(common.ErrDuplicateKey, "primary index: key %d", key)
	}
	p.rids[key] = rid
	return nil
}

// Get returns the base RID for key, or common.ErrKeyNotFound.
func (p *Primary) Get(key int64) (common.RID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rid, ok := p.rids[key]
	if !ok {
		return common.InvalidRID, errors.Wrapf(common.ErrKeyNotFound, "primary index: key %d", key)
	}
	return rid, nil
}

// Exists reports whether key is present.
func (p *Primary) Exists(key int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.rids[key]
	return ok
}

// Delete removes key. Fails with common.ErrKeyNotFound if absent.
func (p *Primary) Delete(key int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rids[key]; !ok {
		return errors.Wrapf(common.ErrKeyNotFound, "primary index: key %d", key)
	}
	delete(p.rids, key)
	return nil
}

// Keys returns every registered primary key, in no particular order — used
// by Table.BruteForceSearch when no secondary index covers a column.
func (p *Primary) Keys() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]int64, 0, len(p.rids))
	for k := range p.rids {
		keys = append(keys, k)
	}
	return keys
}

// Len reports how many keys are registered.
func (p *Primary) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rids)
}

// Entries returns a snapshot copy of the full key → RID map, used by the
// catalog to persist the primary index alongside the secondary ones.
func (p *Primary) Entries() map[int64]common.RID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int64]common.RID, len(p.rids))
	for k, v := range p.rids {
		out[k] = v
	}
	return out
}

// LoadEntries replaces the index's contents with a previously-Entries()'d
// map, used when reopening a database.
func (p *Primary) LoadEntries(entries map[int64]common.RID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rids = make(map[int64]common.RID, len(entries))
	for k, v := range entries {
		p.rids[k] = v
	}
}
