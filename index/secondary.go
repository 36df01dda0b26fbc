package index

import (
	"encoding/gob"
	"io"
	"sort"
	"sync"

	"github.com/intellect4all/lstore/common"
	"github.com/pkg/errors"
)

const secondaryShards = 64

// secShard is one partition of a Secondary index's value → RID-set map,
// grounded on the teacher's hashindex/shard.go fine-grained-locking shard.
type secShard struct {
	mu     sync.RWMutex
	values map[int64]map[common.RID]struct{}
}

// seedSet is the optional ordered-RID structure spec.md §4.8 calls a
// "self-balancing BST"; no BST library is available anywhere in the
// retrieval pack (see DESIGN.md), so this is a sorted slice with
// binary-search insert/remove — adequate for the optional range-enumeration
// feature it backs, at the cost of O(n) mutation instead of O(log n).
type seedSet struct {
	mu   sync.Mutex
	rids []common.RID
}

func newSeedSet() *seedSet { return &seedSet{} }

func (s *seedSet) Add(rid common.RID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.rids), func(i int) bool { return s.rids[i] >= rid })
	if i < len(s.rids) && s.rids[i] == rid {
		return
	}
	s.rids = append(s.rids, 0)
	copy(s.rids[i+1:], s.rids[i:])
	s.rids[i] = rid
}

func (s *seedSet) Remove(rid common.RID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.rids), func(i int) bool { return s.rids[i] >= rid })
	if i < len(s.rids) && s.rids[i] == rid {
		s.rids = append(s.rids[:i], s.rids[i+1:]...)
	}
}

// Range returns every seeded RID in [lo, hi], ascending.
func (s *seedSet) Range(lo, hi common.RID) []common.RID {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := sort.Search(len(s.rids), func(i int) bool { return s.rids[i] >= lo })
	end := sort.Search(len(s.rids), func(i int) bool { return s.rids[i] > hi })
	if start >= end {
		return nil
	}
	out := make([]common.RID, end-start)
	copy(out, s.rids[start:end])
	return out
}

func (s *seedSet) All() []common.RID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.RID(nil), s.rids...)
}

func (s *seedSet) load(rids []common.RID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rids = append([]common.RID(nil), rids...)
	sort.Slice(s.rids, func(i, j int) bool { return s.rids[i] < s.rids[j] })
}

// Secondary is a multi-valued attribute-value → base-RID-set index for one
// non-primary user column.
type Secondary struct {
	col    int
	shards [secondaryShards]*secShard
	seeds  *seedSet // nil when seed tracking is disabled
}

// NewSecondary returns an empty secondary index for column col. withSeeds
// enables the optional ordered-RID seed set.
func NewSecondary(col int, withSeeds bool) *Secondary {
	s := &Secondary{col: col}
	for i := range s.shards {
		s.shards[i] = &secShard{values: make(map[int64]map[common.RID]struct{})}
	}
	if withSeeds {
		s.seeds = newSeedSet()
	}
	return s
}

// Column reports which user column this index covers.
func (s *Secondary) Column() int { return s.col }

func (s *Secondary) shardFor(value int64) *secShard {
	idx := uint64(value) % secondaryShards
	return s.shards[idx]
}

// Add registers value → rid.
func (s *Secondary) Add(value int64, rid common.RID) {
	shard := s.shardFor(value)
	shard.mu.Lock()
	set, ok := shard.values[value]
	if !ok {
		set = make(map[common.RID]struct{})
		shard.values[value] = set
	}
	set[rid] = struct{}{}
	shard.mu.Unlock()

	if s.seeds != nil {
		s.seeds.Add(rid)
	}
}

// Delete removes rid from value's set, pruning the value entry once empty.
func (s *Secondary) Delete(value int64, rid common.RID) {
	shard := s.shardFor(value)
	shard.mu.Lock()
	if set, ok := shard.values[value]; ok {
		delete(set, rid)
		if len(set) == 0 {
			delete(shard.values, value)
		}
	}
	shard.mu.Unlock()

	if s.seeds != nil {
		s.seeds.Remove(rid)
	}
}

// Search returns every base RID currently associated with value.
func (s *Secondary) Search(value int64) []common.RID {
	shard := s.shardFor(value)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	set := shard.values[value]
	out := make([]common.RID, 0, len(set))
	for rid := range set {
		out = append(out, rid)
	}
	return out
}

// RangeSeeds returns every seeded RID in [lo, hi], or an error if seed
// tracking wasn't enabled for this index.
func (s *Secondary) RangeSeeds(lo, hi common.RID) ([]common.RID, error) {
	if s.seeds == nil {
		return nil, errors.New("index: seed set not enabled for this secondary index")
	}
	return s.seeds.Range(lo, hi), nil
}

// secondaryFile is the on-disk representation: the value→RIDs container
// followed by the seed set, per spec.md §6's "container plus seed set, in
// that order" — encoded with encoding/gob since the payload is an opaque
// map-of-slices-of-int64 blob that none of the pack's structured
// serializers (yaml, reserved for the catalog) naturally fit; see
// DESIGN.md for the stdlib justification.
type secondaryFile struct {
	Column    int
	Container map[int64][]common.RID
	Seeds     []common.RID
}

// Save persists the index container and seed set to w.
func (s *Secondary) Save(w io.Writer) error {
	file := secondaryFile{Column: s.col, Container: make(map[int64][]common.RID)}
	for _, shard := range s.shards {
		shard.mu.RLock()
		for value, set := range shard.values {
			rids := make([]common.RID, 0, len(set))
			for rid := range set {
				rids = append(rids, rid)
			}
			file.Container[value] = rids
		}
		shard.mu.RUnlock()
	}
	if s.seeds != nil {
		file.Seeds = s.seeds.All()
	}
	if err := gob.NewEncoder(w).Encode(&file); err != nil {
		return errors.Wrap(err, "index: save secondary index")
	}
	return nil
}

// Load replaces the index's contents with what was previously Saved.
func (s *Secondary) Load(r io.Reader) error {
	var file secondaryFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return errors.Wrap(err, "index: load secondary index")
	}
	for i := range s.shards {
		s.shards[i] = &secShard{values: make(map[int64]map[common.RID]struct{})}
	}
	for value, rids := range file.Container {
		shard := s.shardFor(value)
		set := make(map[common.RID]struct{}, len(rids))
		for _, rid := range rids {
			set[rid] = struct{}{}
		}
		shard.values[value] = set
	}
	if s.seeds != nil {
		s.seeds.load(file.Seeds)
	}
	return nil
}
