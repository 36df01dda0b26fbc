package logpage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intellect4all/lstore/bufferpool"
	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/common/testutil"
	"github.com/intellect4all/lstore/ridgen"
)

func newTestPool(t *testing.T) *bufferpool.Pool {
	t.Helper()
	pool, err := bufferpool.New(testutil.TempDir(t), 64, nil)
	require.NoError(t, err)
	return pool
}

func ptr(v int64) *int64 { return &v }

func TestBaseInsertRecordAndGetColumn(t *testing.T) {
	pool := newTestPool(t)
	gen := ridgen.New()
	rids := gen.NewBaseRIDsForPage()
	b := NewBase("t", rids[len(rids)-1], 3, 2, pool, rids)

	rid, slot, err := b.InsertRecord([]*int64{ptr(10), ptr(20), ptr(1)})
	require.NoError(t, err)
	require.Equal(t, common.RID(1), rid)
	require.Equal(t, 0, slot)

	v, err := b.GetColumn(0, slot)
	require.NoError(t, err)
	require.Equal(t, int64(10), v)
}

func TestBaseInsertRecordFullReturnsInvalid(t *testing.T) {
	pool := newTestPool(t)
	gen := ridgen.New()
	rids := gen.NewBaseRIDsForPage()
	b := NewBase("t", rids[len(rids)-1], 3, 2, pool, rids)

	for i := 0; i < common.SlotsPerPage; i++ {
		_, _, err := b.InsertRecord([]*int64{ptr(int64(i)), ptr(0), ptr(0)})
		require.NoError(t, err)
	}
	require.True(t, b.IsFull())

	rid, slot, err := b.InsertRecord([]*int64{ptr(0), ptr(0), ptr(0)})
	require.NoError(t, err)
	require.Equal(t, common.InvalidRID, rid)
	require.Equal(t, common.InvalidSlot, slot)
}

func TestSetIndirectionAndSetColumn(t *testing.T) {
	pool := newTestPool(t)
	gen := ridgen.New()
	rids := gen.NewBaseRIDsForPage()
	b := NewBase("t", rids[len(rids)-1], 4, 2, pool, rids)

	rid, slot, err := b.InsertRecord([]*int64{ptr(1), ptr(2), nil, nil})
	require.NoError(t, err)

	require.NoError(t, b.SetIndirection(3, slot, int64(rid)))
	v, err := b.GetColumn(3, slot)
	require.NoError(t, err)
	require.Equal(t, int64(rid), v)

	require.NoError(t, b.SetColumn(2, slot, 999))
	v, err = b.GetColumn(2, slot)
	require.NoError(t, err)
	require.Equal(t, int64(999), v)
}

func TestUpdateRecordOverwritesUserColsOnly(t *testing.T) {
	pool := newTestPool(t)
	gen := ridgen.New()
	rids := gen.NewBaseRIDsForPage()
	b := NewBase("t", rids[len(rids)-1], 3, 2, pool, rids)

	_, slot, err := b.InsertRecord([]*int64{ptr(1), ptr(2), ptr(42)})
	require.NoError(t, err)

	require.NoError(t, b.UpdateRecord([]*int64{ptr(100), nil}, slot))
	v0, err := b.GetColumn(0, slot)
	require.NoError(t, err)
	require.Equal(t, int64(100), v0)

	v1, err := b.GetColumn(1, slot)
	require.NoError(t, err)
	require.Equal(t, int64(2), v1, "nil entries in UpdateRecord must leave the column unchanged")

	metaCol, err := b.GetColumn(2, slot)
	require.NoError(t, err)
	require.Equal(t, int64(42), metaCol, "UpdateRecord must never touch metadata columns")
}

func TestCopyForMergeSharesMetadataAndDuplicatesUserColumns(t *testing.T) {
	pool := newTestPool(t)
	gen := ridgen.New()
	rids := gen.NewBaseRIDsForPage()
	b := NewBase("t", rids[len(rids)-1], 3, 2, pool, rids)

	rid, slot, err := b.InsertRecord([]*int64{ptr(1), ptr(2), ptr(int64(rids[len(rids)-1]))})
	require.NoError(t, err)
	require.NoError(t, b.SetIndirection(2, slot, int64(rid)))

	cp, err := b.CopyForMerge(2)
	require.NoError(t, err)
	require.Equal(t, 1, cp.MergeIteration())

	// A post-snapshot indirection write on the original must be visible
	// through the copy, since metadata-column page-ids are shared.
	require.NoError(t, b.SetIndirection(2, slot, -999))
	v, err := cp.GetColumn(2, slot)
	require.NoError(t, err)
	require.Equal(t, int64(-999), v)

	// But user columns must be independent copies.
	require.NoError(t, cp.UpdateRecord([]*int64{ptr(777), nil}, slot))
	orig, err := b.GetColumn(0, slot)
	require.NoError(t, err)
	require.Equal(t, int64(1), orig, "CopyForMerge must duplicate user-column pages, not share them")
}

func TestTailInsertRecordAndSetIndirection(t *testing.T) {
	pool := newTestPool(t)
	gen := ridgen.New()
	rids := gen.NewTailRIDsForPage()
	tp := NewTail("t", rids[len(rids)-1], 3, 1, pool, rids)

	rid, slot, err := tp.InsertRecord([]*int64{ptr(5), ptr(1), ptr(int64(rids[len(rids)-1]))})
	require.NoError(t, err)
	require.True(t, common.IsTail(rid))

	require.NoError(t, tp.SetIndirection(2, slot, common.LogicalDelete))
	v, err := tp.GetColumn(2, slot)
	require.NoError(t, err)
	require.Equal(t, common.LogicalDelete, v)
}

func TestRehydrateBaseTracksUsedSlots(t *testing.T) {
	pool := newTestPool(t)
	b := RehydrateBase("t", 1, 3, 2, pool, 2, 0, 5)
	require.Equal(t, 5, b.UsedSlots())
	require.False(t, b.IsFull())

	rid, _, err := b.InsertRecord([]*int64{ptr(1), ptr(2), nil})
	require.NoError(t, err)
	require.Equal(t, common.RID(6), rid, "the next RID after 5 used slots on a page starting at 1 must be 6")
}
