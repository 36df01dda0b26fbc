package pagerange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intellect4all/lstore/bufferpool"
	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/common/testutil"
	"github.com/intellect4all/lstore/pagedir"
	"github.com/intellect4all/lstore/ridgen"
)

func newTestRange(t *testing.T, numUserCols int, cumulative bool) *Range {
	t.Helper()
	pool, err := bufferpool.New(testutil.TempDir(t), 64, nil)
	require.NoError(t, err)
	return New("t", numUserCols, cumulative, pool, pagedir.New(), ridgen.New())
}

func TestInsertAndGetLatestColumnValue(t *testing.T) {
	r := newTestRange(t, 3, true)

	rid, err := r.InsertRecord([]int64{10, 20, 30})
	require.NoError(t, err)
	require.True(t, common.IsBase(rid))

	v, err := r.GetLatestColumnValue(rid, 1)
	require.NoError(t, err)
	require.Equal(t, int64(20), v)
}

func TestUpdateRecordCumulative(t *testing.T) {
	r := newTestRange(t, 3, true)
	rid, err := r.InsertRecord([]int64{1, 2, 3})
	require.NoError(t, err)

	newVal := int64(99)
	_, _, err = r.UpdateRecord(rid, []*int64{nil, &newVal, nil}, nil)
	require.NoError(t, err)

	v0, err := r.GetLatestColumnValue(rid, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), v0)

	v1, err := r.GetLatestColumnValue(rid, 1)
	require.NoError(t, err)
	require.Equal(t, int64(99), v1)
}

func TestUpdateRecordNonCumulative(t *testing.T) {
	r := newTestRange(t, 3, false)
	rid, err := r.InsertRecord([]int64{1, 2, 3})
	require.NoError(t, err)

	a := int64(100)
	_, _, err = r.UpdateRecord(rid, []*int64{&a, nil, nil}, nil)
	require.NoError(t, err)

	b := int64(200)
	_, _, err = r.UpdateRecord(rid, []*int64{nil, &b, nil}, nil)
	require.NoError(t, err)

	v0, err := r.GetLatestColumnValue(rid, 0)
	require.NoError(t, err)
	require.Equal(t, int64(100), v0)

	v1, err := r.GetLatestColumnValue(rid, 1)
	require.NoError(t, err)
	require.Equal(t, int64(200), v1)

	v2, err := r.GetLatestColumnValue(rid, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), v2)
}

func TestUpdateTracksPriorIndexedValue(t *testing.T) {
	r := newTestRange(t, 2, true)
	rid, err := r.InsertRecord([]int64{5, 6})
	require.NoError(t, err)

	newVal := int64(7)
	_, prior, err := r.UpdateRecord(rid, []*int64{nil, &newVal}, []bool{false, true})
	require.NoError(t, err)
	require.NotNil(t, prior[1])
	require.Equal(t, int64(6), *prior[1])
	require.Nil(t, prior[0])
}

func TestInvalidateRecord(t *testing.T) {
	r := newTestRange(t, 2, true)
	rid, err := r.InsertRecord([]int64{5, 6})
	require.NoError(t, err)

	snapshot, err := r.InvalidateRecord(rid, []bool{true, true})
	require.NoError(t, err)
	require.Equal(t, int64(5), *snapshot[0])

	_, err = r.GetLatestColumnValue(rid, 0)
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestTailChainLoopback(t *testing.T) {
	r := newTestRange(t, 1, true)
	rid, err := r.InsertRecord([]int64{1})
	require.NoError(t, err)

	v := int64(2)
	_, _, err = r.UpdateRecord(rid, []*int64{&v}, nil)
	require.NoError(t, err)
	v = 3
	_, _, err = r.UpdateRecord(rid, []*int64{&v}, nil)
	require.NoError(t, err)

	rids, rows, err := r.TailChain(rid)
	require.NoError(t, err)
	require.Equal(t, rid, rids[0])
	require.True(t, len(rids) >= 3)
	require.Equal(t, len(rids), len(rows))
}

func TestIsFullAndCapacity(t *testing.T) {
	r := newTestRange(t, 1, true)
	require.False(t, r.IsFull())
	for i := 0; i < Capacity; i++ {
		_, err := r.InsertRecord([]int64{int64(i)})
		require.NoError(t, err)
	}
	require.True(t, r.IsFull())

	rid, err := r.InsertRecord([]int64{0})
	require.NoError(t, err)
	require.Equal(t, common.InvalidRID, rid)
}

func TestDrainMergeInputClearsPendingState(t *testing.T) {
	r := newTestRange(t, 1, true)
	rid, err := r.InsertRecord([]int64{1})
	require.NoError(t, err)
	v := int64(2)
	for i := 0; i < common.SlotsPerPage+1; i++ {
		_, _, err = r.UpdateRecord(rid, []*int64{&v}, nil)
		require.NoError(t, err)
	}
	require.Greater(t, r.SealedTailCount(), 0)

	input := r.DrainMergeInput()
	require.NotEmpty(t, input.SealedTailPages)
	require.Equal(t, 0, r.SealedTailCount())
	require.Empty(t, r.PendingUpdatedBases())
}
