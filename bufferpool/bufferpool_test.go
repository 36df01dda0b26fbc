package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/common/testutil"
)

func TestInsertAndGet(t *testing.T) {
	pool, err := New(testutil.TempDir(t), 4, nil)
	require.NoError(t, err)

	id := common.PageID("t_1_0")
	require.NoError(t, pool.Insert(id, 0, 99))

	phys, err := pool.Get(id)
	require.NoError(t, err)
	require.NotNil(t, phys)
	v, err := phys.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(99), v)
}

func TestGetOnNeverWrittenPageIsNil(t *testing.T) {
	pool, err := New(testutil.TempDir(t), 4, nil)
	require.NoError(t, err)

	phys, err := pool.Get(common.PageID("nope"))
	require.NoError(t, err)
	require.Nil(t, phys)
}

func TestEvictionFlushesDirtyPageAndSurvivesAsDiskFault(t *testing.T) {
	pool, err := New(testutil.TempDir(t), 2, nil)
	require.NoError(t, err)

	ids := []common.PageID{"t_1_0", "t_2_0", "t_3_0"}
	for i, id := range ids {
		require.NoError(t, pool.Insert(id, 0, int64(i)))
	}
	require.LessOrEqual(t, pool.Resident(), 2)
	require.Greater(t, pool.Evictions(), int64(0))

	for i, id := range ids {
		phys, err := pool.Get(id)
		require.NoError(t, err)
		require.NotNil(t, phys)
		v, err := phys.Get(0)
		require.NoError(t, err)
		require.Equal(t, int64(i), v, "evicted pages must be faulted back in unchanged")
	}
}

func TestCopyDuplicatesUnderFreshID(t *testing.T) {
	pool, err := New(testutil.TempDir(t), 4, nil)
	require.NoError(t, err)

	src := common.PageID("t_1_0")
	dst := common.PageID("t_1_0_1")
	require.NoError(t, pool.Insert(src, 0, 55))
	require.NoError(t, pool.Copy(src, dst))

	dstPhys, err := pool.Get(dst)
	require.NoError(t, err)
	v, err := dstPhys.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(55), v)

	// Mutating the copy must not affect the source.
	require.NoError(t, pool.Insert(dst, 0, 66))
	srcPhys, err := pool.Get(src)
	require.NoError(t, err)
	v, err = srcPhys.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(55), v)
}

func TestCopyFailsIfDestinationAlreadyExists(t *testing.T) {
	pool, err := New(testutil.TempDir(t), 4, nil)
	require.NoError(t, err)

	src := common.PageID("t_1_0")
	dst := common.PageID("t_2_0")
	require.NoError(t, pool.Insert(src, 0, 1))
	require.NoError(t, pool.Insert(dst, 0, 2))

	err = pool.Copy(src, dst)
	require.Error(t, err)
}

func TestEvictAllFlushesAndEmptiesPool(t *testing.T) {
	pool, err := New(testutil.TempDir(t), 4, nil)
	require.NoError(t, err)

	require.NoError(t, pool.Insert(common.PageID("t_1_0"), 0, 1))
	require.NoError(t, pool.EvictAll())
	require.Equal(t, 0, pool.Resident())

	phys, err := pool.Get(common.PageID("t_1_0"))
	require.NoError(t, err)
	require.NotNil(t, phys, "page must still be readable from disk after EvictAll")
}

func TestFlushWritesDirtyPagesWithoutEvicting(t *testing.T) {
	pool, err := New(testutil.TempDir(t), 4, nil)
	require.NoError(t, err)

	id := common.PageID("t_1_0")
	require.NoError(t, pool.Insert(id, 0, 7))
	require.NoError(t, pool.Flush())
	require.Equal(t, 1, pool.Resident(), "Flush must not evict")

	phys, err := pool.Get(id)
	require.NoError(t, err)
	require.False(t, phys.IsDirty())
}
