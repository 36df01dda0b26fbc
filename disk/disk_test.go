package disk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intellect4all/lstore/common"
	"github.com/intellect4all/lstore/common/testutil"
	"github.com/intellect4all/lstore/page"
)

func TestWriteReadRoundTrip(t *testing.T) {
	d, err := New(testutil.TempDir(t))
	require.NoError(t, err)

	p := page.New()
	require.NoError(t, p.Set(0, 4242))

	id := common.PageID("t_1_0")
	require.False(t, d.Exists(id))
	require.NoError(t, d.Write(id, p))
	require.True(t, d.Exists(id))

	loaded, err := d.Read(id)
	require.NoError(t, err)
	v, err := loaded.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(4242), v)
}

func TestReadMissingPageIsNotFound(t *testing.T) {
	d, err := New(testutil.TempDir(t))
	require.NoError(t, err)

	_, err = d.Read(common.PageID("nope"))
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestWriteOverwritesExistingPage(t *testing.T) {
	d, err := New(testutil.TempDir(t))
	require.NoError(t, err)

	id := common.PageID("t_1_0")
	p1 := page.New()
	require.NoError(t, p1.Set(0, 1))
	require.NoError(t, d.Write(id, p1))

	p2 := page.New()
	require.NoError(t, p2.Set(0, 2))
	require.NoError(t, d.Write(id, p2))

	loaded, err := d.Read(id)
	require.NoError(t, err)
	v, err := loaded.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
}
