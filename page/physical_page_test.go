package page

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intellect4all/lstore/common"
)

func TestGetSetRoundTrip(t *testing.T) {
	p := New()
	require.NoError(t, p.Set(0, 42))
	v, err := p.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(42), v)
	require.True(t, p.IsDirty())
}

func TestSetInvalidSlotLeavesStateUnchanged(t *testing.T) {
	p := New()
	require.NoError(t, p.Set(0, 7))
	err := p.Set(-1, 99)
	require.Error(t, err)
	err = p.Set(common.SlotsPerPage, 99)
	require.Error(t, err)
	v, err := p.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(7), v, "a failed write to another slot must not disturb this one")
}

func TestGetInvalidSlot(t *testing.T) {
	p := New()
	_, err := p.Get(-1)
	require.Error(t, err)
}

func TestMinMaxAttributeValueRoundTrip(t *testing.T) {
	p := New()
	require.NoError(t, p.Set(0, math.MinInt64))
	require.NoError(t, p.Set(1, math.MaxInt64))
	v0, err := p.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), v0)
	v1, err := p.Get(1)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), v1)
}

func TestPinPreventsEviction(t *testing.T) {
	p := New()
	require.True(t, p.CanEvict())
	p.Pin()
	require.False(t, p.CanEvict())
	p.Pin()
	p.Unpin()
	require.False(t, p.CanEvict())
	p.Unpin()
	require.True(t, p.CanEvict())
}

func TestDirtyFlagLifecycle(t *testing.T) {
	p := New()
	require.False(t, p.IsDirty())
	require.NoError(t, p.Set(0, 1))
	require.True(t, p.IsDirty())
	p.ClearDirty()
	require.False(t, p.IsDirty())
	p.MarkDirty()
	require.True(t, p.IsDirty())
}

func TestFromBytesRoundTrip(t *testing.T) {
	p := New()
	require.NoError(t, p.Set(3, 12345))
	data := append([]byte(nil), p.Bytes()...)

	reloaded, err := FromBytes(data)
	require.NoError(t, err)
	v, err := reloaded.Get(3)
	require.NoError(t, err)
	require.Equal(t, int64(12345), v)
}

func TestFromBytesWrongSizeIsCorrupt(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCloneIsIndependentAndDirty(t *testing.T) {
	p := New()
	require.NoError(t, p.Set(0, 5))
	p.ClearDirty()

	clone := p.Clone()
	require.True(t, clone.IsDirty())

	require.NoError(t, clone.Set(0, 6))
	v, err := p.Get(0)
	require.NoError(t, err)
	require.Equal(t, int64(5), v, "mutating the clone must not affect the original")
}
