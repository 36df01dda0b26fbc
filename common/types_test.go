package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotOfAndStartingRIDOfBase(t *testing.T) {
	require.Equal(t, 0, SlotOf(1))
	require.Equal(t, SlotsPerPage-1, SlotOf(int64(SlotsPerPage)))
	require.Equal(t, 0, SlotOf(int64(SlotsPerPage+1)))

	require.Equal(t, RID(1), StartingRIDOf(1))
	require.Equal(t, RID(1), StartingRIDOf(int64(SlotsPerPage)))
	require.Equal(t, RID(SlotsPerPage+1), StartingRIDOf(int64(SlotsPerPage+1)))
}

func TestSlotOfAndStartingRIDOfTail(t *testing.T) {
	require.Equal(t, 0, SlotOf(-1))
	require.Equal(t, SlotsPerPage-1, SlotOf(int64(-SlotsPerPage)))

	require.Equal(t, RID(-1), StartingRIDOf(-1))
	require.Equal(t, RID(-1), StartingRIDOf(int64(-SlotsPerPage)))
	require.Equal(t, RID(-(SlotsPerPage+1)), StartingRIDOf(int64(-(SlotsPerPage+1))))
}

func TestIsBaseIsTail(t *testing.T) {
	require.True(t, IsBase(1))
	require.False(t, IsBase(-1))
	require.True(t, IsTail(-1))
	require.False(t, IsTail(1))
	require.False(t, IsBase(InvalidRID))
	require.False(t, IsTail(InvalidRID))
}

func TestMetadataLayoutCumulative(t *testing.T) {
	layout := NewMetadataLayout(5, true)
	require.Equal(t, 7, layout.NumTotalCols)
	require.Equal(t, 5, layout.BaseRID)
	require.Equal(t, 6, layout.Indirection)
	require.Equal(t, -1, layout.SchemaEnc)
}

func TestMetadataLayoutNonCumulative(t *testing.T) {
	layout := NewMetadataLayout(5, false)
	require.Equal(t, 8, layout.NumTotalCols)
	require.Equal(t, 5, layout.SchemaEnc)
	require.Equal(t, 6, layout.BaseRID)
	require.Equal(t, 7, layout.Indirection)
	require.Equal(t, layout.Indirection-1, layout.BaseRID, "base_rid must sit one column before indirection")
}

func TestMakePageIDAndMakeBasePageID(t *testing.T) {
	require.Equal(t, PageID("t_1_0"), MakePageID("t", 1, 0))
	require.Equal(t, PageID("t_1_0"), MakeBasePageID("t", 1, 0, 0))
	require.Equal(t, PageID("t_1_0_2"), MakeBasePageID("t", 1, 0, 2))
}

func TestInvariantPanicsOnFalse(t *testing.T) {
	require.Panics(t, func() { Invariant(false, "boom %d", 1) })
	require.NotPanics(t, func() { Invariant(true, "fine") })
}
