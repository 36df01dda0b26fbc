package index

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecondaryAddSearchDelete(t *testing.T) {
	s := NewSecondary(1, false)
	s.Add(42, 100)
	s.Add(42, 200)
	s.Add(7, 300)

	require.ElementsMatch(t, []int64{100, 200}, s.Search(42))
	require.ElementsMatch(t, []int64{300}, s.Search(7))

	s.Delete(42, 100)
	require.ElementsMatch(t, []int64{200}, s.Search(42))

	s.Delete(42, 200)
	require.Empty(t, s.Search(42))
}

func TestSecondarySeedRange(t *testing.T) {
	s := NewSecondary(1, true)
	s.Add(1, 10)
	s.Add(2, 30)
	s.Add(3, 20)

	rids, err := s.RangeSeeds(10, 25)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20}, rids)
}

func TestSecondaryRangeSeedsDisabled(t *testing.T) {
	s := NewSecondary(1, false)
	_, err := s.RangeSeeds(0, 100)
	require.Error(t, err)
}

func TestSecondarySaveLoadRoundTrip(t *testing.T) {
	s := NewSecondary(3, true)
	s.Add(1, 10)
	s.Add(1, 20)
	s.Add(2, 30)

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	loaded := NewSecondary(3, true)
	require.NoError(t, loaded.Load(&buf))

	require.ElementsMatch(t, []int64{10, 20}, loaded.Search(1))
	require.ElementsMatch(t, []int64{30}, loaded.Search(2))
	seeds, err := loaded.RangeSeeds(0, 100)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{10, 20, 30}, seeds)
}
