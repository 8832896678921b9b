package vectorindex

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInnerProductDistanceIdenticalVectorsIsZero(t *testing.T) {
	v := []float32{0.6, 0.8, 0}
	assert.InDelta(t, 0.0, float64(innerProductDistance(v, v)), 1e-6)
}

func TestInnerProductDistanceOrthogonalVectorsIsOne(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 1.0, float64(innerProductDistance(a, b)), 1e-6)
}

func TestZipMatchesTruncatesToShorterSlice(t *testing.T) {
	matches := zipMatches([]uint64{1, 2, 3}, []float32{0.1, 0.2})
	require.Len(t, matches, 2)
	assert.Equal(t, Match{Key: 1, Distance: 0.1}, matches[0])
	assert.Equal(t, Match{Key: 2, Distance: 0.2}, matches[1])
}

func TestTruncateWithinDistance(t *testing.T) {
	matches := []Match{
		{Key: 1, Distance: 0.1},
		{Key: 2, Distance: 0.2},
		{Key: 3, Distance: 0.5},
		{Key: 4, Distance: 0.9},
	}
	kept := truncateWithinDistance(matches, 0.3)
	require.Len(t, kept, 2)
	assert.Equal(t, uint64(1), kept[0].Key)
	assert.Equal(t, uint64(2), kept[1].Key)
}

func TestTruncateWithinDistanceKeepsNoneBelowThreshold(t *testing.T) {
	matches := []Match{{Key: 1, Distance: 0.5}}
	assert.Empty(t, truncateWithinDistance(matches, 0.1))
}

func TestIsFiniteRejectsNaNAndInf(t *testing.T) {
	var nan float32 = 0
	nan = nan / nan
	assert.False(t, isFinite(nan))
	assert.True(t, isFinite(1.5))
	assert.False(t, isFinite(float32(math.Inf(1))))
}

func TestAddSearchRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewVectorIndex(filepath.Join(dir, "vectors.usearch"), 3)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0}))
	require.NoError(t, idx.Add(3, []float32{0, 0, 1}))

	assert.True(t, idx.Contains(1))
	assert.False(t, idx.Contains(99))

	matches, err := idx.ExactSearch([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(1), matches[0].Key)

	require.NoError(t, idx.Remove(1))
	assert.False(t, idx.Contains(1))

	stats, err := idx.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint(2), stats.Size)
	assert.Equal(t, uint(3), stats.Dimensions)
}

func TestAddRejectsWrongDimension(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewVectorIndex(filepath.Join(dir, "vectors.usearch"), 4)
	require.NoError(t, err)
	defer idx.Close()

	err = idx.Add(1, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestReopenLoadsPersistedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.usearch")

	idx, err := NewVectorIndex(path, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(7, []float32{0.6, 0.8}))
	require.NoError(t, idx.Close())

	reopened, err := NewVectorIndex(path, 2)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Contains(7))
	vec, err := reopened.Get(7)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vec, 1e-5)
}

func TestFilteredSearchWithinDistanceIgnoresKeysNotAllowed(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewVectorIndex(filepath.Join(dir, "vectors.usearch"), 2)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(1, []float32{1, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1}))

	matches, err := idx.FilteredSearchWithinDistance([]float32{1, 0}, map[uint64]bool{1: true}, 2.0, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(1), matches[0].Key)
}

func TestFilteredSearchWithinDistanceEmptyAllowedSet(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewVectorIndex(filepath.Join(dir, "vectors.usearch"), 2)
	require.NoError(t, err)
	defer idx.Close()

	matches, err := idx.FilteredSearchWithinDistance([]float32{1, 0}, nil, 2.0, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
