package cachefile

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm.UTC()
}

func TestCacheFillThenRepeatReadHitsNoUncachedIntervals(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, 24*time.Hour)
	key := Key{CatalogItemID: "/C/r/1_h", BasePeriod: time.Hour}

	t0 := mustParse(t, "2020-01-01T00:00:00Z")
	end := t0.Add(24 * time.Hour)

	target := make([]float64, 24)
	uncached, err := e.Read(context.Background(), key, t0, end, target)
	require.NoError(t, err)
	require.Len(t, uncached, 1)
	assert.True(t, uncached[0].Begin.Equal(t0))
	assert.True(t, uncached[0].End.Equal(end))

	values := make([]float64, 24)
	for i := range values {
		values[i] = float64(i)
	}
	require.NoError(t, e.Update(context.Background(), key, t0, values))

	target2 := make([]float64, 24)
	uncached2, err := e.Read(context.Background(), key, t0, end, target2)
	require.NoError(t, err)
	assert.Empty(t, uncached2)
	assert.Equal(t, values, target2)
}

func TestMixedCacheReadReturnsExactlyTheGaps(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, 48*time.Hour)
	key := Key{CatalogItemID: "/C/r/1_h", BasePeriod: time.Hour}

	t0 := mustParse(t, "2020-01-01T00:00:00Z")

	// Pre-fill [t0+1h, t0+25h).
	prefill := make([]float64, 24)
	for i := range prefill {
		prefill[i] = float64(i)
	}
	require.NoError(t, e.Update(context.Background(), key, t0.Add(time.Hour), prefill))

	target := make([]float64, 26)
	uncached, err := e.Read(context.Background(), key, t0, t0.Add(26*time.Hour), target)
	require.NoError(t, err)
	require.Len(t, uncached, 2)
	assert.True(t, uncached[0].Begin.Equal(t0))
	assert.True(t, uncached[0].End.Equal(t0.Add(time.Hour)))
	assert.True(t, uncached[1].Begin.Equal(t0.Add(25*time.Hour)))
	assert.True(t, uncached[1].End.Equal(t0.Add(26*time.Hour)))

	assert.True(t, math.IsNaN(target[0]))
	assert.Equal(t, 0.0, target[1])
	assert.Equal(t, 23.0, target[24])
	assert.True(t, math.IsNaN(target[25]))
}

func TestReadRejectsMisalignedTimes(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, 24*time.Hour)
	key := Key{CatalogItemID: "/C/r/1_h", BasePeriod: time.Hour}

	t0 := mustParse(t, "2020-01-01T00:00:00Z").Add(30 * time.Minute)
	_, err := e.Read(context.Background(), key, t0, t0.Add(time.Hour), make([]float64, 1))
	require.Error(t, err)
}

func TestUpdateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, 24*time.Hour)
	key := Key{CatalogItemID: "/C/r/1_h", BasePeriod: time.Hour}
	t0 := mustParse(t, "2020-01-01T00:00:00Z")

	values := []float64{1, 2, 3}
	require.NoError(t, e.Update(context.Background(), key, t0, values))
	require.NoError(t, e.Update(context.Background(), key, t0, values))

	target := make([]float64, 3)
	uncached, err := e.Read(context.Background(), key, t0, t0.Add(3*time.Hour), target)
	require.NoError(t, err)
	assert.Empty(t, uncached)
	assert.Equal(t, values, target)
}

func TestClearRemovesCommittedData(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, 24*time.Hour)
	key := Key{CatalogItemID: "/C/r/1_h", BasePeriod: time.Hour}
	t0 := mustParse(t, "2020-01-01T00:00:00Z")

	values := make([]float64, 24)
	for i := range values {
		values[i] = float64(i)
	}
	require.NoError(t, e.Update(context.Background(), key, t0, values))
	require.NoError(t, e.Clear(context.Background(), key, t0.Add(5*time.Hour), t0.Add(10*time.Hour)))

	target := make([]float64, 24)
	uncached, err := e.Read(context.Background(), key, t0, t0.Add(24*time.Hour), target)
	require.NoError(t, err)
	require.Len(t, uncached, 1)
	assert.True(t, uncached[0].Begin.Equal(t0.Add(5*time.Hour)))
	assert.True(t, uncached[0].End.Equal(t0.Add(10*time.Hour)))
	assert.Equal(t, 4.0, target[4])
	assert.True(t, math.IsNaN(target[5]))
	assert.Equal(t, 10.0, target[10])
}

func TestSpanningMultipleFilesRoundTrips(t *testing.T) {
	dir := t.TempDir()
	e := New(dir, time.Hour) // tiny file period forces a multi-file span
	key := Key{CatalogItemID: "/C/r/10_min", BasePeriod: 10 * time.Minute}
	t0 := mustParse(t, "2020-01-01T00:00:00Z")

	values := make([]float64, 18) // 3 hours worth, spans 3 files
	for i := range values {
		values[i] = float64(i)
	}
	require.NoError(t, e.Update(context.Background(), key, t0, values))

	target := make([]float64, 18)
	uncached, err := e.Read(context.Background(), key, t0, t0.Add(3*time.Hour), target)
	require.NoError(t, err)
	assert.Empty(t, uncached)
	assert.Equal(t, values, target)
}
