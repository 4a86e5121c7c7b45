package cachefile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func iv(beginMin, endMin int) Interval {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return Interval{Begin: base.Add(time.Duration(beginMin) * time.Minute), End: base.Add(time.Duration(endMin) * time.Minute)}
}

func TestNormalizeIntervalsMergesOverlapsAndAdjacency(t *testing.T) {
	got := normalizeIntervals([]Interval{iv(10, 20), iv(0, 10), iv(15, 25), iv(30, 40)})
	assert.Equal(t, []Interval{iv(0, 25), iv(30, 40)}, got)
}

func TestUnionIntervalsIdempotent(t *testing.T) {
	existing := []Interval{iv(0, 10)}
	assert.Equal(t, existing, unionIntervals(existing, existing))
}

func TestComplementOfFullyCoveredWindowIsEmpty(t *testing.T) {
	covered := intersect([]Interval{iv(0, 10)}, iv(0, 10).Begin, iv(0, 10).End)
	got := complement(covered, iv(0, 10).Begin, iv(0, 10).End)
	assert.Empty(t, got)
}

func TestComplementOfGapInMiddle(t *testing.T) {
	covered := intersect([]Interval{iv(0, 5), iv(8, 10)}, iv(0, 10).Begin, iv(0, 10).End)
	got := complement(covered, iv(0, 10).Begin, iv(0, 10).End)
	assert.Equal(t, []Interval{iv(5, 8)}, got)
}

func TestSubtractRemovesMiddleRange(t *testing.T) {
	got := subtract([]Interval{iv(0, 20)}, iv(5, 10).Begin, iv(5, 10).End)
	assert.Equal(t, []Interval{iv(0, 5), iv(10, 20)}, got)
}
