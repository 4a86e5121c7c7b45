package cachefile

import (
	"sort"
	"time"
)

// Interval is a half-open [Begin, End) time range, spec.md's "sub-range of
// already-filled sub-ranges (disjoint, sorted)".
type Interval struct {
	Begin time.Time
	End   time.Time
}

func (iv Interval) empty() bool { return !iv.End.After(iv.Begin) }

// normalizeIntervals sorts by Begin and merges overlapping/adjacent
// entries, the representation every on-disk interval table and in-memory
// union result is kept in.
func normalizeIntervals(in []Interval) []Interval {
	filtered := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !iv.empty() {
			filtered = append(filtered, iv)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Begin.Before(filtered[j].Begin) })

	out := make([]Interval, 0, len(filtered))
	for _, iv := range filtered {
		if len(out) > 0 && !iv.Begin.After(out[len(out)-1].End) {
			last := &out[len(out)-1]
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// unionIntervals merges existing with additions and normalizes the result
// — spec.md §4.F Update: "unions these intervals into the file's index."
// Idempotent: union(existing, existing) == existing.
func unionIntervals(existing, additions []Interval) []Interval {
	merged := make([]Interval, 0, len(existing)+len(additions))
	merged = append(merged, existing...)
	merged = append(merged, additions...)
	return normalizeIntervals(merged)
}

// intersect returns the portions of window [begin,end) that are covered by
// at least one entry of sorted, normalized intervals.
func intersect(intervals []Interval, begin, end time.Time) []Interval {
	var out []Interval
	for _, iv := range intervals {
		lo := iv.Begin
		if begin.After(lo) {
			lo = begin
		}
		hi := iv.End
		if end.Before(hi) {
			hi = end
		}
		if hi.After(lo) {
			out = append(out, Interval{Begin: lo, End: hi})
		}
	}
	return out
}

// complement returns the sub-ranges of [begin,end) not covered by any
// entry of covered (which must already be sorted, disjoint, and clipped to
// [begin,end) — i.e. the output of intersect) — spec.md §4.F Read's
// "uncached intervals."
func complement(covered []Interval, begin, end time.Time) []Interval {
	var out []Interval
	cursor := begin
	for _, iv := range covered {
		if iv.Begin.After(cursor) {
			out = append(out, Interval{Begin: cursor, End: iv.Begin})
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}
	if end.After(cursor) {
		out = append(out, Interval{Begin: cursor, End: end})
	}
	return out
}

// subtract removes [begin,end) from every entry of intervals, splitting an
// entry that straddles the window — used by Clear.
func subtract(intervals []Interval, begin, end time.Time) []Interval {
	out := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		overlaps := iv.Begin.Before(end) && iv.End.After(begin)
		if !overlaps {
			out = append(out, iv)
			continue
		}
		if iv.Begin.Before(begin) {
			out = append(out, Interval{Begin: iv.Begin, End: begin})
		}
		if iv.End.After(end) {
			out = append(out, Interval{Begin: end, End: iv.End})
		}
	}
	return normalizeIntervals(out)
}
