package scheduler

import "time"

func gcdDuration(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func lcmDuration(a, b time.Duration) time.Duration {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	return a / gcdDuration(a, b) * b
}

func lcmAll(periods []time.Duration) time.Duration {
	if len(periods) == 0 {
		return 0
	}
	result := periods[0]
	for _, p := range periods[1:] {
		result = lcmDuration(result, p)
	}
	return result
}

// ceilDivUnits returns the number of whole b-sized units needed to cover a,
// rounding up — used to budget raw sample counts per chunk unit when b (an
// item's base period) is larger than a (the chunk unit), as happens for
// Resampled items where the base period is coarser than the group's own
// output period.
func ceilDivUnits(a, b time.Duration) int64 {
	return (int64(a) + int64(b) - 1) / int64(b)
}
