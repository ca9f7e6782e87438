package netstats

import (
	"math"
	"sort"
)

// DefaultThreshold is the largest accepted relative change against history.
const DefaultThreshold = 0.5

// IsValidHashrate reports whether current is plausible given previous readings.
// With three or more previous readings the single highest and lowest are
// dropped before averaging, so one spike cannot drag the baseline.
func IsValidHashrate(current float64, previous []float64, threshold float64) bool {
	if len(previous) == 0 {
		return true
	}

	if len(previous) == 1 {
		prev := previous[0]
		if prev == 0 {
			return true
		}
		return math.Abs(current-prev)/prev <= threshold
	}

	sorted := append([]float64(nil), previous...)
	sort.Float64s(sorted)
	if len(sorted) >= 3 {
		sorted = sorted[1 : len(sorted)-1]
	}

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	avg := sum / float64(len(sorted))
	if avg == 0 {
		return true
	}
	return math.Abs(current-avg)/avg <= threshold
}
