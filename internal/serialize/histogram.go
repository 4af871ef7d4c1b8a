package serialize

import "math"

// summaryMinMax returns the explicit min and max when present and finite,
// otherwise an estimate derived from the bucket layout.
// Estimation requires a bucket layout accepted by validBuckets.
func summaryMinMax(s Summary) (float64, float64) {
	var minVal, maxVal float64

	if s.Min != nil && isFinite(*s.Min) {
		minVal = *s.Min
	} else {
		minVal = estimateMin(s)
	}

	if s.Max != nil && isFinite(*s.Max) {
		maxVal = *s.Max
	} else {
		maxVal = estimateMax(s)
	}

	return minVal, maxVal
}

// estimateMin uses the lower bound of the first non-empty bucket. The first
// bucket has no lower bound, so its upper bound is used instead, capped at
// the mean so that min never exceeds the average.
func estimateMin(s Summary) float64 {
	if len(s.BucketCounts) <= 1 {
		return singleBucketEstimate(s)
	}

	for i, c := range s.BucketCounts {
		if c == 0 {
			continue
		}

		if i == 0 {
			return math.Min(s.Bounds[0], mean(s))
		}

		return s.Bounds[i-1]
	}

	// No counts at all: hand the sum through and let the backend decide.
	return s.Sum
}

// estimateMax uses the upper bound of the last non-empty bucket. The last
// bucket has no upper bound, so its lower bound is used instead, raised to
// the mean so that max never falls below the average.
func estimateMax(s Summary) float64 {
	if len(s.BucketCounts) <= 1 {
		return singleBucketEstimate(s)
	}

	last := len(s.BucketCounts) - 1

	for i := last; i >= 0; i-- {
		if s.BucketCounts[i] == 0 {
			continue
		}

		if i == last {
			return math.Max(s.Bounds[i-1], mean(s))
		}

		return s.Bounds[i]
	}

	return s.Sum
}

// singleBucketEstimate handles histograms with only the (-Inf, +Inf) bucket
// or with no bucket data at all.
func singleBucketEstimate(s Summary) float64 {
	if s.Count > 0 {
		return mean(s)
	}

	return s.Sum
}

func mean(s Summary) float64 {
	if s.Count == 0 {
		return s.Sum
	}

	return s.Sum / float64(s.Count)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// validBuckets reports whether the bucket layout can be used for estimation.
func validBuckets(s Summary) bool {
	if len(s.BucketCounts) <= 1 {
		return len(s.Bounds) == 0
	}

	return len(s.BucketCounts) == len(s.Bounds)+1
}
