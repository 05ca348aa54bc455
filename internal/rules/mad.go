package rules

import (
	"math"
	"sort"
)

// madScale turns the MAD into a consistent estimator of the standard deviation.
const madScale = 0.6745

// meanADScale is used instead when the MAD collapses to zero.
const meanADScale = 1.253314

// minSpreadRatio below which a series is considered clustered and skipped.
const minSpreadRatio = 0.2

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

// ModifiedZScores returns the robust z-score of each value:
// 0.6745 * (x - median) / MAD. When the MAD is zero the mean absolute
// deviation stands in. It returns false when the series is clustered: the
// spread (max-min)/|median| is under 0.2, or no deviation exists at all.
func ModifiedZScores(xs []float64) ([]float64, bool) {
	if len(xs) == 0 {
		return nil, false
	}
	med := median(xs)

	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if med != 0 && (hi-lo)/math.Abs(med) < minSpreadRatio {
		return nil, false
	}

	dev := make([]float64, len(xs))
	var sumDev float64
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
		sumDev += dev[i]
	}
	mad := median(dev)

	z := make([]float64, len(xs))
	switch {
	case mad > 0:
		for i, x := range xs {
			z[i] = madScale * (x - med) / mad
		}
	case sumDev > 0:
		meanAD := sumDev / float64(len(xs))
		for i, x := range xs {
			z[i] = (x - med) / (meanADScale * meanAD)
		}
	default:
		return nil, false
	}
	return z, true
}
