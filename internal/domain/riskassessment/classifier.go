package riskassessment

import "math"

// Band thresholds, shared by every disease.
const (
	ModerateThreshold = 0.33
	HighThreshold     = 0.66
)

// Classify maps a probability to its band: Low below 0.33, Moderate below
// 0.66, High otherwise.
func Classify(p float64) Band {
	switch {
	case p < ModerateThreshold:
		return BandLow
	case p < HighThreshold:
		return BandModerate
	default:
		return BandHigh
	}
}

func validProbability(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}
