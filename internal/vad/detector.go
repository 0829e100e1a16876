package vad

import (
	"math"
	"time"
)

const (
	// DefaultThreshold is the RMS level on a normalized ±1.0 signal above which a window counts as voiced
	DefaultThreshold = 0.01
	// DefaultWindowSize is the number of samples analysed per tick
	DefaultWindowSize = 2048
)

// Verdict is the detector's decision for one polling tick
type Verdict struct {
	Timestamp time.Time
	Voiced    bool
}

// Detector classifies a window of time-domain samples as voiced or silent.
// It is stateless: no noise floor tracking, no spectral analysis.
type Detector struct {
	threshold float64
}

// NewDetector creates a detector; a non-positive threshold selects DefaultThreshold
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured RMS threshold
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// IsVoiced returns true when RMS(samples) exceeds the threshold.
// An empty window is silent.
func (d *Detector) IsVoiced(samples []float32) bool {
	return RMS(samples) > d.threshold
}

// Classify evaluates a window and stamps the result with now
func (d *Detector) Classify(samples []float32, now time.Time) Verdict {
	return Verdict{Timestamp: now, Voiced: d.IsVoiced(samples)}
}

// RMS computes the root-mean-square energy of samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}

	return math.Sqrt(sumSquares / float64(len(samples)))
}
