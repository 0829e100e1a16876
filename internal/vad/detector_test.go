package vad

import (
	"math"
	"testing"
	"time"
)

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("Expected 0 for empty window, got %f", got)
	}
	if got := RMS(constant(DefaultWindowSize, 0.5)); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("Expected 0.5, got %f", got)
	}

	// Alternating +a/-a has the same RMS as a constant a
	alt := make([]float32, 1000)
	for i := range alt {
		if i%2 == 0 {
			alt[i] = 0.2
		} else {
			alt[i] = -0.2
		}
	}
	if got := RMS(alt); math.Abs(got-0.2) > 1e-6 {
		t.Errorf("Expected 0.2, got %f", got)
	}
}

func TestDetectorThreshold(t *testing.T) {
	d := NewDetector(0)
	if d.Threshold() != DefaultThreshold {
		t.Fatalf("Expected default threshold, got %f", d.Threshold())
	}

	if d.IsVoiced(constant(DefaultWindowSize, 0)) {
		t.Error("Silence classified as voiced")
	}
	if d.IsVoiced(constant(DefaultWindowSize, 0.01)) {
		t.Error("Window exactly at threshold classified as voiced")
	}
	if !d.IsVoiced(constant(DefaultWindowSize, 0.02)) {
		t.Error("Loud window classified as silent")
	}
	// Clipping still yields a verdict
	if !d.IsVoiced(constant(DefaultWindowSize, 1)) {
		t.Error("Clipped window classified as silent")
	}
}

func TestDetectorClassify(t *testing.T) {
	d := NewDetector(0.1)
	now := time.Unix(1700000000, 0)

	v := d.Classify(constant(64, 0.3), now)
	if !v.Voiced || !v.Timestamp.Equal(now) {
		t.Errorf("Unexpected verdict %+v", v)
	}
	if v := d.Classify(constant(64, 0.05), now); v.Voiced {
		t.Error("Expected quiet window below custom threshold to be silent")
	}
}
