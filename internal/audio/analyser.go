package audio

import "sync"

// Analyser keeps the most recent window of samples for level detection
type Analyser struct {
	mu     sync.Mutex
	ring   []int16
	pos    int
	filled bool
}

// NewAnalyser creates an analyser over a window of size samples
func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = 2048
	}
	return &Analyser{ring: make([]int16, size)}
}

// Size returns the window length in samples
func (a *Analyser) Size() int {
	return len(a.ring)
}

// Write appends samples, overwriting the oldest ones
func (a *Analyser) Write(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(samples) >= len(a.ring) {
		copy(a.ring, samples[len(samples)-len(a.ring):])
		a.pos = 0
		a.filled = true
		return
	}

	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos++
		if a.pos == len(a.ring) {
			a.pos = 0
			a.filled = true
		}
	}
}

// Snapshot returns the window oldest-first as float32 in [-1, 1).
// Before the window has filled only the samples seen so far are returned.
func (a *Analyser) Snapshot() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.filled {
		out := make([]float32, a.pos)
		for i := 0; i < a.pos; i++ {
			out[i] = float32(a.ring[i]) / 32768.0
		}
		return out
	}

	out := make([]float32, len(a.ring))
	n := copyFloat(out, a.ring[a.pos:])
	copyFloat(out[n:], a.ring[:a.pos])
	return out
}

// Reset clears the window
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = 0
	a.filled = false
}

func copyFloat(dst []float32, src []int16) int {
	for i, s := range src {
		dst[i] = float32(s) / 32768.0
	}
	return len(src)
}
