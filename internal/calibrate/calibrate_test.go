package calibrate

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucianHymer/speech-coach/internal/audio"
	"github.com/lucianHymer/speech-coach/internal/config"
)

func square(n int, level int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = level
		} else {
			out[i] = -level
		}
	}
	return out
}

func TestAnalyze(t *testing.T) {
	// Ten windows with rising amplitude
	var samples []int16
	for i := 1; i <= 10; i++ {
		samples = append(samples, square(100, int16(i*1000))...)
	}

	stats := Analyze(samples, 100)

	if stats.SampleCount != 1000 {
		t.Errorf("Expected 1000 samples, got %d", stats.SampleCount)
	}
	near := func(got, want float64) bool { return math.Abs(got-want) < 1e-4 }
	if !near(stats.Min, 1000.0/32768) || !near(stats.Max, 10000.0/32768) {
		t.Errorf("Unexpected min/max %v %v", stats.Min, stats.Max)
	}
	if !near(stats.Avg, 5500.0/32768) {
		t.Errorf("Expected avg %v, got %v", 5500.0/32768, stats.Avg)
	}
	if stats.P5 > stats.Avg || stats.P95 < stats.Avg {
		t.Errorf("Percentiles out of order: %+v", stats)
	}
}

func TestAnalyzeEdgeCases(t *testing.T) {
	if got := Analyze(nil, 100); got != (Stats{}) {
		t.Errorf("Expected zero stats for no samples, got %+v", got)
	}

	// Shorter than a window still yields one measurement
	short := Analyze(square(40, 3276), 100)
	if short.SampleCount != 40 || short.Max == 0 {
		t.Errorf("Expected a single partial window, got %+v", short)
	}

	// Trailing partial window is dropped
	mixed := append(square(100, 1000), square(10, 30000)...)
	if got := Analyze(mixed, 100); got.Max > 0.1 {
		t.Errorf("Expected trailing window ignored, got max %v", got.Max)
	}
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name       string
		background Stats
		want       float64
	}{
		{"p95 margin", Stats{Avg: 0.002, P95: 0.01}, 0.015},
		{"average floor", Stats{Avg: 0.01, P95: 0.011}, 0.02},
		{"silence", Stats{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Recommend(tt.background); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Recommend() = %v, want %v", got, tt.want)
			}
		})
	}
}

// steppedDevice plays a quiet clip on its first start and a loud one after
type steppedDevice struct {
	mu     sync.Mutex
	starts int
	levels []int16
}

func (d *steppedDevice) Start(cb audio.Callbacks) error {
	d.mu.Lock()
	level := d.levels[d.starts%len(d.levels)]
	d.starts++
	d.mu.Unlock()

	cb.Frames(square(4096, level))
	return nil
}

func (d *steppedDevice) Stop() error { return nil }

func TestWizardRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("# client\nvad:\n  silence_ms: 900\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	var out bytes.Buffer
	w := NewWizard(Options{
		Device:     &steppedDevice{levels: []int16{100, 8000}},
		ConfigPath: path,
		WindowSize: 512,
		Duration:   time.Millisecond,
		In:         strings.NewReader("\n\ny\n"),
		Out:        &out,
	})

	threshold, err := w.Run(false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := 100.0 / 32768 * 2
	if math.Abs(threshold-want) > 1e-6 {
		t.Errorf("Expected threshold %v, got %v", want, threshold)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if math.Abs(cfg.VAD.Threshold-threshold) > 1e-9 {
		t.Errorf("Expected saved threshold %v, got %v", threshold, cfg.VAD.Threshold)
	}
	if cfg.VAD.SilenceMs != 900 {
		t.Errorf("Expected other vad keys kept, got %d", cfg.VAD.SilenceMs)
	}
	if !strings.Contains(out.String(), "Config updated") {
		t.Errorf("Expected confirmation in output:\n%s", out.String())
	}
}

func TestWizardDeclineSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	before := []byte("vad:\n  threshold: 0.01\n")
	if err := os.WriteFile(path, before, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	var out bytes.Buffer
	w := NewWizard(Options{
		Device:     &steppedDevice{levels: []int16{100, 8000}},
		ConfigPath: path,
		Duration:   time.Millisecond,
		In:         strings.NewReader("\n\nn\n"),
		Out:        &out,
	})

	if _, err := w.Run(false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !bytes.Equal(data, before) {
		t.Errorf("Expected config untouched, got:\n%s", data)
	}
}

type failingDevice struct{}

func (failingDevice) Start(audio.Callbacks) error {
	return &audio.DeviceError{Op: "open", Err: audio.ErrNoInputDevice}
}

func (failingDevice) Stop() error { return nil }

func TestWizardDeviceError(t *testing.T) {
	w := NewWizard(Options{
		Device:   failingDevice{},
		Duration: time.Millisecond,
		In:       strings.NewReader("\n"),
		Out:      &bytes.Buffer{},
	})

	_, err := w.Run(true)
	if !errors.Is(err, audio.ErrNoInputDevice) {
		t.Errorf("Expected ErrNoInputDevice, got %v", err)
	}
}
