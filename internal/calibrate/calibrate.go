package calibrate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lucianHymer/speech-coach/internal/audio"
	"github.com/lucianHymer/speech-coach/internal/config"
	"github.com/lucianHymer/speech-coach/internal/logger"
	"github.com/lucianHymer/speech-coach/internal/vad"
)

// DefaultDuration is the length of each recording step
const DefaultDuration = 5 * time.Second

// Stats holds per-window RMS statistics of a recording
type Stats struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Avg         float64 `json:"avg"`
	P5          float64 `json:"p5"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sample_count"`
}

// Analyze splits samples into windows and summarises their RMS.
// A trailing partial window is ignored unless it is the only one.
func Analyze(samples []int16, window int) Stats {
	if window <= 0 {
		window = vad.DefaultWindowSize
	}
	if len(samples) == 0 {
		return Stats{}
	}

	var energies []float64
	buf := make([]float32, window)
	for start := 0; start < len(samples); start += window {
		end := start + window
		if end > len(samples) {
			if len(energies) > 0 {
				break
			}
			end = len(samples)
		}

		frame := buf[:end-start]
		for i, s := range samples[start:end] {
			frame[i] = float32(s) / 32768
		}
		energies = append(energies, vad.RMS(frame))
	}

	sort.Float64s(energies)

	var sum float64
	for _, e := range energies {
		sum += e
	}

	return Stats{
		Min:         energies[0],
		Max:         energies[len(energies)-1],
		Avg:         sum / float64(len(energies)),
		P5:          percentile(energies, 5),
		P95:         percentile(energies, 95),
		SampleCount: len(samples),
	}
}

// percentile expects sorted input
func percentile(sorted []float64, p float64) float64 {
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}

// Recommend places the threshold above background noise: background p95
// with a 50% margin, but never under twice the background average
func Recommend(background Stats) float64 {
	threshold := background.P95 * 1.5
	if floor := background.Avg * 2; threshold < floor {
		threshold = floor
	}
	return threshold
}

// Wizard runs the calibration wizard
type Wizard struct {
	device     audio.Device
	configPath string
	window     int
	duration   time.Duration

	in  *bufio.Reader
	out io.Writer
	log *logger.ContextLogger
}

// Options configures a Wizard
type Options struct {
	Device     audio.Device
	ConfigPath string
	WindowSize int
	Duration   time.Duration // per step, DefaultDuration when zero
	In         io.Reader     // os.Stdin when nil
	Out        io.Writer     // os.Stdout when nil
	Logger     *logger.Logger
}

// NewWizard creates a new calibration wizard
func NewWizard(opts Options) *Wizard {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	return &Wizard{
		device:     opts.Device,
		configPath: opts.ConfigPath,
		window:     opts.WindowSize,
		duration:   opts.Duration,
		in:         bufio.NewReader(opts.In),
		out:        opts.Out,
		log:        opts.Logger.With("calibrate"),
	}
}

// Run records background and speech, recommends a threshold and saves it
// to vad.threshold. autoSave skips the confirmation prompt.
func (w *Wizard) Run(autoSave bool) (float64, error) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "🎤 VAD Calibration Wizard")
	fmt.Fprintln(w.out, "━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w.out)

	fmt.Fprintln(w.out, "Step 1/3: Background Noise Recording")
	fmt.Fprintln(w.out, "  Be quiet and don't speak.")
	w.prompt("  Press Enter when ready...")

	background, err := w.recordStep()
	if err != nil {
		return 0, fmt.Errorf("failed to record background: %w", err)
	}

	fmt.Fprintln(w.out, "Step 2/3: Speech Recording")
	fmt.Fprintln(w.out, "  Speak normally into the microphone.")
	w.prompt("  Press Enter when ready...")

	speech, err := w.recordStep()
	if err != nil {
		return 0, fmt.Errorf("failed to record speech: %w", err)
	}

	fmt.Fprintln(w.out, "Step 3/3: Analysis")
	w.visualizeComparison(background, speech)

	threshold := Recommend(background)
	fmt.Fprintf(w.out, "\n  📊 Recommended threshold: %.4f\n", threshold)
	fmt.Fprintf(w.out, "     (background P95 × 1.5, at least 2 × background average)\n")
	if threshold >= speech.Avg {
		fmt.Fprintln(w.out, "  ⚠️  Speech was not much louder than the background; move closer to the microphone.")
	}
	fmt.Fprintln(w.out)

	if !autoSave {
		answer := w.prompt(fmt.Sprintf("  💾 Save to %s? [Y/n] ", w.configPath))
		if answer != "" && !strings.EqualFold(answer, "y") {
			fmt.Fprintf(w.out, "  ℹ️  Not saved. You can manually set vad.threshold: %.4f\n\n", threshold)
			return threshold, nil
		}
	}

	if err := config.UpdateVADThreshold(w.configPath, threshold); err != nil {
		return threshold, fmt.Errorf("failed to save config: %w", err)
	}
	w.log.Info("Saved vad.threshold=%.4f to %s", threshold, w.configPath)
	fmt.Fprintln(w.out, "  ✓ Config updated successfully!")
	fmt.Fprintln(w.out)

	return threshold, nil
}

func (w *Wizard) recordStep() (Stats, error) {
	fmt.Fprintf(w.out, "  Recording for %v...\n", w.duration)
	samples, err := w.record(w.duration)
	if err != nil {
		return Stats{}, err
	}
	if len(samples) == 0 {
		return Stats{}, fmt.Errorf("no audio captured")
	}

	stats := Analyze(samples, w.window)
	w.log.Debug("Recorded %d samples, avg %.4f p95 %.4f", stats.SampleCount, stats.Avg, stats.P95)
	fmt.Fprintf(w.out, "  ✓ Done\n\n")
	return stats, nil
}

// record collects device frames for duration
func (w *Wizard) record(duration time.Duration) ([]int16, error) {
	var (
		mu      sync.Mutex
		samples []int16
		lost    error
	)

	err := w.device.Start(audio.Callbacks{
		Frames: func(frame []int16) {
			mu.Lock()
			samples = append(samples, frame...)
			mu.Unlock()
		},
		Lost: func(err error) {
			mu.Lock()
			lost = err
			mu.Unlock()
		},
	})
	if err != nil {
		return nil, err
	}

	time.Sleep(duration)

	if err := w.device.Stop(); err != nil {
		w.log.Warn("Failed to stop device: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if lost != nil {
		return nil, &audio.DeviceError{Op: "capture", Err: lost}
	}
	return samples, nil
}

func (w *Wizard) prompt(text string) string {
	fmt.Fprint(w.out, text)
	line, _ := w.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// visualizeComparison shows a visual comparison of background vs speech energy
func (w *Wizard) visualizeComparison(background, speech Stats) {
	fmt.Fprintln(w.out, "  Background Noise:")
	fmt.Fprintf(w.out, "    Min: %.4f  |  Avg: %.4f  |  Max: %.4f  |  P95: %.4f\n",
		background.Min, background.Avg, background.Max, background.P95)

	fmt.Fprintln(w.out, "\n  Speech:")
	fmt.Fprintf(w.out, "    Min: %.4f  |  Avg: %.4f  |  Max: %.4f  |  P5: %.4f\n",
		speech.Min, speech.Avg, speech.Max, speech.P5)

	maxVal := max(background.Avg, speech.Avg) * 1.2
	if maxVal == 0 {
		maxVal = 1
	}

	fmt.Fprintln(w.out, "\n  Visual Comparison (Average Energy):")
	fmt.Fprintln(w.out, "    Background: "+visualBar(int(background.Avg/maxVal*30), 30))
	fmt.Fprintln(w.out, "    Speech:     "+visualBar(int(speech.Avg/maxVal*30), 30))
}

func visualBar(filled, total int) string {
	return strings.Repeat("█", filled) + strings.Repeat("░", total-filled)
}
