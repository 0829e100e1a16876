package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucianHymer/speech-coach/internal/logger"
	"github.com/lucianHymer/speech-coach/internal/metrics"
	"github.com/lucianHymer/speech-coach/internal/vad"
)

// DefaultPollInterval matches a 60 Hz display frame
const DefaultPollInterval = 16 * time.Millisecond

// SessionConfig wires a capture session
type SessionConfig struct {
	Threshold    float64
	WindowSize   int
	PollInterval time.Duration
	Chunker      vad.ChunkerConfig

	Device  Device
	Encoder Encoder // nil selects a WAVEncoder at SampleRate

	// OnUtterance receives each emitted utterance exactly once, in order
	OnUtterance func(id string, payload []byte)
	// OnError receives capture-level faults after Start
	OnError func(err error)

	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Session owns the microphone, the analysis window, the encoder and the
// chunker for one call
type Session struct {
	config   SessionConfig
	detector *vad.Detector
	chunker  *vad.Chunker
	analyser *Analyser
	encoder  Encoder
	logger   *logger.ContextLogger

	running atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewSession creates a stopped capture session
func NewSession(config SessionConfig) *Session {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.WindowSize <= 0 {
		config.WindowSize = vad.DefaultWindowSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}

	encoder := config.Encoder
	if encoder == nil {
		encoder = NewWAVEncoder(SampleRate)
	}

	return &Session{
		config:   config,
		detector: vad.NewDetector(config.Threshold),
		chunker:  vad.NewChunker(config.Chunker, config.Now()),
		analyser: NewAnalyser(config.WindowSize),
		encoder:  encoder,
		logger:   config.Logger.With("audio"),
	}
}

// Start acquires the device and begins the polling loop.
// Device failures are returned as *DeviceError and are not retried.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}
	if s.config.Device == nil {
		return &DeviceError{Op: "open", Err: ErrNoInputDevice}
	}

	s.analyser.Reset()
	s.chunker.Reset(s.config.Now())

	// Frames may arrive before Start returns
	s.running.Store(true)

	err := s.config.Device.Start(Callbacks{
		Frames: s.onFrames,
		Lost:   s.onLost,
	})
	if err != nil {
		s.running.Store(false)
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			return err
		}
		return &DeviceError{Op: "start", Err: err}
	}

	s.stopCh = make(chan struct{})
	go s.loop(s.stopCh)

	s.logger.InfoWithFields("Capture started", map[string]interface{}{
		"threshold":     s.detector.Threshold(),
		"window":        s.analyser.Size(),
		"poll_interval": s.config.PollInterval.String(),
	})
	return nil
}

// SetMuted suppresses utterance emission without releasing the device
func (s *Session) SetMuted(muted bool) {
	s.chunker.SetMuted(muted)
	s.logger.Debug("Muted: %t", muted)
}

// Muted reports whether emission is suppressed
func (s *Session) Muted() bool {
	return s.chunker.Muted()
}

// Running reports whether capture is active
func (s *Session) Running() bool {
	return s.running.Load()
}

// Stop cancels polling and releases the device. It is idempotent and may
// be called from OnUtterance or OnError.
func (s *Session) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()

	err := s.config.Device.Stop()
	s.analyser.Reset()
	s.chunker.Reset(s.config.Now())

	s.logger.Info("Capture stopped")
	if err != nil {
		return fmt.Errorf("failed to release input device: %w", err)
	}
	return nil
}

func (s *Session) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick(stop, s.config.Now())
		}
	}
}

// tick runs one VAD poll for the loop that owns stop. A loop that was
// stopped bails out even if a later Start set running again.
func (s *Session) tick(stop <-chan struct{}, now time.Time) {
	select {
	case <-stop:
		return
	default:
	}
	if !s.running.Load() {
		return
	}

	verdict := s.detector.Classify(s.analyser.Snapshot(), now)
	u, res := s.chunker.Tick(verdict)

	switch res {
	case vad.Discarded:
		s.config.Metrics.RecordUtteranceDiscarded()
		s.logger.Debug("Discarded chunk while muted")

	case vad.Emitted:
		payload, err := s.encoder.Finish(u.Segments)
		if err != nil {
			s.reportError(fmt.Errorf("failed to encode utterance %s: %w", u.ID, err))
			return
		}

		s.config.Metrics.RecordUtterance(u.Duration())
		s.logger.DebugWithFields("Utterance emitted", map[string]interface{}{
			"id":          u.ID,
			"duration_ms": u.Duration().Milliseconds(),
			"segments":    len(u.Segments),
			"bytes":       len(payload),
		})

		if s.running.Load() && s.config.OnUtterance != nil {
			s.config.OnUtterance(u.ID, payload)
		}
	}
}

func (s *Session) onFrames(samples []int16) {
	if !s.running.Load() {
		return
	}

	s.analyser.Write(samples)

	segment, err := s.encoder.Encode(samples)
	if err != nil {
		s.reportError(fmt.Errorf("failed to encode frames: %w", err))
		return
	}
	s.chunker.AddSegment(segment)
}

func (s *Session) onLost(err error) {
	if !s.running.Load() {
		return
	}
	s.logger.Error("Input device lost: %v", err)
	_ = s.Stop()
	s.reportError(&DeviceError{Op: "capture", Err: err})
}

func (s *Session) reportError(err error) {
	s.config.Metrics.RecordCaptureError()
	s.logger.Error("%v", err)
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}
