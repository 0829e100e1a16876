package audio

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lucianHymer/speech-coach/internal/vad"
)

type fakeDevice struct {
	mu       sync.Mutex
	cb       Callbacks
	startErr error
	starts   int
	stops    int
}

func (d *fakeDevice) Start(cb Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.cb = cb
	d.starts++
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDevice) push(samples []int16) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	cb.Frames(samples)
}

func (d *fakeDevice) lose() {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	cb.Lost(ErrDeviceLost)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

const framesPerTick = 160 // 10ms at 16kHz

func frame(level int16) []int16 {
	out := make([]int16, framesPerTick)
	for i := range out {
		if i%2 == 0 {
			out[i] = level
		} else {
			out[i] = -level
		}
	}
	return out
}

type harness struct {
	t      *testing.T
	clk    *clock
	t0     time.Time
	dev    *fakeDevice
	sess   *Session
	mu     sync.Mutex
	emits  [][]byte
	errs   []error
	onEmit func()
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, t0: time.Unix(1700000000, 0), dev: &fakeDevice{}}
	h.clk = &clock{now: h.t0}
	h.sess = NewSession(SessionConfig{
		Threshold:    vad.DefaultThreshold,
		WindowSize:   framesPerTick,
		PollInterval: time.Hour,
		Chunker:      vad.DefaultChunkerConfig(),
		Device:       h.dev,
		Now:          h.clk.Now,
		OnUtterance: func(id string, payload []byte) {
			h.mu.Lock()
			h.emits = append(h.emits, payload)
			h.mu.Unlock()
			if h.onEmit != nil {
				h.onEmit()
			}
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		},
	})
	return h
}

// run pushes one frame per 10ms between from and to (inclusive) and ticks
func (h *harness) run(from, to time.Duration, level int16) {
	for at := from; at <= to; at += 10 * time.Millisecond {
		now := h.t0.Add(at)
		h.clk.Set(now)
		if h.sess.Running() {
			h.dev.push(frame(level))
		}
		h.sess.tick(h.loopStop(), now)
	}
}

// loopStop is the stop channel of the current polling loop
func (h *harness) loopStop() <-chan struct{} {
	h.sess.mu.Lock()
	defer h.sess.mu.Unlock()
	return h.sess.stopCh
}

func (h *harness) emitted() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.emits...)
}

func TestSessionEmitsWAVUtterance(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	defer h.sess.Stop()

	h.run(10*time.Millisecond, 900*time.Millisecond, 8000)
	h.run(910*time.Millisecond, 1750*time.Millisecond, 0)

	got := h.emitted()
	if len(got) != 1 {
		t.Fatalf("Expected one utterance, got %d", len(got))
	}
	payload := got[0]
	if !bytes.HasPrefix(payload, []byte("RIFF")) || !bytes.Equal(payload[8:12], []byte("WAVE")) {
		t.Fatalf("Expected WAV payload, got header %q", payload[:12])
	}
	// 90 voiced + 80 silent frames of 160 samples, 44 byte header
	wantBytes := 44 + 170*framesPerTick*2
	if len(payload) != wantBytes {
		t.Errorf("Expected %d bytes, got %d", wantBytes, len(payload))
	}
}

func TestSessionMuteSuppressesButKeepsCapturing(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	defer h.sess.Stop()

	h.sess.SetMuted(true)
	if !h.sess.Muted() {
		t.Fatal("Expected session to be muted")
	}
	h.run(10*time.Millisecond, 900*time.Millisecond, 8000)
	h.run(910*time.Millisecond, 1750*time.Millisecond, 0)
	if n := len(h.emitted()); n != 0 {
		t.Fatalf("Expected no utterance while muted, got %d", n)
	}
	if !h.sess.Running() {
		t.Fatal("Expected capture to keep running while muted")
	}

	h.sess.SetMuted(false)
	h.run(2*time.Second, 2900*time.Millisecond, 8000)
	h.run(2910*time.Millisecond, 3800*time.Millisecond, 0)
	if n := len(h.emitted()); n != 1 {
		t.Fatalf("Expected one utterance after unmute, got %d", n)
	}
	if h.dev.starts != 1 {
		t.Errorf("Expected device to be opened once, got %d", h.dev.starts)
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	h := newHarness(t)

	if err := h.sess.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := h.sess.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	if err := h.sess.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := h.sess.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
	if h.sess.Running() {
		t.Error("Expected session to be stopped")
	}
	if h.dev.stops != 1 {
		t.Errorf("Expected device released once, got %d", h.dev.stops)
	}
}

func TestSessionStopFromCallback(t *testing.T) {
	h := newHarness(t)
	h.onEmit = func() {
		if err := h.sess.Stop(); err != nil {
			t.Errorf("Stop from callback: %v", err)
		}
	}
	if err := h.sess.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	h.run(10*time.Millisecond, 900*time.Millisecond, 8000)
	h.run(910*time.Millisecond, 5*time.Second, 0)

	if n := len(h.emitted()); n != 1 {
		t.Fatalf("Expected capture to end after first utterance, got %d", n)
	}
	if h.sess.Running() {
		t.Error("Expected session to be stopped")
	}
}

func TestSessionStaleLoopSkipsTick(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	stale := h.loopStop()
	if err := h.sess.Stop(); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}
	if err := h.sess.Start(); err != nil {
		t.Fatalf("Failed to restart session: %v", err)
	}
	defer h.sess.Stop()

	h.run(10*time.Millisecond, 900*time.Millisecond, 8000)
	h.run(910*time.Millisecond, 1690*time.Millisecond, 0)

	// The cut is due at 1700ms; only the live loop may take it
	cut := h.t0.Add(1700 * time.Millisecond)
	h.clk.Set(cut)
	h.dev.push(frame(0))
	h.sess.tick(stale, cut)
	if n := len(h.emitted()); n != 0 {
		t.Fatalf("Expected the stopped loop to skip its tick, got %d utterances", n)
	}

	h.sess.tick(h.loopStop(), cut)
	if n := len(h.emitted()); n != 1 {
		t.Fatalf("Expected the live loop to emit, got %d utterances", n)
	}
}

func TestSessionDeviceErrors(t *testing.T) {
	h := newHarness(t)
	h.dev.startErr = errors.New("permission denied")

	err := h.sess.Start()
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Expected DeviceError, got %v", err)
	}
	if h.sess.Running() {
		t.Error("Expected session not to run after device failure")
	}

	noDevice := NewSession(SessionConfig{})
	if err := noDevice.Start(); !errors.Is(err, ErrNoInputDevice) {
		t.Errorf("Expected ErrNoInputDevice, got %v", err)
	}
}

func TestSessionDeviceLost(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.Start(); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	h.dev.lose()

	if h.sess.Running() {
		t.Error("Expected session to stop after device loss")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) != 1 || !errors.Is(h.errs[0], ErrDeviceLost) {
		t.Fatalf("Expected one device lost error, got %v", h.errs)
	}
}
