package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lucianHymer/speech-coach/internal/logger"
)

// MalgoOutput plays clips on the default miniaudio playback device.
// Each clip opens its own device so the sample rate always matches.
type MalgoOutput struct {
	logger *logger.ContextLogger
}

// NewMalgoOutput creates a speaker output
func NewMalgoOutput(log *logger.Logger) *MalgoOutput {
	if log == nil {
		log = logger.Discard()
	}
	return &MalgoOutput{logger: log.With("playback")}
}

// Play blocks until samples have been rendered or ctx is cancelled
func (o *MalgoOutput) Play(ctx context.Context, samples []int16, sampleRate, channels int) error {
	if len(samples) == 0 {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	clip := newClipRenderer(samples)

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) { clip.render(pOutput) },
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	select {
	case <-clip.finished:
	case <-ctx.Done():
	}

	if err := device.Stop(); err != nil {
		o.logger.Warn("Failed to stop playback device: %v", err)
	}
	return ctx.Err()
}

// clipRenderer feeds one clip into device periods as S16LE
type clipRenderer struct {
	mu       sync.Mutex
	samples  []int16
	pos      int
	finished chan struct{}
	once     sync.Once
}

func newClipRenderer(samples []int16) *clipRenderer {
	return &clipRenderer{samples: samples, finished: make(chan struct{})}
}

// render fills out and pads with silence. finished closes on the period
// after the one that carried the last sample, once the device has pulled
// the tail.
func (r *clipRenderer) render(out []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := r.pos >= len(r.samples)

	n := 0
	for ; n+1 < len(out) && r.pos < len(r.samples); n += 2 {
		v := r.samples[r.pos]
		out[n] = byte(v)
		out[n+1] = byte(v >> 8)
		r.pos++
	}
	for ; n < len(out); n++ {
		out[n] = 0
	}

	if tail {
		r.once.Do(func() { close(r.finished) })
	}
}
