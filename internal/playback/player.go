package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-audio/wav"
	"github.com/lucianHymer/speech-coach/internal/logger"
)

// ErrUnsupportedFormat is returned for clips that are not PCM WAV
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// maxClipBytes bounds a single downloaded clip
const maxClipBytes = 64 << 20

// Output plays interleaved S16 samples and returns when they have drained
type Output interface {
	Play(ctx context.Context, samples []int16, sampleRate, channels int) error
}

// Resolver turns a clip reference from the backend into a fetchable URL
type Resolver interface {
	ResolveURL(ref string) (string, error)
}

// DevicePlayer downloads WAV clips and plays them on an Output
type DevicePlayer struct {
	Client   *http.Client
	Resolver Resolver // nil plays refs as absolute URLs
	Output   Output
	Volume   float64 // 0..1

	logger *logger.ContextLogger
}

// NewDevicePlayer creates a player; volume outside (0,1] plays at full scale
func NewDevicePlayer(resolver Resolver, output Output, volume float64, log *logger.Logger) *DevicePlayer {
	if log == nil {
		log = logger.Discard()
	}
	if volume <= 0 || volume > 1 {
		volume = 1
	}
	return &DevicePlayer{
		Client:   &http.Client{Timeout: 30 * time.Second},
		Resolver: resolver,
		Output:   output,
		Volume:   volume,
		logger:   log.With("playback"),
	}
}

// Play fetches, decodes and plays ref
func (p *DevicePlayer) Play(ctx context.Context, ref string) error {
	target := ref
	if p.Resolver != nil {
		resolved, err := p.Resolver.ResolveURL(ref)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", ref, err)
		}
		target = resolved
	}

	data, err := p.fetch(ctx, target)
	if err != nil {
		return err
	}

	samples, sampleRate, channels, err := p.decode(data)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", ref, err)
	}

	p.logger.DebugWithFields("Playing clip", map[string]interface{}{
		"url":         target,
		"samples":     len(samples),
		"sample_rate": sampleRate,
		"channels":    channels,
	})

	return p.Output.Play(ctx, samples, sampleRate, channels)
}

func (p *DevicePlayer) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: %s", target, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxClipBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}
	return data, nil
}

// decode returns interleaved S16 samples scaled by Volume
func (p *DevicePlayer) decode(data []byte) ([]int16, int, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, 0, ErrUnsupportedFormat
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, err
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, 0, 0, ErrUnsupportedFormat
	}

	depth := int(dec.BitDepth)
	if depth != 8 && depth != 16 && depth != 24 && depth != 32 {
		return nil, 0, 0, fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, depth)
	}

	volume := p.Volume
	if volume <= 0 || volume > 1 {
		volume = 1
	}

	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = toS16(v, depth, volume)
	}

	return out, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// toS16 rescales a sample of the given bit depth to 16 bits
func toS16(v, depth int, volume float64) int16 {
	switch depth {
	case 8:
		v = (v - 128) << 8 // 8-bit WAV is unsigned
	case 24:
		v >>= 8
	case 32:
		v >>= 16
	}

	scaled := float64(v) * volume
	if scaled > 32767 {
		scaled = 32767
	} else if scaled < -32768 {
		scaled = -32768
	}
	return int16(scaled)
}
