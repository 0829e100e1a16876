package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

const wavFormatPCM = 1

// Encoder turns device frames into segments and closes a run of segments
// into one utterance payload
type Encoder interface {
	Encode(samples []int16) ([]byte, error)
	Finish(segments [][]byte) ([]byte, error)
}

// WAVEncoder produces raw PCM segments and wraps an utterance as a RIFF/WAVE file
type WAVEncoder struct {
	SampleRate int
}

// NewWAVEncoder creates an encoder for mono 16-bit audio at sampleRate
func NewWAVEncoder(sampleRate int) *WAVEncoder {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return &WAVEncoder{SampleRate: sampleRate}
}

// Encode returns the samples as little-endian PCM
func (e *WAVEncoder) Encode(samples []int16) ([]byte, error) {
	return samplesToBytes(samples), nil
}

// Finish concatenates PCM segments and writes them as a WAV file
func (e *WAVEncoder) Finish(segments [][]byte) ([]byte, error) {
	var n int
	for _, s := range segments {
		if len(s)%2 != 0 {
			return nil, fmt.Errorf("segment of %d bytes is not 16-bit aligned", len(s))
		}
		n += len(s) / 2
	}

	data := make([]int, 0, n)
	for _, s := range segments {
		for _, v := range bytesToSamples(s) {
			data = append(data, int(v))
		}
	}

	// wav.Encoder seeks back to patch chunk sizes on Close
	buf := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(buf, e.SampleRate, BitsPerSample, Channels, wavFormatPCM)
	if err := enc.Write(&goaudio.IntBuffer{
		Data: data,
		Format: &goaudio.Format{
			NumChannels: Channels,
			SampleRate:  e.SampleRate,
		},
		SourceBitDepth: BitsPerSample,
	}); err != nil {
		return nil, fmt.Errorf("failed to write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav: %w", err)
	}

	payload, err := io.ReadAll(buf.BytesReader())
	if err != nil {
		return nil, fmt.Errorf("failed to read wav: %w", err)
	}
	return payload, nil
}
