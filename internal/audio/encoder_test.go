package audio

import (
	"bytes"
	"testing"

	"github.com/go-audio/wav"
)

func TestWAVEncoderRoundTrip(t *testing.T) {
	enc := NewWAVEncoder(SampleRate)

	first, err := enc.Encode([]int16{0, 1000, -1000, 32767})
	if err != nil {
		t.Fatalf("Failed to encode frames: %v", err)
	}
	second, err := enc.Encode([]int16{-32768, 5})
	if err != nil {
		t.Fatalf("Failed to encode frames: %v", err)
	}

	payload, err := enc.Finish([][]byte{first, second})
	if err != nil {
		t.Fatalf("Failed to finish utterance: %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(payload))
	if !dec.IsValidFile() {
		t.Fatal("Expected a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("Failed to decode WAV: %v", err)
	}

	if int(dec.SampleRate) != SampleRate || int(dec.NumChans) != 1 || int(dec.BitDepth) != 16 {
		t.Errorf("Unexpected format: rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	want := []int{0, 1000, -1000, 32767, -32768, 5}
	if len(buf.Data) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(buf.Data))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], buf.Data[i])
		}
	}
}

func TestWAVEncoderRejectsOddSegment(t *testing.T) {
	if _, err := NewWAVEncoder(0).Finish([][]byte{{1, 2, 3}}); err == nil {
		t.Error("Expected error for unaligned segment")
	}
}

func TestAnalyserWindow(t *testing.T) {
	a := NewAnalyser(4)

	a.Write([]int16{16384, 16384})
	if got := a.Snapshot(); len(got) != 2 || got[0] != 0.5 {
		t.Fatalf("Expected partial window [0.5 0.5], got %v", got)
	}

	a.Write([]int16{1, 2, 3})
	got := a.Snapshot()
	if len(got) != 4 {
		t.Fatalf("Expected full window, got %d samples", len(got))
	}
	// Oldest first: 16384, 1, 2, 3
	if got[0] != 0.5 || got[3] != 3.0/32768.0 {
		t.Errorf("Unexpected window order %v", got)
	}

	a.Write([]int16{-32768, 0, 0, 0, 0, 0})
	if got := a.Snapshot(); got[0] != 0 || len(got) != 4 {
		t.Errorf("Expected only the newest samples, got %v", got)
	}

	a.Reset()
	if got := a.Snapshot(); len(got) != 0 {
		t.Errorf("Expected empty window after reset, got %v", got)
	}
}
