package vad

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChunkerConfig holds the cut thresholds for utterance chunking
type ChunkerConfig struct {
	MinChunk time.Duration // No utterance closes before this age
	Silence  time.Duration // Trailing silence that ends a turn
	MaxChunk time.Duration // Forced cut while the user keeps talking
}

// DefaultChunkerConfig returns the thresholds used by the call client
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MinChunk: 700 * time.Millisecond,
		Silence:  800 * time.Millisecond,
		MaxChunk: 8000 * time.Millisecond,
	}
}

func (c ChunkerConfig) withDefaults() ChunkerConfig {
	def := DefaultChunkerConfig()
	if c.MinChunk <= 0 {
		c.MinChunk = def.MinChunk
	}
	if c.Silence <= 0 {
		c.Silence = def.Silence
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = def.MaxChunk
	}
	return c
}

// Utterance is one closed run of captured audio segments
type Utterance struct {
	ID        string
	Segments  [][]byte
	Start     time.Time
	LastVoice time.Time
	End       time.Time
}

// Duration returns the utterance age at the moment it was cut
func (u *Utterance) Duration() time.Duration {
	return u.End.Sub(u.Start)
}

// Size returns the total number of encoded bytes across all segments
func (u *Utterance) Size() int {
	n := 0
	for _, s := range u.Segments {
		n += len(s)
	}
	return n
}

// Bytes concatenates all segments in order
func (u *Utterance) Bytes() []byte {
	out := make([]byte, 0, u.Size())
	for _, s := range u.Segments {
		out = append(out, s...)
	}
	return out
}

// CutResult says what happened on a tick
type CutResult int

const (
	// NoCut: the cut condition did not fire or nothing was buffered
	NoCut CutResult = iota
	// Emitted: the buffered segments closed into an utterance
	Emitted
	// Discarded: the cut fired while muted and the buffer was dropped
	Discarded
)

// Chunker turns detector verdicts plus encoded segments into utterances.
//
// On each tick with timestamp now:
//
//	age     = now - chunkStart
//	silence = now - lastVoice
//	cut     = age >= MinChunk && (silence >= Silence || age >= MaxChunk)
//
// A cut with buffered segments emits them (or drops them while muted) and
// restarts the chunk at now.
type Chunker struct {
	config ChunkerConfig

	mu         sync.Mutex
	chunkStart time.Time
	lastVoice  time.Time
	segments   [][]byte
	muted      bool
}

// NewChunker creates a chunker whose first chunk starts at start
func NewChunker(config ChunkerConfig, start time.Time) *Chunker {
	c := &Chunker{config: config.withDefaults()}
	c.Reset(start)
	return c
}

// Config returns the effective thresholds
func (c *Chunker) Config() ChunkerConfig {
	return c.config
}

// AddSegment buffers one encoded segment for the current chunk
func (c *Chunker) AddSegment(segment []byte) {
	if len(segment) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.segments = append(c.segments, segment)
}

// SetMuted toggles whether cuts emit or discard
func (c *Chunker) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// Muted reports the current mute state
func (c *Chunker) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Tick applies one verdict. The returned utterance is non-nil only for Emitted.
func (c *Chunker) Tick(v Verdict) (*Utterance, CutResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := v.Timestamp
	if v.Voiced {
		c.lastVoice = now
	}

	age := now.Sub(c.chunkStart)
	silence := now.Sub(c.lastVoice)

	cut := age >= c.config.MinChunk &&
		(silence >= c.config.Silence || age >= c.config.MaxChunk)
	if !cut || len(c.segments) == 0 {
		return nil, NoCut
	}

	if c.muted {
		c.restart(now)
		return nil, Discarded
	}

	u := &Utterance{
		ID:        uuid.New().String(),
		Segments:  c.segments,
		Start:     c.chunkStart,
		LastVoice: c.lastVoice,
		End:       now,
	}
	c.segments = nil
	c.restart(now)

	return u, Emitted
}

// Reset drops buffered segments and starts a new chunk at now
func (c *Chunker) Reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restart(now)
}

// Pending returns the number of buffered segments
func (c *Chunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segments)
}

// restart must be called with mu held
func (c *Chunker) restart(now time.Time) {
	c.segments = nil
	c.chunkStart = now
	c.lastVoice = now
}
