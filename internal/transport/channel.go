package transport

import (
	"context"
	"errors"
)

// ErrClosed marks the end of a channel, whether closed by either peer or dropped
var ErrClosed = errors.New("channel closed")

// Channel is one open duplex connection for a call.
// WriteAudio may be called concurrently with ReadEvent.
type Channel interface {
	// WriteAudio sends one utterance as a binary frame
	WriteAudio(payload []byte) error
	// ReadEvent blocks for the next textual event frame.
	// The error wraps ErrClosed when the channel has closed.
	ReadEvent() ([]byte, error)
	// Close releases the channel. Safe to call more than once.
	Close() error
}

// Dialer opens a Channel scoped to a session
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Channel, error)
}
