package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the `type` tag of an inbound call event
type EventType string

const (
	// Recognized text of the user's last utterance
	EventTranscription EventType = "transcription"
	// Turn-taking indicator
	EventStatus EventType = "status"
	// The coach's textual reply
	EventTextResponse EventType = "text_response"
	// Playable reference to synthesized speech
	EventAudioURL EventType = "audio_url"
	// Backend-side failure for the last utterance
	EventError EventType = "error"
)

// Status is the payload of a status event
type Status string

const (
	StatusIdle     Status = "idle"
	StatusThinking Status = "thinking"
	StatusSpeaking Status = "speaking"
)

// Valid reports whether s is one of the known turn states
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusThinking, StatusSpeaking:
		return true
	}
	return false
}

// ErrMalformedEvent is returned for envelopes that cannot be decoded into a known event
var ErrMalformedEvent = errors.New("malformed event")

// Event is one decoded inbound message. Which payload field is set depends on Type.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Status  Status    `json:"status,omitempty"`
	URL     string    `json:"url,omitempty"`
	Message string    `json:"message,omitempty"`
}

// wireEvent distinguishes missing fields from empty ones
type wireEvent struct {
	Type    string  `json:"type"`
	Text    *string `json:"text"`
	Status  *string `json:"status"`
	URL     *string `json:"url"`
	Message *string `json:"message"`
}

// DecodeEvent parses a `{type, ...fields}` envelope and checks that the
// fields required by its type are present
func DecodeEvent(data []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := &Event{Type: EventType(w.Type)}

	switch ev.Type {
	case EventTranscription, EventTextResponse:
		if w.Text == nil {
			return nil, fmt.Errorf("%w: %s without text", ErrMalformedEvent, w.Type)
		}
		ev.Text = *w.Text

	case EventStatus:
		if w.Status == nil || !Status(*w.Status).Valid() {
			return nil, fmt.Errorf("%w: invalid status", ErrMalformedEvent)
		}
		ev.Status = Status(*w.Status)

	case EventAudioURL:
		if w.URL == nil || *w.URL == "" {
			return nil, fmt.Errorf("%w: audio_url without url", ErrMalformedEvent)
		}
		ev.URL = *w.URL

	case EventError:
		if w.Message == nil {
			return nil, fmt.Errorf("%w: error without message", ErrMalformedEvent)
		}
		ev.Message = *w.Message

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, w.Type)
	}

	return ev, nil
}

// Encode serializes the event in the same flat envelope DecodeEvent accepts
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Transcription builds a transcription event
func Transcription(text string) *Event {
	return &Event{Type: EventTranscription, Text: text}
}

// StatusEvent builds a status event
func StatusEvent(s Status) *Event {
	return &Event{Type: EventStatus, Status: s}
}

// TextResponse builds a text_response event
func TextResponse(text string) *Event {
	return &Event{Type: EventTextResponse, Text: text}
}

// AudioURL builds an audio_url event
func AudioURL(url string) *Event {
	return &Event{Type: EventAudioURL, URL: url}
}

// ErrorEvent builds an error event
func ErrorEvent(message string) *Event {
	return &Event{Type: EventError, Message: message}
}
