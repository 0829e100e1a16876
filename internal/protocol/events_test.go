package protocol

import (
	"errors"
	"testing"
)

func TestDecodeEventVariants(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Event
	}{
		{"transcription", `{"type":"transcription","text":"hello"}`, Event{Type: EventTranscription, Text: "hello"}},
		{"empty transcription", `{"type":"transcription","text":""}`, Event{Type: EventTranscription}},
		{"status", `{"type":"status","status":"thinking"}`, Event{Type: EventStatus, Status: StatusThinking}},
		{"text response", `{"type":"text_response","text":"Nice work"}`, Event{Type: EventTextResponse, Text: "Nice work"}},
		{"audio url", `{"type":"audio_url","url":"/output/a.wav"}`, Event{Type: EventAudioURL, URL: "/output/a.wav"}},
		{"error", `{"type":"error","message":"boom"}`, Event{Type: EventError, Message: "boom"}},
		{"extra fields", `{"type":"status","status":"idle","seq":4}`, Event{Type: EventStatus, Status: StatusIdle}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tc.in))
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if *ev != tc.want {
				t.Errorf("got %+v, want %+v", *ev, tc.want)
			}
		})
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	inputs := []string{
		`not json`,
		`{}`,
		`{"type":"weather","text":"sunny"}`,
		`{"type":"transcription"}`,
		`{"type":"status","status":"sleeping"}`,
		`{"type":"status"}`,
		`{"type":"audio_url","url":""}`,
		`{"type":"error"}`,
		`["type","status"]`,
	}

	for _, in := range inputs {
		if _, err := DecodeEvent([]byte(in)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("DecodeEvent(%s): expected ErrMalformedEvent, got %v", in, err)
		}
	}
}

func TestEncodeDecodeAudioURL(t *testing.T) {
	data, err := AudioURL("https://cdn.example/a.wav").Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != `{"type":"audio_url","url":"https://cdn.example/a.wav"}` {
		t.Errorf("unexpected envelope: %s", data)
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.URL != "https://cdn.example/a.wav" {
		t.Errorf("unexpected url %q", ev.URL)
	}
}
