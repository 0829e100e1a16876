package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lucianHymer/speech-coach/internal/protocol"
	"github.com/pion/webrtc/v4"
)

func loopbackAPI() *webrtc.API {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// rtcPeer answers signalling offers with its own peer connection and
// records what arrives on the call DataChannel
type rtcPeer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	api      *webrtc.API

	mu      sync.Mutex
	path    string
	signals []string
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel

	opened   chan struct{}
	openOnce sync.Once
	received chan []byte
}

func newRTCPeer(t *testing.T, api *webrtc.API) *rtcPeer {
	p := &rtcPeer{
		api:      api,
		opened:   make(chan struct{}),
		received: make(chan []byte, 16),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(func() {
		p.mu.Lock()
		if p.pc != nil {
			p.pc.Close()
		}
		p.mu.Unlock()
		p.server.Close()
	})
	return p
}

func (p *rtcPeer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	pc, err := p.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.mu.Lock()
		p.dc = dc
		p.mu.Unlock()

		dc.OnOpen(func() {
			p.openOnce.Do(func() { close(p.opened) })
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if !msg.IsString {
				p.received <- msg.Data
			}
		})
	})

	p.mu.Lock()
	p.path = r.URL.Path
	p.pc = pc
	p.mu.Unlock()

	for {
		var msg protocol.SignalingMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}

		p.mu.Lock()
		p.signals = append(p.signals, msg.Type)
		p.mu.Unlock()

		switch msg.Type {
		case protocol.SignalOffer:
			var offer webrtc.SessionDescription
			if err := json.Unmarshal(msg.Data, &offer); err != nil {
				return
			}
			if err := pc.SetRemoteDescription(offer); err != nil {
				return
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				return
			}
			gathered := webrtc.GatheringCompletePromise(pc)
			if err := pc.SetLocalDescription(answer); err != nil {
				return
			}
			<-gathered

			data, err := json.Marshal(pc.LocalDescription())
			if err != nil {
				return
			}
			if err := ws.WriteJSON(protocol.SignalingMessage{Type: protocol.SignalAnswer, Data: data}); err != nil {
				return
			}

		case protocol.SignalICE:
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Data, &candidate); err != nil {
				return
			}
			_ = pc.AddICECandidate(candidate)
		}
	}
}

func (p *rtcPeer) wsURL() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http")
}

func (p *rtcPeer) channel() *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dc
}

func (p *rtcPeer) signalTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.signals...)
}

func TestWebRTCChannel(t *testing.T) {
	api := loopbackAPI()
	peer := newRTCPeer(t, api)

	dialer := NewWebRTCDialer(peer.wsURL(), nil, nil)
	dialer.API = api

	rec := newRecorder()
	tr := New(Config{
		Dialer:        dialer,
		DialTimeout:   10 * time.Second,
		OnStateChange: rec.onState,
		OnEvent:       rec.onEvent,
	})
	defer tr.Disconnect()

	tr.Connect("sess-1")
	rec.waitState(t, StateConnected)

	peer.mu.Lock()
	path := peer.path
	peer.mu.Unlock()
	if path != "/api/rtc/call/sess-1" {
		t.Errorf("Unexpected signalling path %s", path)
	}

	// Candidates gathered before the offer are held back until it is sent
	signals := peer.signalTypes()
	if len(signals) == 0 || signals[0] != protocol.SignalOffer {
		t.Errorf("Expected the offer first, got %v", signals)
	}

	select {
	case <-peer.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("Remote DataChannel never opened")
	}

	if !tr.SendAudio([]byte("RIFF-rtc")) {
		t.Fatal("Expected send to succeed while connected")
	}
	select {
	case got := <-peer.received:
		if string(got) != "RIFF-rtc" {
			t.Errorf("Peer received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Peer never received the utterance")
	}

	frame, err := protocol.Transcription("hello coach").Encode()
	if err != nil {
		t.Fatalf("Failed to encode event: %v", err)
	}
	if err := peer.channel().SendText(string(frame)); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	rec.waitFor(t, func() bool { return len(rec.events) == 1 })

	rec.mu.Lock()
	ev := rec.events[0]
	rec.mu.Unlock()
	if ev.Type != protocol.EventTranscription || ev.Text != "hello coach" {
		t.Errorf("Unexpected event %+v", ev)
	}

	// Remote close ends the call channel cleanly
	if err := peer.channel().Close(); err != nil {
		t.Fatalf("Failed to close remote channel: %v", err)
	}
	rec.waitState(t, StateDisconnected)

	if tr.SendAudio([]byte("RIFF-late")) {
		t.Error("Expected send after remote close to be dropped")
	}
}
