package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lucianHymer/speech-coach/internal/logger"
	"github.com/lucianHymer/speech-coach/internal/protocol"
	"github.com/pion/webrtc/v4"
)

const (
	rtcSignalPath   = "/api/rtc/call/"
	dataChannelName = "call"
)

// WebRTCDialer opens call channels as a reliable ordered DataChannel,
// signalled over a websocket at {BaseURL}/api/rtc/call/{sessionID}
type WebRTCDialer struct {
	BaseURL    string
	ICEServers []string
	Dialer     *websocket.Dialer
	// API builds the peer connection; nil uses pion's defaults
	API    *webrtc.API
	logger *logger.ContextLogger
}

// NewWebRTCDialer creates a DataChannel dialer
func NewWebRTCDialer(baseURL string, iceServers []string, log *logger.Logger) *WebRTCDialer {
	if log == nil {
		log = logger.Discard()
	}
	return &WebRTCDialer{
		BaseURL:    baseURL,
		ICEServers: iceServers,
		Dialer:     websocket.DefaultDialer,
		logger:     log.With("webrtc"),
	}
}

// SignalURL returns the signalling address for a session
func (d *WebRTCDialer) SignalURL(sessionID string) string {
	return strings.TrimRight(d.BaseURL, "/") + rtcSignalPath + url.PathEscape(sessionID)
}

// Dial negotiates the peer connection and blocks until the DataChannel opens
func (d *WebRTCDialer) Dial(ctx context.Context, sessionID string) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	wsConn, _, err := dialer.DialContext(ctx, d.SignalURL(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect signaling WebSocket: %w", err)
	}

	var iceServers []webrtc.ICEServer
	if len(d.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: d.ICEServers}}
	}

	newPeer := webrtc.NewPeerConnection
	if d.API != nil {
		newPeer = d.API.NewPeerConnection
	}
	pc, err := newPeer(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		wsConn.Close()
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	c := &rtcChannel{
		pc:     pc,
		ws:     wsConn,
		events: make(chan []byte, 64),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
		logger: d.logger,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		d.logger.Debug("Connection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			c.finish()
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		data, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			d.logger.Error("Failed to marshal ICE candidate: %v", err)
			return
		}
		if err := c.sendCandidate(data); err != nil {
			d.logger.Error("Failed to send ICE candidate: %v", err)
		}
	})

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelName, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	c.dc = dc

	dc.OnOpen(func() {
		d.logger.Info("DataChannel opened")
		close(c.opened)
	})
	dc.OnClose(func() {
		d.logger.Info("DataChannel closed")
		c.finish()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		// Binary frames are outbound-only on the call channel
		if !msg.IsString {
			return
		}
		select {
		case c.events <- msg.Data:
		case <-c.done:
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	offerJSON, err := json.Marshal(offer)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to marshal offer: %w", err)
	}
	if err := c.sendOffer(offerJSON); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}

	go c.handleSignaling()

	select {
	case <-c.opened:
		return c, nil
	case <-c.done:
		c.Close()
		return nil, fmt.Errorf("peer connection closed during negotiation")
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("failed to open data channel: %w", ctx.Err())
	}
}

type rtcChannel struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	ws     *websocket.Conn
	logger *logger.ContextLogger

	wsMu       sync.Mutex
	offerSent  bool
	pendingICE [][]byte // candidates gathered before the offer went out

	events chan []byte
	opened chan struct{}
	done   chan struct{}

	finishOnce sync.Once
	closeOnce  sync.Once
}

// writeSignal must be called with wsMu held
func (c *rtcChannel) writeSignal(msgType string, data []byte) error {
	return c.ws.WriteJSON(protocol.SignalingMessage{Type: msgType, Data: json.RawMessage(data)})
}

func (c *rtcChannel) sendOffer(offer []byte) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if err := c.writeSignal(protocol.SignalOffer, offer); err != nil {
		return err
	}
	c.offerSent = true

	for _, candidate := range c.pendingICE {
		if err := c.writeSignal(protocol.SignalICE, candidate); err != nil {
			return err
		}
	}
	c.pendingICE = nil
	return nil
}

func (c *rtcChannel) sendCandidate(candidate []byte) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if !c.offerSent {
		c.pendingICE = append(c.pendingICE, candidate)
		return nil
	}
	return c.writeSignal(protocol.SignalICE, candidate)
}

// handleSignaling applies the remote answer and candidates
func (c *rtcChannel) handleSignaling() {
	for {
		var msg protocol.SignalingMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.logger.Debug("Signaling WebSocket closed: %v", err)
			return
		}

		switch msg.Type {
		case protocol.SignalAnswer:
			var answer webrtc.SessionDescription
			if err := json.Unmarshal(msg.Data, &answer); err != nil {
				c.logger.Error("Failed to unmarshal answer: %v", err)
				continue
			}
			if err := c.pc.SetRemoteDescription(answer); err != nil {
				c.logger.Error("Failed to set remote description: %v", err)
			}

		case protocol.SignalICE:
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Data, &candidate); err != nil {
				c.logger.Error("Failed to unmarshal ICE candidate: %v", err)
				continue
			}
			if err := c.pc.AddICECandidate(candidate); err != nil {
				c.logger.Error("Failed to add ICE candidate: %v", err)
			}

		default:
			c.logger.Warn("Unknown signaling message type: %s", msg.Type)
		}
	}
}

func (c *rtcChannel) finish() {
	c.finishOnce.Do(func() { close(c.done) })
}

func (c *rtcChannel) WriteAudio(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.dc.Send(payload); err != nil {
		return fmt.Errorf("failed to send on data channel: %w", err)
	}
	return nil
}

func (c *rtcChannel) ReadEvent() ([]byte, error) {
	select {
	case data := <-c.events:
		return data, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *rtcChannel) Close() error {
	c.closeOnce.Do(func() {
		c.finish()
		if c.dc != nil {
			_ = c.dc.Close()
		}
		_ = c.pc.Close()
		_ = c.ws.Close()
	})
	return nil
}
