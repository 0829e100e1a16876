package protocol

import "encoding/json"

// Signaling message types exchanged while setting up a WebRTC call channel
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
	SignalICE    = "ice"
)

// SignalingMessage is used for WebRTC signaling over WebSocket
type SignalingMessage struct {
	Type string          `json:"type"` // "offer", "answer", "ice"
	Data json.RawMessage `json:"data"`
}
