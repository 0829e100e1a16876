package call

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lucianHymer/speech-coach/internal/audio"
	"github.com/lucianHymer/speech-coach/internal/logger"
	"github.com/lucianHymer/speech-coach/internal/metrics"
	"github.com/lucianHymer/speech-coach/internal/playback"
	"github.com/lucianHymer/speech-coach/internal/protocol"
	"github.com/lucianHymer/speech-coach/internal/transcript"
	"github.com/lucianHymer/speech-coach/internal/transport"
	"github.com/lucianHymer/speech-coach/internal/vad"
)

var (
	// ErrCallActive is returned by Start while a call is running
	ErrCallActive = errors.New("call already active")
	// ErrNoCall is returned by operations that need a running call
	ErrNoCall = errors.New("no active call")
)

// Config wires the controller to its collaborators
type Config struct {
	Dialer      transport.Dialer
	DialTimeout time.Duration

	// NewDevice opens a fresh microphone handle per call
	NewDevice func() audio.Device
	Encoder   audio.Encoder
	Player    playback.Player

	Threshold    float64
	WindowSize   int
	PollInterval time.Duration
	Chunker      vad.ChunkerConfig

	// Reconnect once per drop while the call is still active
	AutoReconnect  bool
	ReconnectDelay time.Duration

	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	Transcript *transcript.Log

	// OnUpdate receives the snapshot after every change
	OnUpdate func(Snapshot)
	// OnEvent mirrors every inbound event of the active call
	OnEvent func(*protocol.Event)
}

// Snapshot is the UI-visible state of the controller
type Snapshot struct {
	SessionID         string    `json:"session_id,omitempty"`
	Active            bool      `json:"active"`
	Muted             bool      `json:"muted"`
	Connection        string    `json:"connection"`
	ConnectionError   string    `json:"connection_error,omitempty"`
	Turn              string    `json:"turn"`
	Transcript        string    `json:"transcript,omitempty"`
	Reply             string    `json:"reply,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	UtterancesSent    int       `json:"utterances_sent"`
	UtterancesDropped int       `json:"utterances_dropped"`
	StartedAt         time.Time `json:"started_at,omitempty"`
}

// activeCall owns the per-call objects; nothing outlives End
type activeCall struct {
	sessionID string
	transport *transport.Transport
	capture   *audio.Session
	queue     *playback.Queue
	started   time.Time

	reconnect *time.Timer
	retried   bool // re-armed once connected again
}

// Controller composes capture, transport and playback into one call
type Controller struct {
	config Config
	logger *logger.ContextLogger

	mu   sync.Mutex
	call *activeCall
	snap Snapshot
	// starting holds the slot while Start builds a call that is not yet
	// published; End, SetMuted and EnqueueAudio see no call until then
	starting bool
}

// NewController creates an idle controller
func NewController(config Config) *Controller {
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 3 * time.Second
	}

	return &Controller{
		config: config,
		logger: config.Logger.With("call"),
		snap:   idleSnapshot(),
	}
}

func idleSnapshot() Snapshot {
	return Snapshot{
		Connection: transport.StateDisconnected.String(),
		Turn:       string(protocol.StatusIdle),
	}
}

// Start begins a call on sessionID. A capture failure tears the call down
// and is returned.
func (c *Controller) Start(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	c.mu.Lock()
	if c.call != nil || c.starting {
		c.mu.Unlock()
		return ErrCallActive
	}
	c.starting = true
	c.mu.Unlock()

	call := c.build(sessionID)

	c.mu.Lock()
	c.starting = false
	c.call = call
	c.snap = idleSnapshot()
	c.snap.SessionID = sessionID
	c.snap.Active = true
	c.snap.StartedAt = call.started
	c.mu.Unlock()

	call.transport.Connect(sessionID)

	if err := call.capture.Start(); err != nil {
		c.logger.Error("Failed to start capture: %v", err)

		c.mu.Lock()
		if c.call == call {
			c.call = nil
			c.snap.Active = false
			c.snap.LastError = err.Error()
			c.snap.Connection = transport.StateDisconnected.String()
			c.snap.ConnectionError = ""
		}
		c.mu.Unlock()

		call.transport.Disconnect()
		call.queue.Stop()
		_ = c.config.Transcript.LogError(sessionID, err.Error())
		c.notify()
		return err
	}

	c.mu.Lock()
	current := c.call == call
	c.mu.Unlock()
	if !current {
		// End ran while capture was opening
		_ = call.capture.Stop()
		return ErrNoCall
	}

	c.config.Metrics.RecordCallStart()
	c.logger.Info("Call started on session %s", sessionID)
	c.notify()
	return nil
}

// build creates the per-call objects. Callbacks are bound to the call and
// ignored until it is published.
func (c *Controller) build(sessionID string) *activeCall {
	call := &activeCall{sessionID: sessionID, started: time.Now()}

	call.queue = playback.NewQueue(c.config.Player, c.config.Logger, c.config.Metrics)

	call.transport = transport.New(transport.Config{
		Dialer:      c.config.Dialer,
		DialTimeout: c.config.DialTimeout,
		Logger:      c.config.Logger,
		Metrics:     c.config.Metrics,
		OnStateChange: func(state transport.State, message string) {
			c.onState(call, state, message)
		},
		OnEvent: func(ev *protocol.Event) {
			c.onEvent(call, ev)
		},
	})

	var device audio.Device
	if c.config.NewDevice != nil {
		device = c.config.NewDevice()
	}

	call.capture = audio.NewSession(audio.SessionConfig{
		Threshold:    c.config.Threshold,
		WindowSize:   c.config.WindowSize,
		PollInterval: c.config.PollInterval,
		Chunker:      c.config.Chunker,
		Device:       device,
		Encoder:      c.config.Encoder,
		Logger:       c.config.Logger,
		Metrics:      c.config.Metrics,
		OnUtterance: func(id string, payload []byte) {
			c.onUtterance(call, id, payload)
		},
		OnError: func(err error) {
			c.onCaptureError(call, err)
		},
	})
	return call
}

// End stops capture, then the transport, then playback. Idempotent, and
// safe to call from OnUpdate or OnEvent.
func (c *Controller) End() {
	c.mu.Lock()
	call := c.call
	if call == nil {
		c.mu.Unlock()
		return
	}
	c.call = nil
	if call.reconnect != nil {
		call.reconnect.Stop()
		call.reconnect = nil
	}
	c.mu.Unlock()

	// Capture first so nothing is sent on a closed channel
	if err := call.capture.Stop(); err != nil {
		c.logger.Warn("Failed to stop capture: %v", err)
	}
	call.transport.Disconnect()
	call.queue.Stop()

	c.mu.Lock()
	c.snap.Active = false
	c.snap.Muted = false
	c.snap.Connection = transport.StateDisconnected.String()
	c.snap.ConnectionError = ""
	c.snap.Turn = string(protocol.StatusIdle)
	c.mu.Unlock()

	c.config.Metrics.RecordCallEnd(time.Since(call.started))
	c.logger.Info("Call on session %s ended", call.sessionID)
	c.notify()
}

// SetMuted forwards mute to the capture session
func (c *Controller) SetMuted(muted bool) error {
	c.mu.Lock()
	call := c.call
	if call == nil {
		c.mu.Unlock()
		return ErrNoCall
	}
	c.snap.Muted = muted
	c.mu.Unlock()

	call.capture.SetMuted(muted)
	c.logger.Info("Muted: %t", muted)
	c.notify()
	return nil
}

// EnqueueAudio plays a reply clip on the active call's queue
func (c *Controller) EnqueueAudio(ref string) error {
	c.mu.Lock()
	call := c.call
	c.mu.Unlock()

	if call == nil {
		return ErrNoCall
	}
	call.queue.Enqueue(ref)
	return nil
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Active reports whether a call is running
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call != nil
}

// SessionID returns the session of the active call, or ""
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil {
		return ""
	}
	return c.call.sessionID
}

func (c *Controller) onUtterance(call *activeCall, id string, payload []byte) {
	c.mu.Lock()
	current := c.call == call
	c.mu.Unlock()
	if !current {
		return
	}

	sent := call.transport.SendAudio(payload)

	c.mu.Lock()
	if sent {
		c.snap.UtterancesSent++
	} else {
		c.snap.UtterancesDropped++
	}
	c.mu.Unlock()

	c.logger.DebugWithFields("Utterance forwarded", map[string]interface{}{
		"id":    id,
		"bytes": len(payload),
		"sent":  sent,
	})
	_ = c.config.Transcript.LogUtterance(call.sessionID, id, len(payload), sent)
	c.notify()
}

func (c *Controller) onEvent(call *activeCall, ev *protocol.Event) {
	c.mu.Lock()
	if c.call != call {
		c.mu.Unlock()
		return
	}

	switch ev.Type {
	case protocol.EventTranscription:
		c.snap.Transcript = ev.Text
	case protocol.EventStatus:
		c.snap.Turn = string(ev.Status)
	case protocol.EventTextResponse:
		c.snap.Reply = ev.Text
	case protocol.EventError:
		c.snap.LastError = ev.Message
	}
	c.mu.Unlock()

	log := c.config.Transcript
	switch ev.Type {
	case protocol.EventTranscription:
		_ = log.LogTranscription(call.sessionID, ev.Text)
	case protocol.EventTextResponse:
		_ = log.LogReply(call.sessionID, ev.Text)
	case protocol.EventAudioURL:
		_ = log.LogAudio(call.sessionID, ev.URL)
		call.queue.Enqueue(ev.URL)
	case protocol.EventError:
		// Backend failures are shown, the call stays up
		c.logger.Warn("Backend error: %s", ev.Message)
		_ = log.LogError(call.sessionID, ev.Message)
	}

	c.notify()
	if c.config.OnEvent != nil {
		c.config.OnEvent(ev)
	}
}

func (c *Controller) onState(call *activeCall, state transport.State, message string) {
	c.mu.Lock()
	if c.call != call {
		c.mu.Unlock()
		return
	}

	c.snap.Connection = state.String()
	c.snap.ConnectionError = ""
	if state == transport.StateError {
		c.snap.ConnectionError = message
	}

	if state == transport.StateConnected {
		call.retried = false
	}

	dropped := state == transport.StateDisconnected || state == transport.StateError
	if dropped && c.config.AutoReconnect && call.reconnect == nil && !call.retried {
		delay := c.config.ReconnectDelay
		c.logger.Info("Connection %s, reconnecting in %v", state, delay)
		call.reconnect = time.AfterFunc(delay, func() {
			c.mu.Lock()
			if c.call != call {
				c.mu.Unlock()
				return
			}
			call.reconnect = nil
			call.retried = true
			c.mu.Unlock()

			call.transport.Connect(call.sessionID)
		})
	}
	c.mu.Unlock()

	if state == transport.StateError {
		c.logger.Error("Connection error: %s", message)
	}
	c.notify()
}

func (c *Controller) onCaptureError(call *activeCall, err error) {
	c.mu.Lock()
	if c.call != call {
		c.mu.Unlock()
		return
	}
	c.snap.LastError = err.Error()
	c.mu.Unlock()

	_ = c.config.Transcript.LogError(call.sessionID, err.Error())
	c.notify()
}

func (c *Controller) notify() {
	if c.config.OnUpdate == nil {
		return
	}
	c.config.OnUpdate(c.Snapshot())
}
