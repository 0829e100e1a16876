package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lucianHymer/speech-coach/internal/logger"
	"github.com/lucianHymer/speech-coach/internal/metrics"
	"github.com/lucianHymer/speech-coach/internal/protocol"
)

// DefaultDialTimeout bounds a single connection attempt
const DefaultDialTimeout = 10 * time.Second

// State is the connection state of a Transport
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config wires a Transport
type Config struct {
	Dialer      Dialer
	DialTimeout time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.Metrics

	// OnStateChange is called after every transition, in order, never under a lock
	OnStateChange func(state State, message string)
	// OnEvent receives each decoded inbound event
	OnEvent func(ev *protocol.Event)
}

type transition struct {
	state   State
	message string
}

// Transport is the call connection state machine.
// Connect returns immediately; the outcome is reported through OnStateChange.
type Transport struct {
	config Config
	logger *logger.ContextLogger

	mu        sync.Mutex
	state     State
	message   string
	sessionID string
	gen       uint64 // bumped on Connect/Disconnect; stale callbacks compare against it
	ch        Channel
	cancel    context.CancelFunc

	pending     []transition
	dispatching bool
}

// New creates a disconnected transport
func New(config Config) *Transport {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}

	return &Transport{
		config: config,
		logger: config.Logger.With("transport"),
		state:  StateDisconnected,
	}
}

// Connect opens a channel for sessionID. It is a no-op while connected.
func (t *Transport) Connect(sessionID string) {
	t.mu.Lock()
	if t.state == StateConnected {
		current := t.sessionID
		t.mu.Unlock()
		if current != sessionID {
			t.logger.Warn("Already connected to session %s, ignoring connect to %s", current, sessionID)
		}
		return
	}

	stale := t.ch
	t.ch = nil
	if t.cancel != nil {
		t.cancel()
	}

	t.gen++
	gen := t.gen
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.sessionID = sessionID
	t.setState(StateConnecting, "")
	t.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	t.dispatch()

	t.config.Metrics.RecordConnectAttempt()
	t.logger.Info("Connecting to session %s", sessionID)

	go t.dial(ctx, gen, sessionID)
}

func (t *Transport) dial(ctx context.Context, gen uint64, sessionID string) {
	dctx, cancel := context.WithTimeout(ctx, t.config.DialTimeout)
	defer cancel()

	ch, err := t.config.Dialer.Dial(dctx, sessionID)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		t.logger.Debug("Discarding stale dial for session %s", sessionID)
		return
	}

	if err != nil {
		t.setState(StateError, fmt.Sprintf("failed to connect: %v", err))
		t.mu.Unlock()
		t.config.Metrics.RecordConnectionError()
		t.logger.Error("Failed to connect to session %s: %v", sessionID, err)
		t.dispatch()
		return
	}

	t.ch = ch
	t.setState(StateConnected, "")
	t.mu.Unlock()

	t.logger.Info("Connected to session %s", sessionID)
	t.dispatch()

	go t.readLoop(gen, ch)
}

func (t *Transport) readLoop(gen uint64, ch Channel) {
	for {
		data, err := ch.ReadEvent()
		if err != nil {
			t.channelEnded(gen, ch, err)
			return
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			t.config.Metrics.RecordMalformedEvent()
			t.logger.Warn("Dropping malformed event: %v", err)
			continue
		}

		if !t.current(gen) {
			return
		}

		t.config.Metrics.RecordEvent(string(ev.Type))
		t.logger.Debug("Received %s event", ev.Type)

		if t.config.OnEvent != nil {
			t.config.OnEvent(ev)
		}
	}
}

func (t *Transport) channelEnded(gen uint64, ch Channel, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}

	t.ch = nil
	if errors.Is(err, ErrClosed) {
		t.setState(StateDisconnected, "connection closed")
		t.logger.Info("Connection closed")
	} else {
		t.setState(StateError, err.Error())
		t.config.Metrics.RecordConnectionError()
		t.logger.Error("Connection failed: %v", err)
	}
	t.mu.Unlock()

	_ = ch.Close()
	t.dispatch()
}

// SendAudio writes one utterance. It returns false, without queueing,
// unless the transport is connected.
func (t *Transport) SendAudio(payload []byte) bool {
	t.mu.Lock()
	ch := t.ch
	state := t.state
	t.mu.Unlock()

	if state != StateConnected || ch == nil {
		t.config.Metrics.RecordSendDropped()
		t.logger.Warn("Dropping %d byte utterance: transport %s", len(payload), state)
		return false
	}

	if err := ch.WriteAudio(payload); err != nil {
		t.config.Metrics.RecordSendDropped()
		t.logger.Warn("Failed to send %d byte utterance: %v", len(payload), err)
		return false
	}

	t.config.Metrics.RecordSend(len(payload))
	return true
}

// Disconnect releases the channel and moves to disconnected. Idempotent.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	ch := t.ch
	t.ch = nil
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	if t.state != StateDisconnected {
		t.setState(StateDisconnected, "")
	}
	t.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
		t.logger.Info("Disconnected")
	}
	t.dispatch()
}

// State returns the current connection state
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the message recorded with the last error transition
func (t *Transport) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateError {
		return ""
	}
	return t.message
}

// SessionID returns the session of the current or last connection
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

// setState must be called with mu held
func (t *Transport) setState(state State, message string) {
	t.state = state
	t.message = message
	t.pending = append(t.pending, transition{state: state, message: message})
	t.config.Metrics.RecordConnectionState(int(state))
}

// dispatch delivers queued transitions outside the lock. A call made from
// inside OnStateChange only queues; the outer dispatch delivers it next.
func (t *Transport) dispatch() {
	t.mu.Lock()
	if t.dispatching {
		t.mu.Unlock()
		return
	}
	t.dispatching = true

	for len(t.pending) > 0 {
		next := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()

		if t.config.OnStateChange != nil {
			t.config.OnStateChange(next.state, next.message)
		}

		t.mu.Lock()
	}

	t.dispatching = false
	t.mu.Unlock()
}
