package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/lucianHymer/speech-coach/internal/backend"
	"github.com/lucianHymer/speech-coach/internal/call"
	"github.com/lucianHymer/speech-coach/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the call surface the API drives
type Controller interface {
	Start(sessionID string) error
	End()
	SetMuted(muted bool) error
	Snapshot() call.Snapshot
	Active() bool
	SessionID() string
	EnqueueAudio(ref string) error
}

// Backend is the subset of the coach REST API the control API proxies
type Backend interface {
	CreateSession(ctx context.Context, req backend.SessionCreateRequest) (*backend.SessionCreateResponse, error)
	ChatHistory(ctx context.Context, sessionID string) (*backend.ChatHistoryResponse, error)
	SendText(ctx context.Context, req backend.TextMessageRequest) (*backend.Reply, error)
}

// Config wires the control API
type Config struct {
	BindAddr string
	Call     Controller
	Backend  Backend

	// NewSession is the request used when a call starts without a session id
	NewSession backend.SessionCreateRequest
	// Reply is the template for chat sends (model, speaker, tts model)
	Reply backend.TextMessageRequest

	// Gatherer backs /metrics; nil selects the default registry
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger
}

// Server handles the HTTP control API
type Server struct {
	config Config
	logger *logger.ContextLogger
	server *http.Server

	// WebSocket clients receiving snapshots
	wsClients   map[*websocket.Conn]bool
	wsClientsMu sync.Mutex
	wsUpgrader  websocket.Upgrader

	// Snapshots queued for the broadcaster goroutine
	snapshots chan []byte
	done      chan struct{}
	stopOnce  sync.Once
}

// snapshotBacklog bounds the queued snapshots; the oldest is dropped first
const snapshotBacklog = 32

// New creates a new API server
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:    config,
		logger:    config.Logger.With("api"),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local UI only
			},
		},
		snapshots: make(chan []byte, snapshotBacklog),
		done:      make(chan struct{}),
	}
	go s.broadcastLoop()
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := httprouter.New()

	r.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	r.HandlerFunc(http.MethodPost, "/call/start", s.handleCallStart)
	r.HandlerFunc(http.MethodPost, "/call/end", s.handleCallEnd)
	r.HandlerFunc(http.MethodPost, "/call/mute", s.handleCallMute)
	r.HandlerFunc(http.MethodGet, "/call/status", s.handleCallStatus)
	r.HandlerFunc(http.MethodGet, "/events", s.handleEvents)
	r.HandlerFunc(http.MethodGet, "/history", s.handleHistory)
	r.HandlerFunc(http.MethodPost, "/chat/send", s.handleChatSend)
	r.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	// httprouter sets Allow before calling these
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}

// Start serves until Stop
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.BindAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // chat sends wait on the LLM and TTS
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting control API on %s", s.config.BindAddr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener and every snapshot stream
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	s.wsClientsMu.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsClientsMu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// BroadcastSnapshot queues the call state for all connected WebSocket
// clients. It never waits on a client.
func (s *Server) BroadcastSnapshot(snap call.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("Failed to marshal snapshot: %v", err)
		return
	}

	for {
		select {
		case <-s.done:
			return
		case s.snapshots <- data:
			return
		default:
		}

		// Backlog full: the newest state wins
		select {
		case <-s.snapshots:
			s.logger.Debug("Dropped a stale snapshot")
		default:
		}
	}
}

func (s *Server) broadcastLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.snapshots:
			s.writeAll(data)
		}
	}
}

func (s *Server) writeAll(data []byte) {
	// gorilla allows one writer per connection
	s.wsClientsMu.Lock()
	defer s.wsClientsMu.Unlock()

	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Warn("Failed to send to WebSocket client: %v", err)
			conn.Close()
			delete(s.wsClients, conn)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

type startRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCallStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	if s.config.Call.Active() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":     "already_running",
			"session_id": s.config.Call.SessionID(),
		})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		if s.config.Backend == nil {
			writeError(w, http.StatusBadRequest, "session_id is required")
			return
		}

		create := s.config.NewSession
		if create.Mode == "" {
			create.Mode = backend.ModeCall
		}
		resp, err := s.config.Backend.CreateSession(r.Context(), create)
		if err != nil {
			s.logger.Error("Failed to create session: %v", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		sessionID = resp.SessionID
	}

	if err := s.config.Call.Start(sessionID); err != nil {
		if errors.Is(err, call.ErrCallActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("Failed to start call: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "started",
		"session_id": sessionID,
	})
}

func (s *Server) handleCallEnd(w http.ResponseWriter, r *http.Request) {
	if !s.config.Call.Active() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_running"})
		return
	}

	s.config.Call.End()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleCallMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.config.Call.SetMuted(req.Muted); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"muted": req.Muted})
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Call.Snapshot())
}

// handleEvents upgrades to WebSocket and streams snapshots
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	data, err := json.Marshal(s.config.Call.Snapshot())
	if err != nil {
		conn.Close()
		return
	}

	s.wsClientsMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	if err == nil {
		s.wsClients[conn] = true
	}
	s.wsClientsMu.Unlock()
	if err != nil {
		conn.Close()
		return
	}

	s.logger.Info("WebSocket client connected")

	defer func() {
		s.wsClientsMu.Lock()
		delete(s.wsClients, conn)
		s.wsClientsMu.Unlock()
		conn.Close()
		s.logger.Info("WebSocket client disconnected")
	}()

	// Reads only detect the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.config.Backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = s.config.Call.SessionID()
	}
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	history, err := s.config.Backend.ChatHistory(r.Context(), sessionID)
	if err != nil {
		writeError(w, backendStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type chatResponse struct {
	Reply  *backend.Reply `json:"reply"`
	Queued bool           `json:"queued"`
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	if s.config.Backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	activeID := s.config.Call.SessionID()
	if req.SessionID == "" {
		req.SessionID = activeID
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	send := s.config.Reply
	send.SessionID = req.SessionID
	send.Text = req.Text

	reply, err := s.config.Backend.SendText(r.Context(), send)
	if err != nil {
		s.logger.Error("Failed to send text: %v", err)
		writeError(w, backendStatus(err), err.Error())
		return
	}

	resp := chatResponse{Reply: reply}
	if reply.CoachAudioURL != "" && req.SessionID == activeID {
		resp.Queued = s.config.Call.EnqueueAudio(reply.CoachAudioURL) == nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeOptional accepts an empty body
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
	return false
}

func backendStatus(err error) int {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
