package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lucianHymer/speech-coach/internal/logger"
)

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed: %s - %s", e.Status, e.Body)
}

// Client talks to the coaching backend's REST API
type Client struct {
	BaseURL string
	HTTP    *http.Client
	logger  *logger.ContextLogger
}

// New creates a client for baseURL (e.g. http://localhost:8000)
func New(baseURL string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
		logger:  log.With("backend"),
	}
}

// ResolveURL makes a clip reference absolute against BaseURL
func (c *Client) ResolveURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid audio reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		return ref, nil
	}

	base, err := url.Parse(c.BaseURL + "/")
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}

// CreateSession starts a new call or chat session
func (c *Client) CreateSession(ctx context.Context, req SessionCreateRequest) (*SessionCreateResponse, error) {
	if req.Mode == "" {
		req.Mode = ModeChat
	}
	var resp SessionCreateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/session", req, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("Created %s session %s", req.Mode, resp.SessionID)
	return &resp, nil
}

// UpdateSessionMetadata changes topic, language or model of a session
func (c *Client) UpdateSessionMetadata(ctx context.Context, sessionID string, meta SessionMetadata) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(sessionID)+"/metadata", meta, nil)
}

// Models fetches the LLM and TTS catalog
func (c *Client) Models(ctx context.Context) (*ModelsInfoResponse, error) {
	var resp ModelsInfoResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChatHistory fetches the messages of a session
func (c *Client) ChatHistory(ctx context.Context, sessionID string) (*ChatHistoryResponse, error) {
	var resp ChatHistoryResponse
	path := "/api/chat/history?session_id=" + url.QueryEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists all stored sessions
func (c *Client) Sessions(ctx context.Context) (*SessionsListResponse, error) {
	var resp SessionsListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/all", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteSession removes one session and its history
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// ClearSessions removes every session and returns how many were deleted
func (c *Client) ClearSessions(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/sessions/clear-all", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// SendText sends a chat message and returns the coach's reply
func (c *Client) SendText(ctx context.Context, req TextMessageRequest) (*Reply, error) {
	var resp Reply
	if err := c.doJSON(ctx, http.MethodPost, "/api/send_text", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessAudio uploads a recorded clip for one-shot processing
func (c *Client) ProcessAudio(ctx context.Context, req ProcessAudioRequest) (*Reply, error) {
	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{{"session_id", req.SessionID}}
	if req.Model != "" {
		fields = append(fields, [2]string{"model", req.Model})
	}
	if req.TTSModel != "" {
		fields = append(fields, [2]string{"tts_model", req.TTSModel})
	}
	if req.Speaker != "" {
		fields = append(fields, [2]string{"speaker", req.Speaker})
	}
	if req.CallMode {
		fields = append(fields, [2]string{"call_mode", "true"})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}

	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/process_audio", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var resp Reply
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("%s %s -> %d (%v)", req.Method, req.URL.Path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(text)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
