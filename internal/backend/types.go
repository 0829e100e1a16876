package backend

// Session modes
const (
	ModeCall = "call"
	ModeChat = "chat"
)

// SessionCreateRequest is the body of POST /api/session
type SessionCreateRequest struct {
	Mode     string `json:"mode"`
	Topic    string `json:"topic,omitempty"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

type SessionCreateResponse struct {
	SessionID string `json:"session_id"`
}

// SessionMetadata is the body of PATCH /api/sessions/{id}/metadata
type SessionMetadata struct {
	Topic    string `json:"topic,omitempty"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

// TextMessageRequest is the body of POST /api/send_text
type TextMessageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	TTSModel  string `json:"tts_model,omitempty"`
}

// Reply is returned by send_text and process_audio
type Reply struct {
	SessionID      string `json:"session_id"`
	UserTranscript string `json:"user_transcript"`
	CoachReply     string `json:"coach_reply"`
	CoachAudioURL  string `json:"coach_audio_url"`
}

// ProcessAudioRequest describes a one-shot audio submission
type ProcessAudioRequest struct {
	SessionID string
	Audio     []byte
	Filename  string // defaults to audio.wav
	Model     string
	TTSModel  string
	Speaker   string
	CallMode  bool
}

// Message is one entry of a session's history
type Message struct {
	ID        int     `json:"id,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Sender    string  `json:"sender"` // "user" or "coach"
	Text      string  `json:"text"`
	AudioPath *string `json:"audio_path,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

type ChatHistoryResponse struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

// SessionInfo summarises a stored session
type SessionInfo struct {
	SessionID       string  `json:"session_id"`
	Mode            string  `json:"mode"`
	CreatedAt       string  `json:"created_at"`
	Topic           string  `json:"topic"`
	Language        string  `json:"language"`
	Model           *string `json:"model,omitempty"`
	MessageCount    int     `json:"message_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	FirstMessage    *string `json:"first_message,omitempty"`
	LastMessage     *string `json:"last_message,omitempty"`
}

type SessionsListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type TTSModel struct {
	ID            string   `json:"id"`
	FullModelName string   `json:"full_model_name"`
	Language      string   `json:"language"`
	Speakers      []string `json:"speakers"`
	Default       bool     `json:"default"`
}

type LLMModel struct {
	Name    string `json:"name"`
	Tag     string `json:"tag"`
	Role    string `json:"role"`
	Tier    string `json:"tier"`
	Primary bool   `json:"primary"`
}

// ModelsInfoResponse is the catalog returned by GET /api/models
type ModelsInfoResponse struct {
	DefaultModel    string     `json:"default_model"`
	LLMModels       []LLMModel `json:"llm_models"`
	TTSModels       []TTSModel `json:"tts_models"`
	DefaultTTSModel string     `json:"default_tts_model"`
	Speakers        []string   `json:"speakers"`
}
