package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxSize is the size at which the log rotates to <path>.1
const DefaultMaxSize = 8 * 1024 * 1024

// EntryType represents the type of log entry
type EntryType string

const (
	EntryUtterance     EntryType = "utterance"
	EntryTranscription EntryType = "transcription"
	EntryReply         EntryType = "reply"
	EntryAudio         EntryType = "audio"
	EntryError         EntryType = "error"
)

// Entry is one JSON line of the conversation log
type Entry struct {
	Timestamp   string    `json:"timestamp"`
	Type        EntryType `json:"type"`
	Seq         int       `json:"seq"`
	SessionID   string    `json:"session_id,omitempty"`
	UtteranceID string    `json:"utterance_id,omitempty"`
	Text        string    `json:"text,omitempty"`
	URL         string    `json:"url,omitempty"`
	Message     string    `json:"message,omitempty"`
	Bytes       int       `json:"bytes,omitempty"`
	Sent        *bool     `json:"sent,omitempty"`
}

// Log appends conversation entries to a rotating JSONL file
type Log struct {
	file     *os.File
	mu       sync.Mutex
	path     string
	maxSize  int64
	seq      int
	disabled bool
}

// New opens the log at path; an empty path returns a disabled log.
// maxSize <= 0 selects DefaultMaxSize.
func New(path string, maxSize int64) (*Log, error) {
	if path == "" {
		return &Log{disabled: true}, nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	// Expand home directory if present
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Log{
		file:    file,
		path:    path,
		maxSize: maxSize,
	}

	if err := l.checkRotation(); err != nil {
		file.Close()
		return nil, err
	}

	return l, nil
}

// Path returns the expanded file path, or "" when disabled
func (l *Log) Path() string {
	return l.path
}

// LogUtterance records an utterance handed to the transport and whether it was sent
func (l *Log) LogUtterance(sessionID, utteranceID string, size int, sent bool) error {
	return l.write(Entry{
		Type:        EntryUtterance,
		SessionID:   sessionID,
		UtteranceID: utteranceID,
		Bytes:       size,
		Sent:        &sent,
	})
}

// LogTranscription records what the backend heard
func (l *Log) LogTranscription(sessionID, text string) error {
	return l.write(Entry{Type: EntryTranscription, SessionID: sessionID, Text: text})
}

// LogReply records the coach's text reply
func (l *Log) LogReply(sessionID, text string) error {
	return l.write(Entry{Type: EntryReply, SessionID: sessionID, Text: text})
}

// LogAudio records a reply clip reference
func (l *Log) LogAudio(sessionID, url string) error {
	return l.write(Entry{Type: EntryAudio, SessionID: sessionID, URL: url})
}

// LogError records a backend or local failure
func (l *Log) LogError(sessionID, message string) error {
	return l.write(Entry{Type: EntryError, SessionID: sessionID, Message: message})
}

func (l *Log) write(entry Entry) error {
	if l == nil || l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	entry.Seq = l.seq
	entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	return l.checkRotation()
}

// checkRotation moves the file to <path>.1 once it reaches maxSize
func (l *Log) checkRotation() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() < l.maxSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	rotatedPath := l.path + ".1"
	os.Remove(rotatedPath) // Ignore error if file doesn't exist
	if err := os.Rename(l.path, rotatedPath); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}

	l.file = file
	return nil
}

// Close closes the log file
func (l *Log) Close() error {
	if l == nil || l.disabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
