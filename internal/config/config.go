package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lucianHymer/speech-coach/internal/vad"
	"gopkg.in/yaml.v3"
)

// Transport kinds for server.transport
const (
	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
)

// Config holds the client configuration
type Config struct {
	Client struct {
		APIBindAddress string `yaml:"api_bind_address"`
		Debug          bool   `yaml:"debug"`
		LogLevel       string `yaml:"log_level"`
		LogFormat      string `yaml:"log_format"` // "text" or "json"
		TranscriptPath string `yaml:"transcript_path"`
		TranscriptMax  int64  `yaml:"transcript_max_size"`
	} `yaml:"client"`

	Server struct {
		URL           string   `yaml:"url"`      // REST base, e.g. http://localhost:8000
		CallURL       string   `yaml:"call_url"` // Empty = derived from url
		Transport     string   `yaml:"transport"`
		ICEServers    []string `yaml:"ice_servers"`
		DialTimeoutMs int      `yaml:"dial_timeout_ms"`
	} `yaml:"server"`

	Session struct {
		Mode     string `yaml:"mode"`
		Topic    string `yaml:"topic"`
		Language string `yaml:"language"`
		Model    string `yaml:"model"`
		Speaker  string `yaml:"speaker"`
		TTSModel string `yaml:"tts_model"`
	} `yaml:"session"`

	Audio struct {
		DeviceName string  `yaml:"device_name"` // Empty = default device
		SampleRate int     `yaml:"sample_rate"`
		Volume     float64 `yaml:"volume"`
	} `yaml:"audio"`

	VAD struct {
		Threshold      float64 `yaml:"threshold"`
		WindowSize     int     `yaml:"window_size"`
		PollIntervalMs int     `yaml:"poll_interval_ms"`
		SilenceMs      int     `yaml:"silence_ms"`
		MinChunkMs     int     `yaml:"min_chunk_ms"`
		MaxChunkMs     int     `yaml:"max_chunk_ms"`
	} `yaml:"vad"`

	Call struct {
		AutoReconnect    bool `yaml:"auto_reconnect"`
		ReconnectDelayMs int  `yaml:"reconnect_delay_ms"`
	} `yaml:"call"`

	// Internal field to track config file path for reloading
	filePath string
}

// Load reads and parses the configuration file.
// A missing file yields an error wrapping os.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.filePath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Client.APIBindAddress == "" {
		c.Client.APIBindAddress = "localhost:8081"
	}
	if c.Client.LogLevel == "" {
		c.Client.LogLevel = "info"
	}
	if c.Client.LogFormat == "" {
		c.Client.LogFormat = "text"
	}
	if c.Client.TranscriptMax == 0 {
		c.Client.TranscriptMax = 8388608 // 8MB
	}

	if c.Server.URL == "" {
		c.Server.URL = "http://localhost:8000"
	}
	if c.Server.Transport == "" {
		c.Server.Transport = TransportWebSocket
	}
	if c.Server.DialTimeoutMs == 0 {
		c.Server.DialTimeoutMs = 10000
	}

	if c.Session.Mode == "" {
		c.Session.Mode = "call"
	}
	if c.Session.Topic == "" {
		c.Session.Topic = "general"
	}
	if c.Session.Language == "" {
		c.Session.Language = "en"
	}

	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Volume == 0 {
		c.Audio.Volume = 1.0
	}

	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = vad.DefaultThreshold
	}
	if c.VAD.WindowSize == 0 {
		c.VAD.WindowSize = vad.DefaultWindowSize
	}
	if c.VAD.PollIntervalMs == 0 {
		c.VAD.PollIntervalMs = 16
	}
	if c.VAD.SilenceMs == 0 {
		c.VAD.SilenceMs = 800
	}
	if c.VAD.MinChunkMs == 0 {
		c.VAD.MinChunkMs = 700
	}
	if c.VAD.MaxChunkMs == 0 {
		c.VAD.MaxChunkMs = 8000
	}

	if c.Call.ReconnectDelayMs == 0 {
		c.Call.ReconnectDelayMs = 3000
	}
}

// Validate checks value ranges after defaults have been applied
func (c *Config) Validate() error {
	switch {
	case c.VAD.Threshold <= 0:
		return fmt.Errorf("vad.threshold must be positive, got %v", c.VAD.Threshold)
	case c.VAD.WindowSize < 64:
		return fmt.Errorf("vad.window_size must be at least 64, got %d", c.VAD.WindowSize)
	case c.VAD.PollIntervalMs < 1 || c.VAD.PollIntervalMs > 1000:
		return fmt.Errorf("vad.poll_interval_ms must be within 1-1000, got %d", c.VAD.PollIntervalMs)
	case c.VAD.SilenceMs <= 0:
		return fmt.Errorf("vad.silence_ms must be positive, got %d", c.VAD.SilenceMs)
	case c.VAD.MinChunkMs > c.VAD.MaxChunkMs:
		return fmt.Errorf("vad.min_chunk_ms (%d) exceeds vad.max_chunk_ms (%d)", c.VAD.MinChunkMs, c.VAD.MaxChunkMs)
	case c.Audio.Volume < 0 || c.Audio.Volume > 1:
		return fmt.Errorf("audio.volume must be within [0,1], got %v", c.Audio.Volume)
	}

	switch c.Server.Transport {
	case TransportWebSocket, TransportWebRTC:
	default:
		return fmt.Errorf("unknown server.transport %q", c.Server.Transport)
	}

	return nil
}

// VADChunker returns the chunker thresholds
func (c *Config) VADChunker() vad.ChunkerConfig {
	return vad.ChunkerConfig{
		MinChunk: time.Duration(c.VAD.MinChunkMs) * time.Millisecond,
		Silence:  time.Duration(c.VAD.SilenceMs) * time.Millisecond,
		MaxChunk: time.Duration(c.VAD.MaxChunkMs) * time.Millisecond,
	}
}

// PollInterval returns the VAD polling period
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.VAD.PollIntervalMs) * time.Millisecond
}

// DialTimeout returns the call channel dial timeout
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Server.DialTimeoutMs) * time.Millisecond
}

// ReconnectDelay returns the wait before an automatic reconnect
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Call.ReconnectDelayMs) * time.Millisecond
}

// CallURL returns the websocket origin of the call channel, derived from
// server.url when server.call_url is empty
func (c *Config) CallURL() string {
	if c.Server.CallURL != "" {
		return strings.TrimRight(c.Server.CallURL, "/")
	}

	base := strings.TrimRight(c.Server.URL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// FilePath returns the path the config was loaded from
func (c *Config) FilePath() string {
	return c.filePath
}

// Reload reloads the configuration from disk and updates the current config in-place.
// Components holding a reference to this config see the new values.
func (c *Config) Reload() error {
	if c.filePath == "" {
		return fmt.Errorf("config file path not set, cannot reload")
	}

	newCfg, err := Load(c.filePath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	c.Client = newCfg.Client
	c.Server = newCfg.Server
	c.Session = newCfg.Session
	c.Audio = newCfg.Audio
	c.VAD = newCfg.VAD
	c.Call = newCfg.Call

	return nil
}

// Default returns a default configuration
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
