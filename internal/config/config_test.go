package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  url: https://coach.example.com/\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.VAD.Threshold != 0.01 || cfg.VAD.WindowSize != 2048 || cfg.VAD.PollIntervalMs != 16 {
		t.Errorf("Unexpected VAD defaults %+v", cfg.VAD)
	}
	chunker := cfg.VADChunker()
	if chunker.MinChunk != 700*time.Millisecond || chunker.Silence != 800*time.Millisecond || chunker.MaxChunk != 8*time.Second {
		t.Errorf("Unexpected chunker config %+v", chunker)
	}
	if cfg.Server.Transport != TransportWebSocket {
		t.Errorf("Expected websocket transport, got %s", cfg.Server.Transport)
	}
	if cfg.Call.AutoReconnect {
		t.Error("Expected auto reconnect to default off")
	}
	if cfg.ReconnectDelay() != 3*time.Second {
		t.Errorf("Expected 3s reconnect delay, got %v", cfg.ReconnectDelay())
	}
	if got := cfg.CallURL(); got != "wss://coach.example.com" {
		t.Errorf("Expected derived wss url, got %s", got)
	}
	if cfg.FilePath() != path {
		t.Errorf("Expected file path %s, got %s", path, cfg.FilePath())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"min over max":      "vad:\n  min_chunk_ms: 9000\n  max_chunk_ms: 8000\n",
		"tiny window":       "vad:\n  window_size: 32\n",
		"negative silence":  "vad:\n  silence_ms: -5\n",
		"slow poll":         "vad:\n  poll_interval_ms: 5000\n",
		"negative threshold": "vad:\n  threshold: -0.2\n",
		"loud volume":       "audio:\n  volume: 1.5\n",
		"unknown transport": "server:\n  transport: carrier-pigeon\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestCallURL(t *testing.T) {
	cfg := Default()
	if got := cfg.CallURL(); got != "ws://localhost:8000" {
		t.Errorf("Expected ws://localhost:8000, got %s", got)
	}

	cfg.Server.CallURL = "wss://calls.example.com/"
	if got := cfg.CallURL(); got != "wss://calls.example.com" {
		t.Errorf("Expected explicit call url, got %s", got)
	}
}

func TestReload(t *testing.T) {
	path := writeConfig(t, "vad:\n  threshold: 0.02\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if err := os.WriteFile(path, []byte("vad:\n  threshold: 0.05\ncall:\n  auto_reconnect: true\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}
	if err := cfg.Reload(); err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}

	if cfg.VAD.Threshold != 0.05 || !cfg.Call.AutoReconnect {
		t.Errorf("Reload did not update in place: %+v %+v", cfg.VAD, cfg.Call)
	}

	if err := Default().Reload(); err == nil {
		t.Error("Expected reload without a file path to fail")
	}
}

func TestUpdateVADThreshold(t *testing.T) {
	body := `# coach client
server:
  url: http://localhost:8000 # backend
vad:
  threshold: 0.01
  silence_ms: 900
`
	path := writeConfig(t, body)

	if err := UpdateVADThreshold(path, 0.025); err != nil {
		t.Fatalf("Failed to update threshold: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "# coach client") || !strings.Contains(text, "# backend") {
		t.Errorf("Expected comments to survive, got:\n%s", text)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load updated config: %v", err)
	}
	if cfg.VAD.Threshold != 0.025 {
		t.Errorf("Expected threshold 0.025, got %v", cfg.VAD.Threshold)
	}
	if cfg.VAD.SilenceMs != 900 {
		t.Errorf("Expected other vad keys to be kept, got %d", cfg.VAD.SilenceMs)
	}
}

func TestUpdateVADThresholdCreatesSection(t *testing.T) {
	path := writeConfig(t, "server:\n  url: http://localhost:8000\n")

	if err := UpdateVADThreshold(path, 0.03); err != nil {
		t.Fatalf("Failed to update threshold: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load updated config: %v", err)
	}
	if cfg.VAD.Threshold != 0.03 {
		t.Errorf("Expected threshold 0.03, got %v", cfg.VAD.Threshold)
	}

	if err := UpdateVADThreshold(filepath.Join(t.TempDir(), "missing.yaml"), 0.03); err == nil {
		t.Error("Expected error for missing file")
	}
}
