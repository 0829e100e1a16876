package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucianHymer/speech-coach/internal/api"
	"github.com/lucianHymer/speech-coach/internal/audio"
	"github.com/lucianHymer/speech-coach/internal/backend"
	"github.com/lucianHymer/speech-coach/internal/calibrate"
	"github.com/lucianHymer/speech-coach/internal/call"
	"github.com/lucianHymer/speech-coach/internal/config"
	"github.com/lucianHymer/speech-coach/internal/logger"
	"github.com/lucianHymer/speech-coach/internal/metrics"
	"github.com/lucianHymer/speech-coach/internal/playback"
	"github.com/lucianHymer/speech-coach/internal/protocol"
	"github.com/lucianHymer/speech-coach/internal/transcript"
	"github.com/lucianHymer/speech-coach/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	calibrateMode := flag.Bool("calibrate", false, "Run VAD calibration wizard")
	autoSave := flag.Bool("yes", false, "Auto-save calibration results without prompting")
	sessionID := flag.String("session", "", "Reuse an existing backend session")
	startCall := flag.Bool("call", false, "Start a call immediately")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try default config if file doesn't exist
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	log := logger.NewWithConfig(logger.Config{
		Level:  logger.ParseLogLevel(cfg.Client.LogLevel),
		Format: logger.ParseOutputFormat(cfg.Client.LogFormat),
		Output: os.Stderr,
		Debug:  cfg.Client.Debug,
	})

	if *calibrateMode {
		wizard := calibrate.NewWizard(calibrate.Options{
			Device:     audio.NewMalgoDevice(cfg.Audio.DeviceName, cfg.Audio.SampleRate, log),
			ConfigPath: *configPath,
			WindowSize: cfg.VAD.WindowSize,
			Logger:     log,
		})
		if _, err := wizard.Run(*autoSave); err != nil {
			log.Fatal("Calibration failed: %v", err)
		}
		return
	}

	log.Info("Starting speech coach client")
	log.Info("Config: server_url=%s, call_url=%s, transport=%s, api_bind_address=%s",
		cfg.Server.URL, cfg.CallURL(), cfg.Server.Transport, cfg.Client.APIBindAddress)

	history, err := transcript.New(cfg.Client.TranscriptPath, cfg.Client.TranscriptMax)
	if err != nil {
		log.Fatal("Failed to open transcript log: %v", err)
	}
	defer history.Close()

	client := backend.New(cfg.Server.URL, log)

	var dialer transport.Dialer
	switch cfg.Server.Transport {
	case config.TransportWebRTC:
		dialer = transport.NewWebRTCDialer(cfg.CallURL(), cfg.Server.ICEServers, log)
	default:
		dialer = transport.NewWebSocketDialer(cfg.CallURL())
	}

	player := playback.NewDevicePlayer(client, playback.NewMalgoOutput(log), cfg.Audio.Volume, log)

	var apiServer *api.Server
	controller := call.NewController(call.Config{
		Dialer:      dialer,
		DialTimeout: cfg.DialTimeout(),
		NewDevice: func() audio.Device {
			return audio.NewMalgoDevice(cfg.Audio.DeviceName, cfg.Audio.SampleRate, log)
		},
		Encoder:        audio.NewWAVEncoder(cfg.Audio.SampleRate),
		Player:         player,
		Threshold:      cfg.VAD.Threshold,
		WindowSize:     cfg.VAD.WindowSize,
		PollInterval:   cfg.PollInterval(),
		Chunker:        cfg.VADChunker(),
		AutoReconnect:  cfg.Call.AutoReconnect,
		ReconnectDelay: cfg.ReconnectDelay(),
		Logger:         log,
		Metrics:        metrics.DefaultMetrics,
		Transcript:     history,
		OnUpdate: func(snap call.Snapshot) {
			if apiServer != nil {
				apiServer.BroadcastSnapshot(snap)
			}
		},
		OnEvent: printEvent,
	})

	newSession := backend.SessionCreateRequest{
		Mode:     cfg.Session.Mode,
		Topic:    cfg.Session.Topic,
		Language: cfg.Session.Language,
		Model:    cfg.Session.Model,
	}

	apiServer = api.New(api.Config{
		BindAddr:   cfg.Client.APIBindAddress,
		Call:       controller,
		Backend:    client,
		NewSession: newSession,
		Reply: backend.TextMessageRequest{
			Model:    cfg.Session.Model,
			Speaker:  cfg.Session.Speaker,
			TTSModel: cfg.Session.TTSModel,
		},
		Logger: log,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error("API server error: %v", err)
		}
	}()

	if *startCall {
		id := *sessionID
		if id == "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			resp, err := client.CreateSession(ctx, newSession)
			cancel()
			if err != nil {
				log.Fatal("Failed to create session: %v", err)
			}
			id = resp.SessionID
			log.Info("Created session %s", id)
		}

		if err := controller.Start(id); err != nil {
			log.Fatal("Failed to start call: %v", err)
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info("Client running - press Ctrl+C to stop")
	<-sigChan

	log.Info("Shutting down...")

	controller.End()

	if err := apiServer.Stop(); err != nil {
		log.Error("Error stopping API server: %v", err)
	}

	log.Info("Client stopped")
}

// printEvent writes the conversation to stdout; logs go to stderr
func printEvent(ev *protocol.Event) {
	switch ev.Type {
	case protocol.EventTranscription:
		fmt.Printf("🗣  %s\n", ev.Text)
	case protocol.EventTextResponse:
		fmt.Printf("🤖 %s\n", ev.Text)
	case protocol.EventError:
		fmt.Printf("⚠️  %s\n", ev.Message)
	}
}
