package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLogLevel converts a string to a LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo // Default to INFO
	}
}

// OutputFormat determines how logs are formatted
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseOutputFormat converts a string to an OutputFormat
func ParseOutputFormat(format string) OutputFormat {
	switch strings.ToLower(format) {
	case "json":
		return FormatJSON
	default:
		return FormatText
	}
}

// Logger provides structured logging on top of zerolog
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level  LogLevel
	Format OutputFormat
	Output io.Writer
	Debug  bool // Convenience flag to set level to Debug
}

// New creates a text logger on stdout
func New(debug bool) *Logger {
	level := LevelInfo
	if debug {
		level = LevelDebug
	}

	return NewWithConfig(Config{
		Level:  level,
		Format: FormatText,
		Output: os.Stdout,
		Debug:  debug,
	})
}

// NewWithConfig creates a new logger with detailed configuration
func NewWithConfig(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	level := cfg.Level
	if cfg.Debug {
		level = LevelDebug
	}

	var out io.Writer = cfg.Output
	if cfg.Format == FormatText {
		out = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			NoColor:    true,
			TimeFormat: "2006/01/02 15:04:05.000000",
		}
	}

	return &Logger{
		zl: zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger(),
	}
}

// Discard returns a logger that drops everything (tests, disabled components)
func Discard() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) InfoWithFields(message string, fields map[string]interface{}) {
	l.zl.Info().Fields(fields).Msg(message)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) ErrorWithFields(message string, fields map[string]interface{}) {
	l.zl.Error().Fields(fields).Msg(message)
}

// Debug logs a debug message (only if debug level is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) DebugWithFields(message string, fields map[string]interface{}) {
	l.zl.Debug().Fields(fields).Msg(message)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) WarnWithFields(message string, fields map[string]interface{}) {
	l.zl.Warn().Fields(fields).Msg(message)
}

// Fatal logs a fatal error and exits
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.zl.Fatal().Msgf(format, args...)
}

// With returns a contextual logger with a component name
func (l *Logger) With(component string) *ContextLogger {
	return &ContextLogger{
		zl:        l.zl.With().Str("component", component).Logger(),
		component: component,
	}
}

// ContextLogger wraps Logger with a component name for contextual logging
type ContextLogger struct {
	zl        zerolog.Logger
	component string
}

// Component returns the component name this logger was created with
func (c *ContextLogger) Component() string {
	return c.component
}

// WithFields returns a new context logger with additional fields
func (c *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		zl:        c.zl.With().Fields(fields).Logger(),
		component: c.component,
	}
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	c.zl.Info().Msgf(format, args...)
}

func (c *ContextLogger) InfoWithFields(message string, fields map[string]interface{}) {
	c.zl.Info().Fields(fields).Msg(message)
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	c.zl.Error().Msgf(format, args...)
}

func (c *ContextLogger) ErrorWithFields(message string, fields map[string]interface{}) {
	c.zl.Error().Fields(fields).Msg(message)
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	c.zl.Debug().Msgf(format, args...)
}

func (c *ContextLogger) DebugWithFields(message string, fields map[string]interface{}) {
	c.zl.Debug().Fields(fields).Msg(message)
}

func (c *ContextLogger) Warn(format string, args ...interface{}) {
	c.zl.Warn().Msgf(format, args...)
}

func (c *ContextLogger) WarnWithFields(message string, fields map[string]interface{}) {
	c.zl.Warn().Fields(fields).Msg(message)
}

func (c *ContextLogger) Fatal(format string, args ...interface{}) {
	c.zl.Fatal().Msgf(format, args...)
}

// String implements fmt.Stringer for debugging output
func (c *ContextLogger) String() string {
	return fmt.Sprintf("logger(%s)", c.component)
}
