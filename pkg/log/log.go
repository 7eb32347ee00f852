package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger

	mu      sync.Mutex
	console zerolog.LevelWriter
	sinks   []*Sink
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// ParseLevel maps a Level to the matching zerolog level, defaulting to info.
func ParseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger
func Init(cfg Config) {
	level := ParseLevel(cfg.Level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	var w io.Writer = output
	if !cfg.JSONOutput {
		w = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	mu.Lock()
	defer mu.Unlock()

	console = &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: w},
		Level:  level,
	}
	rebuild()
}

// AttachSink adds s as an additional destination of the global logger.
// Each writer applies its own level threshold, so the logger itself stays
// at trace and a verbose sink still sees debug events while the console
// stays at info.
func AttachSink(s *Sink) {
	mu.Lock()
	defer mu.Unlock()

	for _, existing := range sinks {
		if existing == s {
			return
		}
	}
	sinks = append(sinks, s)
	rebuild()
}

// DetachSink removes s from the global logger.
func DetachSink(s *Sink) {
	mu.Lock()
	defer mu.Unlock()

	for i, existing := range sinks {
		if existing == s {
			sinks = append(sinks[:i], sinks[i+1:]...)
			break
		}
	}
	rebuild()
}

// rebuild must be called with mu held.
func rebuild() {
	writers := make([]io.Writer, 0, len(sinks)+1)
	if console != nil {
		writers = append(writers, console)
	}
	for _, s := range sinks {
		writers = append(writers, s)
	}

	if len(writers) == 0 {
		Logger = zerolog.Nop()
		return
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.TraceLevel).
		With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field.
// The child captures the writers attached at call time, so call it where
// the event is emitted rather than caching it across AttachSink calls.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRole creates a child logger with role field
func WithRole(role string) zerolog.Logger {
	return Logger.With().Str("role", role).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

// Critical logs at fatal severity without terminating the process.
func Critical(msg string) {
	Logger.WithLevel(zerolog.FatalLevel).Msg(msg)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
