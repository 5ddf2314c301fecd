// Package logging provides structured logging for the CLI and the engine.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tstore/tstore-desktop/internal/events"
)

// Logger wraps zerolog with mode-specific behavior.
type Logger struct {
	zlog     zerolog.Logger
	mode     string // "cli" or "engine"
	eventBus *events.EventBus
	output   io.Writer // current console writer
	file     *lumberjack.Logger
}

// NewLogger creates a new logger for the specified mode.
func NewLogger(mode string) *Logger {
	if mode == "cli" {
		// CLI mode: Use stdout for logs (stderr reserved for progress bars)
		return newLogger(mode, os.Stdout)
	}
	return newLogger(mode, os.Stderr)
}

func newLogger(mode string, out io.Writer) *Logger {
	l := &Logger{
		mode: mode,
		output: zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		},
	}
	l.rebuild()
	return l
}

// NewDefaultCLILogger creates a default CLI logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger("cli")
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), mode: "nop", output: io.Discard}
}

func (l *Logger) rebuild() {
	var w io.Writer = l.output
	if l.file != nil {
		// File gets JSON lines, console keeps the pretty format
		w = zerolog.MultiLevelWriter(l.output, l.file)
	}

	zl := zerolog.New(w).With().Timestamp().Logger()
	if l.eventBus != nil {
		zl = zl.Hook(busHook{bus: l.eventBus, source: l.mode})
	}
	l.zlog = zl
}

// EnableFileOutput adds a rotating JSON log file alongside console output.
func (l *Logger) EnableFileOutput(path string) {
	l.file = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	l.rebuild()
}

// WithEventBus returns a copy of l that also mirrors warnings and errors
// onto bus as log events.
func (l *Logger) WithEventBus(bus *events.EventBus) *Logger {
	child := *l
	child.eventBus = bus
	child.rebuild()
	return &child
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *Logger {
	child := *l
	child.zlog = l.zlog.With().Str("component", name).Logger()
	return &child
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config string onto a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

// busHook mirrors warnings and errors onto the event bus.
type busHook struct {
	bus    *events.EventBus
	source string
}

func (h busHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	var lvl events.LogLevel
	switch level {
	case zerolog.WarnLevel:
		lvl = events.WarnLevel
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		lvl = events.ErrorLevel
	default:
		return
	}
	h.bus.PublishLog(lvl, msg, h.source, nil)
}

func init() {
	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Configure global logger
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
