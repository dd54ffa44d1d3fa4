// Package logger provides the structured logger used across the fabric.
// It is a thin wrapper over zerolog so call sites stay free of the
// underlying library's builder API.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger emits structured log events tagged with a component name.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger writing to w at the given level. Unknown level
// strings fall back to info.
func New(component string, w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).Level(parseLevel(level)).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{zl: zl}
}

// NewDefault creates a stderr logger at info level.
func NewDefault(component string) *Logger {
	return New(component, os.Stderr, "info")
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying the given key/value pairs on
// every event.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(fieldMap(kv)).Logger()}
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.zl.Debug().Fields(fieldMap(kv)).Msg(msg)
}

func (l *Logger) Info(msg string, kv ...any) {
	l.zl.Info().Fields(fieldMap(kv)).Msg(msg)
}

func (l *Logger) Warn(msg string, kv ...any) {
	l.zl.Warn().Fields(fieldMap(kv)).Msg(msg)
}

func (l *Logger) Error(msg string, kv ...any) {
	l.zl.Error().Fields(fieldMap(kv)).Msg(msg)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// fieldMap converts alternating key/value arguments into a zerolog
// field map. A trailing key without a value is kept with a nil value
// rather than dropped.
func fieldMap(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	fields := make(map[string]any, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(kv) {
			fields[key] = kv[i+1]
		} else {
			fields[key] = nil
		}
	}
	return fields
}
