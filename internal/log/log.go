package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	logger     atomic.Pointer[slog.Logger]
	loggerOnce sync.Once
	minLevel   = new(slog.LevelVar)
)

// initLogger installs a tint handler on stderr as the process-wide logger.
func initLogger() {
	loggerOnce.Do(func() {
		minLevel.Set(slog.LevelInfo)
		l := newLogger(os.Stderr)
		logger.Store(l)
		slog.SetDefault(l)
	})
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      minLevel,
		TimeFormat: time.RFC3339,
	}))
}

// SetOutput redirects log output. Safe to call while other goroutines log.
func SetOutput(w io.Writer) {
	initLogger()
	l := newLogger(w)
	logger.Store(l)
	slog.SetDefault(l)
}

func current() *slog.Logger {
	initLogger()
	return logger.Load()
}

func SetLevel(l Level) {
	initLogger()
	minLevel.Set(toSlog(l))
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{tint.Err(err)}, kv...)
	current().Error(msg, extended...)
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
