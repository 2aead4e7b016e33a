package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   = NewLogger(os.Stdout, "info")
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger replaces the shared logger and returns the previous one.
func SetLogger(l *slog.Logger) *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := logger
	if l != nil {
		logger = l
	}
	return prev
}

// NewLogger builds a JSON logger writing to w. Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Or returns l, or the shared logger when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}
