// Package logger provides the daemon's process-wide structured logger: a
// single slog.Logger writing to both stdout and a dated log file, shared by
// every subsystem instead of each owning its own writer.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	instance *slog.Logger
	logFile  *os.File
	mu       sync.Mutex
)

// Init initializes the global logger. If jsonOutput is true, logs are
// written as JSON (suited to log aggregation); otherwise plain text.
func Init(logDir string, jsonOutput bool) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("conduit-%s.log", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(logDir, logFileName)

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logFile = f

	writer := io.MultiWriter(os.Stdout, f)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonOutput {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	instance = slog.New(handler)
	slog.SetDefault(instance)
	return nil
}

// Close closes the log file.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

func get() *slog.Logger {
	mu.Lock()
	l := instance
	mu.Unlock()
	if l == nil {
		return slog.Default()
	}
	return l
}

// With returns a logger scoped with structured key/value attributes —
// prefer this over the printf-style helpers below when the caller already
// knows the session/process id it's logging about.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// Info logs a printf-style informational message.
func Info(format string, v ...any) {
	get().Info(fmt.Sprintf(format, v...))
}

// Error logs a printf-style error message.
func Error(format string, v ...any) {
	get().Error(fmt.Sprintf(format, v...))
}

// Warn logs a printf-style warning message.
func Warn(format string, v ...any) {
	get().Warn(fmt.Sprintf(format, v...))
}

// Debug logs a printf-style debug message.
func Debug(format string, v ...any) {
	get().Debug(fmt.Sprintf(format, v...))
}
