// Package debug is the component-tagged logger used across overrider.
//
// Debug and trace lines are only written when enabled, either with Enable or
// by setting OVERRIDER_DEBUG. Info, warnings and errors are always written.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// EnvVar turns debug logging on at startup when non-empty.
const EnvVar = "OVERRIDER_DEBUG"

var (
	enabled atomic.Bool

	mu      sync.Mutex
	out     io.Writer = os.Stderr
	logFile *os.File
	logPath string

	logger = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	if os.Getenv(EnvVar) != "" {
		Enable()
	}
}

// Enable turns on debug logging.
func Enable() { enabled.Store(true) }

// Disable turns off debug logging.
func Disable() { enabled.Store(false) }

// IsEnabled reports whether debug logging is on.
func IsEnabled() bool { return enabled.Load() }

// SetOutput replaces the base writer (stderr by default). An open log file
// keeps receiving a copy.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	apply()
}

// LogDir returns the directory log files are written to.
func LogDir() string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return filepath.Join(cacheDir, "overrider", "logs")
}

// SetLogFile mirrors log output into name inside LogDir. An empty name
// closes the current file.
func SetLogFile(name string) error {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	if name == "" {
		apply()
		return nil
	}

	dir := LogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logFile = f
	logPath = path
	apply()
	return nil
}

// LogFilePath returns the open log file path, or "".
func LogFilePath() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// Close closes the log file if one is open.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeFile()
	apply()
}

func closeFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	logPath = ""
}

// apply must be called with mu held.
func apply() {
	if logFile != nil {
		logger.SetOutput(io.MultiWriter(out, logFile))
		return
	}
	logger.SetOutput(out)
}

// Log writes "[DEBUG] [component] message" when enabled.
func Log(component, format string, args ...any) {
	if !enabled.Load() {
		return
	}
	logger.Printf("[DEBUG] [%s] %s", component, fmt.Sprintf(format, args...))
}

// Trace is Log with a microsecond timestamp, for per-message detail.
func Trace(component, format string, args ...any) {
	if !enabled.Load() {
		return
	}
	ts := time.Now().Format("15:04:05.000000")
	logger.Printf("[TRACE] [%s] [%s] %s", ts, component, fmt.Sprintf(format, args...))
}

// Info is always written.
func Info(component, format string, args ...any) {
	logger.Printf("[INFO] [%s] %s", component, fmt.Sprintf(format, args...))
}

// Warn is always written.
func Warn(component, format string, args ...any) {
	logger.Printf("[WARN] [%s] %s", component, fmt.Sprintf(format, args...))
}

// Error is always written.
func Error(component, format string, args ...any) {
	logger.Printf("[ERROR] [%s] %s", component, fmt.Sprintf(format, args...))
}
