// Package logging provides real-time leveled log output for the sync
// core. The bus and session expose their own counters and snapshots as
// the durable record; this package is for console monitoring only.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel maps a configuration string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
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

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger writes structured key=value lines to a single writer.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a new Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]any) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Domain logging methods ---
// Real-time output for sync and bus activity; counters remain the
// authoritative record.

// PatchApplied logs an accepted state merge.
func (l *Logger) PatchApplied(role string, fieldCount int, version uint64) {
	l.Debug("patch_applied", map[string]any{
		"role":    role,
		"fields":  fieldCount,
		"version": version,
	})
}

// PatchRejected logs a rejected state merge.
func (l *Logger) PatchRejected(role string, reason string) {
	l.Warn("patch_rejected", map[string]any{
		"role":   role,
		"reason": reason,
	})
}

// SessionReset logs a confirmed session reinitialize.
func (l *Logger) SessionReset(sessionID string) {
	l.Info("session_reset", map[string]any{
		"session": sessionID,
	})
}

// EventsDropped logs how many events a subscription discarded under
// its overflow policy.
func (l *Logger) EventsDropped(subscription string, policy string, dropped uint64) {
	l.Warn("events_dropped", map[string]any{
		"subscription": subscription,
		"policy":       policy,
		"dropped":      dropped,
	})
}

// ClientConnected logs a new stream client.
func (l *Logger) ClientConnected(remote string, subscription string) {
	l.Info("client_connected", map[string]any{
		"remote":       remote,
		"subscription": subscription,
	})
}

// ClientDisconnected logs a departed stream client.
func (l *Logger) ClientDisconnected(remote string, delivered uint64) {
	l.Info("client_disconnected", map[string]any{
		"remote":    remote,
		"delivered": delivered,
	})
}
