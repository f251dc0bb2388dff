// Package logging provides a small leveled logger over the standard
// library log package. The active level is an atomic so hot paths
// (per-line protocol traces) can check it without locking.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a log severity. Higher values are more verbose.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel maps a config string to a Level. Unknown strings map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

// Logger wraps the standard log.Logger with a runtime-adjustable level.
// A nil *Logger is valid and discards everything.
type Logger struct {
	out   *log.Logger
	level atomic.Int32
}

// New returns a logger writing to stderr with the given prefix and level.
func New(prefix string, level Level) *Logger {
	l := &Logger{out: log.New(os.Stderr, prefix+" ", log.LstdFlags)}
	l.level.Store(int32(level))
	return l
}

// NewWithWriter returns a logger writing to w. Used by tests.
func NewWithWriter(w io.Writer, prefix string, level Level) *Logger {
	l := &Logger{out: log.New(w, prefix+" ", log.LstdFlags)}
	l.level.Store(int32(level))
	return l
}

// SetLevel changes the active level. Safe to call concurrently.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level.Store(int32(level))
}

// LevelEnabled reports whether messages at the given level are emitted.
func (l *Logger) LevelEnabled(level Level) bool {
	if l == nil {
		return false
	}
	return Level(l.level.Load()) >= level
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if !l.LevelEnabled(level) {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}
