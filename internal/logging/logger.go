// Package logging provides the structured logger used across every
// component of the analytics engine. It wraps the standard library's
// slog package with a small, explicitly-constructed Logger type: stderr
// output by default, an optional JSON file sink, and a Service attribute
// attached to every record so aggregated logs can be filtered by
// component.
//
// Construction is explicit (logging.New) and the returned Logger is passed
// by handle into every service constructor; nothing in this package keeps
// process-global mutable state beyond the optional file handle owned by a
// single Logger instance.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level mirrors slog's severity ordering: Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toSlog() slog.Level {
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

// Config configures a Logger. A zero-value Config produces a Debug-level
// logger writing text to stderr (LevelDebug is the zero Level).
type Config struct {
	Level   Level
	Service string
	LogDir  string // when set, also writes JSON logs to {LogDir}/{Service}_{date}.log
	JSON    bool   // format for stderr; file output is always JSON
	Quiet   bool   // suppress stderr output
}

// Logger wraps a *slog.Logger plus the open file handle (if any) so Close
// can flush it.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New constructs a Logger from Config. Directory creation or file open
// failures for LogDir are non-fatal: file logging is silently disabled,
// since the system must keep running without a writable log directory.
func New(cfg Config) *Logger {
	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}

	var file *os.File
	if cfg.LogDir != "" {
		dir := expandHome(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o750); err == nil {
			name := filepath.Join(dir, cfg.Service+"_"+time.Now().UTC().Format("2006-01-02")+".log")
			if f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640); err == nil {
				file = f
				writers = append(writers, f)
			}
		}
	}

	var handler slog.Handler
	dest := io.MultiWriter(writers...)
	if len(writers) == 0 {
		dest = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlog()}
	if cfg.JSON || file != nil {
		handler = slog.NewJSONHandler(dest, opts)
	} else {
		handler = slog.NewTextHandler(dest, opts)
	}

	base := slog.New(handler)
	if cfg.Service != "" {
		base = base.With("service", cfg.Service)
	}
	return &Logger{slog: base, file: file}
}

// Default returns an Info-level logger writing text to stderr, for CLI
// entry points that have not constructed an explicit Config.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

func expandHome(dir string) string {
	if !strings.HasPrefix(dir, "~") {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dir
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~"))
}

// With returns a child Logger that attaches the given key/value pairs to
// every subsequent record, without mutating the receiver.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Close flushes and closes the log file, if one was opened. Safe to call
// on a Logger with no file sink.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
