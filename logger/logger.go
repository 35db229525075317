// Package logger provides structured logging for sieveedit.
//
// It wraps log/slog and writes to stderr, stdout, syslog or a file,
// as text ("console") or JSON:
//
//	logFile, err := logger.Initialize(cfg.Logging)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if logFile != nil {
//		defer logFile.Close()
//	}
//
//	logger.Info("Script saved", "name", name, "bytes", len(text))
//	logger.ErrorContext(ctx, "ManageSieve command failed", "command", "PUTSCRIPT", "error", err)
//
// Until Initialize is called the package-level functions log through
// slog.Default().
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"runtime"
	"strings"

	"github.com/migadu/sieveedit/config"
	"github.com/migadu/sieveedit/consts"
)

var globalLogger *slog.Logger

// syslogHandler adapts a syslog.Writer to slog.Handler. Attributes are
// appended to the message as key=value pairs.
type syslogHandler struct {
	writer *syslog.Writer
	level  slog.Level
	attrs  []slog.Attr
}

func (h *syslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *syslogHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)

	msg := b.String()
	switch {
	case r.Level >= slog.LevelError:
		return h.writer.Err(msg)
	case r.Level >= slog.LevelWarn:
		return h.writer.Warning(msg)
	case r.Level >= slog.LevelInfo:
		return h.writer.Info(msg)
	default:
		return h.writer.Debug(msg)
	}
}

func (h *syslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &syslogHandler{writer: h.writer, level: h.level, attrs: merged}
}

// WithGroup is not supported by syslog output; groups are flattened.
func (h *syslogHandler) WithGroup(string) slog.Handler {
	return h
}

func newStreamHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Initialize sets up the global logger. When output is a file path, the
// opened file is returned so the caller can close it on exit.
func Initialize(cfg config.LoggingConfig) (*os.File, error) {
	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	format := cfg.Format
	if format == "" {
		format = "console"
	}
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	var logFile *os.File

	switch output {
	case "stdout":
		handler = newStreamHandler(os.Stdout, format, opts)
	case "stderr":
		handler = newStreamHandler(os.Stderr, format, opts)
	case "syslog":
		if runtime.GOOS == "windows" {
			fmt.Fprintf(os.Stderr, "WARNING: syslog is not supported on Windows. Falling back to stderr.\n")
			handler = newStreamHandler(os.Stderr, format, opts)
			break
		}
		tag := cfg.SyslogTag
		if tag == "" {
			tag = "sieveedit"
		}
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, tag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to connect to syslog: %v. Falling back to stderr.\n", err)
			handler = newStreamHandler(os.Stderr, format, opts)
			break
		}
		handler = &syslogHandler{writer: w, level: level}
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %q: %w", output, err)
		}
		logFile = f
		handler = newStreamHandler(f, format, opts)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
	return logFile, nil
}

// ParseLevel converts a configured level name; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutput replaces the global logger with one writing to w. Used by tests
// and by the CLI, which always logs to stderr.
func SetOutput(w io.Writer, format string, level slog.Level) {
	globalLogger = slog.New(newStreamHandler(w, format, &slog.HandlerOptions{Level: level}))
}

// Get returns the global logger instance
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// withRequestID prepends the API request id carried by ctx, if any.
func withRequestID(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	id, ok := ctx.Value(consts.RequestIDKey).(string)
	if !ok || id == "" {
		return args
	}
	return append([]any{"request_id", id}, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	Get().InfoContext(ctx, msg, withRequestID(ctx, args)...)
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	Get().DebugContext(ctx, msg, withRequestID(ctx, args)...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	Get().WarnContext(ctx, msg, withRequestID(ctx, args)...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	Get().ErrorContext(ctx, msg, withRequestID(ctx, args)...)
}

// Fatal logs at error level and exits.
func Fatal(msg string, args ...any) {
	Get().Error(msg, args...)
	os.Exit(1)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}

// Infof logs an info message with formatting (compatibility)
func Infof(format string, args ...any) {
	Get().Info(fmt.Sprintf(format, args...))
}

// Warnf logs a warning message with formatting (compatibility)
func Warnf(format string, args ...any) {
	Get().Warn(fmt.Sprintf(format, args...))
}
