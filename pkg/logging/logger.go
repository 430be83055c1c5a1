// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Depictio components.
//
// The package layers up to three destinations behind one Logger:
//
//   - stderr, on by default, so CLI runs behave like ordinary Unix tools
//   - an optional log file with automatic directory creation
//   - an optional LogExporter for hosted deployments that ship logs
//     to external systems (GCS, Loki, Datadog, ...)
//
// Everything is built on the standard library slog package. Handlers
// fan out through an internal teeHandler, which lets stderr stay
// human-readable text while the file always receives JSON.
//
// # Basic Usage
//
// For CLI usage with stderr output:
//
//	logger := logging.Default()
//	logger.Info("scan complete", "run_id", runID)
//	logger.Error("query failed", "error", err)
//
// # File Logging
//
// To write a log file alongside stderr:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.depictio/logs", // supports ~ expansion
//	    Service: "cli",
//	})
//	defer logger.Close() // flushes and closes the file
//
// Log files are named {service}_{date}.log and are always JSON.
//
// # Hosted Export
//
// Hosted deployments implement LogExporter to forward entries to an
// external system:
//
//	logger := logging.New(logging.Config{
//	    Level:    logging.LevelInfo,
//	    Service:  "backend",
//	    Exporter: exporter,
//	})
//
// The exporter receives LogEntry structs asynchronously and should
// buffer internally for efficiency.
//
// # Log Levels
//
// Four levels are supported, matching slog conventions:
//
//   - Debug: development troubleshooting, verbose output
//   - Info: normal operations (scan started, project saved)
//   - Warn: recoverable issues (retry attempts, degraded mode)
//   - Error: operation failures when the process continues
//
// # Thread Safety
//
// Logger is safe for concurrent use. Internal state is protected by a
// mutex, and the underlying slog.Logger is thread-safe.
//
// # Security Considerations
//
// Nothing is redacted automatically. Callers must keep tokens, keys,
// and other secrets out of log attributes:
//
//	// BAD: logs the token itself
//	logger.Info("auth", "token", token)
//
//	// GOOD: log presence only
//	logger.Info("auth", "token_present", token != "")
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity.
//
// Levels follow the slog convention and are ordered by severity:
// Debug < Info < Warn < Error. Setting a minimum level discards all
// messages below it.
type Level int

const (
	// LevelDebug is for development troubleshooting and verbose traces.
	// Example: "resolver selected", "join key built"
	LevelDebug Level = iota

	// LevelInfo is for normal operational events.
	// Example: "scan complete", "server listening", "project saved"
	LevelInfo

	// LevelWarn is for recoverable problems.
	// Example: "lock store unreachable, failing open", "retry attempt 2 of 3"
	LevelWarn

	// LevelError is for failed operations when the process continues.
	// Example: "query failed", "delta write failed"
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. Accepts "debug",
// "info", "warn"/"warning", and "error" in any case. Anything else,
// including the empty string, returns LevelInfo so a misspelled
// DEPICTIO_LOG_LEVEL never silences a service.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// toSlogLevel bridges Level to the standard library's slog.Level.
// Unknown values map to Info.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures Logger behavior.
//
// All fields have usable defaults. A zero-value Config creates a
// logger that writes Info+ messages to stderr in text format.
//
// Development:
//
//	Config{Level: LevelDebug}
//
// Production with file logging:
//
//	Config{
//	    Level:   LevelInfo,
//	    LogDir:  "/var/log/depictio",
//	    Service: "backend",
//	    JSON:    true,
//	}
type Config struct {
	// Level sets the minimum log level.
	//
	// Messages below this level are discarded.
	// Default: LevelInfo
	Level Level

	// LogDir enables file logging to the specified directory.
	//
	// When set, logs are written to both stderr and a file named
	// "{Service}_{YYYY-MM-DD}.log" in JSON format. The directory is
	// created with 0750 permissions if it does not exist.
	//
	// Supports ~ for home directory expansion:
	//   "~/.depictio/logs" -> "/home/user/.depictio/logs"
	//
	// Default: "" (file logging disabled)
	LogDir string

	// Service identifies the component generating logs.
	//
	// The value is attached to every entry as the "service" attribute
	// so aggregated logs can be filtered by component.
	//
	// Recommended values: "cli", "backend", "scanner"
	// Default: "" (no service attribute)
	Service string

	// JSON switches stderr output to JSON format.
	//
	// File logs are always JSON regardless of this setting, since
	// they exist for machine processing.
	//
	// Default: false (text format for stderr)
	JSON bool

	// Quiet disables stderr output.
	//
	// Logs then go only to the file (if LogDir is set) and to the
	// Exporter (if configured). Useful for daemons whose stderr is
	// not monitored.
	//
	// Default: false (stderr enabled)
	Quiet bool

	// Exporter is an optional hook for shipping logs elsewhere.
	//
	// When set, entries at or above Level are also handed to the
	// exporter asynchronously. Export failures are silently dropped
	// so they cannot disrupt normal logging.
	//
	// This is an extension point for hosted Depictio deployments.
	// Default: nil (no export)
	Exporter LogExporter
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// Logger wraps slog.Logger with fan-out to stderr, an optional file,
// and an optional exporter, plus proper cleanup via Close.
//
// # Thread Safety
//
// Logger is safe for concurrent use from multiple goroutines.
//
// # Resource Management
//
// Always call Close when done with a logger that has file logging or
// an exporter configured:
//
//	logger := logging.New(config)
//	defer logger.Close()
//
// # Child Loggers
//
// Use With to create a logger that adds attributes to every entry:
//
//	runLogger := logger.With("run_id", runID, "workflow", wfName)
//	runLogger.Info("processing run")
type Logger struct {
	// slog is the underlying structured logger
	slog *slog.Logger

	// config stores the configuration for reference
	config Config

	// file is the optional log file handle (nil if file logging disabled)
	file *os.File

	// exporter is the optional log exporter
	exporter LogExporter

	// mu protects mutable state (file, exporter)
	mu sync.Mutex
}

// New creates a Logger from config: a stderr handler unless Quiet, a
// file handler when LogDir is set, and the exporter when provided.
//
// File setup failures are not fatal. A logger that cannot open its
// file still logs to stderr.
//
// The returned Logger must be closed with Close to release resources.
func New(config Config) *Logger {
	logger := &Logger{
		config:   config,
		exporter: config.Exporter,
	}

	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	var handlers []slog.Handler
	if !config.Quiet {
		handlers = append(handlers, consoleHandler(config, opts))
	}
	if file := openLogFile(config); file != nil {
		logger.file = file
		// File logs are always JSON, machine-parseable.
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	logger.slog = slog.New(rootHandler(handlers, config, opts))
	return logger
}

// consoleHandler builds the stderr handler in the configured format.
func consoleHandler(config Config, opts *slog.HandlerOptions) slog.Handler {
	if config.JSON {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// openLogFile opens the dated log file under config.LogDir, creating
// the directory first. Returns nil when file logging is disabled or
// setup fails; the logger then runs without a file.
func openLogFile(config Config) *os.File {
	if config.LogDir == "" {
		return nil
	}
	logDir := expandPath(config.LogDir)
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil
	}
	service := config.Service
	if service == "" {
		service = "depictio"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil
	}
	return file
}

// rootHandler tees the destination handlers when there is more than
// one and attaches the service attribute. With no destinations at all
// (Quiet set and no file opened) it falls back to stderr text so log
// calls are never swallowed silently.
func rootHandler(handlers []slog.Handler, config Config, opts *slog.HandlerOptions) slog.Handler {
	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &teeHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}
	return handler
}

// Default returns a logger with default settings: Info level, text
// format, stderr only, service "depictio". Suitable for simple CLI
// use without file logging.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "depictio",
	})
}

// Debug logs a message at Debug level with key-value attributes.
//
// Example:
//
//	logger.Debug("resolving link", "link_id", linkID, "values", n)
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs a message at Info level with key-value attributes.
//
// Example:
//
//	logger.Info("scan complete",
//	    "run_id", runID,
//	    "files_added", added,
//	    "duration_ms", elapsed.Milliseconds(),
//	)
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a message at Warn level with key-value attributes.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs a message at Error level with key-value attributes.
//
// For fatal errors that should terminate the program, call Error and
// then os.Exit.
//
// Example:
//
//	logger.Error("delta write failed",
//	    "dc_id", dcID,
//	    "error", err.Error(),
//	)
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a new Logger whose entries include the given
// attributes in addition to the parent's. The parent is not
// modified; file handle and exporter are shared.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog returns the underlying slog.Logger for direct use by code
// that takes *slog.Logger, and for slog features this wrapper does
// not expose.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter, closes it, syncs the log file, and
// closes the file. Returns the first error encountered.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// log writes to the slog destinations and hands a copy of the entry
// to the exporter when one is configured.
func (l *Logger) log(level Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)

	if l.exporter != nil && level >= l.config.Level {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		}
		// Async export so a slow exporter cannot block the log call.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.exporter.Export(ctx, entry)
		}()
	}
}

// =============================================================================
// Tee Handler (Internal)
// =============================================================================

// teeHandler fans out log records to multiple slog handlers, which
// allows simultaneous stderr and file output in different formats.
type teeHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &teeHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *teeHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &teeHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
// Other paths are returned unchanged.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// argsToMap converts slog-style args to a map for LogEntry.Attrs.
// Both alternating key-value pairs and slog.Attr values are accepted,
// matching what slog itself takes. Anything malformed is skipped.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case slog.Attr:
			result[v.Key] = v.Value.Any()
		case string:
			if i+1 < len(args) {
				result[v] = args[i+1]
				i++
			}
		}
	}
	return result
}
