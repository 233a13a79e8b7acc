// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for proofbench components.
//
// # Description
//
// A thin layer over slog with two destinations: stderr for CLI use
// (keeping stdout clean for streamed proof text) and an optional JSON
// log file per service and day. The server binary logs JSON to stderr
// directly; the CLI uses the text handler plus a file when PROOFBENCH_LOG_DIR
// is set.
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("attempt started", "problem_chars", len(problem))
//
// With file logging:
//
//	logger, err := logging.New(logging.Config{
//	    Level:   slog.LevelInfo,
//	    LogDir:  "~/.proofbench/logs",
//	    Service: "cli",
//	})
//	defer logger.Close()
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level emitted. Zero value means Info.
	Level slog.Level

	// LogDir enables file logging when non-empty. Supports a leading ~.
	LogDir string

	// Service names the log file: {service}_{date}.log.
	Service string

	// JSON switches the stderr handler from text to JSON. File output
	// is always JSON.
	JSON bool
}

// Logger wraps slog with an optional file destination.
//
// # Thread Safety
//
// Safe for concurrent use. Close only once, after all logging is done.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds a logger from config. File-open failures degrade to
// stderr-only logging rather than failing the program.
func New(config Config) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: config.Level}

	var stderrHandler slog.Handler
	if config.JSON {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}

	l := &Logger{}
	handler := stderrHandler
	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			slog.New(stderrHandler).Warn("File logging disabled", "error", err)
		} else {
			l.file = file
			handler = &multiHandler{handlers: []slog.Handler{
				stderrHandler,
				slog.NewJSONHandler(file, opts),
			}}
		}
	}

	l.slog = slog.New(handler)
	return l, nil
}

// Default returns a stderr-only text logger at Info level.
func Default() *Logger {
	l, _ := New(Config{})
	return l
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a logger carrying extra attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), file: l.file}
}

// Slog exposes the underlying slog.Logger for libraries that want one,
// and for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	return l.file.Close()
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	if service == "" {
		service = "proofbench"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", name, err)
	}
	return file, nil
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// multiHandler fans one record out to every destination.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
