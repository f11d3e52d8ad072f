// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging provides the component-tagged structured logger shared by
// the bridge packages.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Bridge component identifiers.
const (
	ComponentAdapter  Component = "adapter"
	ComponentBus      Component = "bus"
	ComponentTunnel   Component = "tunnel"
	ComponentEmulator Component = "emulator"
	ComponentStorage  Component = "storage"
	ComponentStatus   Component = "status"
)

// Format specifies the output format for logging.
type Format int

// Log format options.
const (
	FormatText Format = iota
	FormatJSON
)

var (
	// DefaultLogger is the logger used by every bridge package.
	DefaultLogger *slog.Logger

	logLevel  = new(slog.LevelVar)
	logOutput = io.Writer(os.Stderr)
	logMutex  sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: logLevel}))
}

// SetLevel sets the minimum log level.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// Level returns the current minimum log level.
func Level() slog.Level {
	return logLevel.Level()
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseFormat parses text or json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown log format %q", s)
	}
}

// Configure replaces the default logger with one writing to w in format.
// A nil w keeps the current output.
func Configure(w io.Writer, format Format) {
	logMutex.Lock()
	defer logMutex.Unlock()

	if w != nil {
		logOutput = w
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	switch format {
	case FormatJSON:
		DefaultLogger = slog.New(slog.NewJSONHandler(logOutput, opts))
	default:
		DefaultLogger = slog.New(slog.NewTextHandler(logOutput, opts))
	}
}

// SetLogger replaces the default logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

func logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logger().Debug(msg, append([]any{"component", string(component)}, args...)...)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logger().Info(msg, append([]any{"component", string(component)}, args...)...)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logger().Warn(msg, append([]any{"component", string(component)}, args...)...)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logger().Error(msg, append([]any{"component", string(component)}, args...)...)
}
