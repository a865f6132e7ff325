// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the service's structured loggers and carries
// request-scoped loggers through context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config defines logging settings.
type Config struct {
	// Level is the minimum level emitted. Nil means slog.LevelInfo.
	Level slog.Leveler
	// Format is the output format: json (default) or text.
	Format string
	// AddSource includes source file and line in log records.
	AddSource bool
	// Writer is the log destination. Nil means stdout; the CLI logs to
	// stderr so data output stays pipeable.
	Writer io.Writer
}

// New creates a configured slog.Logger.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

type contextKey struct{}

var loggerKey = contextKey{}

// NewContext returns a context carrying the logger. The access-log
// middleware uses it to hand each handler a request-ID-scoped logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, falling back to
// slog.Default() for contexts that never passed through the middleware.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
