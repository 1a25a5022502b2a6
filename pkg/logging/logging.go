// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package logging wraps zap for the podauth client and CLI.
package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configure the process logger.
type Options struct {
	// Format is "console" (default) or "json".
	Format string

	// Level is the minimum level: debug, info, warn or error.
	Level string
}

type ctxKey struct{}

var (
	mu       sync.RWMutex
	instance *zap.Logger
)

// Init builds the process logger. Subsequent calls replace it.
func Init(opts Options) *zap.Logger {
	l := build(opts)
	mu.Lock()
	instance = l
	mu.Unlock()
	return l
}

// L returns the process logger, building a warn level console logger if
// Init was never called.
func L() *zap.Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		return l
	}
	return Init(Options{Level: "warn"})
}

// Named returns the process logger scoped to a component.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// WithContext stores l in the context.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx or the process logger.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		_ = l.Sync() //nolint:errcheck // stderr sync fails on some terminals
	}
}

func build(opts Options) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(opts.Format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), ParseLevel(opts.Level))
	return zap.New(core)
}

// ParseLevel converts a level name to a zap level, defaulting to info.
func ParseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
