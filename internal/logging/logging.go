// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

// Package logging provides the structured logger used across the
// coordination engine, backed by zap.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Field is a structured log field.
type Field = zap.Field

// Logger is the structured logging interface every component depends on.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// String, Int, Err etc. re-export zap's field constructors so callers never
// import zap directly.
var (
	String   = zap.String
	Int      = zap.Int
	Duration = zap.Duration
	Err      = zap.Error
	Any      = zap.Any
	Bool     = zap.Bool
)

type zapLogger struct {
	l *zap.Logger
}

// New builds a Logger at the given level, writing structured JSON to stderr.
func New(level Level) Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panicking from package init.
		l = zap.NewNop()
	}
	return &zapLogger{l: l}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *zapLogger) Debug(_ context.Context, msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(_ context.Context, msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(_ context.Context, msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(_ context.Context, msg string, fields ...Field) { z.l.Error(msg, fields...) }

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() Logger {
	return &zapLogger{l: zap.NewNop()}
}
