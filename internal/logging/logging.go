package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Package logging builds the process-wide zap logger.
//
// Output goes to stderr unless a file is configured, in which case it is
// rotated with lumberjack.

// Config controls the application logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console

	// File enables rotated file output. Empty writes to stderr.
	File       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// EncoderConfig is shared by the application and audit loggers.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New creates a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(valueOr(cfg.Level, "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(valueOr(cfg.Format, "json")) {
	case "json":
		encoder = zapcore.NewJSONEncoder(EncoderConfig())
	case "console":
		ec := EncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, fmt.Errorf("invalid log format %s", cfg.Format)
	}

	return zap.New(
		zapcore.NewCore(encoder, sink(cfg), level),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func sink(cfg Config) zapcore.WriteSyncer {
	if cfg.File == "" {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
