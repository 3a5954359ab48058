// Package logging provides the library's external logging, backed by zap.
// It never affects core semantics (spec §6): flow I/O paths never call
// into it on the hot path, only lifecycle events (flow create/attach, GC
// passes, owner-pid conflicts).
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with the call shape the rest of the
// module uses.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Config holds logging configuration.
type Config struct {
	Level zapcore.Level
}

// DefaultConfig returns a sensible default configuration, honoring
// MXL_LOG_LEVEL ("debug", "info", "warn", "error") when set.
func DefaultConfig() *Config {
	level := zapcore.InfoLevel
	if raw := os.Getenv("MXL_LOG_LEVEL"); raw != "" {
		var parsed zapcore.Level
		if err := parsed.UnmarshalText([]byte(raw)); err == nil {
			level = parsed
		}
	}
	return &Config{Level: level}
}

// NewLogger builds a console-encoded zap logger writing to stderr.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(config.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	built, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap.Config.Build only fails on a malformed encoder/output
		// config, which DefaultConfig/NewLogger never produce.
		panic(fmt.Sprintf("logging: failed to build logger: %v", err))
	}

	return &Logger{sugar: built.Sugar(), level: zapConfig.Level}
}

// Default returns the default logger, creating it lazily.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// SetLevel adjusts the logger's level without rebuilding it.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.sugar.Sync() }

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
