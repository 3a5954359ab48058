package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{sugar: zap.New(core).Sugar(), level: zap.NewAtomicLevelAt(level)}, logs
}

func TestDefaultConfigHonorsEnvLevel(t *testing.T) {
	t.Setenv("MXL_LOG_LEVEL", "warn")
	cfg := DefaultConfig()
	require.Equal(t, zapcore.WarnLevel, cfg.Level)
}

func TestDefaultConfigFallsBackToInfoOnUnsetOrInvalidEnv(t *testing.T) {
	os.Unsetenv("MXL_LOG_LEVEL")
	require.Equal(t, zapcore.InfoLevel, DefaultConfig().Level)

	t.Setenv("MXL_LOG_LEVEL", "not-a-level")
	require.Equal(t, zapcore.InfoLevel, DefaultConfig().Level)
}

func TestLoggerEmitsStructuredFields(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.DebugLevel)

	logger.Info("flow created", "id", "abc-123", "continuous", false)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "flow created", entry.Message)
	require.Equal(t, "abc-123", entry.ContextMap()["id"])
	require.Equal(t, false, entry.ContextMap()["continuous"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.WarnLevel)

	logger.Debug("should be dropped")
	logger.Info("should be dropped too")
	logger.Warn("kept")

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "kept", logs.All()[0].Message)
}

func TestFormattedVariantsRenderLikePrintf(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.DebugLevel)

	logger.Errorf("owner pid %d is dead", 4242)

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "owner pid 4242 is dead", logs.All()[0].Message)
}

func TestGlobalConvenienceFunctionsUseDefaultLogger(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.DebugLevel)
	original := Default()
	SetDefault(logger)
	defer SetDefault(original)

	Info("collect pass removed flows", "removed", 3)

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "collect pass removed flows", logs.All()[0].Message)
}
