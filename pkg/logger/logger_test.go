package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			log, err := NewLogger(level)
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
		})
	}
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := NewLogger("chatty")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNamedNilBase(t *testing.T) {
	log := Named(nil, "orders")
	assert.NotNil(t, log)
}
