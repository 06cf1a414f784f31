// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skua-labs/deskpilot/internal/config"
)

// newBufferWriter gives Initialize an in-memory console sink so tests can
// inspect output without touching stdout.
func newBufferWriter() (*bytes.Buffer, zapcore.WriteSyncer) {
	var buf bytes.Buffer
	return &buf, zapcore.AddSync(&buf)
}

func TestInitialize(t *testing.T) {

	t.Run("console format colorizes the level", func(t *testing.T) {
		ResetForTest()
		buf, writer := newBufferWriter()

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "consoletest",
			Colors:      config.ColorConfig{Info: "green"},
		}, writer)

		GetLogger().Info("console message")
		require.NoError(t, GetLogger().Sync())

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "console message")
		assert.Contains(t, output, colorGreen)
		assert.Contains(t, output, colorReset)
	})

	t.Run("json format emits structured entries", func(t *testing.T) {
		ResetForTest()
		buf, writer := newBufferWriter()

		Initialize(config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "jsontest",
		}, writer)

		GetLogger().Warn("structured message", zap.String("key", "value"))
		require.NoError(t, GetLogger().Sync())

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "jsontest", entry["logger"])
		assert.Equal(t, "structured message", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		ResetForTest()
		buf, writer := newBufferWriter()

		Initialize(config.LoggerConfig{Level: "shouty", Format: "json"}, writer)

		GetLogger().Debug("hidden")
		GetLogger().Info("visible")
		require.NoError(t, GetLogger().Sync())

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("log file receives JSON output", func(t *testing.T) {
		ResetForTest()
		_, writer := newBufferWriter()
		logFile := filepath.Join(t.TempDir(), "deskpilot.log")

		Initialize(config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: logFile,
			MaxSize: 1,
		}, writer)

		GetLogger().Error("file message")
		require.NoError(t, GetLogger().Sync())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "file message")
	})

	t.Run("second initialization is ignored", func(t *testing.T) {
		ResetForTest()
		_, writer := newBufferWriter()

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "first"}, writer)
		first := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "second"}, writer)
		assert.Same(t, first, GetLogger())
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger, "uninitialized access must still yield a usable logger")
}

func TestGetLoggerReturnsStoredInstance(t *testing.T) {
	ResetForTest()
	_, writer := newBufferWriter()
	Initialize(config.LoggerConfig{Level: "info", ServiceName: "stored"}, writer)
	assert.Same(t, globalLogger.Load(), GetLogger())
}
