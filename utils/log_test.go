package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"trajtrack-core/utils"
	"trajtrack-core/utils/logtest"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, utils.TRACE, utils.ParseLevel("trace"))
	assert.Equal(t, utils.WARN, utils.ParseLevel("warning"))
	assert.Equal(t, utils.CRITICAL, utils.ParseLevel("critical"))
	assert.Equal(t, utils.INFO, utils.ParseLevel("loud"))
	assert.Equal(t, "ERROR", utils.ERROR.String())
}

func TestLoggerLevels(t *testing.T) {
	log, logs := logtest.NewObserved(t)
	log.Trace("t %d", 1)
	log.Debug("d")
	log.Info("i %s", "x")
	log.Error("e")
	log.Critical("c")

	entries := logs.AllUntimed()
	require.Len(t, entries, 5)
	assert.Equal(t, "t 1", entries[0].Message)
	assert.Equal(t, utils.TRACE.ZapLevel(), entries[0].Level)
	assert.Less(t, entries[0].Level, zapcore.DebugLevel)
	assert.Equal(t, "i x", entries[2].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, utils.CRITICAL.ZapLevel(), entries[4].Level)

	log.SetMinLevel(utils.WARN)
	log.Info("hidden")
	log.Warn("shown")
	assert.Equal(t, 1, logs.FilterMessage("shown").Len())
	assert.Zero(t, logs.FilterMessage("hidden").Len())
}

func TestNamedLoggerSharesLevel(t *testing.T) {
	log, logs := logtest.NewObserved(t)
	child := log.Named("tracking")
	log.SetMinLevel(utils.ERROR)
	child.Warn("dropped")
	child.Error("kept")

	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "tracking", entries[0].LoggerName)
	assert.NoError(t, child.Close())
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracking.log")
	log, err := utils.NewFileLogger(path, utils.INFO, false)
	require.NoError(t, err)
	log.Debug("not written")
	log.Warn("goal %d rejected", 7)
	log.Critical("bus down")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "goal 7 rejected")
	assert.Contains(t, out, "CRITICAL")
	assert.NotContains(t, out, "not written")
}
