package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindpulse/models"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(models.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("query completed", zap.Int("count", 3))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "query completed", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 3, entry["count"])
	assert.Contains(t, entry, "ts")
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(models.LoggingConfig{Level: "DEBUG", Format: "console"}, &buf)
	require.NoError(t, err)

	logger.Debug("roster refreshed")
	assert.Contains(t, buf.String(), "roster refreshed")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewWithWriter_DefaultsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(models.LoggingConfig{}, &buf)
	require.NoError(t, err)
	logger.Debug("dropped")
	assert.Empty(t, buf.String())

	_, err = NewWithWriter(models.LoggingConfig{Level: "chatty"}, &buf)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
