package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/elonfeng/farewatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, config.LoggingConfig{Level: "warn", Format: "json"})

	log.Info("dropped")
	log.Warn("pair skipped", "departure", "2026-04-03")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "pair skipped", rec["msg"])
	assert.Equal(t, "2026-04-03", rec["departure"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, config.LoggingConfig{Level: "info"})
	log.Info("sweep done", "recorded", 4)
	assert.Contains(t, buf.String(), "recorded=4")
}
