package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kosarica/place-service/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("Hidden")
	logger.Warn().Str("region", "Zagreb").Msg("Visible")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "Visible", line["message"])
	assert.Equal(t, ServiceName, line["service"])
	assert.Equal(t, "Zagreb", line["region"])
}

func TestNewBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "loud", Format: "json"}, &buf)

	logger.Debug().Msg("Hidden")
	assert.Empty(t, buf.String())
	logger.Info().Msg("Shown")
	assert.Contains(t, buf.String(), "Shown")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "console", NoColor: true}, &buf)

	logger.Info().Msg("Readable")
	assert.Contains(t, buf.String(), "Readable")
	assert.NotContains(t, buf.String(), "{")
}
