package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWriter_JSONComponent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWriter("debug", true, &buf))

	logger := WithComponent("coordinator")
	logger.Debug().Str("hash", "ab").Msg("job created")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "coordinator", entry["component"])
	assert.Equal(t, "job created", entry["message"])
	assert.Equal(t, "debug", entry["level"])
}

func TestInitWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWriter("warn", true, &buf))

	logger := WithComponent("server")
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestInitWriter_BadLevel(t *testing.T) {
	assert.Error(t, InitWriter("loud", true, &bytes.Buffer{}))
}
