package distpow_test

import (
	"os"
	"path/filepath"
	"testing"

	distpow "example.org/distpow"
	"example.org/distpow/coordinator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"ListenAddr": ":9000",
		"MaxThreshold": "fff0000000000000",
		"DurableAccept": true,
		"RateLimit": {"MessagesPerSecond": 20}
	}`), 0o644))

	var config distpow.CoordinatorConfig
	require.NoError(t, distpow.ReadJSONConfig(path, &config))
	assert.Equal(t, ":9000", config.ListenAddr)
	assert.True(t, config.DurableAccept)
	assert.Equal(t, 20, config.RateLimit.MessagesPerSecond)

	coordConfig, err := coordinator.ConfigFrom(config)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfff0000000000000), coordConfig.MaxThreshold.Uint64())
	assert.Equal(t, uint64(coordinator.DefaultRewardIncrement), coordConfig.RewardIncrement)
}

func TestReadJSONConfig_Errors(t *testing.T) {
	var config distpow.WorkerConfig
	assert.Error(t, distpow.ReadJSONConfig(filepath.Join(t.TempDir(), "missing.json"), &config))

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Threads": "many"}`), 0o644))
	assert.Error(t, distpow.ReadJSONConfig(path, &config))
}

func TestSampleConfigsParse(t *testing.T) {
	var coord distpow.CoordinatorConfig
	require.NoError(t, distpow.ReadJSONConfig("config/coordinator_config.json", &coord))
	_, err := coordinator.ConfigFrom(coord)
	assert.NoError(t, err)

	var worker distpow.WorkerConfig
	assert.NoError(t, distpow.ReadJSONConfig("config/worker_config.json", &worker))
	var client distpow.ClientConfig
	assert.NoError(t, distpow.ReadJSONConfig("config/client_config.json", &client))
}
