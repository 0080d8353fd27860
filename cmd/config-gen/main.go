// A small utility for picking random local ports for the config files.
//
// When run from the root directory it rewrites the addresses in config/*.json
// with addresses of the form :*, a pseudo-randomly chosen local port above
// 1024, so several checkouts can run on one machine without colliding.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	distpow "example.org/distpow"
	"example.org/distpow/internal/log"
	"github.com/DistributedClocks/tracing"
)

var logger = log.WithComponent("config-gen")

func genPort() int32 {
	return rand.Int31n(35535-1024) + 1024
}

func updateConfig(fileName string, config interface{}, updateFn func()) {
	path := filepath.Join("config", fileName)
	if err := distpow.ReadJSONConfig(path, config); err != nil {
		logger.Fatal().Err(err).Str("file", path).Msg("Read failed")
	}
	updateFn()

	f, err := os.Create(path)
	if err != nil {
		logger.Fatal().Err(err).Str("file", path).Msg("Create failed")
	}
	defer f.Close()
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "\t")
	if err := encoder.Encode(config); err != nil {
		logger.Fatal().Err(err).Str("file", path).Msg("Write failed")
	}
	logger.Info().Str("file", path).Msg("Updated")
}

func main() {
	traceServerAddr := fmt.Sprintf(":%v", genPort())
	coordAddr := fmt.Sprintf("127.0.0.1:%v", genPort())

	traceServerConfig := &tracing.TracingServerConfig{}
	updateConfig("tracing_server_config.json", traceServerConfig, func() {
		traceServerConfig.ServerBind = traceServerAddr
	})

	coordinatorConfig := &distpow.CoordinatorConfig{}
	updateConfig("coordinator_config.json", coordinatorConfig, func() {
		coordinatorConfig.ListenAddr = coordAddr
		if coordinatorConfig.TracerServerAddr != "" {
			coordinatorConfig.TracerServerAddr = traceServerAddr
		}
	})

	clientConfig := &distpow.ClientConfig{}
	updateConfig("client_config.json", clientConfig, func() {
		clientConfig.CoordAddr = coordAddr
		if clientConfig.TracerServerAddr != "" {
			clientConfig.TracerServerAddr = traceServerAddr
		}
	})

	workerConfig := &distpow.WorkerConfig{}
	updateConfig("worker_config.json", workerConfig, func() {
		workerConfig.CoordAddr = coordAddr
		if workerConfig.TracerServerAddr != "" {
			workerConfig.TracerServerAddr = traceServerAddr
		}
	})
}
