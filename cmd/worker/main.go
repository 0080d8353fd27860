package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	distpow "example.org/distpow"
	"example.org/distpow/internal/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	config     distpow.WorkerConfig
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Solve proof-of-work jobs broadcast by the coordinator",
	SilenceUsage: true,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := distpow.ReadJSONConfig(configPath, &config); err != nil {
			return err
		}
		// flags win over the file
		flags := cmd.Flags()
		if flags.Changed("id") {
			config.WorkerID, _ = flags.GetString("id")
		}
		if flags.Changed("coord") {
			config.CoordAddr, _ = flags.GetString("coord")
		}
		if flags.Changed("key") {
			config.PublicKey, _ = flags.GetString("key")
		}
		if flags.Changed("threads") {
			config.Threads, _ = flags.GetUint("threads")
		}
		return log.Init(logLevel, false)
	},
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config/worker_config.json", "worker config file")
	rootCmd.Flags().String("id", "", "Worker ID, e.g. worker1")
	rootCmd.Flags().String("coord", "", "coordinator address")
	rootCmd.Flags().String("key", "", "hex public key for rewards")
	rootCmd.Flags().Uint("threads", 1, "mining goroutines per job")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "worker failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := log.WithComponent("worker").With().Str("worker", config.WorkerID).Logger()

	tracer, closeTracer := distpow.NewTracer(config.TracerServerAddr, config.WorkerID, config.TracerSecret)
	defer closeTracer()

	worker := distpow.NewWorker(config, tracer, logger)
	paid, err := worker.Initialize()
	if err != nil {
		return err
	}
	logger.Info().Str("coord", config.CoordAddr).Bool("paid", paid).Msg("Joined coordinator")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Worker stopped")
	return nil
}
