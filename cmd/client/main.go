package main

import (
	"fmt"
	"os"
	"time"

	distpow "example.org/distpow"
	"example.org/distpow/internal/log"
	"example.org/distpow/powlib"
	"example.org/distpow/wire"
	"github.com/spf13/cobra"
)

var (
	configPath string
	clientID   string
	difficulty string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "client [block-hash...]",
	Short:        "Request proof-of-work for block hashes",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config/client_config.json", "client config file")
	rootCmd.Flags().StringVar(&clientID, "id", "", "Client ID, e.g. client1")
	rootCmd.Flags().StringVar(&difficulty, "difficulty", "fff0000000000000", "hex 8 byte threshold")
	rootCmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait for results")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "client failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var config distpow.ClientConfig
	if err := distpow.ReadJSONConfig(configPath, &config); err != nil {
		return err
	}
	if clientID != "" {
		config.ClientID = clientID
	}
	logger := log.WithComponent("client").With().Str("client", config.ClientID).Logger()

	target, err := wire.ParseWord(difficulty)
	if err != nil {
		return fmt.Errorf("difficulty: %w", err)
	}
	hashes := make([]wire.Hash, len(args))
	for i, arg := range args {
		if hashes[i], err = wire.ParseHash(arg); err != nil {
			return fmt.Errorf("block hash %q: %w", arg, err)
		}
	}

	client := distpow.NewClient(config, powlib.NewPOW())
	if err := client.Initialize(); err != nil {
		return err
	}
	defer client.Close()

	for _, hash := range hashes {
		if err := client.Mine(hash, target); err != nil {
			return err
		}
	}

	deadline := time.After(timeout)
	for range hashes {
		select {
		case result, ok := <-client.NotifyChannel:
			if !ok {
				return fmt.Errorf("coordinator closed the connection")
			}
			logger.Info().Str("hash", result.Hash.String()).Str("work", result.Work.String()).Msg("Solved")
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.Hash, result.Work)
		case <-deadline:
			return fmt.Errorf("timed out after %s", timeout)
		}
	}
	return nil
}
