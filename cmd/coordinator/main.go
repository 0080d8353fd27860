package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	distpow "example.org/distpow"
	"example.org/distpow/coordinator"
	"example.org/distpow/internal/log"
	"example.org/distpow/server"
	"example.org/distpow/storage"
	"example.org/distpow/wire"
	"github.com/spf13/cobra"
)

var (
	configPath string
	memory     bool
	listenAddr string

	serviceID  string
	serviceKey string

	workerKey string
)

var rootCmd = &cobra.Command{
	Use:          "coordinator",
	Short:        "Proof-of-work coordinator",
	SilenceUsage: true,
	RunE:         serve,
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage service credentials",
}

var serviceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a service credential",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(func(st storage.Store) error {
			return addService(cmd.Context(), st, serviceID, serviceKey)
		})
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect accounts",
}

var accountShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the counters of a worker or service account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(func(st storage.Store) error {
			var (
				acct interface{}
				ok   bool
				err  error
			)
			switch {
			case workerKey != "":
				var key storage.PublicKey
				b, decErr := hex.DecodeString(workerKey)
				if decErr != nil || len(b) != storage.PublicKeySize {
					return fmt.Errorf("bad worker key %q", workerKey)
				}
				copy(key[:], b)
				acct, ok, err = st.ClientAccount(cmd.Context(), key)
			case serviceID != "":
				id, hexErr := canonicalHex("--id", serviceID)
				if hexErr != nil {
					return hexErr
				}
				acct, ok, err = st.ServiceAccount(cmd.Context(), id)
			default:
				return errors.New("one of --worker or --id is required")
			}
			if err != nil {
				return err
			}
			if !ok {
				return storage.ErrNotFound
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "\t")
			return enc.Encode(acct)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/coordinator_config.json", "coordinator config file")
	rootCmd.PersistentFlags().BoolVar(&memory, "memory", false, "keep everything in memory instead of StoragePath")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "override ListenAddr")

	serviceAddCmd.Flags().StringVar(&serviceID, "id", "", "hex service id")
	serviceAddCmd.Flags().StringVar(&serviceKey, "key", "", "hex api key")
	accountShowCmd.Flags().StringVar(&workerKey, "worker", "", "hex worker public key")
	accountShowCmd.Flags().StringVar(&serviceID, "id", "", "hex service id")

	serviceCmd.AddCommand(serviceAddCmd)
	accountCmd.AddCommand(accountShowCmd)
	rootCmd.AddCommand(serviceCmd, accountCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator failed: %v\n", err)
		os.Exit(1)
	}
}

// canonicalHex returns the lowercase form the handshake produces, so stored
// ids and keys match whatever case they were typed in.
func canonicalHex(flag, s string) (string, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%s: %w", flag, err)
	}
	if len(b) != wire.HashSize {
		return "", fmt.Errorf("%s: want %d bytes, got %d", flag, wire.HashSize, len(b))
	}
	return hex.EncodeToString(b), nil
}

func addService(ctx context.Context, st storage.Store, id, key string) error {
	id, err := canonicalHex("--id", id)
	if err != nil {
		return err
	}
	key, err = canonicalHex("--key", key)
	if err != nil {
		return err
	}
	return st.PutCredential(ctx, id, key)
}

func loadConfig() (distpow.CoordinatorConfig, error) {
	var config distpow.CoordinatorConfig
	if err := distpow.ReadJSONConfig(configPath, &config); err != nil {
		return config, err
	}
	if listenAddr != "" {
		config.ListenAddr = listenAddr
	}
	return config, log.Init(config.LogLevel, config.LogJSON)
}

func openStore(config distpow.CoordinatorConfig) (storage.Store, error) {
	logger := log.WithComponent("storage")
	if memory || config.StoragePath == "" {
		logger.Warn().Msg("Using in-memory storage")
		return storage.NewBreaker(storage.NewMemoryStore(), storage.BreakerConfig{}, logger), nil
	}
	level, err := storage.OpenLevelStore(storage.LevelConfig{Path: config.StoragePath}, logger)
	if err != nil {
		return nil, err
	}
	return storage.NewBreaker(level, storage.BreakerConfig{Name: "leveldb"}, logger), nil
}

func withStore(fn func(storage.Store) error) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func serve(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.WithComponent("coordinator")

	coordConfig, err := coordinator.ConfigFrom(config)
	if err != nil {
		return err
	}
	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer st.Close()

	tracer, closeTracer := distpow.NewTracer(config.TracerServerAddr, "coordinator", config.TracerSecret)
	defer closeTracer()

	coord := coordinator.New(coordConfig, st, tracer, logger)
	defer coord.Close()

	srv := server.New(coord, server.Config{
		Path:      config.Path,
		RateLimit: config.RateLimit,
	}, log.WithComponent("server"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("max_threshold", coordConfig.MaxThreshold.String()).
		Uint64("reward_increment", coordConfig.RewardIncrement).
		Bool("durable_accept", coordConfig.DurableAccept).
		Msg("Starting coordinator")
	if err := srv.Run(ctx, config.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Coordinator stopped")
	return nil
}
