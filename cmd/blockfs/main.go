package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blockfs/pkg/client"
	"blockfs/pkg/config"
	"blockfs/pkg/coordinator"
	"blockfs/pkg/node"
	"blockfs/pkg/shared"
	"blockfs/pkg/storage"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

var (
	configFile string
	verbose    bool
	v          = config.New()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blockfs",
		Short: "Replicated block file store",
		Long: `blockfs splits files into fixed-size blocks and keeps every block on several
storage workers. A single coordinator owns the namespace and block placement.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default $HOME/.blockfs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().String("coordinator", "localhost:9000", "coordinator address")
	rootCmd.PersistentFlags().String("user", "default", "identity used for ownership checks")

	if err := config.BindFlags(v, rootCmd.PersistentFlags(), map[string]string{
		"coordinator": "client.coordinator_address",
		"user":        "client.user",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		coordinatorCmd(),
		workerCmd(),
		statusCmd(),
		pruneWorkersCmd(),
		lsCmd(),
		mkdirCmd(),
		rmCmd(),
		mvCmd(),
		statCmd(),
		putCmd(),
		getCmd(),
		layoutCmd(),
		searchCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, config.ResolveConfigPath(configFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func bindOrExit(vp *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	if err := config.BindFlags(vp, cmd.Flags(), keys); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func coordinatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the metadata coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			pool := shared.NewConnectionPool()
			defer pool.CloseAll()
			transfer := storage.NewTransfer(pool, logger.Named("transfer"))

			coord := coordinator.New(&cfg.Coordinator, logger,
				coordinator.WithReplicaCopier(transfer),
				coordinator.WithBlockDeleter(transfer))

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				logger.Info("Shutting down coordinator")
				coord.Stop()
			}()

			logger.Info("Starting coordinator",
				zap.String("address", cfg.Coordinator.Address),
				zap.String("metrics_address", cfg.Coordinator.MetricsAddress),
				zap.String("data_dir", cfg.Coordinator.DataDir))
			return coord.Start()
		},
	}

	cmd.Flags().String("address", ":9000", "gRPC listening address")
	cmd.Flags().String("metrics-address", ":9100", "metrics and health listening address, empty to disable")
	cmd.Flags().String("data-dir", "./data/coordinator", "directory for metadata snapshots")
	cmd.Flags().String("snapshot-format", "json", "snapshot encoding (json or toml)")
	cmd.Flags().String("block-size", "64MiB", "block size for new files")
	cmd.Flags().Int("replication", 2, "replicas per block")
	cmd.Flags().Duration("heartbeat-timeout", 0, "silence after which a worker is marked inactive")
	cmd.Flags().Duration("audit-interval", 0, "interval between liveness sweeps and replication audits")

	bindOrExit(v, cmd, map[string]string{
		"address":           "coordinator.address",
		"metrics-address":   "coordinator.metrics_address",
		"data-dir":          "coordinator.data_dir",
		"snapshot-format":   "coordinator.snapshot_format",
		"block-size":        "coordinator.block_size",
		"replication":       "coordinator.replication_factor",
		"heartbeat-timeout": "coordinator.heartbeat_timeout",
		"audit-interval":    "coordinator.audit_interval",
	})
	return cmd
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a storage worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("coordinator") {
				cfg.Worker.CoordinatorAddress = cfg.Client.CoordinatorAddress
			}

			n, err := node.New(&cfg.Worker, logger)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				logger.Info("Shutting down worker")
				n.Stop()
			}()

			logger.Info("Starting worker",
				zap.String("address", cfg.Worker.Address()),
				zap.String("coordinator", cfg.Worker.CoordinatorAddress),
				zap.String("data_dir", cfg.Worker.DataDir))
			return n.Start()
		},
	}

	cmd.Flags().String("host", "localhost", "host the coordinator and clients reach this worker on")
	cmd.Flags().Int("port", 9001, "gRPC listening port")
	cmd.Flags().String("data-dir", "./data/worker", "directory for block files")
	cmd.Flags().String("capacity", "10GiB", "storage capacity offered to the cluster")
	cmd.Flags().Duration("heartbeat-interval", 0, "interval between heartbeats")

	bindOrExit(v, cmd, map[string]string{
		"host":               "worker.host",
		"port":               "worker.port",
		"data-dir":           "worker.data_dir",
		"capacity":           "worker.capacity",
		"heartbeat-interval": "worker.heartbeat_interval",
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("blockfs %s\n", version)
		},
	}
}

// withClient runs fn against a client dialed from the loaded config.
func withClient(quiet bool, fn func(ctx context.Context, c *client.Client) error) error {
	logger := setupLogger(verbose)
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	c, err := client.Dial(&cfg.Client, logger, client.WithQuiet(quiet))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, c)
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
