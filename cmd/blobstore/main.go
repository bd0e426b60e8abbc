package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-blobstore/pkg/blobstore"
	"github.com/tendant/simple-blobstore/pkg/blobstore/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var configFile string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "blobstore",
		Short: "Blob store command line client",
		Long: `Blob store command line client

Stores, reads and deletes blobs in an S3 or MinIO bucket directly, without a
server. Connection settings come from the environment (see .env) or from a
config file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json, toml or env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewPutCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewCopyCommand())
	rootCmd.AddCommand(NewDeleteCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewStatCommand())
	rootCmd.AddCommand(NewMetricsCommand())
	rootCmd.AddCommand(NewRemoveCommand())

	return rootCmd
}

// session is an initialized store opened for one command
type session struct {
	inst   *config.Instance
	logger *slog.Logger
}

// openStore loads configuration and initializes the store. When start is
// set the store is also started and close stops it again.
func openStore(cmd *cobra.Command, start bool) (*session, error) {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	opts := []config.Option{config.WithEnv()}
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	if verbose {
		opts = append(opts, func(c *config.ServerConfig) error {
			c.LogLevel = "debug"
			return nil
		})
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := cfg.NewLogger(os.Stderr)

	ctx := cmd.Context()
	inst, err := cfg.BuildStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	if start {
		if err := inst.Store.Start(ctx); err != nil {
			inst.Close()
			return nil, fmt.Errorf("failed to start blob store: %w", err)
		}
	}
	return &session{inst: inst, logger: logger}, nil
}

func (s *session) close(ctx context.Context) {
	store := s.inst.Store
	if store.State() == blobstore.StateStarted {
		if err := store.Stop(ctx); err != nil {
			s.logger.Error("Failed to stop blob store", "err", err)
		}
	}
	s.inst.Close()
}
