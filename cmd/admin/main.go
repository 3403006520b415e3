// Package main provides operator commands for the marketplace ledgers.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/storage"
)

const programName = "tonft-admin"

var globalFlags = struct {
	debug bool
}{}

type configKey struct{}

func configFromContext(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}

// openPostgres connects to the ledger database named in the loaded configuration
func openPostgres(cmd *cobra.Command) (*storage.PostgresDB, error) {
	cfg := configFromContext(cmd.Context())
	if cfg == nil {
		return nil, fmt.Errorf("no config found in context")
	}
	db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return db, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Operator commands for the marketplace backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := logging.ParseLogLevel(cfg.Logging.Level)
		if globalFlags.debug {
			level = logging.LevelDebug
		}
		logging.InitGlobalLogger(level, logging.ParseLogFormat(cfg.Logging.Format))

		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	}

	rootCmd.AddCommand(cleanupCommand())
	rootCmd.AddCommand(bonusesCommand())
	rootCmd.AddCommand(settleCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
