// Command marksctl runs marks maintenance and uploads from the shell:
// schema migrations, template generation and workbook uploads.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/markrecon/internal/config"
	"github.com/JonMunkholm/markrecon/internal/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	databaseURL string
	logLevel    string
}

func main() {
	// a missing .env is fine; the environment may already be set
	_ = godotenv.Overload()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "marksctl",
		Short:         "External marks maintenance and bulk upload",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupWriter(os.Stderr, opts.logLevel, "text")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	cmd.AddCommand(
		newMigrateCmd(&opts),
		newTemplateCmd(),
		newUploadCmd(&opts),
	)
	return cmd
}

// loadConfig reads the environment, with --database-url taking precedence.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.LoadFrom(func(key string) string {
		if (key == "DATABASE_URL" || key == "DB_URL") && o.databaseURL != "" {
			return o.databaseURL
		}
		return os.Getenv(key)
	})
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	slog.Debug("connected to database")
	return pool, nil
}
