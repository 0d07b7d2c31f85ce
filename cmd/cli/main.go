package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kosarica/place-service/config"
	"github.com/kosarica/place-service/internal/database"
	"github.com/kosarica/place-service/internal/logging"
)

// cli carries what the subcommands share
type cli struct {
	cfgFile string
	cfg     *config.Config
	cfgErr  error
	logger  *zerolog.Logger
	out     io.Writer
}

// newRootCmd builds the command tree writing results to out
func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:   "place-service",
		Short: "Place Service CLI - continuous place ingestion and enrichment",
		Long: `A CLI tool for running and inspecting continuous place ingestion.
It scans configured regions for places, persists them idempotently, and
queues enrichment tasks (menus, images, reviews) for a worker pool.`,
		PersistentPreRunE: c.persistentPreRun,
		SilenceUsage:      true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")

	root.AddCommand(
		c.runCmd(),
		c.migrateCmd(),
		c.enqueueCmd(),
		c.statsCmd(),
		c.checkpointCmd(),
		c.regionsCmd(),
	)
	return root
}

// persistentPreRun loads config and the logger before each command
func (c *cli) persistentPreRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	c.cfg, c.cfgErr = config.Load(c.cfgFile)

	logCfg := config.LoggingConfig{Level: "info", Format: "console"}
	if c.cfg != nil {
		logCfg = c.cfg.Logging
		// Always use console format for CLI
		if logCfg.Format == "json" {
			logCfg.Format = "console"
		}
	}
	c.logger = logging.NewWithWriter(logCfg, os.Stderr)

	if c.cfgErr != nil && cmd.Name() != "regions" {
		return fmt.Errorf("config required for %s command: %w", cmd.Name(), c.cfgErr)
	}
	return nil
}

func (c *cli) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if c.cfg.Storage.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("command requires the %s storage driver", config.DriverPostgres)
	}
	pool, err := database.Connect(ctx, database.Options{
		URL:             c.cfg.Database.URL,
		MaxConnections:  c.cfg.Database.MaxConnections,
		MinConnections:  c.cfg.Database.MinConnections,
		MaxConnLifetime: c.cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: c.cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.logger.Debug().Msg("Database connected")
	return pool, nil
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
