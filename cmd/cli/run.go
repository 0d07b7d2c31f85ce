package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kosarica/place-service/internal/app"
)

func (c *cli) runCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run continuous ingestion and the worker pool in the foreground",
		Long: `Assemble the service and run the ingestion loop with its worker pool until
interrupted. With --once a single batch is run and its result printed.`,
		Example: `  place-service run
  place-service run --once --config ./config/dev.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), app.DrainTimeout)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					c.logger.Error().Err(err).Msg("Service did not shut down cleanly")
				}
			}()

			if once {
				result, err := a.Pipeline.Run(ctx)
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
				return err
			}

			a.Start(ctx)
			a.Controller.Start()
			c.logger.Info().Msg("Running, press Ctrl+C to stop")
			<-ctx.Done()
			c.logger.Info().Msg("Stopping...")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single batch and exit")
	return cmd
}
