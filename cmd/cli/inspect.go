package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kosarica/place-service/internal/checkpoint"
	"github.com/kosarica/place-service/internal/database"
	"github.com/kosarica/place-service/internal/pipeline"
	"github.com/kosarica/place-service/internal/regions"
	"github.com/kosarica/place-service/internal/scanner"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := database.Migrate(cmd.Context(), pool, c.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Applied %d migration(s)\n", applied)
			return nil
		},
	}
}

func (c *cli) checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "checkpoint [job]",
		Short:   "Print the stored checkpoint of a job",
		Example: "  place-service checkpoint " + pipeline.DefaultJobName,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := c.cfg.Pipeline.JobName
			if len(args) == 1 {
				job = args[0]
			}
			if job == "" {
				job = pipeline.DefaultJobName
			}

			pool, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			state, err := checkpoint.NewPostgresStore(pool).Load(cmd.Context(), job)
			if err != nil {
				return err
			}
			if state == nil {
				return fmt.Errorf("no checkpoint for job %q", job)
			}

			enc := json.NewEncoder(c.out)
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}
}

func (c *cli) regionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions <file>",
		Short: "Validate a regions file and print the scan order",
		Long: `Parse a CSV or XLSX regions file (columns region, priority, label, lat, lng)
and print regions in the order the scanner will visit them.`,
		Example: "  place-service regions ./config/regions.csv",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := regions.LoadFile(args[0])
			if err != nil {
				return err
			}
			displayRegions(c, scanner.New(plan, nil, 1).Regions())
			return nil
		},
	}
}

func displayRegions(c *cli, plan []scanner.Region) {
	w := tabwriter.NewWriter(c.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "REGION\tPRIORITY\tCOORDINATES")
	fmt.Fprintln(w, "------\t--------\t-----------")
	total := 0
	for _, r := range plan {
		fmt.Fprintf(w, "%s\t%d\t%d\n", r.Name, r.Priority, len(r.Coordinates))
		total += len(r.Coordinates)
	}
	w.Flush()
	fmt.Fprintf(c.out, "\n%d region(s), %d coordinate(s)\n", len(plan), total)
}
