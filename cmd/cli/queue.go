package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kosarica/place-service/internal/taskqueue"
	"github.com/kosarica/place-service/internal/types"
)

func (c *cli) newQueue(cmd *cobra.Command) (*taskqueue.Queue, func(), error) {
	pool, err := c.connect(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	q, err := taskqueue.New(taskqueue.NewPostgresStore(pool), taskqueue.Config{
		MaxRetryAttempts:  c.cfg.Queue.MaxRetryAttempts,
		BaseDelay:         c.cfg.Queue.BaseDelay,
		BackoffMultiplier: c.cfg.Queue.BackoffMultiplier,
		MaxDelay:          c.cfg.Queue.MaxDelay,
	}, nil, nil, c.logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return q, pool.Close, nil
}

func (c *cli) enqueueCmd() *cobra.Command {
	var (
		flags    types.WorkFlags
		priority int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <targetId>",
		Short: "Queue enrichment for a stored place",
		Example: `  place-service enqueue 0195a3c2-7f1e-7c4b-9d2a-6b1f0e8d4c21 --menus --reviews
  place-service enqueue <placeId> --images --priority 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if priority < int(taskqueue.PriorityNormal) || priority > int(taskqueue.PriorityHigh) {
				return fmt.Errorf("priority must be 0 or 1, got %d", priority)
			}
			if !flags.Any() {
				return fmt.Errorf("select at least one of --menus, --images, --reviews")
			}

			q, closeDB, err := c.newQueue(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			task, err := q.Enqueue(cmd.Context(), args[0], flags, taskqueue.Priority(priority))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s\t%s\tpriority=%d\n", task.ID, task.Status, task.Priority)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.Menus, "menus", false, "fetch menus")
	cmd.Flags().BoolVar(&flags.Images, "images", false, "fetch images")
	cmd.Flags().BoolVar(&flags.Reviews, "reviews", false, "fetch reviews")
	cmd.Flags().IntVar(&priority, "priority", 0, "0 = normal, 1 = high")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task queue counts and workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeDB, err := c.newQueue(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return err
			}
			displayQueueStats(c, stats)
			return nil
		},
	}
}

func displayQueueStats(c *cli, stats taskqueue.QueueStats) {
	w := tabwriter.NewWriter(c.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PENDING\tPRIORITY\tPROCESSING\tRETRYING\tCOMPLETED\tFAILED")
	fmt.Fprintln(w, "-------\t--------\t----------\t--------\t---------\t------")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\n",
		stats.PendingCount, stats.PriorityCount, stats.ProcessingCount,
		stats.RetryingCount, stats.CompletedCount, stats.FailedCount)
	w.Flush()

	if len(stats.Workers) == 0 {
		fmt.Fprintln(c.out, "\nNo workers registered")
		return
	}

	fmt.Fprintln(c.out)
	w = tabwriter.NewWriter(c.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "WORKER\tHOST\tSTATUS\tPROCESSED\tFAILED\tCURRENT TASK\tLAST HEARTBEAT")
	fmt.Fprintln(w, "------\t----\t------\t---------\t------\t------------\t--------------")
	for _, wk := range stats.Workers {
		current := wk.CurrentTaskID
		if current == "" {
			current = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			wk.WorkerID, wk.Hostname, wk.Status,
			strconv.FormatInt(wk.TasksProcessed, 10), strconv.FormatInt(wk.TasksFailed, 10),
			current, wk.LastHeartbeat.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}
