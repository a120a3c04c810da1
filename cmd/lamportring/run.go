package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"lamportring/internal/cluster"
	"lamportring/internal/config"
	"lamportring/internal/eventlog"
	"lamportring/internal/metrics"
	"lamportring/internal/status"
	"lamportring/internal/verify"
)

var (
	runFlags  experimentFlags
	runVerify bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole ring in this process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := runFlags.load(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var opts []cluster.Option
		opts = append(opts, cluster.WithLogger(logger))

		var reg *prometheus.Registry
		if cfg.MetricsAddr != "" {
			reg = prometheus.NewRegistry()
			opts = append(opts, cluster.WithMetrics(metrics.New(reg)))
		}

		c, err := cluster.New(ctx, cfg, opts...)
		if err != nil {
			return err
		}
		atexit.Register(func() { c.Close() })

		if cfg.MetricsAddr != "" {
			reporters := make([]status.Reporter, 0, len(c.Nodes()))
			for _, n := range c.Nodes() {
				reporters = append(reporters, n)
			}
			router := status.NewRouter(status.NewHandlers(reporters, reg))
			go func() {
				if err := status.Serve(ctx, cfg.MetricsAddr, router, logger, nil); err != nil {
					logger.Error("status server failed", "err", err)
				}
			}()
		}

		logger.Info("starting experiment", "run", c.RunID(), "nodes", len(c.Nodes()), "duration", cfg.Duration)
		results, runErr := c.Run(ctx)
		printResults(cmd, results)

		if runVerify && runErr == nil {
			runErr = verifyRun(cmd, cfg, c)
		}
		return errors.Join(runErr, c.Close())
	},
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().BoolVar(&runVerify, "verify", false, "check the logs after the run")
	rootCmd.AddCommand(runCmd)
}

func printResults(cmd *cobra.Command, results []cluster.Result) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tRATE\tTICKS\tCLOCK\tERROR")
	for _, r := range results {
		errText := "-"
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", r.ID, r.TickRate, r.Ticks, r.Clock, errText)
	}
	w.Flush()
}

func verifyRun(cmd *cobra.Command, cfg config.Config, c *cluster.Cluster) error {
	var (
		logs []verify.Log
		err  error
	)
	if store := c.Store(); store != nil {
		logs, err = verify.LoadSQLite(store)
	} else {
		logs, err = verify.LoadCSVDir(cfg.LogDir)
	}
	if err != nil {
		return err
	}

	// The log directory may hold logs of earlier runs.
	ours := make(map[eventlog.Identity]bool, len(c.Nodes()))
	for _, n := range c.Nodes() {
		ours[eventlog.Identity{ProcessID: n.ID(), ClockRate: n.TickRate()}] = true
	}
	logs = slices.DeleteFunc(logs, func(l verify.Log) bool { return !ours[l.Identity] })

	summary := verify.CheckAll(logs, cfg.Duration)
	printSummary(cmd, summary)
	return summary.Err()
}

// runContext is cmd.Context with a fallback for direct invocation in tests.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
