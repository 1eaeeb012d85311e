package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crashcounter/internal/etl"
)

// shutdownTimeout bounds how long in-flight refreshes get after a signal.
const shutdownTimeout = 30 * time.Second

func refreshCmd(c *cli) *cobra.Command {
	var dataset string
	var keepGoing bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Pull new rows for one dataset or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := c.newApp()
			defer func() { _ = a.Shutdown(context.Background()) }()
			if err := a.Startup(ctx); err != nil {
				return err
			}

			if !cmd.Flags().Changed("keep-going") {
				keepGoing = c.cfg.Sweep.KeepGoing
			}
			results, err := a.Refresh(ctx, dataset, keepGoing)
			for _, r := range results {
				printResult(r)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&dataset, "dataset", "d", etl.DatasetAll, "Dataset to refresh (person, crash, vehicle or all)")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "Refresh the remaining datasets after a failure")
	return cmd
}

func printResult(r *etl.RefreshResult) {
	frontier := "-"
	if r.Frontier != nil {
		frontier = fmt.Sprint(r.Frontier)
		if !r.FrontierFound {
			frontier += " (not reached)"
		}
	}
	fmt.Printf("%-8s pages=%d inserted=%d merged=%d frontier=%s stop=%s\n",
		r.Dataset, r.Pages, r.Inserted, r.Merged, frontier, orDash(string(r.StopReason)))
}

func scheduleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the full sweep on the configured cron schedule and serve metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := c.newApp()
			if err := a.Startup(ctx); err != nil {
				_ = a.Shutdown(context.Background())
				return err
			}
			if err := a.StartSchedule(ctx); err != nil {
				_ = a.Shutdown(context.Background())
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", a.MetricsHandler())
			srv := &http.Server{Addr: c.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			serveErr := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			c.logger.Info("scheduler running",
				zap.String("schedule", c.cfg.Sweep.Schedule),
				zap.String("next_run", a.NextRun()),
				zap.String("metrics_addr", c.cfg.Metrics.Addr))

			var runErr error
			select {
			case <-ctx.Done():
				c.logger.Info("shutting down")
			case err := <-serveErr:
				runErr = fmt.Errorf("metrics server: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errors.Join(runErr, srv.Shutdown(shutdownCtx), a.Shutdown(shutdownCtx))
		},
	}
}
