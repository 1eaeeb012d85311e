package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"crashcounter/internal/etl"
)

func runsCmd(c *cli) *cobra.Command {
	var dataset string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent refresh runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.newApp()
			defer func() { _ = a.Shutdown(context.Background()) }()

			runs, err := a.ListRuns(cmd.Context(), dataset, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tDATASET\tBY\tSTATUS\tPAGES\tINSERTED\tMERGED\tSTOP\tDURATION\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Dataset,
					r.TriggeredBy,
					r.Status,
					r.Pages,
					r.Inserted,
					r.Merged,
					orDash(r.StopReason),
					r.Duration.Round(time.Millisecond),
					orDash(r.ErrorKind),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&dataset, "dataset", "d", etl.DatasetAll, "Dataset to show (person, crash, vehicle or all)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func datasetsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the mirrored datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTABLE\tKEY\tFIELDS\tENDPOINT")
			for _, d := range c.newApp().Datasets() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					d.Name, d.Table, d.PrimaryKey, strconv.Itoa(len(d.Schema.Fields)), d.Endpoint)
			}
			return w.Flush()
		},
	}
}

func triggerCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger [dag-id]",
		Short: "Start a run of the refresh DAG on Airflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dagID string
			if len(args) == 1 {
				dagID = args[0]
			}
			run, err := c.newApp().TriggerDag(cmd.Context(), dagID)
			if err != nil {
				return err
			}
			fmt.Printf("triggered %s: run %s (%s)\n", run.DagID, run.DagRunID, run.State)
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
