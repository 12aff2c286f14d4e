package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"devguard/internal/workflow/history"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/sentinel"
)

func (c *cli) runsCmd() *cobra.Command {
	var (
		deviceID string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List finished workflow runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := c.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			var runs []history.Run
			if deviceID != "" {
				runs, err = rt.History.ListByDevice(ctx, deviceID, limit)
			} else {
				runs, err = rt.History.ListRecent(ctx, limit)
			}
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "list runs")
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXECUTION\tWORKFLOW\tDEVICE\tSTATUS\tFINISHED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ExecutionID, r.WorkflowID, r.DeviceID, r.Status,
					r.FinishedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "only runs against this device")
	cmd.Flags().IntVar(&limit, "limit", history.DefaultLimit, "maximum runs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <execution-id>",
		Short: "Print one run with its step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := c.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			run, err := rt.History.Get(ctx, args[0])
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "run %s not found", args[0])
			}
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "load run")
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	})
	return cmd
}
