package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"devguard/internal/audit"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/requestcontext"
)

const dateLayout = "2006-01-02"

func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, dErrors.Newf(dErrors.CodeInvalidInput, "%q is not RFC 3339 or YYYY-MM-DD", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read, query and prune the audit streams",
	}
	cmd.AddCommand(c.auditReadCmd(), c.auditQueryCmd(), c.auditAnalyticsCmd(), c.auditCleanupCmd())
	return cmd
}

func (c *cli) auditReadCmd() *cobra.Command {
	var stream string
	cmd := &cobra.Command{
		Use:   "read <date>",
		Short: "Print every line of one day's shadow or public log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDate(args[0], false)
			if err != nil {
				return err
			}
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			switch audit.Stream(stream) {
			case audit.StreamShadow:
				entries, err := rt.Audit.ReadShadowLogs(cmd.Context(), date)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			case audit.StreamPublic:
				records, err := rt.Audit.ReadPublicLogs(cmd.Context(), date)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), records)
			default:
				return dErrors.Newf(dErrors.CodeInvalidInput, "stream must be shadow or public, got %q", stream)
			}
		},
	}
	cmd.Flags().StringVar(&stream, "stream", string(audit.StreamShadow), "shadow or public")
	return cmd
}

func (c *cli) auditQueryCmd() *cobra.Command {
	var device, operation, from, to string
	var limit int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Filter decrypted shadow records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromT, err := parseDate(from, false)
			if err != nil {
				return err
			}
			toT, err := parseDate(to, true)
			if err != nil {
				return err
			}
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			records, err := rt.Audit.GetShadowLogs(cmd.Context(), audit.Filter{
				DeviceSerial: device,
				Operation:    operation,
				From:         fromT,
				To:           toT,
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device serial")
	cmd.Flags().StringVar(&operation, "operation", "", "operation name, e.g. workflow_start")
	cmd.Flags().StringVar(&from, "from", "", "lower bound (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "upper bound (RFC 3339 or YYYY-MM-DD, inclusive)")
	cmd.Flags().IntVar(&limit, "limit", audit.DefaultQueryLimit, "maximum records")
	return cmd
}

func (c *cli) auditAnalyticsCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Summarise shadow records over a window (default: last 30 days)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			toT, err := parseDate(to, true)
			if err != nil {
				return err
			}
			if toT.IsZero() {
				toT = requestcontext.Now(cmd.Context()).UTC()
			}
			fromT, err := parseDate(from, false)
			if err != nil {
				return err
			}
			if fromT.IsZero() {
				fromT = toT.AddDate(0, 0, -30)
			}
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			a, err := rt.Audit.GetAnalytics(cmd.Context(), fromT, toT)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start")
	cmd.Flags().StringVar(&to, "to", "", "window end (inclusive)")
	return cmd
}

func (c *cli) auditCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete log files older than the retention windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			deleted, err := rt.Audit.CleanupOldLogs(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d file(s)\n", deleted)
			return err
		},
	}
}
