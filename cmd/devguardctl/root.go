package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"devguard/internal/bootstrap"
	"devguard/internal/platform/config"
	"devguard/internal/platform/logger"
	"devguard/pkg/requestcontext"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "devguardctl",
		Short: "Operate DevGuard device workflows and audit logs",
		Long: `devguardctl validates and runs device-repair workflows under policy gates,
and reads the encrypted audit trail the runs leave behind.

Examples:
  # Check a definition before shipping it
  devguardctl validate bootloader unlock-oem

  # Run a workflow against a device
  devguardctl run recovery factory-reset --device R58M12 --user tech-4 --confirm --input "ERASE AND RESTORE"

  # Show what happened on a device this week
  devguardctl audit query --device R58M12 --from 2026-10-12
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			level := cfg.Log.Level
			if c.logLevel != "" {
				level = c.logLevel
			}
			c.logger = logger.NewWithWriter(cmd.ErrOrStderr(), level, "text")
			cmd.SetContext(requestcontext.WithTime(cmd.Context(), requestcontext.Now(cmd.Context())))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("DEVGUARD_CONFIG"), "path to devguard.yaml")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		c.validateCmd(),
		c.listCmd(),
		c.gatesCmd(),
		c.auditCmd(),
		c.runCmd(),
		c.runsCmd(),
		c.tokenCmd(),
	)
	return root
}

// runtime wires the full stack. Callers must Close it.
func (c *cli) runtime(ctx context.Context) (*bootstrap.Runtime, error) {
	return bootstrap.New(ctx, c.cfg, c.logger, nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
