package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"devguard/internal/workflow"
	"devguard/internal/workflow/store"
	dErrors "devguard/pkg/domain-errors"
)

func (c *cli) definitions() (*store.FileStore, error) {
	return store.New(c.cfg.Workflow.DefinitionsDir,
		store.WithLogger(c.logger),
		store.WithStepTimeout(c.cfg.Workflow.DefaultStepTimeout),
	)
}

func parseCategory(raw string) (workflow.Category, error) {
	cat, ok := workflow.ParseCategory(raw)
	if !ok {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown workflow category %q", raw)
	}
	return cat, nil
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <category> <id>",
		Short: "Load and validate a workflow definition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategory(args[0])
			if err != nil {
				return err
			}
			defs, err := c.definitions()
			if err != nil {
				return err
			}
			def, err := defs.Load(cmd.Context(), cat, args[1])
			if err != nil {
				if fields, ok := workflow.FieldErrors(err); ok {
					for _, fe := range fields {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", fe.Field, fe.Message)
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is valid (%d steps, risk %s)\n", cat, def.ID, len(def.Steps), def.RiskLevel)
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list <category>",
		Short: "List the valid workflows in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategory(args[0])
			if err != nil {
				return err
			}
			defs, err := c.definitions()
			if err != nil {
				return err
			}
			summaries, err := defs.List(cmd.Context(), cat)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), summaries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPLATFORM\tRISK\tSTEPS")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", s.ID, s.Name, s.Platform, s.RiskLevel, s.Steps)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
