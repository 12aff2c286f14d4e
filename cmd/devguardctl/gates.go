package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"devguard/internal/policy"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/requestcontext"
)

func (c *cli) gatesCmd() *cobra.Command {
	gates := &cobra.Command{
		Use:   "gates",
		Short: "Inspect and evaluate admission gates",
	}

	var manifestPath, contextPath, category, risk string
	eval := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate gates against a context snapshot",
		Long: `Evaluates the manifest's gates against a JSON gate context. With --category
and --risk only the gates applying to that workflow kind are evaluated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if manifestPath == "" {
				manifestPath = c.cfg.Workflow.GateManifest
			}
			manifest, err := policy.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			var gctx policy.GateContext
			if contextPath != "" {
				data, err := os.ReadFile(contextPath)
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeInvalidInput, "read gate context")
				}
				if err := json.Unmarshal(data, &gctx); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode gate context")
				}
			}
			if gctx.At.IsZero() {
				gctx.At = requestcontext.Now(cmd.Context())
			}

			source := policy.NewMemoryGateStore(manifest)
			selected := source.All()
			if category != "" || risk != "" {
				selected = source.ForWorkflow(category, risk)
			}
			if d := source.Disclaimer(); d != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), d)
			}
			decision := policy.EvaluateAll(selected, gctx)
			if err := printJSON(cmd.OutOrStdout(), decision); err != nil {
				return err
			}
			if decision.Blocked {
				return dErrors.New(dErrors.CodeBlocked, decision.BlockingReason)
			}
			return nil
		},
	}
	eval.Flags().StringVar(&manifestPath, "manifest", "", "gate manifest (defaults to workflow.gate_manifest)")
	eval.Flags().StringVar(&contextPath, "context", "", "JSON gate context file")
	eval.Flags().StringVar(&category, "category", "", "only gates applying to this workflow category")
	eval.Flags().StringVar(&risk, "risk", "", "only gates applying to this risk level")

	gates.AddCommand(eval)
	return gates
}
