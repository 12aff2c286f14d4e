package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"devguard/internal/policy"
	"devguard/internal/workflow/engine"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/requestcontext"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		deviceID    string
		userID      string
		confirm     bool
		input       string
		gateContext string
	)
	cmd := &cobra.Command{
		Use:   "run <category> <id>",
		Short: "Execute a workflow against a device",
		Long: `Runs a workflow through the configured device tool. The device is leased for
the duration of the run, admission gates are evaluated first, and every
step is written to the audit trail. The exit status is non-zero unless the
workflow succeeded.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cat, err := parseCategory(args[0])
			if err != nil {
				return err
			}
			rt, err := c.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			def, err := rt.Definitions.Load(ctx, cat, args[1])
			if err != nil {
				return err
			}
			executor, err := rt.DeviceExecutor()
			if err != nil {
				return err
			}
			e, err := rt.Engine(executor)
			if err != nil {
				return err
			}

			ec := engine.ExecutionContext{DeviceID: deviceID, UserID: userID}
			if confirm {
				ec.Authorization = &engine.Authorization{Confirmed: true, UserInput: input}
			}
			if gateContext != "" {
				data, err := os.ReadFile(gateContext)
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeInvalidInput, "read gate context")
				}
				var gctx policy.GateContext
				if err := json.Unmarshal(data, &gctx); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode gate context")
				}
				ec.Gate = gctx
			}
			if userID != "" {
				ctx = requestcontext.WithOperator(ctx, userID)
			}

			if d := rt.Gates.Disclaimer(); d != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), d)
			}
			res, err := e.Execute(ctx, def, ec)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			switch {
			case res.Success:
				return nil
			case res.AuthorizationRequired:
				return dErrors.New(dErrors.CodeAuthorizationRequired, res.AuthorizationPrompt)
			case res.Blocked:
				return dErrors.New(dErrors.CodeBlocked, res.Reason)
			default:
				return dErrors.New(dErrors.CodeStepExecution, res.Reason)
			}
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device serial (required)")
	cmd.Flags().StringVar(&userID, "user", "", "operator id recorded in the audit trail")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the workflow's authorization prompt")
	cmd.Flags().StringVar(&input, "input", "", "typed confirmation for prompt steps and destructive gates")
	cmd.Flags().StringVar(&gateContext, "gate-context", "", "JSON gate context (ownership, trust, evidence score)")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}
