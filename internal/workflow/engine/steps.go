package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"devguard/internal/workflow"
	dErrors "devguard/pkg/domain-errors"
)

// outcome is what a handler reports for one attempt.
type outcome struct {
	success bool
	output  string
	err     string
	details any
}

type stepHandler func(e *Engine, ctx context.Context, r *run, step workflow.Step) outcome

// stepHandlers has exactly one entry per workflow.StepType.
var stepHandlers = map[workflow.StepType]stepHandler{
	workflow.StepCommand: (*Engine).runCommand,
	workflow.StepCheck:   (*Engine).runCheck,
	workflow.StepWait:    (*Engine).runWait,
	workflow.StepPrompt:  (*Engine).runPrompt,
	workflow.StepLog:     (*Engine).runLog,
}

func (e *Engine) dispatch(ctx context.Context, r *run, step workflow.Step) outcome {
	handler, ok := stepHandlers[step.Type]
	if !ok {
		return outcome{err: dErrors.Newf(dErrors.CodeInvalidInput, "unsupported step type %q", step.Type).Error()}
	}
	start := time.Now()
	out := handler(e, ctx, r, step)
	e.metrics.ObserveStep(string(step.Type), time.Since(start))
	return out
}

// runCommand executes the step's action on the device, bounded by the
// step timeout and the engine-wide command ceiling.
func (e *Engine) runCommand(ctx context.Context, r *run, step workflow.Step) outcome {
	timeout := e.commandTimeout
	if t := step.Timeout(); t > 0 && t < timeout {
		timeout = t
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := e.executor.Execute(cmdCtx, r.ec.DeviceID, step.Action)
	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return outcome{err: dErrors.Wrap(err, dErrors.CodeTimeout, "command timed out after "+timeout.String()).Error()}
		}
		return outcome{err: err.Error()}
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = "command failed"
		}
		return outcome{output: out.Stdout, err: msg, details: out}
	}
	return outcome{success: true, output: out.Stdout}
}

// runCheck always passes; device validations are not wired yet.
func (e *Engine) runCheck(_ context.Context, _ *run, step workflow.Step) outcome {
	return outcome{success: true, output: "check passed: " + step.Action}
}

// runWait suspends this invocation only.
func (e *Engine) runWait(ctx context.Context, _ *run, step workflow.Step) outcome {
	if err := e.sleep(ctx, step.Duration()); err != nil {
		return outcome{err: "wait interrupted: " + err.Error()}
	}
	return outcome{success: true, output: "waited " + step.Duration().String()}
}

// runPrompt passes only when the operator typed the required input.
func (e *Engine) runPrompt(_ context.Context, r *run, step workflow.Step) outcome {
	if r.ec.userInput() == step.RequiredInput {
		return outcome{success: true, output: "input confirmed"}
	}
	return outcome{
		err: "required input not provided",
		details: map[string]string{
			"prompt":        step.Prompt,
			"requiredInput": step.RequiredInput,
		},
	}
}

// runLog writes the step message to its configured stream and always
// succeeds. A shadow write failure in a high-risk workflow is still fatal.
func (e *Engine) runLog(ctx context.Context, r *run, step workflow.Step) outcome {
	rec := r.record(opWorkflowLog, true, nil, map[string]any{
		"stepId":  step.ID,
		"message": step.Message,
	})
	wctx := context.WithoutCancel(ctx)
	if step.LogTarget == workflow.LogTargetShadow {
		if err := e.recorder.LogShadow(wctx, rec); err != nil && r.def.RiskLevel.RequiresShadow() && r.fatalErr == nil {
			r.fatalErr = err
			e.fatal(wctx, err)
		}
	} else {
		_ = e.recorder.LogPublic(wctx, rec)
	}
	return outcome{success: true, output: step.Message}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
