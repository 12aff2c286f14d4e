package engine

import (
	"context"
	"fmt"
	"slices"

	"devguard/internal/workflow"
)

// rollback runs compensating steps after a failed run and appends one
// synthetic "rollback" result. Explicit rollback_steps run in declaration
// order; otherwise the rollback_step_id of each completed step is run in
// reverse completion order. Every rollback step is attempted; the rollback
// succeeds only if all of them do.
func (e *Engine) rollback(ctx context.Context, r *run) {
	steps := rollbackPlan(r.def, r.completed)
	e.logger.InfoContext(ctx, "rolling back workflow",
		"workflow", r.def.ID,
		"execution_id", r.result.ExecutionID,
		"steps", len(steps),
	)
	e.emit(ctx, r, opRollbackStart, true, map[string]any{"steps": len(steps)})

	// Compensation runs even if the caller has gone away.
	rctx := context.WithoutCancel(ctx)
	results := make([]workflow.StepResult, 0, len(steps))
	failed := 0
	for i, step := range steps {
		if r.fatalErr != nil {
			break
		}
		sr := e.runStep(rctx, r, i, step)
		results = append(results, sr)
		if !sr.Success {
			failed++
		}
	}
	ok := failed == 0 && r.fatalErr == nil

	summary := workflow.StepResult{
		StepID:    workflow.RollbackStepID,
		StepName:  "Rollback",
		Index:     len(r.result.Results),
		Success:   ok,
		Output:    fmt.Sprintf("%d of %d rollback steps succeeded", len(results)-failed, len(steps)),
		Timestamp: e.now().UTC(),
		Details:   results,
	}
	if !ok {
		summary.Error = "rollback incomplete"
	}
	r.result.Results = append(r.result.Results, summary)
	r.result.RolledBack = true
	r.result.Status = workflow.StatusRolledBack

	e.metrics.ObserveRollback(ok)
	e.emit(ctx, r, opRollbackComplete, ok, map[string]any{"failed": failed})
}

func rollbackPlan(def workflow.Definition, completed []workflow.Step) []workflow.Step {
	if len(def.RollbackSteps) > 0 {
		return slices.Clone(def.RollbackSteps)
	}
	var plan []workflow.Step
	for i := len(completed) - 1; i >= 0; i-- {
		id := completed[i].RollbackStepID
		if id == "" {
			continue
		}
		if step, ok := def.StepByID(id); ok {
			plan = append(plan, step)
		}
	}
	return plan
}
