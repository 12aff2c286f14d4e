package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"devguard/internal/workflow"
)

// Backoff is the ordered list of delays before each re-attempt. Re-attempt n
// waits Backoff[min(n-1, len-1)]; an empty list retries immediately.
type Backoff []time.Duration

// DefaultBackoff is used by the daemon when none is configured.
var DefaultBackoff = Backoff{time.Second, 2 * time.Second, 5 * time.Second}

// Delay returns the wait before re-attempt n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	if len(b) == 0 || n < 1 {
		return 0
	}
	return b[min(n-1, len(b)-1)]
}

// runStep runs one step to its final result, applying the retry policy. A
// retry step makes at most 1+Retries() attempts.
func (e *Engine) runStep(ctx context.Context, r *run, index int, step workflow.Step) workflow.StepResult {
	e.emit(ctx, r, opStepStart, true, map[string]any{
		"stepId":   step.ID,
		"stepName": step.Name,
		"stepType": step.Type,
		"index":    index,
	})

	sr := e.attempt(ctx, r, index, step, 1)
	if sr.Success || step.OnFailure != workflow.OnFailureRetry {
		if step.OnFailure == workflow.OnFailureRetry {
			sr.RetriedCount = intPtr(0)
		}
		return sr
	}

	retries := step.Retries()
	for n := 1; n <= retries; n++ {
		if ctx.Err() != nil || r.fatalErr != nil {
			break
		}
		e.metrics.IncRetry()
		e.emit(ctx, r, opStepRetry, false, map[string]any{
			"stepId":  step.ID,
			"attempt": n + 1,
			"of":      retries + 1,
			"error":   sr.Error,
		})
		if err := e.sleep(ctx, e.backoff.Delay(n)); err != nil {
			break
		}
		next := e.attempt(ctx, r, index, step, n+1)
		next.RetriedCount = intPtr(n)
		sr = next
		if sr.Success {
			break
		}
	}
	if sr.RetriedCount == nil {
		sr.RetriedCount = intPtr(0)
	}
	return sr
}

// attempt dispatches the step once and emits its completion record.
func (e *Engine) attempt(ctx context.Context, r *run, index int, step workflow.Step, n int) workflow.StepResult {
	sctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.type", string(step.Type)),
		attribute.Int("step.attempt", n),
	))
	started := e.now()
	out := e.dispatch(sctx, r, step)
	if out.success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, out.err)
	}
	span.End()

	sr := workflow.StepResult{
		StepID:    step.ID,
		StepName:  step.Name,
		Index:     index,
		Success:   out.success,
		Output:    out.output,
		Error:     out.err,
		Timestamp: e.now().UTC(),
		Details:   out.details,
	}
	e.emitTimed(ctx, r, opStepComplete, sr.Success, e.now().Sub(started), map[string]any{
		"stepId":  step.ID,
		"index":   index,
		"attempt": n,
		"error":   sr.Error,
	})
	return sr
}

func intPtr(n int) *int { return &n }
