package engine

import (
	"context"
	"time"

	"devguard/internal/audit"
)

// Audit operations emitted during a run.
const (
	opWorkflowStart    = "workflow_start"
	opWorkflowBlocked  = "workflow_blocked"
	opWorkflowComplete = "workflow_complete"
	opStepStart        = "step_start"
	opStepComplete     = "step_complete"
	opStepRetry        = "step_retry"
	opRollbackStart    = "rollback_start"
	opRollbackComplete = "rollback_complete"
	opWorkflowLog      = "workflow_log"
)

func (e *Engine) emit(ctx context.Context, r *run, op string, success bool, meta map[string]any) {
	e.write(ctx, r, r.record(op, success, nil, meta), r.def.RiskLevel.RequiresShadow())
}

func (e *Engine) emitTimed(ctx context.Context, r *run, op string, success bool, d time.Duration, meta map[string]any) {
	ms := d.Milliseconds()
	e.write(ctx, r, r.record(op, success, &ms, meta), r.def.RiskLevel.RequiresShadow())
}

func (r *run) record(op string, success bool, durationMS *int64, meta map[string]any) audit.Record {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["executionId"] = r.result.ExecutionID
	meta["workflowId"] = r.def.ID
	authorization := "none"
	if r.ec.authorized() {
		authorization = "confirmed"
	}
	return audit.Record{
		Operation:     op,
		DeviceSerial:  r.ec.DeviceID,
		UserID:        r.ec.UserID,
		Authorization: authorization,
		Timestamp:     r.now().UTC(),
		Success:       success,
		DurationMS:    durationMS,
		Metadata:      meta,
	}
}

// write sends rec to the public stream and, when shadow is set, to the
// shadow stream. A public failure is logged by the recorder and ignored. A
// shadow failure on a high-risk workflow is escalated to the fatal handler
// and stops the run.
func (e *Engine) write(ctx context.Context, r *run, rec audit.Record, shadow bool) {
	ctx = context.WithoutCancel(ctx)
	if shadow {
		if err := e.recorder.LogShadow(ctx, rec); err != nil && r.def.RiskLevel.RequiresShadow() && r.fatalErr == nil {
			r.fatalErr = err
			e.fatal(ctx, err)
		}
	}
	_ = e.recorder.LogPublic(ctx, rec)
}
