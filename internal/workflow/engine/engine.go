// Package engine runs workflow definitions against a device.
//
// One invocation is a strictly sequential state machine:
//
//	Pending -> Running -> Completed | Failed | RollingBack -> RolledBack
//
// Steps never run in parallel within an invocation so the audit trail stays
// causally ordered. Separate invocations share only the Recorder and the
// Admission checker, both safe for concurrent use.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"devguard/internal/policy"
	"devguard/internal/workflow"
	"devguard/internal/workflow/history"
	"devguard/internal/workflow/metrics"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/sentinel"
)

const tracerName = "devguard/workflow/engine"

// DefaultCommandTimeout caps how long a command step may wait on the device.
const DefaultCommandTimeout = 60 * time.Second

// FatalHandler is called when an audit record that must not be lost could not
// be written. The daemon exits; tests record the call.
type FatalHandler func(ctx context.Context, err error)

// ExitOnFatal logs err and terminates the process.
func ExitOnFatal(logger *slog.Logger) FatalHandler {
	return func(ctx context.Context, err error) {
		logger.ErrorContext(ctx, "shadow audit trail unwritable, exiting", "error", err)
		os.Exit(1)
	}
}

// Authorization is the operator's confirmation for a run.
type Authorization struct {
	Confirmed bool   `json:"confirmed"`
	UserInput string `json:"user_input,omitempty"`
}

// ExecutionContext identifies who runs a workflow against which device.
type ExecutionContext struct {
	DeviceID      string
	UserID        string
	Authorization *Authorization
	// Gate is evaluated by the Admission checker before any step runs.
	Gate policy.GateContext
}

func (ec ExecutionContext) authorized() bool {
	return ec.Authorization != nil && ec.Authorization.Confirmed
}

func (ec ExecutionContext) userInput() string {
	if ec.Authorization == nil {
		return ""
	}
	return ec.Authorization.UserInput
}

// Engine executes workflows. It holds no per-invocation state and may run
// many invocations concurrently.
type Engine struct {
	executor  Executor
	recorder  Recorder
	admission Admission
	leases    Leaser
	history   HistoryStore

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	fatal   FatalHandler

	backoff        Backoff
	stepTimeout    time.Duration
	commandTimeout time.Duration
	leaseTTL       time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock sets the clock used for result and audit timestamps. Event times
// come from the clock, not the request time, so durations stay measurable
// inside one invocation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithAdmission enables gate admission before a run starts.
func WithAdmission(a Admission) Option {
	return func(e *Engine) {
		e.admission = a
	}
}

// WithLeases enables per-device exclusive leases.
func WithLeases(l Leaser, ttl time.Duration) Option {
	return func(e *Engine) {
		e.leases = l
		if ttl > 0 {
			e.leaseTTL = ttl
		}
	}
}

// WithHistory persists every finished run.
func WithHistory(h HistoryStore) Option {
	return func(e *Engine) {
		e.history = h
	}
}

// WithBackoff sets the delays between retry attempts.
func WithBackoff(b Backoff) Option {
	return func(e *Engine) {
		e.backoff = b
	}
}

// WithStepTimeout sets the timeout filled into steps that declare none.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithCommandTimeout caps the timeout of every command step.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.commandTimeout = d
		}
	}
}

// WithFatalHandler sets the escalation for unwritable shadow records.
func WithFatalHandler(h FatalHandler) Option {
	return func(e *Engine) {
		e.fatal = h
	}
}

// New builds an engine. The executor and recorder are required.
func New(executor Executor, recorder Recorder, opts ...Option) (*Engine, error) {
	if executor == nil {
		return nil, errors.New("device executor is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	e := &Engine{
		executor:       executor,
		recorder:       recorder,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:         otel.Tracer(tracerName),
		stepTimeout:    workflow.DefaultStepTimeout,
		commandTimeout: DefaultCommandTimeout,
		sleep:          sleepContext,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fatal == nil {
		e.fatal = ExitOnFatal(e.logger)
	}
	return e, nil
}

// run is the state of one invocation.
type run struct {
	def    workflow.Definition
	ec     ExecutionContext
	result *workflow.Result
	// completed holds the steps that succeeded, in completion order.
	completed []workflow.Step
	// fatalErr is set once a must-not-lose record failed to persist.
	fatalErr error
	now      func() time.Time
}

// Execute runs def for ec. Business outcomes (authorization required, gate
// blocked, step failures, rollback, cancellation) are reported in the
// Result. An error is returned only when the definition is invalid, the
// device is busy, or the shadow audit trail could not be written.
func (e *Engine) Execute(ctx context.Context, def workflow.Definition, ec ExecutionContext) (*workflow.Result, error) {
	if err := workflow.Validate(def); err != nil {
		return nil, err
	}
	if ec.DeviceID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "device id is required")
	}
	def = workflow.Sanitize(def, e.stepTimeout)

	r := &run{
		def: def,
		ec:  ec,
		now: e.now,
		result: &workflow.Result{
			ExecutionID:  uuid.NewString(),
			WorkflowID:   def.ID,
			WorkflowName: def.Name,
			Results:      []workflow.StepResult{},
			StartedAt:    e.now().UTC(),
		},
	}

	if def.RequiresAuthorization && !ec.authorized() {
		r.result.Status = workflow.StatusAuthorizationRequired
		r.result.AuthorizationRequired = true
		r.result.AuthorizationPrompt = def.AuthorizationPrompt
		r.result.Reason = "authorization required"
		r.result.FinishedAt = e.now().UTC()
		e.metrics.ObserveExecution(def.ID, string(r.result.Status))
		return r.result, nil
	}

	if blocked := e.admit(ctx, r); blocked {
		return r.result, e.finish(ctx, r)
	}

	if e.leases != nil {
		token, err := e.leases.Acquire(ctx, ec.DeviceID, e.leaseTTL)
		if errors.Is(err, sentinel.ErrLeaseHeld) {
			e.metrics.IncLeaseConflict()
			return nil, dErrors.Newf(dErrors.CodeConflict, "device busy: %s", ec.DeviceID)
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "acquire device lease")
		}
		defer func() {
			if err := e.leases.Release(context.WithoutCancel(ctx), ec.DeviceID, token); err != nil {
				e.logger.WarnContext(ctx, "device lease release failed", "device", ec.DeviceID, "error", err)
			}
		}()
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", def.ID),
		attribute.String("workflow.risk_level", string(def.RiskLevel)),
		attribute.String("device.id", ec.DeviceID),
		attribute.String("execution.id", r.result.ExecutionID),
	))
	defer span.End()

	e.metrics.RunStarted()
	defer e.metrics.RunFinished()

	e.logger.InfoContext(ctx, "workflow started",
		"workflow", def.ID,
		"execution_id", r.result.ExecutionID,
		"device", ec.DeviceID,
		"user", ec.UserID,
	)
	e.emit(ctx, r, opWorkflowStart, true, map[string]any{
		"workflowName": def.Name,
		"riskLevel":    def.RiskLevel,
		"steps":        len(def.Steps),
	})

	if r.fatalErr == nil {
		e.runSteps(ctx, r)
	} else {
		r.result.Status = workflow.StatusFailed
		r.result.Reason = "shadow audit write failed"
	}
	if r.result.Status == workflow.StatusFailed && def.RollbackSupported && r.fatalErr == nil {
		e.rollback(ctx, r)
	}

	if r.result.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(r.result.Status))
	}
	return r.result, e.finish(ctx, r)
}

// admit runs the gate checker. It reports true when the run was blocked.
func (e *Engine) admit(ctx context.Context, r *run) bool {
	if e.admission == nil {
		return false
	}
	gctx := r.ec.Gate
	if gctx.UserInput == "" {
		gctx.UserInput = r.ec.userInput()
	}
	decision := e.admission.Check(ctx, string(r.def.Category), string(r.def.RiskLevel), gctx)
	if !decision.Blocked {
		return false
	}
	r.result.Status = workflow.StatusBlocked
	r.result.Blocked = true
	r.result.Reason = decision.BlockingReason
	e.emit(ctx, r, opWorkflowBlocked, false, map[string]any{
		"reason": decision.BlockingReason,
		"gates":  decision.Results,
	})
	return true
}

// runSteps is the main loop. It leaves result.Status at completed, failed or
// cancelled.
func (e *Engine) runSteps(ctx context.Context, r *run) {
	r.result.Status = workflow.StatusCompleted
	r.result.Success = true
	for i, step := range r.def.Steps {
		if err := ctx.Err(); err != nil {
			r.cancel(err)
			return
		}

		sr := e.runStep(ctx, r, i, step)
		r.result.Results = append(r.result.Results, sr)
		if r.fatalErr != nil {
			r.fail(i, "shadow audit write failed")
			return
		}
		if err := ctx.Err(); err != nil {
			if !sr.Success {
				r.result.FailedStepIndex = &i
			}
			r.cancel(err)
			return
		}
		if sr.Success {
			r.completed = append(r.completed, step)
			continue
		}
		if step.OnFailure == workflow.OnFailureContinue {
			e.logger.InfoContext(ctx, "step failed, continuing", "workflow", r.def.ID, "step", step.ID)
			continue
		}
		// abort, or retry with every attempt exhausted
		r.fail(i, sr.Error)
		e.logger.WarnContext(ctx, "workflow aborted",
			"workflow", r.def.ID,
			"execution_id", r.result.ExecutionID,
			"step", step.ID,
			"error", sr.Error,
		)
		return
	}
}

func (r *run) fail(index int, reason string) {
	r.result.Status = workflow.StatusFailed
	r.result.Success = false
	r.result.FailedStepIndex = &index
	r.result.Reason = reason
}

func (r *run) cancel(err error) {
	r.result.Status = workflow.StatusCancelled
	r.result.Success = false
	r.result.Cancelled = true
	r.result.Reason = err.Error()
}

// finish emits the completion record, stores the run and reports the
// outcome. The returned error is non-nil only after a fatal audit failure.
func (e *Engine) finish(ctx context.Context, r *run) error {
	r.result.FinishedAt = e.now().UTC()
	duration := r.result.FinishedAt.Sub(r.result.StartedAt)

	if r.result.Status != workflow.StatusBlocked && r.fatalErr == nil {
		e.emitTimed(ctx, r, opWorkflowComplete, r.result.Success, duration, map[string]any{
			"status":  r.result.Status,
			"results": r.result.Results,
		})
	}
	if r.fatalErr != nil && r.result.Status != workflow.StatusBlocked {
		r.result.Success = false
		if r.result.Status == workflow.StatusCompleted {
			r.result.Status = workflow.StatusFailed
			r.result.Reason = "shadow audit write failed"
		}
	}

	if e.history != nil {
		run := history.Run{Result: *r.result, DeviceID: r.ec.DeviceID, UserID: r.ec.UserID}
		if err := e.history.Save(context.WithoutCancel(ctx), run); err != nil {
			e.logger.ErrorContext(ctx, "failed to store workflow run",
				"execution_id", r.result.ExecutionID,
				"error", err,
			)
		}
	}

	e.metrics.ObserveExecution(r.def.ID, string(r.result.Status))
	e.logger.InfoContext(ctx, "workflow finished",
		"workflow", r.def.ID,
		"execution_id", r.result.ExecutionID,
		"status", r.result.Status,
		"success", r.result.Success,
		"duration", duration,
	)

	if r.fatalErr != nil {
		return dErrors.Wrap(r.fatalErr, dErrors.CodePersistence, "shadow audit trail unwritable")
	}
	return nil
}
