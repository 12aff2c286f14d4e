package policy

import (
	"context"
	"io"
	"log/slog"

	"devguard/internal/policy/metrics"
	"devguard/pkg/requestcontext"
)

// GateSource supplies the gates that apply to a workflow.
type GateSource interface {
	ForWorkflow(category, riskLevel string) []Gate
}

// Checker runs admission for a workflow: it selects the applicable gates,
// evaluates them and records the outcome. Evaluation itself stays pure; the
// checker only adds selection, metrics and logging around it.
type Checker struct {
	source  GateSource
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Checker.
type Option func(*Checker)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// NewChecker builds a checker over source.
func NewChecker(source GateSource, opts ...Option) *Checker {
	c := &Checker{
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check evaluates every gate applicable to (category, riskLevel). A zero
// gctx.At is stamped from the request-scoped clock.
func (c *Checker) Check(ctx context.Context, category, riskLevel string, gctx GateContext) Decision {
	if gctx.At.IsZero() {
		gctx.At = requestcontext.Now(ctx)
	}
	var gates []Gate
	if c.source != nil {
		gates = c.source.ForWorkflow(category, riskLevel)
	}
	decision := EvaluateAll(gates, gctx)
	for _, res := range decision.Results {
		c.metrics.ObserveResult(string(res.GateType), string(res.Status))
	}
	if decision.Blocked {
		c.metrics.IncBlocked(category)
		c.logger.WarnContext(ctx, "admission blocked",
			"case_id", gctx.CaseID,
			"category", category,
			"risk_level", riskLevel,
			"reason", decision.BlockingReason,
		)
	}
	return decision
}
