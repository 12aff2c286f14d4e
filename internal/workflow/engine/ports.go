package engine

import (
	"context"
	"time"

	"devguard/internal/audit"
	"devguard/internal/device"
	"devguard/internal/policy"
	"devguard/internal/workflow/history"
)

// Executor runs device commands for command steps.
type Executor interface {
	Execute(ctx context.Context, deviceID, command string) (device.Output, error)
}

// Recorder is the audit trail. *audit.Logger implements it.
type Recorder interface {
	LogShadow(ctx context.Context, rec audit.Record) error
	LogPublic(ctx context.Context, rec audit.Record) error
}

// Admission decides whether a workflow may start. *policy.Checker implements it.
type Admission interface {
	Check(ctx context.Context, category, riskLevel string, gctx policy.GateContext) policy.Decision
}

// Leaser grants exclusive use of a device. The lease package implements it.
type Leaser interface {
	Acquire(ctx context.Context, deviceID string, ttl time.Duration) (string, error)
	Release(ctx context.Context, deviceID, token string) error
}

// HistoryStore persists finished runs.
type HistoryStore interface {
	Save(ctx context.Context, run history.Run) error
}
