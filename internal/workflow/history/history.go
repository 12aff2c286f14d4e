// Package history persists finished workflow invocations so operators can
// see what ran against a device and how it ended.
package history

import (
	"context"
	"sort"

	"devguard/internal/workflow"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Run is one finished invocation.
type Run struct {
	workflow.Result
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId,omitempty"`
}

// Store is implemented by MemoryStore, FileStore and PostgresStore. List methods return
// runs newest first.
type Store interface {
	Save(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Run, error)
	ListByWorkflows(ctx context.Context, workflowIDs []string, limit int) ([]Run, error)
	ListRecent(ctx context.Context, limit int) ([]Run, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// flags restores the boolean view of a status after loading.
func flags(r *Run) {
	r.RolledBack = r.Status == workflow.StatusRolledBack
	r.Blocked = r.Status == workflow.StatusBlocked
	r.Cancelled = r.Status == workflow.StatusCancelled
	r.AuthorizationRequired = r.Status == workflow.StatusAuthorizationRequired
}

// newestFirst copies the runs keep admits, newest finish first, capped at
// the clamped limit.
func newestFirst(runs []Run, limit int, keep func(Run) bool) []Run {
	out := []Run{}
	for _, r := range runs {
		if keep(r) {
			out = append(out, copyRun(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out
}
