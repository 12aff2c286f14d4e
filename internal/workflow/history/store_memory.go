package history

import (
	"context"
	"slices"
	"sync"

	"devguard/internal/workflow"
	"devguard/pkg/platform/sentinel"
)

// MemoryStore keeps runs in process, bounded to the most recent capacity runs.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     []Run
	capacity int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Save(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, copyRun(run))
	if over := len(s.runs) - s.capacity; over > 0 {
		s.runs = slices.Delete(s.runs, 0, over)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.ExecutionID == id {
			return copyRun(r), nil
		}
	}
	return Run{}, sentinel.ErrNotFound
}

func (s *MemoryStore) ListByDevice(_ context.Context, deviceID string, limit int) ([]Run, error) {
	return s.list(limit, func(r Run) bool { return r.DeviceID == deviceID }), nil
}

func (s *MemoryStore) ListByWorkflows(_ context.Context, workflowIDs []string, limit int) ([]Run, error) {
	if len(workflowIDs) == 0 {
		return []Run{}, nil
	}
	return s.list(limit, func(r Run) bool { return slices.Contains(workflowIDs, r.WorkflowID) }), nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Run, error) {
	return s.list(limit, func(Run) bool { return true }), nil
}

func (s *MemoryStore) list(limit int, keep func(Run) bool) []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.runs, limit, keep)
}

func copyRun(r Run) Run {
	r.Results = append([]workflow.StepResult(nil), r.Results...)
	return r
}
