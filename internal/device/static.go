package device

import (
	"context"
	"sync"
)

// Call is one command seen by a StaticExecutor.
type Call struct {
	DeviceID string
	Command  string
}

// StaticExecutor answers commands from a fixed table. It backs dry runs and
// tests; unknown commands succeed with empty output unless Strict is set.
type StaticExecutor struct {
	Responses map[string]Output
	Strict    bool

	mu    sync.Mutex
	calls []Call
}

// NewStaticExecutor creates an executor answering from responses.
func NewStaticExecutor(responses map[string]Output) *StaticExecutor {
	return &StaticExecutor{Responses: responses}
}

func (s *StaticExecutor) Execute(ctx context.Context, deviceID, command string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{DeviceID: deviceID, Command: command})
	s.mu.Unlock()

	if out, ok := s.Responses[command]; ok {
		return out, nil
	}
	if s.Strict {
		return Output{Success: false, Stderr: "unknown command: " + command, ExitCode: 127}, nil
	}
	return Output{Success: true}, nil
}

// Calls returns the commands executed so far, in order.
func (s *StaticExecutor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}
