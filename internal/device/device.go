// Package device is the boundary to the vendor tools that talk to attached
// handsets. The workflow engine only sees Executor.
package device

import (
	"context"
)

// Output is what a device command reported.
type Output struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// Executor runs a single command against a device. Implementations must
// honour ctx cancellation and deadlines. A returned error means the command
// could not be run at all; a command that ran and failed reports
// Success=false with its output.
type Executor interface {
	Execute(ctx context.Context, deviceID, command string) (Output, error)
}
