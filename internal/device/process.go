package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	dErrors "devguard/pkg/domain-errors"
)

// ProcessExecutor runs commands through a host bridge binary, invoked as
//
//	<binary> <deviceFlag> <deviceID> <command words...>
//
// which matches adb ("-s") and fastboot ("-s") style tools.
type ProcessExecutor struct {
	binary     string
	deviceFlag string
	logger     *slog.Logger
}

// ProcessOption configures a ProcessExecutor.
type ProcessOption func(*ProcessExecutor)

// WithDeviceFlag overrides the flag that selects the target device.
func WithDeviceFlag(flag string) ProcessOption {
	return func(p *ProcessExecutor) {
		p.deviceFlag = flag
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ProcessOption {
	return func(p *ProcessExecutor) {
		p.logger = logger
	}
}

// NewProcessExecutor creates an executor that shells out to binary.
func NewProcessExecutor(binary string, opts ...ProcessOption) (*ProcessExecutor, error) {
	if binary == "" {
		return nil, errors.New("bridge binary is required")
	}
	p := &ProcessExecutor{
		binary:     binary,
		deviceFlag: "-s",
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Execute runs command on deviceID. Command text is split on whitespace and
// passed as separate arguments; no shell is involved.
func (p *ProcessExecutor) Execute(ctx context.Context, deviceID, command string) (Output, error) {
	words := strings.Fields(command)
	if len(words) == 0 {
		return Output{}, dErrors.New(dErrors.CodeInvalidInput, "command is empty")
	}
	args := make([]string, 0, len(words)+2)
	if deviceID != "" && p.deviceFlag != "" {
		args = append(args, p.deviceFlag, deviceID)
	}
	args = append(args, words...)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		out.Success = true
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return out, dErrors.Wrap(ctxErr, dErrors.CodeTimeout, fmt.Sprintf("%s timed out", words[0]))
		}
		return out, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		p.logger.DebugContext(ctx, "device command failed",
			"device", deviceID,
			"command", words[0],
			"exit_code", out.ExitCode,
		)
		return out, nil
	}
	return out, dErrors.Wrap(err, dErrors.CodeStepExecution, fmt.Sprintf("run %s", p.binary))
}
