//go:build linux || darwin

package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/opresolve/internal/utils"
)

const waitDelay = 2 * time.Second

// execTool runs the credential tool as a child process and captures its output.
type execTool struct {
	binary string
	logger *zap.Logger
}

// NewCLITool returns the subprocess adapter for the credential tool found at
// binary (a name looked up on PATH, or a path).
func NewCLITool(binary string, baseLogger *zap.Logger) CredentialTool {
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	return &execTool{
		binary: binary,
		logger: baseLogger.Named("op-cli"),
	}
}

func (t *execTool) VersionCheck(ctx context.Context) (ToolOutput, error) {
	return t.run(ctx, -1, "--version")
}

func (t *execTool) ReadSecret(ctx context.Context, reference string) (ToolOutput, error) {
	// The reference is argument index 1 and never reaches the logs.
	return t.run(ctx, 1, "read", reference)
}

func (t *execTool) run(ctx context.Context, redactFrom int, args ...string) (ToolOutput, error) {
	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Bounds the wait for output pipes held open by grandchildren after a kill.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	out := ToolOutput{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	t.logger.Debug("Credential tool invocation finished",
		zap.String("command", utils.FormatCommand(t.binary, args, redactFrom)),
		zap.Int("exit_code", out.ExitCode),
		zap.Int("stdout_bytes", len(out.Stdout)),
		zap.Int("stderr_bytes", len(out.Stderr)),
		zap.Duration("duration", time.Since(start)))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("credential tool interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, nil
		}
		return out, fmt.Errorf("failed to start %s: %w", t.binary, err)
	}
	return out, nil
}
