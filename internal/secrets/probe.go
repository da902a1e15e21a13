package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/opresolve/internal/metrics"
)

// Probe outcome labels used in logs and metrics.
const (
	ProbeReady               = "ready"
	ProbeToolMissing         = "tool_missing"
	ProbeToolError           = "tool_error"
	ProbeUnsupportedPlatform = "unsupported_platform"
	ProbeInterrupted         = "interrupted"
	ProbeDecodeError         = "decode_error"
)

// blankStderrMessage stands in for a diagnostic made only of whitespace.
const blankStderrMessage = "(stderr contained only whitespace)"

// Prober verifies the credential tool is installed and ready before secrets are read.
type Prober struct {
	tool     CredentialTool
	platform Platform
	logger   *zap.Logger
	metrics  *metrics.Store
}

// NewProber creates a Prober. A nil metrics store disables instrumentation.
func NewProber(tool CredentialTool, platform Platform, baseLogger *zap.Logger, store *metrics.Store) *Prober {
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	return &Prober{
		tool:     tool,
		platform: platform,
		logger:   baseLogger.Named("op-probe"),
		metrics:  store,
	}
}

// Probe returns nil when the tool is ready. Otherwise it returns
// ErrUnsupportedPlatform, ErrToolMissing, a *ToolError carrying the trimmed stderr
// of the version check, or a *DecodeError. The version check runs even when stdout
// is empty; any stderr output makes the tool not ready, regardless of stdout.
func (p *Prober) Probe(ctx context.Context) error {
	err := p.probe(ctx)
	outcome := probeOutcome(err)
	p.metrics.ObserveProbe(outcome)
	if err != nil {
		p.logger.Warn("Credential tool is not ready", zap.String("outcome", outcome), zap.Error(err))
		return err
	}
	p.logger.Debug("Credential tool is ready")
	return nil
}

func (p *Prober) probe(ctx context.Context) error {
	if err := p.platform.Check(); err != nil {
		return err
	}
	if p.tool == nil {
		return fmt.Errorf("%w: no credential tool configured", ErrToolMissing)
	}

	out, err := p.tool.VersionCheck(ctx)
	if err != nil {
		if errors.Is(err, ErrUnsupportedPlatform) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", ErrToolMissing, err)
	}

	if len(out.Stderr) > 0 {
		msg, decErr := decodeUTF8("stderr", out.Stderr)
		if decErr != nil {
			return decErr
		}
		msg = strings.TrimSpace(msg)
		if msg == "" {
			msg = blankStderrMessage
		}
		return &ToolError{Message: msg}
	}
	return nil
}

func probeOutcome(err error) string {
	var toolErr *ToolError
	var decodeErr *DecodeError
	switch {
	case err == nil:
		return ProbeReady
	case errors.Is(err, ErrUnsupportedPlatform):
		return ProbeUnsupportedPlatform
	case errors.Is(err, ErrToolMissing):
		return ProbeToolMissing
	case errors.As(err, &toolErr):
		return ProbeToolError
	case errors.As(err, &decodeErr):
		return ProbeDecodeError
	default:
		return ProbeInterrupted
	}
}
