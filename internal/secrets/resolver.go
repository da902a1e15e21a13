package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/opresolve/internal/metrics"
)

const (
	// DefaultBinary is the 1Password CLI executable name looked up on PATH.
	DefaultBinary = "op"

	backendOnePassword = "1password"
)

// Resolver reads secrets through the 1Password CLI. It implements SecretManager
// and accepts any reference string; the reference is passed to the tool untouched.
//
// A Resolver holds no per-resolution state and is safe for concurrent use. Each
// call spawns its own subprocesses.
type Resolver struct {
	tool      CredentialTool
	platform  Platform
	prober    *Prober
	logger    *zap.Logger
	metrics   *metrics.Store
	probeOnce bool
	ready     atomic.Bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPlatform overrides the detected platform.
func WithPlatform(p Platform) Option {
	return func(r *Resolver) { r.platform = p }
}

// WithMetrics records probe and resolution metrics in store.
func WithMetrics(store *metrics.Store) Option {
	return func(r *Resolver) { r.metrics = store }
}

// WithProbeOnce reuses the first successful probe for later resolutions.
// Failed probes are never remembered.
func WithProbeOnce() Option {
	return func(r *Resolver) { r.probeOnce = true }
}

// NewResolver creates a Resolver around tool.
func NewResolver(tool CredentialTool, baseLogger *zap.Logger, opts ...Option) *Resolver {
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}
	r := &Resolver{
		tool:     tool,
		platform: CurrentPlatform(),
		logger:   baseLogger.Named("op-resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.prober = NewProber(tool, r.platform, baseLogger, r.metrics)
	return r
}

// DefaultResolver uses the op binary from PATH with logging disabled.
func DefaultResolver() *Resolver {
	return NewResolver(NewCLITool(DefaultBinary, nil), nil)
}

func (r *Resolver) Name() string { return backendOnePassword }

func (r *Resolver) IsEnabled() bool { return r.tool != nil }

// Handles accepts every reference; the 1Password resolver is the catch-all backend.
func (r *Resolver) Handles(string) bool { return true }

// Probe runs the tool readiness check, honouring WithProbeOnce.
func (r *Resolver) Probe(ctx context.Context) error {
	if r.probeOnce && r.ready.Load() {
		return nil
	}
	if err := r.prober.Probe(ctx); err != nil {
		return err
	}
	if r.probeOnce {
		r.ready.Store(true)
	}
	return nil
}

// Resolve reads the secret behind reference.
//
// Fatal conditions are returned as errors: ErrUnsupportedPlatform (checked before
// anything is spawned), ErrToolMissing and *ToolError from the probe, and
// *DecodeError when stdout is not UTF-8. A context error is returned as is.
// When the read subcommand cannot be launched or exits non-zero the result is
// the recoverable NotFound outcome with a nil error. Otherwise stdout is trimmed
// of surrounding whitespace and returned; an empty value is still Resolved.
func (r *Resolver) Resolve(ctx context.Context, reference string) (ResolvedSecret, error) {
	start := time.Now()
	res, err := r.resolve(ctx, reference)

	outcome := res.Status.String()
	if err != nil {
		outcome = "error"
	}
	r.metrics.ObserveResolution(backendOnePassword, outcome, time.Since(start))
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, reference string) (ResolvedSecret, error) {
	if err := r.platform.Check(); err != nil {
		r.metrics.ObserveProbe(ProbeUnsupportedPlatform)
		return ResolvedSecret{}, err
	}
	if err := r.Probe(ctx); err != nil {
		return ResolvedSecret{}, err
	}

	out, err := r.tool.ReadSecret(ctx, reference)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ResolvedSecret{}, fmt.Errorf("secret read interrupted: %w", ctxErr)
		}
		r.logger.Warn("Credential tool read could not be launched", zap.Error(err))
		return NotFound(err.Error()), nil
	}
	if out.ExitCode != 0 {
		reason := notFoundReason(out)
		r.logger.Info("Credential tool produced no value", zap.Int("exit_code", out.ExitCode), zap.String("reason", reason))
		return NotFound(reason), nil
	}

	value, err := decodeUTF8("stdout", out.Stdout)
	if err != nil {
		r.logger.Error("Credential tool output is not valid text", zap.Error(err))
		return ResolvedSecret{}, err
	}
	return Resolved(strings.TrimSpace(value)), nil
}

func notFoundReason(out ToolOutput) string {
	msg := strings.TrimSpace(strings.ToValidUTF8(string(out.Stderr), "�"))
	if msg == "" {
		return fmt.Sprintf("credential tool exited with status %d", out.ExitCode)
	}
	return msg
}

// Secret binds a reference to a backend. The reference is never exposed through
// String, so a Secret is safe to pass to loggers.
type Secret struct {
	reference string
	manager   SecretManager
}

// NewSecret creates a Secret resolved through the default 1Password resolver.
// Nothing is loaded until Load is called.
func NewSecret(reference string) *Secret {
	return DefaultResolver().Secret(reference)
}

// Secret creates a Secret bound to r.
func (r *Resolver) Secret(reference string) *Secret {
	return &Secret{reference: reference, manager: r}
}

// Load resolves the secret. Every call spawns fresh subprocesses; nothing is cached.
func (s *Secret) Load(ctx context.Context) (ResolvedSecret, error) {
	return s.manager.Resolve(ctx, s.reference)
}

func (s *Secret) String() string {
	return fmt.Sprintf("Secret(%s, reference redacted)", s.manager.Name())
}
