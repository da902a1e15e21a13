package secrets

import "context"

// Status tags the outcome of a resolution that did not fail fatally.
type Status int

const (
	// StatusNotFound is the recoverable non-value: the backend declined to produce a value.
	StatusNotFound Status = iota
	// StatusResolved means Value holds the secret. An empty Value is a legitimate secret.
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ResolvedSecret is the outcome of a single resolution. It is never cached by the resolver.
type ResolvedSecret struct {
	Status Status
	Value  string
	// Reason describes why no value was produced (tool stderr, exit status). Empty when resolved.
	Reason string
}

// Found reports whether the resolution produced a value, including an empty one.
func (s ResolvedSecret) Found() bool {
	return s.Status == StatusResolved
}

// Resolved builds a successful outcome.
func Resolved(value string) ResolvedSecret {
	return ResolvedSecret{Status: StatusResolved, Value: value}
}

// NotFound builds the recoverable non-value outcome.
func NotFound(reason string) ResolvedSecret {
	return ResolvedSecret{Status: StatusNotFound, Reason: reason}
}

// SecretManager defines the interface for interacting with different secret backends.
type SecretManager interface {
	// Resolve looks up reference and returns either a value, the recoverable
	// non-value, or a fatal error.
	Resolve(ctx context.Context, reference string) (ResolvedSecret, error)

	// Handles reports whether this manager understands the reference format.
	Handles(reference string) bool

	// IsEnabled checks if this specific secret manager is configured and enabled.
	IsEnabled() bool

	// Name identifies the backend in logs and metrics.
	Name() string
}

// ToolOutput is the captured result of one credential tool invocation.
type ToolOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CredentialTool is the port to the external credential-manager executable.
// Implementations return a non-nil error only when the process could not be
// launched; a process that ran and exited non-zero is reported via ExitCode.
type CredentialTool interface {
	// VersionCheck runs the tool with its version flag.
	VersionCheck(ctx context.Context) (ToolOutput, error)
	// ReadSecret runs the tool's read subcommand with reference as the sole argument.
	ReadSecret(ctx context.Context, reference string) (ToolOutput, error)
}

// Route returns the first enabled manager that handles reference.
func Route(managers []SecretManager, reference string) (SecretManager, error) {
	for _, m := range managers {
		if m != nil && m.IsEnabled() && m.Handles(reference) {
			return m, nil
		}
	}
	return nil, ErrNoManager
}
