package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform is returned before any subprocess is spawned when the
	// current OS family has not been validated against the credential tool.
	ErrUnsupportedPlatform = errors.New("unsupported platform for credential tool")

	// ErrToolMissing means the credential tool could not be located or executed.
	ErrToolMissing = errors.New("credential tool is not installed or not executable")

	// ErrNoManager is returned when no enabled SecretManager accepts a reference.
	ErrNoManager = errors.New("no enabled secret manager handles the reference")
)

// ToolError carries the diagnostic the credential tool wrote to stderr during the
// version check. It usually means the tool is present but not signed in.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("credential tool reported an error: %s", e.Message)
}

// DecodeError is returned when tool output is not valid UTF-8.
type DecodeError struct {
	Stream string // "stdout" or "stderr"
	Offset int    // byte offset of the first invalid sequence
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("credential tool %s is not valid UTF-8 (invalid byte at offset %d)", e.Stream, e.Offset)
}

// IsFatal reports whether err is one of the precondition failures that must abort
// the calling workflow instead of being treated as a missing secret.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var toolErr *ToolError
	var decodeErr *DecodeError
	return errors.Is(err, ErrUnsupportedPlatform) ||
		errors.Is(err, ErrToolMissing) ||
		errors.As(err, &toolErr) ||
		errors.As(err, &decodeErr)
}
