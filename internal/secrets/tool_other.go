//go:build !linux && !darwin

package secrets

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// unsupportedTool stands in for the credential tool on platforms whose
// invocation conventions have not been validated. It never spawns a process.
type unsupportedTool struct{}

// NewCLITool returns an adapter that refuses every invocation on this platform.
func NewCLITool(binary string, baseLogger *zap.Logger) CredentialTool {
	if baseLogger != nil {
		baseLogger.Named("op-cli").Warn("Credential tool is not supported on this platform",
			zap.String("os", runtime.GOOS), zap.String("binary", binary))
	}
	return unsupportedTool{}
}

func (unsupportedTool) VersionCheck(context.Context) (ToolOutput, error) {
	return ToolOutput{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
}

func (unsupportedTool) ReadSecret(context.Context, string) (ToolOutput, error) {
	return ToolOutput{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
}
