package secrets

import (
	"fmt"
	"runtime"
)

// supportedOS lists the OS families whose invocation conventions for the
// credential tool have been validated.
var supportedOS = map[string]bool{
	"linux":  true,
	"darwin": true,
}

// Platform is the static capability fact checked before any subprocess is spawned.
type Platform struct {
	OS string
}

// CurrentPlatform describes the platform the binary is running on.
func CurrentPlatform() Platform {
	return Platform{OS: runtime.GOOS}
}

// Supported reports whether the credential tool may be invoked on this platform.
func (p Platform) Supported() bool {
	return supportedOS[p.OS]
}

// Check returns ErrUnsupportedPlatform (wrapped with the OS name) when the platform is not supported.
func (p Platform) Check() error {
	if !p.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p.OS)
	}
	return nil
}
