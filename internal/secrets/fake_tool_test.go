package secrets

import (
	"context"
	"sync"
)

// fakeTool is an in-memory CredentialTool. Entries maps references to stdout;
// references not in the map exit with status 1 and an "isn't an item" stderr.
type fakeTool struct {
	mu sync.Mutex

	versionOut ToolOutput
	versionErr error

	entries map[string]string
	rawRead map[string]ToolOutput
	readErr error

	versionCalls int
	readCalls    int
}

func newFakeTool(entries map[string]string) *fakeTool {
	return &fakeTool{
		versionOut: ToolOutput{Stdout: []byte("2.30.0\n")},
		entries:    entries,
	}
}

func (f *fakeTool) VersionCheck(ctx context.Context) (ToolOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionCalls++
	if err := ctx.Err(); err != nil {
		return ToolOutput{}, err
	}
	return f.versionOut, f.versionErr
}

func (f *fakeTool) ReadSecret(ctx context.Context, reference string) (ToolOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if err := ctx.Err(); err != nil {
		return ToolOutput{}, err
	}
	if f.readErr != nil {
		return ToolOutput{ExitCode: -1}, f.readErr
	}
	if out, ok := f.rawRead[reference]; ok {
		return out, nil
	}
	if v, ok := f.entries[reference]; ok {
		return ToolOutput{Stdout: []byte(v + "\n")}, nil
	}
	return ToolOutput{
		Stderr:   []byte(`[ERROR] 2024/05/01 10:00:00 "` + reference + `" isn't an item.` + "\n"),
		ExitCode: 1,
	}, nil
}

func (f *fakeTool) calls() (version, read int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versionCalls, f.readCalls
}

var (
	linux   = Platform{OS: "linux"}
	darwin  = Platform{OS: "darwin"}
	windows = Platform{OS: "windows"}
)
