package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arwahdevops/opresolve/internal/config"
	"github.com/arwahdevops/opresolve/internal/secrets"
)

// stubManager answers from a fixed table and counts calls per reference.
type stubManager struct {
	mu      sync.Mutex
	results map[string]secrets.ResolvedSecret
	errs    map[string]error
	calls   map[string]int
}

func newStubManager() *stubManager {
	return &stubManager{
		results: map[string]secrets.ResolvedSecret{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (s *stubManager) Resolve(ctx context.Context, ref string) (secrets.ResolvedSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[ref]++
	if err, ok := s.errs[ref]; ok {
		return secrets.ResolvedSecret{}, err
	}
	if res, ok := s.results[ref]; ok {
		return res, nil
	}
	return secrets.NotFound("no such item"), nil
}

func (s *stubManager) Handles(string) bool { return true }
func (s *stubManager) IsEnabled() bool     { return true }
func (s *stubManager) Name() string        { return "stub" }

func testConfig(secretsMap map[string]string) *config.Config {
	return &config.Config{
		Timeout:       time.Second,
		RetryInterval: time.Millisecond,
		Secrets:       secretsMap,
	}
}

func TestAddPositionalSecrets(t *testing.T) {
	cfg := testConfig(nil)
	require.NoError(t, addPositionalSecrets(cfg, []string{"DB=op://Prod/db/password", "TOKEN=op://Prod/api/token?attribute=otp"}))
	assert.Equal(t, "op://Prod/db/password", cfg.Secrets["DB"])
	assert.Equal(t, "op://Prod/api/token?attribute=otp", cfg.Secrets["TOKEN"])

	assert.Error(t, addPositionalSecrets(cfg, []string{"op://Prod/db/password"}))
	assert.Error(t, addPositionalSecrets(cfg, []string{"DB="}))
}

func TestResolveAll(t *testing.T) {
	mgr := newStubManager()
	mgr.results["op://a"] = secrets.Resolved("alpha")
	mgr.results["op://empty"] = secrets.Resolved("")

	cfg := testConfig(map[string]string{"A": "op://a", "EMPTY": "op://empty", "MISSING": "op://missing"})
	values, missing, err := resolveAll(context.Background(), cfg, []secrets.SecretManager{mgr})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "alpha", "EMPTY": ""}, values)
	assert.Equal(t, []string{"MISSING"}, missing)
}

func TestResolveAllFatal(t *testing.T) {
	mgr := newStubManager()
	mgr.results["op://a"] = secrets.Resolved("alpha")
	mgr.errs["op://broken"] = &secrets.ToolError{Message: "not signed in"}

	cfg := testConfig(map[string]string{"A": "op://a", "B": "op://broken"})
	_, _, err := resolveAll(context.Background(), cfg, []secrets.SecretManager{mgr})
	require.Error(t, err)
	assert.True(t, secrets.IsFatal(err))
	assert.Contains(t, err.Error(), "B: credential tool reported an error: not signed in")
}

func TestResolveWithRetry(t *testing.T) {
	mgr := newStubManager()
	cfg := testConfig(nil)
	cfg.MaxRetries = 2

	res, err := resolveWithRetry(context.Background(), cfg, []secrets.SecretManager{mgr}, "MISSING", "op://missing")
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, 3, mgr.calls["op://missing"])

	mgr.errs["op://err"] = errors.New("boom")
	_, err = resolveWithRetry(context.Background(), cfg, []secrets.SecretManager{mgr}, "ERR", "op://err")
	assert.Error(t, err)
	assert.Equal(t, 1, mgr.calls["op://err"], "errors are never retried")
}

func TestResolveWithRetryNoManager(t *testing.T) {
	_, err := resolveWithRetry(context.Background(), testConfig(nil), nil, "A", "op://a")
	assert.ErrorIs(t, err, secrets.ErrNoManager)
}

func TestWriteDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	values := map[string]string{
		"A":      "alpha beta",
		"EMPTY":  "",
		"QUOTE":  `say "hi"`,
		"PIN":    "0042",
		"PLUS":   "+7",
		"ZERO":   "-0",
		"LINES":  "line1\nline2",
		"SPACED": "  padded  ",
		"BANG":   "p@ss!word`x`",
	}

	require.NoError(t, writeDotenv(path, values))
	got, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestRenderDotenvQuotesEveryValue(t *testing.T) {
	out := renderDotenv(map[string]string{"PIN": "0042", "B": "+7", "A": "x"})
	assert.Equal(t, "A=\"x\"\nB=\"+7\"\nPIN=\"0042\"\n", out)
}

func TestWriteDotenvFileMode(t *testing.T) {
	dir := t.TempDir()

	created := filepath.Join(dir, "new.env")
	require.NoError(t, writeDotenv(created, map[string]string{"A": "alpha"}))
	info, err := os.Stat(created)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	existing := filepath.Join(dir, "existing.env")
	require.NoError(t, os.WriteFile(existing, []byte("OLD=1\nSTALE=2\n"), 0o644))
	require.NoError(t, writeDotenv(existing, map[string]string{"A": "alpha"}))
	info, err = os.Stat(existing)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := godotenv.Read(existing)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "alpha"}, got)
}

func TestRunExitCodes(t *testing.T) {
	mgr := newStubManager()
	mgr.results["op://a"] = secrets.Resolved("alpha")
	mgr.errs["op://broken"] = secrets.ErrToolMissing
	managers := []secrets.SecretManager{mgr}

	out := filepath.Join(t.TempDir(), "out.env")
	cfg := testConfig(map[string]string{"A": "op://a"})
	cfg.OutputFile = out
	assert.Equal(t, exitOK, run(context.Background(), cfg, managers))

	cfg.Secrets["MISSING"] = "op://missing"
	assert.Equal(t, exitNotFound, run(context.Background(), cfg, managers))

	cfg.Secrets["BROKEN"] = "op://broken"
	assert.Equal(t, exitFatal, run(context.Background(), cfg, managers))

	assert.Equal(t, exitOK, run(context.Background(), testConfig(nil), managers))
}
