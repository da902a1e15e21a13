// main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/opresolve/internal/config"
	"github.com/arwahdevops/opresolve/internal/logger"
	"github.com/arwahdevops/opresolve/internal/metrics"
	"github.com/arwahdevops/opresolve/internal/secrets"
	"github.com/arwahdevops/opresolve/internal/server"
)

const (
	exitOK       = 0
	exitFatal    = 1
	exitNotFound = 2
)

var (
	opBinaryOverride   string
	timeoutOverride    time.Duration
	outputFileOverride string
	maxRetriesOverride int
	serveOverride      bool
	probeOnly          bool
)

func main() {
	flag.StringVar(&opBinaryOverride, "op-binary", "", "Override OP_BINARY (path or name of the 1Password CLI)")
	flag.DurationVar(&timeoutOverride, "timeout", 0, "Override OP_TIMEOUT (per-secret resolution timeout)")
	flag.StringVar(&outputFileOverride, "out", "", "Override OUTPUT_FILE (dotenv file to write instead of stdout)")
	flag.IntVar(&maxRetriesOverride, "max-retries", -1, "Override MAX_RETRIES (retries for secrets that produced no value)")
	flag.BoolVar(&serveOverride, "serve", false, "Keep serving /metrics, /healthz and /readyz after resolving")
	flag.BoolVar(&probeOnly, "probe-only", false, "Only check that the credential tool is installed and signed in")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [NAME=reference ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// 1. Load environment variables (.env overrides)
	if err := godotenv.Overload(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	// 2. Pre-config for the logger
	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		stdlog.Fatalf("Failed to parse pre-configuration for logger: %v", err)
	}
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	// 3. Full configuration, CLI overrides, positional secrets
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal("Configuration loading error from environment", zap.Error(err))
	}
	applyCliOverrides(cfg)
	if err := addPositionalSecrets(cfg, flag.Args()); err != nil {
		logger.Log.Fatal("Invalid positional argument", zap.Error(err))
	}
	if err := config.Validate(cfg); err != nil {
		logger.Log.Fatal("Invalid configuration after CLI overrides", zap.Error(err))
	}
	logLoadedConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Metrics and secret managers
	metricsStore := metrics.NewMetricsStore()
	metricsStore.Up.Set(1)

	opResolver := secrets.NewResolver(
		secrets.NewCLITool(cfg.OpBinary, logger.Log),
		logger.Log,
		secrets.WithMetrics(metricsStore),
		secrets.WithProbeOnce(),
	)

	vaultMgr, vaultErr := secrets.NewVaultManager(cfg, logger.Log, metricsStore)
	if vaultErr != nil {
		logger.Log.Fatal("Failed to initialize Vault secret manager", zap.Error(vaultErr))
	}
	managers := []secrets.SecretManager{vaultMgr, opResolver}

	// 5. Optional HTTP server
	if cfg.EnableHTTPServer {
		go server.RunHTTPServer(ctx, cfg, metricsStore, opResolver, logger.Log)
	}

	var exitCode int
	if probeOnly {
		exitCode = runProbe(ctx, cfg, opResolver)
	} else {
		exitCode = run(ctx, cfg, managers)
	}

	if cfg.EnableHTTPServer && ctx.Err() == nil {
		logger.Log.Info("Resolution finished. Serving until shutdown signal (Ctrl+C or SIGTERM)...")
		<-ctx.Done()
	}
	metricsStore.Up.Set(0)
	logger.Log.Info("Exiting.", zap.Int("exit_code", exitCode))
	_ = logger.Log.Sync()
	os.Exit(exitCode)
}

// applyCliOverrides applies CLI flag values on top of the loaded Config.
func applyCliOverrides(cfg *config.Config) {
	if opBinaryOverride != "" {
		logger.Log.Info("Overriding OP_BINARY with CLI flag", zap.String("env_value", cfg.OpBinary), zap.String("cli_value", opBinaryOverride))
		cfg.OpBinary = opBinaryOverride
	}
	if timeoutOverride > 0 {
		logger.Log.Info("Overriding OP_TIMEOUT with CLI flag", zap.Duration("env_value", cfg.Timeout), zap.Duration("cli_value", timeoutOverride))
		cfg.Timeout = timeoutOverride
	}
	if outputFileOverride != "" {
		logger.Log.Info("Overriding OUTPUT_FILE with CLI flag", zap.String("env_value", cfg.OutputFile), zap.String("cli_value", outputFileOverride))
		cfg.OutputFile = outputFileOverride
	}
	if maxRetriesOverride >= 0 {
		logger.Log.Info("Overriding MAX_RETRIES with CLI flag", zap.Int("env_value", cfg.MaxRetries), zap.Int("cli_value", maxRetriesOverride))
		cfg.MaxRetries = maxRetriesOverride
	}
	if serveOverride {
		cfg.EnableHTTPServer = true
	}
}

// addPositionalSecrets merges NAME=reference arguments into cfg.Secrets.
func addPositionalSecrets(cfg *config.Config, args []string) error {
	for _, arg := range args {
		name, ref, err := config.ParseSecretPair(arg)
		if err != nil {
			return err
		}
		if cfg.Secrets == nil {
			cfg.Secrets = make(map[string]string)
		}
		cfg.Secrets[name] = ref
	}
	return nil
}

// logLoadedConfig logs the effective configuration. References are never logged.
func logLoadedConfig(cfg *config.Config) {
	logger.Log.Info("Final configuration in use",
		zap.String("op_binary", cfg.OpBinary),
		zap.Duration("timeout", cfg.Timeout),
		zap.Strings("secret_names", secretNames(cfg.Secrets)),
		zap.String("output_file", cfg.OutputFile),
		zap.Int("max_retries", cfg.MaxRetries), zap.Duration("retry_interval", cfg.RetryInterval),
		zap.Bool("json_logging", cfg.EnableJsonLogging), zap.Bool("debug_mode", cfg.DebugMode),
		zap.Bool("http_server", cfg.EnableHTTPServer), zap.Int("metrics_port", cfg.MetricsPort), zap.Bool("enable_pprof", cfg.EnablePprof),
		zap.Bool("vault_enabled", cfg.VaultEnabled), zap.String("vault_addr", cfg.VaultAddr), zap.Bool("vault_token_present", cfg.VaultToken != ""),
		zap.String("vault_mount", cfg.VaultMount), zap.Bool("vault_skip_verify", cfg.VaultSkipVerify),
	)
}

func secretNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runProbe(ctx context.Context, cfg *config.Config, resolver *secrets.Resolver) int {
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := resolver.Probe(probeCtx); err != nil {
		logger.Log.Error("Credential tool is not ready", zap.Error(err))
		return exitFatal
	}
	logger.Log.Info("Credential tool is installed and ready.")
	return exitOK
}

// run resolves every configured secret and writes the values in dotenv form.
func run(ctx context.Context, cfg *config.Config, managers []secrets.SecretManager) int {
	if len(cfg.Secrets) == 0 {
		logger.Log.Warn("No secrets configured. Set OP_SECRETS or pass NAME=reference arguments.")
		return exitOK
	}

	values, missing, err := resolveAll(ctx, cfg, managers)
	if err != nil {
		fields := []zap.Field{zap.Errors("errors", multierr.Errors(err))}
		if secrets.IsFatal(err) {
			logger.Log.Error("Credential tool precondition failed; aborting without writing any secret.", fields...)
		} else {
			logger.Log.Error("Secret resolution failed; aborting without writing any secret.", fields...)
		}
		return exitFatal
	}

	if err := writeDotenv(cfg.OutputFile, values); err != nil {
		logger.Log.Error("Failed to write resolved secrets", zap.Error(err))
		return exitFatal
	}

	logger.Log.Info("-------------------- Resolution Summary --------------------",
		zap.Int("secrets_requested", len(cfg.Secrets)),
		zap.Int("secrets_resolved", len(values)),
		zap.Strings("secrets_not_found", missing),
	)
	if len(missing) > 0 {
		return exitNotFound
	}
	return exitOK
}

// resolveAll resolves secrets concurrently, one subprocess chain per secret.
func resolveAll(ctx context.Context, cfg *config.Config, managers []secrets.SecretManager) (map[string]string, []string, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		values  = make(map[string]string, len(cfg.Secrets))
		missing []string
		errs    error
	)
	// A fatal precondition stops the remaining resolutions.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for name, ref := range cfg.Secrets {
		wg.Add(1)
		go func(name, ref string) {
			defer wg.Done()
			res, err := resolveWithRetry(ctx, cfg, managers, name, ref)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				if secrets.IsFatal(err) {
					cancel()
				}
			case res.Found():
				values[name] = res.Value
			default:
				missing = append(missing, name)
			}
		}(name, ref)
	}
	wg.Wait()

	sort.Strings(missing)
	return values, missing, errs
}

// resolveWithRetry retries only the recoverable non-value outcome. Errors end the loop.
func resolveWithRetry(ctx context.Context, cfg *config.Config, managers []secrets.SecretManager, name, ref string) (secrets.ResolvedSecret, error) {
	log := logger.Log.With(zap.String("secret", name))

	mgr, err := secrets.Route(managers, ref)
	if err != nil {
		return secrets.ResolvedSecret{}, err
	}
	log = log.With(zap.String("backend", mgr.Name()))

	var res secrets.ResolvedSecret
	for i := 0; i <= cfg.MaxRetries; i++ {
		if i > 0 {
			log.Warn("Retrying secret that produced no value",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Duration("wait_interval", cfg.RetryInterval),
				zap.String("previous_reason", res.Reason))
			timer := time.NewTimer(cfg.RetryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return secrets.ResolvedSecret{}, fmt.Errorf("cancelled while waiting to retry (attempt %d): %w", i+1, ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		start := time.Now()
		res, err = mgr.Resolve(attemptCtx, ref)
		cancel()
		if err != nil {
			return secrets.ResolvedSecret{}, err
		}
		if res.Found() {
			log.Info("Secret resolved",
				zap.Bool("empty_value", res.Value == ""),
				zap.Duration("duration", time.Since(start)))
			return res, nil
		}
	}

	log.Warn("Secret produced no value after all attempts",
		zap.Int("attempts", cfg.MaxRetries+1),
		zap.String("reason", res.Reason))
	return res, nil
}

// dotenvSpecialChars are escaped inside double quotes, matching godotenv's writer.
const dotenvSpecialChars = "\\\n\r\"!$`"

// renderDotenv renders values as KEY="value" lines sorted by key. Every value is
// quoted, so number-like secrets such as 0042 come back unchanged from godotenv.Read.
func renderDotenv(values map[string]string) string {
	var b strings.Builder
	for _, name := range secretNames(values) {
		b.WriteString(name)
		b.WriteString(`="`)
		b.WriteString(dotenvEscape(values[name]))
		b.WriteString("\"\n")
	}
	return b.String()
}

func dotenvEscape(v string) string {
	for _, c := range dotenvSpecialChars {
		replacement := `\` + string(c)
		switch c {
		case '\n':
			replacement = `\n`
		case '\r':
			replacement = `\r`
		}
		v = strings.ReplaceAll(v, string(c), replacement)
	}
	return v
}

// writeDotenv writes values in dotenv form to path, or to stdout when path is empty.
// The file is created with mode 0600; an existing file is narrowed to 0600
// before any secret is written to it.
func writeDotenv(path string, values map[string]string) error {
	content := renderDotenv(values)
	if path == "" {
		_, err := fmt.Fprint(os.Stdout, content)
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
