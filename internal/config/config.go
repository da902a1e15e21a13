package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

type Config struct {
	// Credential tool
	OpBinary string        `env:"OP_BINARY" envDefault:"op"`
	Timeout  time.Duration `env:"OP_TIMEOUT" envDefault:"30s"` // Upper bound for one resolution (probe + read)

	// Secrets to resolve: comma-separated NAME=reference pairs, e.g. DB_PASSWORD=op://vault/item/password.
	// Parsed by ParseSecretPairs; only the first "=" of a pair separates name from reference.
	Secrets    map[string]string `env:"OP_SECRETS"`
	OutputFile string            `env:"OUTPUT_FILE"` // dotenv destination, stdout when empty

	// Caller-side retry for references that produced no value
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"0"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"2s"`

	// Observability & Debugging
	EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
	DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	EnableHTTPServer  bool `env:"ENABLE_HTTP_SERVER" envDefault:"false"` // Keep serving /metrics and /readyz after resolving
	EnablePprof       bool `env:"ENABLE_PPROF" envDefault:"false"`
	MetricsPort       int  `env:"METRICS_PORT" envDefault:"9091"`

	// Vault (optional second backend for vault:// references)
	VaultEnabled    bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr       string `env:"VAULT_ADDR" envDefault:"http://127.0.0.1:8200"`
	VaultToken      string `env:"VAULT_TOKEN"`
	VaultCACert     string `env:"VAULT_CACERT"`
	VaultSkipVerify bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	VaultMount      string `env:"VAULT_MOUNT" envDefault:"secret"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	opts := env.Options{
		// The built-in map parser splits pairs on ":", which every op:// reference contains.
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(map[string]string{}): func(v string) (interface{}, error) {
				return ParseSecretPairs(v)
			},
		},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseSecretPair splits one NAME=reference pair on its first "=" and trims
// surrounding spaces from both halves.
func ParseSecretPair(pair string) (name, reference string, err error) {
	name, reference, ok := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	reference = strings.TrimSpace(reference)
	if !ok || name == "" || reference == "" {
		return "", "", fmt.Errorf("expected NAME=reference, got a pair of %d characters", len(pair))
	}
	return name, reference, nil
}

// ParseSecretPairs parses the comma-separated OP_SECRETS value. Blank entries
// are skipped and a name may appear only once.
func ParseSecretPairs(value string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, ref, err := ParseSecretPair(pair)
		if err != nil {
			return nil, fmt.Errorf("OP_SECRETS: %w", err)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("OP_SECRETS: secret %s is listed more than once", name)
		}
		out[name] = ref
	}
	return out, nil
}

// Validate checks a Config after parsing and after CLI overrides.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.OpBinary) == "" {
		return fmt.Errorf("OP_BINARY cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if cfg.MaxRetries > 0 && cfg.RetryInterval < 0 {
		return fmt.Errorf("retry interval cannot be negative")
	}
	if cfg.MetricsPort < 1 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	for name, ref := range cfg.Secrets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("secret name cannot be empty (reference count: %d)", len(cfg.Secrets))
		}
		if ref == "" {
			return fmt.Errorf("secret %s has an empty reference", name)
		}
	}
	if cfg.VaultEnabled {
		if cfg.VaultAddr == "" {
			return fmt.Errorf("VAULT_ADDR is required when VAULT_ENABLED=true")
		}
		if cfg.VaultMount == "" {
			return fmt.Errorf("VAULT_MOUNT cannot be empty when VAULT_ENABLED=true")
		}
	}
	return nil
}
