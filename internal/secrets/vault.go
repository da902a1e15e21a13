package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/arwahdevops/opresolve/internal/config"
	"github.com/arwahdevops/opresolve/internal/metrics"
)

const (
	// VaultScheme prefixes references served by the Vault manager: vault://<path>#<key>.
	VaultScheme = "vault://"

	backendVault = "vault"
)

// VaultManager implements the SecretManager interface for HashiCorp Vault KV v2.
type VaultManager struct {
	client  *vault.Client
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Store
}

// NewVaultManager builds a manager from configuration. When Vault is disabled the
// returned manager reports IsEnabled() == false.
func NewVaultManager(cfg *config.Config, baseLogger *zap.Logger, store *metrics.Store) (*VaultManager, error) {
	log := baseLogger.Named("vault-manager")
	if !cfg.VaultEnabled {
		log.Info("Vault secret manager is disabled via configuration.")
		return &VaultManager{cfg: cfg, logger: log, metrics: store}, nil
	}

	log.Info("Initializing Vault secret manager", zap.String("address", cfg.VaultAddr), zap.String("mount", cfg.VaultMount))

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.VaultAddr
	vConfig.Timeout = 10 * time.Second

	tlsConfig := &vault.TLSConfig{
		CACert:   cfg.VaultCACert,
		Insecure: cfg.VaultSkipVerify,
	}
	if err := vConfig.ConfigureTLS(tlsConfig); err != nil {
		return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	} else {
		log.Warn("Vault is enabled, but no VAULT_TOKEN provided; requests will be unauthenticated.")
	}

	return &VaultManager{
		client:  client,
		cfg:     cfg,
		logger:  log,
		metrics: store,
	}, nil
}

func (m *VaultManager) Name() string { return backendVault }

func (m *VaultManager) IsEnabled() bool {
	return m.cfg != nil && m.cfg.VaultEnabled && m.client != nil
}

func (m *VaultManager) Handles(reference string) bool {
	return strings.HasPrefix(reference, VaultScheme)
}

// ParseVaultReference splits vault://<path>#<key> into its path and key.
func ParseVaultReference(reference string) (path, key string, err error) {
	if !strings.HasPrefix(reference, VaultScheme) {
		return "", "", fmt.Errorf("vault reference must start with %s", VaultScheme)
	}
	rest := strings.TrimPrefix(reference, VaultScheme)
	path, key, ok := strings.Cut(rest, "#")
	path = strings.Trim(path, "/")
	if !ok || path == "" || key == "" {
		return "", "", fmt.Errorf("vault reference must have the form %s<path>#<key>", VaultScheme)
	}
	return path, key, nil
}

// Resolve reads one key of a KV v2 secret. A missing secret or key is the
// recoverable NotFound outcome; transport and permission failures are errors.
func (m *VaultManager) Resolve(ctx context.Context, reference string) (ResolvedSecret, error) {
	start := time.Now()
	res, err := m.resolve(ctx, reference)
	outcome := res.Status.String()
	if err != nil {
		outcome = "error"
	}
	m.metrics.ObserveResolution(backendVault, outcome, time.Since(start))
	return res, err
}

func (m *VaultManager) resolve(ctx context.Context, reference string) (ResolvedSecret, error) {
	if !m.IsEnabled() {
		return ResolvedSecret{}, errors.New("vault manager is not enabled or not initialized")
	}
	path, key, err := ParseVaultReference(reference)
	if err != nil {
		return ResolvedSecret{}, err
	}

	secret, err := m.client.KVv2(m.cfg.VaultMount).Get(ctx, path)
	if err != nil {
		var respErr *vault.ResponseError
		if errors.Is(err, vault.ErrSecretNotFound) || (errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound) {
			m.logger.Info("Secret not found in Vault")
			return NotFound("secret not found in vault"), nil
		}
		m.logger.Error("Failed to read secret from Vault", zap.Error(err))
		return ResolvedSecret{}, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return NotFound("vault secret has no data"), nil
	}

	raw, ok := secret.Data[key]
	if !ok || raw == nil {
		return NotFound(fmt.Sprintf("key %q not present in vault secret", key)), nil
	}
	value, ok := raw.(string)
	if !ok {
		return ResolvedSecret{}, fmt.Errorf("vault key %q holds %T, not a string", key, raw)
	}
	return Resolved(value), nil
}
