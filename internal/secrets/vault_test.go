package secrets

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/opresolve/internal/config"
	"github.com/arwahdevops/opresolve/internal/metrics"
)

const kvMetadata = `"metadata":{"created_time":"2024-05-01T10:00:00.000000Z","custom_metadata":null,"deletion_time":"","destroyed":false,"version":1}`

// newKVServer serves a minimal KV v2 API under the "secret" mount.
func newKVServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Vault-Token") != "test-token" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"errors":["permission denied"]}`)
			return
		}
		switch r.URL.Path {
		case "/v1/secret/data/app/db":
			fmt.Fprintf(w, `{"data":{"data":{"password":"s3cr3t","empty":"","port":5432},%s}}`, kvMetadata)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errors":[]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestVaultManager(t *testing.T, addr, token string, store *metrics.Store) *VaultManager {
	t.Helper()
	cfg := &config.Config{
		VaultEnabled: true,
		VaultAddr:    addr,
		VaultToken:   token,
		VaultMount:   "secret",
	}
	m, err := NewVaultManager(cfg, zaptest.NewLogger(t), store)
	require.NoError(t, err)
	require.True(t, m.IsEnabled())
	return m
}

func TestVaultManagerResolve(t *testing.T) {
	srv := newKVServer(t)
	store := metrics.NewMetricsStore()
	m := newTestVaultManager(t, srv.URL, "test-token", store)

	testCases := []struct {
		name      string
		reference string
		expected  ResolvedSecret
		expectErr bool
	}{
		{"Password", "vault://app/db#password", Resolved("s3cr3t"), false},
		{"Empty Value", "vault://app/db#empty", Resolved(""), false},
		{"Missing Key", "vault://app/db#user", NotFound(`key "user" not present in vault secret`), false},
		{"Missing Secret", "vault://app/other#password", NotFound("secret not found in vault"), false},
		{"Non-String Value", "vault://app/db#port", ResolvedSecret{}, true},
		{"Malformed Reference", "vault://app/db", ResolvedSecret{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := m.Resolve(context.Background(), tc.reference)
			if tc.expectErr {
				require.Error(t, err)
				assert.False(t, IsFatal(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res)
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(store.ResolutionsTotal.WithLabelValues("vault", "resolved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(store.ResolutionsTotal.WithLabelValues("vault", "not_found")))
}

func TestVaultManagerPermissionDenied(t *testing.T) {
	srv := newKVServer(t)
	m := newTestVaultManager(t, srv.URL, "wrong-token", nil)

	_, err := m.Resolve(context.Background(), "vault://app/db#password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestVaultManagerDisabled(t *testing.T) {
	m, err := NewVaultManager(&config.Config{}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	assert.False(t, m.IsEnabled())

	_, err = m.Resolve(context.Background(), "vault://app/db#password")
	assert.Error(t, err)
}

func TestParseVaultReference(t *testing.T) {
	testCases := []struct {
		name      string
		reference string
		path      string
		key       string
		expectErr bool
	}{
		{"Simple", "vault://app/db#password", "app/db", "password", false},
		{"Slashes Trimmed", "vault:///app/db/#password", "app/db", "password", false},
		{"Key With Hash", "vault://app#a#b", "app", "a#b", false},
		{"No Key", "vault://app/db", "", "", true},
		{"Empty Key", "vault://app/db#", "", "", true},
		{"Empty Path", "vault://#password", "", "", true},
		{"Wrong Scheme", "op://vault/item/field", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path, key, err := ParseVaultReference(tc.reference)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.path, path)
			assert.Equal(t, tc.key, key)
		})
	}
}
