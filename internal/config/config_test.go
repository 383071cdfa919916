package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		envVars   map[string]string
		wantErr   string
		checkFunc func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid minimal config",
			yaml: `
ebay:
  app_id: my-app
  cert_id: my-cert
`,
			checkFunc: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, "my-app", cfg.Ebay.AppID)
				assert.Equal(t, "my-cert", cfg.Ebay.CertID)
				assert.NoError(t, cfg.Ebay.CheckCredentials())
			},
		},
		{
			name: "defaults applied for optional fields",
			yaml: `{}`,
			checkFunc: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.True(t, cfg.Ebay.IsSandbox())
				assert.Equal(t, "EBAY_US", cfg.Ebay.Marketplace)
				assert.Equal(t, "https://api.sandbox.ebay.com", cfg.Ebay.BaseURL)
				assert.Equal(t, "https://auth.sandbox.ebay.com/oauth2/authorize", cfg.Ebay.AuthURL)
				assert.Equal(t, "https://api.sandbox.ebay.com/identity/v1/oauth2/token", cfg.Ebay.TokenURL)
				assert.Equal(t, 30*time.Second, cfg.Ebay.Timeout)
				assert.Equal(t, 5*time.Minute, cfg.OAuth.RefreshBuffer)
				assert.Equal(t, 5*time.Minute, cfg.OAuth.ConsentWindow)
				assert.Equal(t, "tokens.db", filepath.Base(cfg.OAuth.TokenStorePath))
				assert.Equal(t, 5.0, cfg.RateLimit.PerSecond)
				assert.Equal(t, 10, cfg.RateLimit.Burst)
				assert.Equal(t, int64(5000), cfg.RateLimit.DailyLimit)
				assert.Equal(t, 10*time.Second, cfg.RateLimit.MaxWait)
				assert.False(t, cfg.RateLimit.FailFast)
				assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
				assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)
				assert.Equal(t, 0.25, cfg.Retry.Jitter)
				assert.Equal(t, 3, cfg.Retry.MaxAttempts)
				assert.Equal(t, 5, cfg.Retry.MaxRateLimitAttempts)
				assert.Equal(t, 120*time.Second, cfg.Retry.RateLimitMaxDelay)
				assert.Equal(t, 5, cfg.Circuit.Threshold)
				assert.Equal(t, 60*time.Second, cfg.Circuit.RecoveryTimeout)
				assert.True(t, cfg.Cache.IsEnabled())
				assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
				assert.Equal(t, 5*time.Minute, cfg.Cache.BrowseTTL)
				assert.Equal(t, time.Hour, cfg.Cache.AccountTTL)
				assert.Equal(t, 1000, cfg.Cache.MaxEntries)
				assert.Empty(t, cfg.Cache.PostgresDSN)
				assert.Equal(t, 10*time.Minute, cfg.Schedule.CachePurgeInterval)
				assert.Equal(t, time.Minute, cfg.Schedule.ConsentPruneInterval)
				assert.Equal(t, 30*time.Second, cfg.Schedule.QuotaRefreshInterval)
				assert.True(t, cfg.Server.IsEnabled())
				assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
				assert.Equal(t, TransportStdio, cfg.MCP.Transport)
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "text", cfg.Logging.Format)
			},
		},
		{
			name: "production selects production endpoints",
			yaml: `
ebay:
  sandbox: false
`,
			checkFunc: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.False(t, cfg.Ebay.IsSandbox())
				assert.Equal(t, "https://api.ebay.com", cfg.Ebay.BaseURL)
				assert.Equal(t, "https://auth.ebay.com/oauth2/authorize", cfg.Ebay.AuthURL)
				assert.Equal(t, "https://api.ebay.com/identity/v1/oauth2/token", cfg.Ebay.TokenURL)
			},
		},
		{
			name: "env var substitution",
			yaml: `
ebay:
  app_id: "${TEST_EBAY_APP_ID}"
  cert_id: "${TEST_EBAY_CERT_ID}"
cache:
  postgres_dsn: "postgres://cache:${TEST_CACHE_PASSWORD}@db:5432/cache"
`,
			envVars: map[string]string{
				"TEST_EBAY_APP_ID":    "env-app",
				"TEST_EBAY_CERT_ID":   "env-cert",
				"TEST_CACHE_PASSWORD": "secret123",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, "env-app", cfg.Ebay.AppID)
				assert.Equal(t, "env-cert", cfg.Ebay.CertID)
				assert.Equal(t, "postgres://cache:secret123@db:5432/cache", cfg.Cache.PostgresDSN)
			},
		},
		{
			name: "invalid jitter",
			yaml: `
retry:
  jitter: 1.5
`,
			wantErr: "retry.jitter must be in [0, 1) (got 1.5)",
		},
		{
			name: "max delay below base delay",
			yaml: `
retry:
  base_delay: 10s
  max_delay: 1s
`,
			wantErr: "retry.max_delay must be >= retry.base_delay",
		},
		{
			name: "negative daily limit",
			yaml: `
rate_limit:
  daily_limit: -1
`,
			wantErr: "rate_limit.daily_limit must not be negative",
		},
		{
			name: "invalid transport",
			yaml: `
mcp:
  transport: websocket
`,
			wantErr: `mcp.transport must be one of: stdio, http (got "websocket")`,
		},
		{
			name: "invalid log format",
			yaml: `
logging:
  format: xml
`,
			wantErr: `logging.format must be one of: text, json (got "xml")`,
		},
		{
			name: "errors are joined",
			yaml: `
circuit:
  threshold: -2
mcp:
  transport: grpc
`,
			wantErr: "circuit.threshold must be at least 1",
		},
		{
			name:    "invalid YAML",
			yaml:    `{{{not valid yaml`,
			wantErr: "parsing config YAML",
		},
		{
			name: "full config with overrides",
			yaml: `
ebay:
  app_id: my-app-id
  cert_id: my-cert-id
  ru_name: My_Company-MyApp-PRD-abc
  sandbox: false
  marketplace: EBAY_GB
  timeout: 10s
oauth:
  refresh_buffer: 2m
  consent_window: 10m
  token_store_path: /var/lib/ebay-mcp/tokens.db
rate_limit:
  per_second: 2
  burst: 4
  daily_limit: 1000
  max_wait: 3s
  fail_fast: true
retry:
  base_delay: 500ms
  max_delay: 30s
  jitter: 0.1
  max_attempts: 4
  max_rate_limit_attempts: 6
  rate_limit_max_delay: 90s
  retryable_error_ids: [25001, 25002]
circuit:
  threshold: 3
  recovery_timeout: 2m
cache:
  enabled: false
  default_ttl: 1m
  max_entries: 50
  postgres_dsn: postgres://localhost/cache
schedule:
  cache_purge_interval: 1h
server:
  enabled: false
  host: 0.0.0.0
  port: 9090
mcp:
  transport: http
  addr: ":8765"
logging:
  level: debug
  format: json
`,
			checkFunc: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, "My_Company-MyApp-PRD-abc", cfg.Ebay.RuName)
				assert.Equal(t, "EBAY_GB", cfg.Ebay.Marketplace)
				assert.Equal(t, 10*time.Second, cfg.Ebay.Timeout)
				assert.Equal(t, 2*time.Minute, cfg.OAuth.RefreshBuffer)
				assert.Equal(t, "/var/lib/ebay-mcp/tokens.db", cfg.OAuth.TokenStorePath)
				assert.True(t, cfg.RateLimit.FailFast)
				assert.Equal(t, int64(1000), cfg.RateLimit.DailyLimit)
				assert.Equal(t, ebay.RetryPolicy{
					BaseDelay:            500 * time.Millisecond,
					MaxDelay:             30 * time.Second,
					Jitter:               0.1,
					MaxAttempts:          4,
					RateLimitMaxAttempts: 6,
					RateLimitMaxDelay:    90 * time.Second,
					RetryableErrorIDs:    []int{25001, 25002},
				}, cfg.Retry.Policy())
				assert.Equal(t, 3, cfg.Circuit.Threshold)
				assert.Equal(t, 2*time.Minute, cfg.Circuit.RecoveryTimeout)
				assert.False(t, cfg.Cache.IsEnabled())
				assert.Equal(t, time.Minute, cfg.Cache.BrowseTTL)
				assert.Equal(t, 50, cfg.Cache.MaxEntries)
				assert.Equal(t, time.Hour, cfg.Schedule.CachePurgeInterval)
				assert.False(t, cfg.Server.IsEnabled())
				assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
				assert.Equal(t, TransportHTTP, cfg.MCP.Transport)
				assert.Equal(t, ":8765", cfg.MCP.Addr)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Only parallelize tests that don't modify env vars.
			if len(tt.envVars) == 0 {
				t.Parallel()
			}

			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			cfg, err := Load(path)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.checkFunc != nil {
				tt.checkFunc(t, cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, validate(cfg))
	assert.Equal(t, ebay.DefaultRetryPolicy(), cfg.Retry.Policy())
}

func TestEbayConfig_CheckCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cfg         EbayConfig
		wantMissing []string
	}{
		{name: "both set", cfg: EbayConfig{AppID: "a", CertID: "c"}},
		{name: "app id missing", cfg: EbayConfig{CertID: "c"}, wantMissing: []string{"ebay.app_id"}},
		{name: "both missing", cfg: EbayConfig{}, wantMissing: []string{"ebay.app_id", "ebay.cert_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.CheckCredentials()
			if len(tt.wantMissing) == 0 {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ebay.ErrConfiguration)
			for _, field := range tt.wantMissing {
				assert.Contains(t, err.Error(), field)
			}
			assert.Contains(t, err.Error(), "EBAY_APP_ID")
		})
	}
}
