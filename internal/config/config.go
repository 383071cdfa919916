// Package config handles loading and validating the application configuration
// from YAML files with environment variable substitution.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
)

// Config is the top-level application configuration.
type Config struct {
	Ebay      EbayConfig      `yaml:"ebay"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit"`
	Cache     CacheConfig     `yaml:"cache"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Server    ServerConfig    `yaml:"server"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EbayConfig defines eBay keyset and endpoint settings.
type EbayConfig struct {
	AppID       string        `yaml:"app_id"`
	CertID      string        `yaml:"cert_id"`
	RuName      string        `yaml:"ru_name"`
	Sandbox     *bool         `yaml:"sandbox"` // default: true
	Marketplace string        `yaml:"marketplace"`
	BaseURL     string        `yaml:"base_url"`
	AuthURL     string        `yaml:"auth_url"`
	TokenURL    string        `yaml:"token_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IsSandbox reports whether the sandbox environment is selected.
func (e *EbayConfig) IsSandbox() bool {
	return e.Sandbox == nil || *e.Sandbox
}

// CheckCredentials reports missing keyset values as a configuration error
// carrying remediation text.
func (e *EbayConfig) CheckCredentials() error {
	var missing []string
	if e.AppID == "" {
		missing = append(missing, "ebay.app_id")
	}
	if e.CertID == "" {
		missing = append(missing, "ebay.cert_id")
	}
	if len(missing) == 0 {
		return nil
	}
	return &ebay.ConfigurationError{
		Message: fmt.Sprintf("%v not set", missing),
		Remediation: "create a keyset at https://developer.ebay.com/my/keys and set " +
			"EBAY_APP_ID and EBAY_CERT_ID",
	}
}

// OAuthConfig defines token lifecycle settings.
type OAuthConfig struct {
	RefreshBuffer  time.Duration `yaml:"refresh_buffer"`
	ConsentWindow  time.Duration `yaml:"consent_window"`
	TokenStorePath string        `yaml:"token_store_path"`
}

// RateLimitConfig defines outbound call limits.
type RateLimitConfig struct {
	PerSecond  float64       `yaml:"per_second"`
	Burst      int           `yaml:"burst"`
	DailyLimit int64         `yaml:"daily_limit"`
	MaxWait    time.Duration `yaml:"max_wait"`
	FailFast   bool          `yaml:"fail_fast"`
}

// RetryConfig defines the REST retry policy.
type RetryConfig struct {
	BaseDelay            time.Duration `yaml:"base_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	Jitter               float64       `yaml:"jitter"`
	MaxAttempts          int           `yaml:"max_attempts"`
	MaxRateLimitAttempts int           `yaml:"max_rate_limit_attempts"`
	RateLimitMaxDelay    time.Duration `yaml:"rate_limit_max_delay"`
	RetryableErrorIDs    []int         `yaml:"retryable_error_ids"`
}

// Policy converts the config into an ebay.RetryPolicy.
func (r *RetryConfig) Policy() ebay.RetryPolicy {
	return ebay.RetryPolicy{
		BaseDelay:            r.BaseDelay,
		MaxDelay:             r.MaxDelay,
		Jitter:               r.Jitter,
		MaxAttempts:          r.MaxAttempts,
		RateLimitMaxAttempts: r.MaxRateLimitAttempts,
		RateLimitMaxDelay:    r.RateLimitMaxDelay,
		RetryableErrorIDs:    r.RetryableErrorIDs,
	}
}

// CircuitConfig defines circuit breaker settings.
type CircuitConfig struct {
	Threshold       int           `yaml:"threshold"`
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// CacheConfig defines response cache settings.
type CacheConfig struct {
	Enabled       *bool         `yaml:"enabled"` // default: true
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	BrowseTTL     time.Duration `yaml:"browse_ttl"`
	AccountTTL    time.Duration `yaml:"account_ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	PostgresDSN   string        `yaml:"postgres_dsn"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
}

// IsEnabled reports whether response caching is on.
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ScheduleConfig defines maintenance job intervals.
type ScheduleConfig struct {
	CachePurgeInterval   time.Duration `yaml:"cache_purge_interval"`
	ConsentPruneInterval time.Duration `yaml:"consent_prune_interval"`
	QuotaRefreshInterval time.Duration `yaml:"quota_refresh_interval"`
}

// ServerConfig defines the Echo ops HTTP server settings.
type ServerConfig struct {
	Enabled      *bool         `yaml:"enabled"` // default: true
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// IsEnabled reports whether the ops server should run.
func (s *ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MCP transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// MCPConfig defines the MCP transport.
type MCPConfig struct {
	Transport string `yaml:"transport"` // stdio, http
	Addr      string `yaml:"addr"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads and parses a YAML config file, performing environment variable
// substitution and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config content, performing environment variable
// substitution and validation.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the YAML content.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	applyEbayDefaults(&cfg.Ebay)
	applyOAuthDefaults(&cfg.OAuth)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyRetryDefaults(&cfg.Retry)
	applyCircuitDefaults(&cfg.Circuit)
	applyCacheDefaults(&cfg.Cache)
	applyScheduleDefaults(&cfg.Schedule)
	applyServerDefaults(&cfg.Server)
	applyMCPDefaults(&cfg.MCP)
	applyLoggingDefaults(&cfg.Logging)
}

func applyEbayDefaults(e *EbayConfig) {
	sandbox := e.IsSandbox()
	if e.Marketplace == "" {
		e.Marketplace = "EBAY_US"
	}
	if e.BaseURL == "" {
		e.BaseURL = ebay.APIBaseURL(sandbox)
	}
	if e.AuthURL == "" {
		e.AuthURL = ebay.AuthorizeURL(sandbox)
	}
	if e.TokenURL == "" {
		e.TokenURL = ebay.TokenURL(sandbox)
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
}

func applyOAuthDefaults(o *OAuthConfig) {
	if o.RefreshBuffer == 0 {
		o.RefreshBuffer = ebay.DefaultRefreshBuffer
	}
	if o.ConsentWindow == 0 {
		o.ConsentWindow = ebay.DefaultConsentWindow
	}
	if o.TokenStorePath == "" {
		o.TokenStorePath = defaultTokenStorePath()
	}
}

func defaultTokenStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ebay-mcp", "tokens.db")
	}
	return filepath.Join(home, ".ebay-mcp", "tokens.db")
}

func applyRateLimitDefaults(r *RateLimitConfig) {
	if r.PerSecond == 0 {
		r.PerSecond = 5.0
	}
	if r.Burst == 0 {
		r.Burst = 10
	}
	if r.DailyLimit == 0 {
		r.DailyLimit = 5000
	}
	if r.MaxWait == 0 {
		r.MaxWait = ebay.DefaultMaxWait
	}
}

func applyRetryDefaults(r *RetryConfig) {
	def := ebay.DefaultRetryPolicy()
	if r.BaseDelay == 0 {
		r.BaseDelay = def.BaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.Jitter == 0 {
		r.Jitter = def.Jitter
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.MaxRateLimitAttempts == 0 {
		r.MaxRateLimitAttempts = def.RateLimitMaxAttempts
	}
	if r.RateLimitMaxDelay == 0 {
		r.RateLimitMaxDelay = def.RateLimitMaxDelay
	}
}

func applyCircuitDefaults(c *CircuitConfig) {
	if c.Threshold == 0 {
		c.Threshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.BrowseTTL == 0 {
		c.BrowseTTL = c.DefaultTTL
	}
	if c.AccountTTL == 0 {
		c.AccountTTL = time.Hour
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 1000
	}
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = 2 * time.Second
	}
}

func applyScheduleDefaults(s *ScheduleConfig) {
	if s.CachePurgeInterval == 0 {
		s.CachePurgeInterval = 10 * time.Minute
	}
	if s.ConsentPruneInterval == 0 {
		s.ConsentPruneInterval = time.Minute
	}
	if s.QuotaRefreshInterval == 0 {
		s.QuotaRefreshInterval = 30 * time.Second
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
}

func applyMCPDefaults(m *MCPConfig) {
	if m.Transport == "" {
		m.Transport = TransportStdio
	}
	if m.Addr == "" {
		m.Addr = "127.0.0.1:8090"
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.RateLimit.PerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.per_second must not be negative"))
	}
	if cfg.RateLimit.DailyLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.daily_limit must not be negative"))
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("retry.jitter must be in [0, 1) (got %g)", cfg.Retry.Jitter))
	}
	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		errs = append(errs, fmt.Errorf("retry.max_delay must be >= retry.base_delay"))
	}
	if cfg.Circuit.Threshold < 1 {
		errs = append(errs, fmt.Errorf("circuit.threshold must be at least 1"))
	}
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must not be negative"))
	}

	switch cfg.MCP.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf(
			"mcp.transport must be one of: stdio, http (got %q)", cfg.MCP.Transport,
		))
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf(
			"logging.format must be one of: text, json (got %q)", cfg.Logging.Format,
		))
	}

	return errors.Join(errs...)
}
