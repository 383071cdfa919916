// Package app assembles the eBay client stack from configuration and runs
// the MCP transport, the ops HTTP server and the maintenance scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/donaldgifford/ebay-mcp/internal/cache"
	"github.com/donaldgifford/ebay-mcp/internal/config"
	"github.com/donaldgifford/ebay-mcp/internal/ebay"
	"github.com/donaldgifford/ebay-mcp/internal/maintenance"
	"github.com/donaldgifford/ebay-mcp/internal/mcpserver"
	"github.com/donaldgifford/ebay-mcp/internal/status"
	"github.com/donaldgifford/ebay-mcp/internal/store"
)

// App holds every long-lived component of a serving process.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	version string

	tokens    *store.BoltTokenStore
	pg        *store.PostgresStore
	limiter   *ebay.RateLimiter
	breakers  *ebay.CircuitBreakers
	oauth     *ebay.OAuthManager
	consent   *ebay.ConsentFlow
	rest      *ebay.RestClient
	cache     *cache.ResponseCache
	analytics *ebay.AnalyticsClient
	collector *status.Collector
	scheduler *maintenance.Scheduler
	tools     *mcpserver.Deps
}

// Option configures New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	userTokens ebay.UserTokenStore
}

// WithHTTPClient sets the client used for token and REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithUserTokenStore replaces the bbolt token file, mainly for tests.
func WithUserTokenStore(s ebay.UserTokenStore) Option {
	return func(o *options) { o.userTokens = s }
}

// New builds the component graph. Missing eBay credentials are logged with
// remediation and left for the tools to report; a configured PostgreSQL
// tier that cannot be reached is a startup error.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Ebay.Timeout}
	}

	a := &App{cfg: cfg, log: log, version: version}

	if err := cfg.Ebay.CheckCredentials(); err != nil {
		f := ebay.Classify(err)
		log.Error("eBay credentials missing; API tools will fail until configured",
			"error", f.Message,
			"remediation", f.Guidance,
		)
	}

	userTokens := o.userTokens
	if userTokens == nil {
		bolt, err := store.OpenBoltTokenStore(cfg.OAuth.TokenStorePath)
		if err != nil {
			return nil, err
		}
		a.tokens = bolt
		userTokens = bolt
	}

	a.oauth = ebay.NewOAuthManager(cfg.Ebay.AppID, cfg.Ebay.CertID,
		ebay.WithTokenURL(cfg.Ebay.TokenURL),
		ebay.WithHTTPClient(o.httpClient),
		ebay.WithRefreshBuffer(cfg.OAuth.RefreshBuffer),
		ebay.WithTokenStore(ebay.NewTokenStore(userTokens)),
		ebay.WithLogger(log.With("component", "oauth")),
	)
	a.consent = ebay.NewConsentFlow(a.oauth, cfg.Ebay.AppID, cfg.Ebay.RuName,
		ebay.WithAuthorizeURL(cfg.Ebay.AuthURL),
		ebay.WithConsentWindow(cfg.OAuth.ConsentWindow),
		ebay.WithConsentLogger(log.With("component", "consent")),
	)

	a.limiter = ebay.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, cfg.RateLimit.DailyLimit,
		ebay.WithMaxWait(cfg.RateLimit.MaxWait),
		ebay.WithFailFast(cfg.RateLimit.FailFast),
	)
	a.breakers = ebay.NewCircuitBreakers(cfg.Circuit.Threshold, cfg.Circuit.RecoveryTimeout,
		ebay.WithCircuitLogger(log.With("component", "circuit")),
	)

	if err := a.openCache(ctx); err != nil {
		_ = a.Close() //nolint:errcheck // already returning an error
		return nil, err
	}

	restOpts := []ebay.RestOption{
		ebay.WithBaseURL(cfg.Ebay.BaseURL),
		ebay.WithMarketplace(cfg.Ebay.Marketplace),
		ebay.WithRestHTTPClient(o.httpClient),
		ebay.WithRateLimiter(a.limiter),
		ebay.WithCircuitBreakers(a.breakers),
		ebay.WithRetryPolicy(cfg.Retry.Policy()),
		ebay.WithRestLogger(log.With("component", "rest")),
	}
	if a.cache != nil {
		restOpts = append(restOpts, ebay.WithResponseCache(a.cache, cfg.Cache.DefaultTTL))
	}
	a.rest = ebay.NewRestClient(a.oauth, restOpts...)
	a.analytics = ebay.NewAnalyticsClient(a.rest)

	a.collector = &status.Collector{
		Sandbox:     cfg.Ebay.IsSandbox(),
		Marketplace: cfg.Ebay.Marketplace,
		Limiter:     a.limiter,
		Breakers:    a.breakers,
		OAuth:       a.oauth,
		Cache:       a.cache,
		Consent:     a.consent,
	}

	a.tools = &mcpserver.Deps{
		Browse:      ebay.NewBrowseClient(a.rest, cfg.Cache.BrowseTTL),
		Taxonomy:    ebay.NewTaxonomyClient(a.rest),
		Account:     ebay.NewAccountClient(a.rest, cfg.Cache.AccountTTL),
		Inventory:   ebay.NewInventoryClient(a.rest),
		Analytics:   a.analytics,
		Consent:     a.consent,
		Status:      a.collector,
		Marketplace: cfg.Ebay.Marketplace,
		Logger:      log.With("component", "mcp"),
	}

	sched, err := maintenance.NewScheduler(a.maintenanceDeps(), maintenance.Intervals{
		CachePurge:   cfg.Schedule.CachePurgeInterval,
		ConsentPrune: cfg.Schedule.ConsentPruneInterval,
		QuotaRefresh: cfg.Schedule.QuotaRefreshInterval,
	}, log.With("component", "scheduler"))
	if err != nil {
		_ = a.Close() //nolint:errcheck // already returning an error
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	a.scheduler = sched

	return a, nil
}

func (a *App) openCache(ctx context.Context) error {
	if !a.cfg.Cache.IsEnabled() {
		a.log.Info("response cache disabled")
		return nil
	}

	mem, err := cache.NewMemoryCache(a.cfg.Cache.MaxEntries, nil)
	if err != nil {
		return err
	}

	cacheOpts := []cache.Option{
		cache.WithRemoteTimeout(a.cfg.Cache.RemoteTimeout),
		cache.WithLogger(a.log.With("component", "cache")),
	}
	if dsn := a.cfg.Cache.PostgresDSN; dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connecting shared cache: %w", err)
		}
		a.pg = pg
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating shared cache: %w", err)
		}
		cacheOpts = append(cacheOpts, cache.WithRemote(pg))
	}

	a.cache = cache.New(mem, cacheOpts...)
	a.log.Info("response cache enabled",
		"max_entries", a.cfg.Cache.MaxEntries,
		"remote", a.cache.RemoteEnabled(),
	)
	return nil
}

// maintenanceDeps leaves interface fields nil rather than holding nil pointers.
func (a *App) maintenanceDeps() maintenance.Deps {
	d := maintenance.Deps{
		Consent: a.consent,
		Quota:   a.limiter,
	}
	if a.pg != nil {
		d.Shared = a.pg
	}
	if a.cache != nil {
		d.Local = a.cache
	}
	return d
}

// MCPServer returns a new MCP server with every tool registered.
func (a *App) MCPServer() *mcp.Server {
	return mcpserver.NewServer(a.version, a.tools)
}

// Status returns the combined component status.
func (a *App) Status() status.Report {
	return a.collector.Report()
}

// Close releases the token file and the database pool.
func (a *App) Close() error {
	var errs []error
	if a.pg != nil {
		a.pg.Close()
	}
	if a.tokens != nil {
		if err := a.tokens.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing token store: %w", err))
		}
	}
	return errors.Join(errs...)
}
