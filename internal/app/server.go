package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/donaldgifford/ebay-mcp/internal/api/handlers"
	"github.com/donaldgifford/ebay-mcp/internal/api/middleware"
	"github.com/donaldgifford/ebay-mcp/internal/config"
)

const (
	shutdownTimeout = 10 * time.Second

	// CallbackPath receives the browser redirect after user consent. The
	// keyset's RuName must point here when the ops server is reachable.
	CallbackPath = "/oauth/callback"

	mcpPath = "/mcp"
)

// OpsHandler builds the ops HTTP server: probes, metrics, the OAuth
// callback receiver and the huma status API.
func (a *App) OpsHandler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.log))
	e.Use(middleware.RequestLog(a.log))
	e.Use(middleware.Metrics())

	probes := map[string]handlers.Pinger{}
	if a.pg != nil {
		probes["postgres"] = a.pg
	}
	health := handlers.NewHealthHandler(probes)
	e.GET("/healthz", health.Healthz)
	e.GET("/readyz", health.Readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	consent := handlers.NewConsentHandler(a.consent, a.log.With("component", "consent"))
	e.GET(CallbackPath, consent.Callback)

	api := humaecho.New(e, huma.DefaultConfig("ebay-mcp ops API", a.version))
	handlers.RegisterStatusRoutes(api, handlers.NewStatusHandler(a.collector, a.breakers))
	handlers.RegisterQuotaRoutes(api, handlers.NewQuotaHandler(a.limiter, a.analytics))
	handlers.RegisterConsentRoutes(api, consent)

	var lister handlers.CacheLister
	if a.pg != nil {
		lister = a.pg
	}
	if a.cache != nil {
		handlers.RegisterCacheRoutes(api, handlers.NewCacheHandler(lister, a.cache))
	}

	return e
}

// MCPHandler serves the MCP streamable HTTP transport.
func (a *App) MCPHandler() http.Handler {
	server := a.MCPServer()
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

// Run serves until ctx is canceled or a server fails, then shuts everything
// down. With the stdio transport the MCP session ending also stops the run.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start()
	defer func() {
		<-a.scheduler.Stop().Done()
		a.log.Info("scheduler stopped")
	}()

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.IsEnabled() {
		srv := &http.Server{
			Addr:         a.cfg.Server.Addr(),
			Handler:      a.OpsHandler(),
			ReadTimeout:  a.cfg.Server.ReadTimeout,
			WriteTimeout: a.cfg.Server.WriteTimeout,
		}
		g.Go(func() error { return a.serveHTTP(ctx, "ops", srv) })
	}

	switch a.cfg.MCP.Transport {
	case config.TransportHTTP:
		mux := http.NewServeMux()
		mux.Handle(mcpPath, a.MCPHandler())
		srv := &http.Server{
			Addr:        a.cfg.MCP.Addr,
			Handler:     mux,
			ReadTimeout: a.cfg.Server.ReadTimeout,
		}
		g.Go(func() error { return a.serveHTTP(ctx, "mcp", srv) })
	default:
		g.Go(func() error {
			a.log.Info("serving MCP over stdio")
			err := a.MCPServer().Run(ctx, &mcp.StdioTransport{})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp stdio: %w", err)
			}
			// Client disconnected; stop the other servers too.
			return errStdioClosed
		})
	}

	err := g.Wait()
	if errors.Is(err, errStdioClosed) {
		return nil
	}
	return err
}

var errStdioClosed = errors.New("stdio session closed")

func (a *App) serveHTTP(ctx context.Context, name string, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server", "server", name, "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down server", "server", name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down %s server: %w", name, err)
	}
	return nil
}
