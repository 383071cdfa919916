package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/donaldgifford/ebay-mcp/internal/app"
	"github.com/donaldgifford/ebay-mcp/internal/config"
	"github.com/donaldgifford/ebay-mcp/pkg/logger"
)

func serveCmd() *cobra.Command {
	var (
		transport string
		noOps     bool
	)

	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server, the ops API and the maintenance scheduler",
		Long: "Run the MCP server over stdio (the default, for desktop MCP clients) or\n" +
			"streamable HTTP. The ops API serves health probes, metrics, the OAuth\n" +
			"callback and the status endpoints used by the other commands.",
		Example: `  ebay-mcp serve
  ebay-mcp serve --config config.yaml --transport http
  EBAY_MCP_LOG_LEVEL=debug ebay-mcp serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.MCP.Transport = transport
			}
			if noOps {
				disabled := false
				cfg.Server.Enabled = &disabled
			}
			return runServe(cfg)
		},
	}

	c.Flags().StringVar(&transport, "transport", config.TransportStdio, "MCP transport (stdio, http)")
	c.Flags().BoolVar(&noOps, "no-ops", false, "do not start the ops HTTP server")
	return c
}

func runServe(cfg *config.Config) error {
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("closing", "error", err)
		}
	}()

	log.Info("ebay-mcp starting",
		"version", Version,
		"sandbox", cfg.Ebay.IsSandbox(),
		"marketplace", cfg.Ebay.Marketplace,
		"transport", cfg.MCP.Transport,
	)
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("ebay-mcp stopped")
	return nil
}
