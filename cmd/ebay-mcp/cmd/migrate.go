package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/donaldgifford/ebay-mcp/internal/store"
	"github.com/donaldgifford/ebay-mcp/pkg/logger"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply shared cache database migrations",
		Long: "Apply the embedded PostgreSQL migrations for the shared response cache.\n" +
			"serve applies them at startup too; run this ahead of a rolling deploy.",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Cache.PostgresDSN == "" {
				return errors.New("cache.postgres_dsn is not set")
			}

			log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			pg, err := store.NewPostgresStore(ctx, cfg.Cache.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pg.Close()

			log.Info("running migrations")
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			log.Info("migrations complete")
			return nil
		},
	}
}
