package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/donaldgifford/ebay-mcp/internal/store"
)

func cacheCmd() *cobra.Command {
	cacheRoot := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate the response cache",
	}

	cacheRoot.AddCommand(
		cacheListCmd(),
		cacheInvalidateCmd(),
	)

	return cacheRoot
}

func cacheListCmd() *cobra.Command {
	q := &store.CacheQuery{}

	c := &cobra.Command{
		Use:   "list",
		Short: "List shared cache entries",
		Example: `  ebay-mcp cache list --prefix rest:buy/browse/v1/item_summary:
  ebay-mcp cache list --include-expired --order-by expires_at`,
		RunE: func(_ *cobra.Command, _ []string) error {
			listing, err := newClient().ListCache(context.Background(), q)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(listing)
			}
			if len(listing.Entries) == 0 {
				fmt.Println("No cache entries found.")
				return nil
			}
			if err := printCacheTable(listing.Entries); err != nil {
				return err
			}
			fmt.Printf("\n%d of %d entries\n", len(listing.Entries), listing.Total)
			return nil
		},
	}

	c.Flags().StringVar(&q.Prefix, "prefix", "", "only keys starting with this prefix")
	c.Flags().BoolVar(&q.IncludeExpired, "include-expired", false, "include expired rows")
	c.Flags().IntVar(&q.Limit, "limit", 50, "maximum rows")
	c.Flags().IntVar(&q.Offset, "offset", 0, "rows to skip")
	c.Flags().StringVar(&q.OrderBy, "order-by", "", "key, created_at, expires_at or size")
	return c
}

func cacheInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <key|prefix*>",
		Short: "Remove a key, or every key with a prefix, from both tiers",
		Example: `  ebay-mcp cache invalidate 'rest:sell/inventory/v1/inventory_item:*'`,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := newClient().InvalidateCache(context.Background(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(map[string]any{"pattern": args[0], "deleted": n})
			}
			fmt.Printf("Removed %d entries.\n", n)
			return nil
		},
	}
}
