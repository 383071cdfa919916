package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show rate limit, circuit, token and cache status of a running server",
		Example: `  ebay-mcp status
  ebay-mcp status --output json`,
		RunE: func(_ *cobra.Command, _ []string) error {
			rep, err := newClient().Status(context.Background())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(rep)
			}
			return printStatus(rep)
		},
	}
}

func circuitsCmd() *cobra.Command {
	circuitsRoot := &cobra.Command{
		Use:   "circuits",
		Short: "Administer per-endpoint circuit breakers",
	}

	circuitsRoot.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Close every circuit breaker",
		RunE: func(_ *cobra.Command, _ []string) error {
			reset, err := newClient().ResetCircuits(context.Background())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return outputJSON(map[string][]string{"reset": reset})
			}
			if len(reset) == 0 {
				fmt.Println("All circuits were already closed.")
				return nil
			}
			for _, key := range reset {
				fmt.Println("closed " + key)
			}
			return nil
		},
	})

	return circuitsRoot
}
