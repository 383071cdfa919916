// Package cmd implements the ebay-mcp CLI commands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiclient "github.com/donaldgifford/ebay-mcp/internal/api/client"
	"github.com/donaldgifford/ebay-mcp/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "ebay-mcp",
	Short: "MCP server for the eBay REST APIs",
	Long: "ebay-mcp exposes the eBay Buy, Sell and Commerce REST APIs as MCP tools.\n" +
		"The serve command runs the MCP server and its ops API; the other commands\n" +
		"talk to a running server's ops API to manage consent, circuits and the cache.",
	SilenceUsage: true,
}

// Root returns the root cobra command for documentation generation.
func Root() *cobra.Command {
	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().
		String("config", "", "server config file (YAML); defaults apply when empty")
	rootCmd.PersistentFlags().
		String("server", "http://127.0.0.1:8080", "ops API URL of a running server")
	rootCmd.PersistentFlags().
		String("output", "table", "output format (table, json)")
	rootCmd.PersistentFlags().
		String("log-level", "", "override logging.level (debug, info, warn, error)")

	for _, name := range []string{"config", "server", "output", "log-level"} {
		cobra.CheckErr(viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)))
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(consentCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(circuitsCmd())
	rootCmd.AddCommand(cacheCmd())
}

func initConfig() {
	viper.SetEnvPrefix("EBAY_MCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the server config named by --config or EBAY_MCP_CONFIG.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newClient() *apiclient.Client {
	return apiclient.New(viper.GetString("server"))
}

func jsonOutput() bool {
	return viper.GetString("output") == "json"
}
