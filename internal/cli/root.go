package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var cfg *Config

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "shopcli",
		Short: "CLI client for the credit shop server",
		Long: `shopcli talks to the credit shop server.

Shop commands (login, items, inventory, credits, buy, sell, bet) open a
protocol session, log in with --nick and run one request. The catalog,
player and health commands use the HTTP API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfg.Server, "server", cfg.Server, "Protocol listener host:port (env: SHOP_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.HTTPURL, "http", cfg.HTTPURL, "HTTP API base URL (env: SHOP_HTTP)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Nickname, "nick", "n", cfg.Nickname, "Nickname to log in as (env: SHOP_NICK)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newItemsCmd())
	rootCmd.AddCommand(newInventoryCmd())
	rootCmd.AddCommand(newCreditsCmd())
	rootCmd.AddCommand(newBuyCmd())
	rootCmd.AddCommand(newSellCmd())
	rootCmd.AddCommand(newBetCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newPlayerCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
