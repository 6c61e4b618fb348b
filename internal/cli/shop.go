package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// withSession logs in, runs fn and prints its result. A StatusResult is
// printed even when fn fails so the failed status is visible.
func withSession(cmd *cobra.Command, fn func(c *ShopClient) (any, error)) error {
	if cfg.Nickname == "" {
		return errors.New("--nick is required (env: SHOP_NICK)")
	}

	c, err := DialShop(cfg.Server, cfg.Timeout)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	player, err := c.Login(cfg.Nickname)
	if err != nil {
		return err
	}

	out := NewOutput(cfg.Output, cmd.OutOrStdout())
	if fn == nil {
		out.Print(player)
		return nil
	}

	result, err := fn(c)
	if sr, ok := result.(StatusResult); err == nil || (ok && sr.Status != "") {
		out.Print(result)
	}
	return err
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in, creating the player on first use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, nil)
		},
	}
}

func newItemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items",
		Short: "List items you can buy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(c *ShopClient) (any, error) {
				return c.Items()
			})
		},
	}
}

func newInventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "List items you own and your balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(c *ShopClient) (any, error) {
				return c.Inventory()
			})
		},
	}
}

func newCreditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show your balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(c *ShopClient) (any, error) {
				return c.Credits()
			})
		},
	}
}

func newBuyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy <item-id>",
		Short: "Buy an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAmount("item id", args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(c *ShopClient) (any, error) {
				return c.Buy(id)
			})
		},
	}
}

func newSellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sell <item-id>",
		Short: "Sell an item back for its price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAmount("item id", args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(c *ShopClient) (any, error) {
				return c.Sell(id)
			})
		},
	}
}

func newBetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bet <amount>",
		Short: "Wager credits",
		Long:  "Wager credits. A won bet reports success and a lost one failed; both show the new balance.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount("bet", args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(c *ShopClient) (any, error) {
				return c.Bet(amount)
			})
		},
	}
}

func parseAmount(what, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %q", what, s)
	}
	return n, nil
}
