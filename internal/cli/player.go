package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List every item in the shop",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result ItemList
			if err := NewClient(cfg.HTTPURL, cfg.Timeout).Get("/api/v1/catalog", &result); err != nil {
				return err
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}
}

func newPlayerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "player <id>",
		Short: "Show a player's balance and items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAmount("player id", args[0])
			if err != nil {
				return err
			}
			var result PlayerDetail
			path := fmt.Sprintf("/api/v1/players/%d", id)
			if err := NewClient(cfg.HTTPURL, cfg.Timeout).Get(path, &result); err != nil {
				return err
			}
			NewOutput(cfg.Output, cmd.OutOrStdout()).Print(result)
			return nil
		},
	}
}
