package cmd

import (
	"fmt"

	"github.com/nfrund/relay/internal/app"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo users and chats into the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := app.OpenStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		report, err := app.Seed(ctx, store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users, %d chats, %d messages\n",
			report.Users, report.Chats, report.Messages)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
