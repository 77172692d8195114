package cmd

import (
	"fmt"
	"log/slog"

	"github.com/nfrund/relay/internal/app"
	"github.com/nfrund/relay/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}
		if cfg.AppVersion == "dev" {
			cfg.AppVersion = version
		}

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initialize app: %w", err)
		}
		s, err := server.New(ctx, a)
		if err != nil {
			_ = a.Close(ctx)
			return fmt.Errorf("initialize server: %w", err)
		}

		slog.Info("relayd starting", "version", cfg.AppVersion, "store", cfg.StoreDriver)
		return s.Start(ctx, cfg.HTTPAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
