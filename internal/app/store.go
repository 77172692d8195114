package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/database"
	badgerstore "github.com/nfrund/relay/internal/database/badger"
	"github.com/nfrund/relay/internal/database/sqlite"
	"github.com/nfrund/relay/internal/domain"
)

// OpenStore opens the store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config) (domain.Store, error) {
	slog.Info("Opening message store", "driver", cfg.StoreDriver)

	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverBadger:
		s, err := badgerstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSurreal:
		s, err := database.NewStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
