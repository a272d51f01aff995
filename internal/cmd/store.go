package cmd

import (
	"context"
	"fmt"

	"github.com/homedash/homedash/internal/config"
	"github.com/homedash/homedash/internal/core/store"
)

// openStore opens and migrates the catalog database.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
