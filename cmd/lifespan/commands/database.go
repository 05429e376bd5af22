package commands

import (
	"database/sql"

	"github.com/rich13/lifespan-beta-sub017/config"
	"github.com/rich13/lifespan-beta-sub017/db"
	"github.com/rich13/lifespan-beta-sub017/errors"
	"github.com/rich13/lifespan-beta-sub017/logger"
)

// openDatabase loads configuration and opens the migrated database.
func openDatabase() (*sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}
	return database, cfg, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
