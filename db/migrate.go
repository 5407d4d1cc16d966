package db

import (
	"context"
	"embed"
	"fmt"
	"path"

	"order-tracker/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationsFS holds the schema and trigger files applied by Migrate.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migrate runs the files under migrations/ in file-name order. Every file
// can be re-run on an already migrated database.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log logger.Logger) error {
	entries, err := migrationsFS.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	applied := 0
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		script, err := migrationsFS.ReadFile(path.Join(migrationsDir, e.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		if _, err := pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		applied++
		log.Debug("migration applied", logger.String("file", e.Name()))
	}
	log.Info("schema up to date", logger.Int("migrations", applied))
	return nil
}
