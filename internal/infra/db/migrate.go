package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// Migrate применяет встроенные миграции goose.
func Migrate(ctx context.Context, sqlDB *sql.DB, dialect goose.Dialect, fsys fs.FS, logger zerolog.Logger) error {
	provider, err := goose.NewProvider(dialect, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, res := range results {
		logger.Info().Str("migration", res.Source.Path).Dur("took", res.Duration).Msg("db: миграция применена")
	}
	return nil
}
