package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/foxseedlab/racenotif/internal/config"
	"github.com/foxseedlab/racenotif/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

var _ repository.Repository = (*SQLiteRepository)(nil)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()
		return Open(ctx, cfg)
	})
}

// Open connects the store selected by cfg.DatabaseDriver and migrates it.
func Open(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	switch cfg.DatabaseDriver {
	case config.DatabaseDriverSQLite:
		r, err := OpenSQLite(ctx, cfg.DatabaseURL, cfg.WeekendSpan)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return r, nil
	case config.DatabaseDriverPostgres:
		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := RunMigration(ctx, p); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to run migration: %w", err)
		}
		return NewPostgresRepository(p, cfg.WeekendSpan), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}
