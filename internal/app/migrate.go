package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/proptoken/internal/config"
	"github.com/alanyoungcy/proptoken/internal/store/postgres"
)

// Migrate applies pending schema migrations, or rolls back the last rollback
// migrations when rollback > 0. It returns the number of migrations run.
func Migrate(ctx context.Context, cfg *config.Config, rollback int, logger *slog.Logger) (int, error) {
	client, err := postgres.New(ctx, postgresConfig(cfg.Database))
	if err != nil {
		return 0, fmt.Errorf("app: migrate: %w", err)
	}
	defer client.Close()

	if rollback > 0 {
		n, err := client.RollbackMigrations(ctx, rollback)
		if err != nil {
			return n, fmt.Errorf("app: rollback migrations: %w", err)
		}
		logger.InfoContext(ctx, "app: migrations rolled back", slog.Int("count", n))
		return n, nil
	}

	n, err := client.RunMigrations(ctx)
	if err != nil {
		return n, fmt.Errorf("app: run migrations: %w", err)
	}
	logger.InfoContext(ctx, "app: migrations applied", slog.Int("count", n))
	return n, nil
}
