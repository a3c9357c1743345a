package cli

import (
	"context"
	"fmt"
	"log/slog"

	portsrepo "github.com/SscSPs/bearer_gate/internal/core/ports/repositories"
	"github.com/SscSPs/bearer_gate/internal/platform/config"
	"github.com/SscSPs/bearer_gate/internal/repositories/database/pgsql"
	"github.com/SscSPs/bearer_gate/internal/repositories/filestore"
	"github.com/SscSPs/bearer_gate/internal/repositories/memory"
	"github.com/SscSPs/bearer_gate/pkg/database"
)

// openStore builds the configured persister and loads the token store from it.
// The returned notifier is nil when the driver cannot report external changes.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*memory.TokenStore, portsrepo.TokenChangeNotifier, error) {
	var (
		persister portsrepo.TokenPersister
		notifier  portsrepo.TokenChangeNotifier
	)

	switch cfg.TokenStoreDriver {
	case config.DriverFile:
		p, err := filestore.NewTokenPersister(cfg.TokenStorePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("Using token file", slog.String("path", p.Path()))
		persister, notifier = p, p

	case config.DriverPostgres:
		logger.Info("Running database migrations...")
		if err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return nil, nil, err
		}
		pool, err := database.NewPgxPool(ctx, cfg.DatabaseURL, cfg.EnableDBCheck)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database pool: %w", err)
		}
		p := pgsql.NewTokenPersister(pool, logger)
		persister, notifier = p, p

	case config.DriverMemory:
		persister = memory.NewVolatilePersister()

	default:
		return nil, nil, fmt.Errorf("unknown token store driver %q", cfg.TokenStoreDriver)
	}

	store, err := memory.NewTokenStore(ctx, persister, logger)
	if err != nil {
		_ = persister.Close()
		return nil, nil, err
	}
	logger.Info("Token store opened", slog.String("driver", cfg.TokenStoreDriver))
	return store, notifier, nil
}
