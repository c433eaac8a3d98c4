package store

import (
	"context"
	"fmt"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/config"
)

// Open returns the backend selected by cfg.StoreBackend.
// PostgreSQL migrations are applied before the pool is opened.
func Open(ctx context.Context, cfg *config.Config) (MessageStore, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		return NewMemoryStore(), nil
	case config.BackendSQLite:
		s, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		if err := RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, wrapErr("migrate", err)
		}
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMongo:
		s, err := NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
