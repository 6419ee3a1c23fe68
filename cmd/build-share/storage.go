package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/build-share/internal/api/handlers"
	"github.com/bigkaa/goartstore/build-share/internal/config"
	"github.com/bigkaa/goartstore/build-share/internal/database"
	"github.com/bigkaa/goartstore/build-share/internal/repository"
)

// storage — хранилище сборок выбранного драйвера.
type storage struct {
	repo    repository.BuildRepository
	expiry  repository.ExpiryPolicy
	checker handlers.ReadinessChecker
	// pgDB — адаптер pgxpool для topologymetrics, только для postgres
	pgDB *sql.DB
	// close освобождает подключения
	close func()
}

// openStorage подключает драйвер хранилища из BS_STORAGE_BACKEND.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	case config.BackendRedis:
		return openRedis(ctx, cfg, logger)
	case config.BackendMemory:
		store := repository.NewMemoryStore(cfg.MemorySweepInterval, nil, logger)
		logger.Warn("Используется хранилище в памяти, сборки теряются при перезапуске")
		return &storage{repo: store, expiry: store, checker: store, close: func() {}}, nil
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища %q", cfg.StorageBackend)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	// Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return nil, err
	}

	// Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	repo, err := repository.NewPostgresBuildRepository(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	expiry, err := repository.NewPostgresExpiryPolicy(pool, cfg.TTLSweepSchedule, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)

	return &storage{
		repo:    repo,
		expiry:  expiry,
		checker: database.NewReadinessChecker(pool),
		pgDB:    pgDB,
		close: func() {
			_ = pgDB.Close()
			pool.Close()
		},
	}, nil
}

func openRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}
	logger.Info("Подключение к Redis установлено",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
	)

	store, err := repository.NewRedisStore(client, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &storage{
		repo:    store,
		expiry:  store,
		checker: store,
		close:   func() { _ = client.Close() },
	}, nil
}
