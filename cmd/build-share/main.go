// Точка входа Build Share — сервиса обмена сборками персонажей по коротким кодам.
// Загружает конфигурацию, подключает хранилище, включает механизм истечения
// срока, создаёт сервисный слой и API handlers, запускает topologymetrics
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/build-share/internal/api/handlers"
	"github.com/bigkaa/goartstore/build-share/internal/config"
	"github.com/bigkaa/goartstore/build-share/internal/idgen"
	"github.com/bigkaa/goartstore/build-share/internal/links"
	"github.com/bigkaa/goartstore/build-share/internal/payload"
	"github.com/bigkaa/goartstore/build-share/internal/server"
	"github.com/bigkaa/goartstore/build-share/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		return 1
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Build Share запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage", cfg.StorageBackend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Хранилище
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к хранилищу", slog.String("error", err.Error()))
		return 1
	}
	defer store.close()

	// 4. Истечение срока хранения: без него сервис не обслуживает запросы
	if err := service.EnsureExpiry(ctx, store.expiry, cfg.TTLEnsure, logger); err != nil {
		logger.Error("Ошибка включения истечения срока", slog.String("error", err.Error()))
		return 1
	}

	// 5. Генератор идентификаторов, кодек нагрузки, ссылки
	gen, err := idgen.NewGenerator(cfg.WorkerID)
	if err != nil {
		logger.Error("Ошибка создания генератора идентификаторов", slog.String("error", err.Error()))
		return 1
	}
	linkBuilder, err := links.NewBuilder(cfg.BaseURL, cfg.CustomProtocol)
	if err != nil {
		logger.Error("Ошибка конфигурации ссылок", slog.String("error", err.Error()))
		return 1
	}
	codec := payload.NewCodec(cfg.MaxPayloadBytes)

	// 6. Services
	buildSvc := service.NewBuildService(
		store.repo,
		idgen.NewAllocator(gen, store.repo, logger),
		codec,
		linkBuilder,
		service.NewCacheService(cfg.CacheSize, cfg.CacheTTL, nil),
		service.BuildServiceConfig{
			Retention:   cfg.Retention,
			SearchLimit: cfg.SearchLimit,
		},
		logger,
	)

	// 7. Health и API handlers
	healthHandler := handlers.NewHealthHandler(cfg.StorageBackend, store.checker)
	apiHandler := handlers.NewAPIHandler(healthHandler, buildSvc, 2*cfg.MaxPayloadBytes, logger)

	// 8. topologymetrics — мониторинг PostgreSQL
	if store.pgDB != nil {
		dephealthSvc, dephealthErr := service.NewDephealthService(
			"build-share",
			cfg.DephealthGroup,
			store.pgDB,
			cfg.DatabaseURL(),
			cfg.DephealthCheckInterval,
			logger,
		)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 9. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("Build Share остановлен")
	return 0
}
