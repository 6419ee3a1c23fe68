package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/build-share/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("buildshare_test"),
		postgres.WithUsername("buildshare"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("BS_BASE_URL", "http://localhost:8040")
	t.Setenv("BS_DB_HOST", host)
	t.Setenv("BS_DB_PORT", port.Port())
	t.Setenv("BS_DB_NAME", "buildshare_test")
	t.Setenv("BS_DB_USER", "buildshare")
	t.Setenv("BS_DB_PASSWORD", "test-password")
	t.Setenv("BS_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	// До миграций таблицы нет, сервис не готов
	checker := NewReadinessChecker(pool)
	if status, msg := checker.CheckReady(); status != "fail" {
		t.Errorf("CheckReady() до миграций = %q (%s), ожидался fail", status, msg)
	}

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if status, msg := checker.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %q (%s), ожидался ok", status, msg)
	}
}

// TestConnect_SessionTimezone проверяет, что сессии пула работают в UTC.
func TestConnect_SessionTimezone(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, slog.Default())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	var tz, app string
	if err := pool.QueryRow(ctx, `SELECT current_setting('TimeZone'), current_setting('application_name')`).Scan(&tz, &app); err != nil {
		t.Fatalf("Ошибка чтения настроек сессии: %v", err)
	}
	if tz != "UTC" {
		t.Errorf("TimeZone = %q, ожидался UTC", tz)
	}
	if app != applicationName {
		t.Errorf("application_name = %q, ожидался %q", app, applicationName)
	}
}

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'build_records')`,
	).Scan(&exists)
	if err != nil {
		t.Fatalf("Ошибка проверки таблицы: %v", err)
	}
	if !exists {
		t.Error("таблица build_records не создана")
	}

	// Запись без archetype и без page_data нарушает CHECK
	_, err = pool.Exec(ctx, `
		INSERT INTO build_records (id, shortcode, build_data, image_data, expires_at)
		VALUES (1, 'x', 'a', 'b', now())`)
	if err == nil {
		t.Error("ожидалось нарушение build_records_shape_check")
	}

	// Запись старого формата допустима
	_, err = pool.Exec(ctx, `
		INSERT INTO build_records (id, shortcode, page_data, expires_at)
		VALUES (2, 'legacy', '<html/>', now() + interval '1 day')`)
	if err != nil {
		t.Errorf("запись старого формата отклонена: %v", err)
	}
}
