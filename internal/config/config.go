// Пакет config — загрузка и валидация конфигурации Build Share
// из переменных окружения (префикс BS_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы хранилища.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config содержит все параметры конфигурации Build Share.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Хранилище ---

	// Драйвер хранилища: postgres, redis, memory
	StorageBackend string

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// --- Сборки ---

	// Публичный базовый URL сервиса для ссылок скачивания
	BaseURL string
	// Схема ссылки загрузки в клиент (mrb://load/<code>)
	CustomProtocol string
	// Срок хранения записи после создания или обновления
	Retention time.Duration
	// Worker id генератора идентификаторов (0-1023)
	WorkerID int64
	// Предел распакованного размера нагрузки, байт
	MaxPayloadBytes int64
	// Максимальное число результатов поиска
	SearchLimit int

	// --- Кэш ---

	// Размер кэша в процессе (0 — выключен). Между репликами не согласуется.
	CacheSize int
	CacheTTL  time.Duration

	// --- TTL ---

	// Регистрировать ли механизм истечения срока при старте
	TTLEnsure bool
	// Расписание pg_cron для очистки (cron-выражение)
	TTLSweepSchedule string
	// Период janitor для драйвера memory
	MemorySweepInterval time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:gocyclo,cyclop // линейная последовательность однотипных проверок
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// BS_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("BS_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("BS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("BS_PORT: порт %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("BS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("BS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("BS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("BS_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("BS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BS_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("BS_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("BS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BS_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("BS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Хранилище ---

	cfg.StorageBackend = strings.ToLower(getEnvDefault("BS_STORAGE_BACKEND", BackendPostgres))
	switch cfg.StorageBackend {
	case BackendPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case BackendRedis:
		cfg.RedisAddr = getEnvDefault("BS_REDIS_ADDR", "localhost:6379")
		cfg.RedisPassword = os.Getenv("BS_REDIS_PASSWORD")
		cfg.RedisDB, err = getEnvInt("BS_REDIS_DB", 0)
		if err != nil {
			return nil, fmt.Errorf("BS_REDIS_DB: %w", err)
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("BS_STORAGE_BACKEND: недопустимое значение %q, допустимые: postgres, redis, memory",
			cfg.StorageBackend)
	}

	// --- Сборки ---

	// BS_BASE_URL — обязательный публичный адрес сервиса
	cfg.BaseURL, err = getEnvRequired("BS_BASE_URL")
	if err != nil {
		return nil, err
	}
	if u, perr := url.Parse(cfg.BaseURL); perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("BS_BASE_URL: ожидается абсолютный http(s) URL, получено %q", cfg.BaseURL)
	}

	cfg.CustomProtocol = getEnvDefault("BS_CUSTOM_PROTOCOL", "mrb")

	cfg.Retention, err = getEnvDuration("BS_RETENTION", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("BS_RETENTION: %w", err)
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("BS_RETENTION: значение должно быть > 0")
	}

	workerID, err := getEnvInt("BS_WORKER_ID", 0)
	if err != nil {
		return nil, fmt.Errorf("BS_WORKER_ID: %w", err)
	}
	if workerID < 0 || workerID > 1023 {
		return nil, fmt.Errorf("BS_WORKER_ID: значение %d вне диапазона 0-1023", workerID)
	}
	cfg.WorkerID = int64(workerID)

	maxPayload, err := getEnvInt("BS_MAX_PAYLOAD_BYTES", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("BS_MAX_PAYLOAD_BYTES: %w", err)
	}
	if maxPayload <= 0 {
		return nil, fmt.Errorf("BS_MAX_PAYLOAD_BYTES: значение должно быть > 0")
	}
	cfg.MaxPayloadBytes = int64(maxPayload)

	cfg.SearchLimit, err = getEnvInt("BS_SEARCH_LIMIT", 500)
	if err != nil {
		return nil, fmt.Errorf("BS_SEARCH_LIMIT: %w", err)
	}
	if cfg.SearchLimit < 1 {
		return nil, fmt.Errorf("BS_SEARCH_LIMIT: значение должно быть >= 1")
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("BS_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("BS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("BS_CACHE_SIZE: значение должно быть >= 0")
	}
	cfg.CacheTTL, err = getEnvDuration("BS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("BS_CACHE_TTL: %w", err)
	}

	// --- TTL ---

	cfg.TTLEnsure, err = getEnvBool("BS_TTL_ENSURE", true)
	if err != nil {
		return nil, fmt.Errorf("BS_TTL_ENSURE: %w", err)
	}
	cfg.TTLSweepSchedule = getEnvDefault("BS_TTL_SWEEP_SCHEDULE", "* * * * *")
	if len(strings.Fields(cfg.TTLSweepSchedule)) != 5 && !strings.HasSuffix(cfg.TTLSweepSchedule, "seconds") {
		return nil, fmt.Errorf("BS_TTL_SWEEP_SCHEDULE: ожидается cron-выражение из 5 полей, получено %q",
			cfg.TTLSweepSchedule)
	}
	cfg.MemorySweepInterval, err = getEnvDuration("BS_MEMORY_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("BS_MEMORY_SWEEP_INTERVAL: %w", err)
	}
	if cfg.MemorySweepInterval <= 0 {
		return nil, fmt.Errorf("BS_MEMORY_SWEEP_INTERVAL: значение должно быть > 0, получено %s",
			cfg.MemorySweepInterval)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("BS_DEPHEALTH_GROUP", "build-share")
	cfg.DephealthCheckInterval, err = getEnvDuration("BS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// loadPostgres загружает параметры подключения к PostgreSQL.
func loadPostgres(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("BS_DB_HOST")
	if err != nil {
		return err
	}
	cfg.DBPort, err = getEnvInt("BS_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("BS_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("BS_DB_NAME")
	if err != nil {
		return err
	}
	cfg.DBUser, err = getEnvRequired("BS_DB_USER")
	if err != nil {
		return err
	}
	cfg.DBPassword, err = getEnvRequired("BS_DB_PASSWORD")
	if err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("BS_DB_SSL_MODE", "disable")
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL в формате postgres://.
// Используется для лейблов topologymetrics.
func (c *Config) DatabaseURL() string {
	return c.databaseURL("postgres")
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return c.databaseURL("pgx5")
}

func (c *Config) databaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
