package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
)

// DefaultSweepSchedule — расписание pg_cron по умолчанию (каждую минуту).
const DefaultSweepSchedule = "* * * * *"

// PostgresExpiry — TTL через именованное задание pg_cron.
type PostgresExpiry struct {
	db       DBTX
	table    string
	schedule string
	logger   *slog.Logger
}

// NewPostgresExpiryPolicy создаёт политику истечения срока для PostgreSQL.
// Удаление выполняет сам сервер БД по расписанию, сервис только регистрирует задание.
func NewPostgresExpiryPolicy(db DBTX, schedule string, logger *slog.Logger) (*PostgresExpiry, error) {
	table, err := CollectionFor(model.Entity)
	if err != nil {
		return nil, err
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &PostgresExpiry{
		db:       db,
		table:    table,
		schedule: schedule,
		logger:   logger.With(slog.String("component", "expiry_postgres")),
	}, nil
}

// JobName возвращает имя задания pg_cron для коллекции.
func JobName(table string) string {
	return table + "_ttl"
}

// sweepCommand — SQL, выполняемый заданием.
func sweepCommand(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE expires_at < now()", table)
}

// EnsureExpiry создаёт расширение и (пере)регистрирует задание.
// cron.schedule с тем же именем заменяет существующее задание, поэтому вызов идемпотентен.
func (p *PostgresExpiry) EnsureExpiry(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pg_cron`); err != nil {
		return fmt.Errorf("ошибка создания расширения pg_cron: %w", err)
	}

	var jobID int64
	err := p.db.QueryRow(ctx,
		`SELECT cron.schedule_in_database($1, $2, $3, current_database())`,
		JobName(p.table), p.schedule, sweepCommand(p.table),
	).Scan(&jobID)
	if err != nil {
		return fmt.Errorf("ошибка регистрации задания очистки: %w", err)
	}

	p.logger.Info("Задание очистки просроченных сборок зарегистрировано",
		slog.String("job", JobName(p.table)),
		slog.String("schedule", p.schedule),
		slog.Int64("job_id", jobID),
	)
	return nil
}

// SweepNow немедленно удаляет просроченные записи тем же запросом, что и задание.
// Используется в интеграционных тестах и при ручном обслуживании.
func (p *PostgresExpiry) SweepNow(ctx context.Context) (int64, error) {
	tag, err := p.db.Exec(ctx, sweepCommand(p.table))
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки просроченных сборок: %w", err)
	}
	return tag.RowsAffected(), nil
}
