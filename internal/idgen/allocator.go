package idgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MaxAllocateAttempts — число попыток выделить свободный идентификатор.
const MaxAllocateAttempts = 5

// ErrAllocationExhausted — все попытки выделения наткнулись на занятые идентификаторы.
var ErrAllocationExhausted = errors.New("не удалось выделить свободный идентификатор")

var idCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bs_id_collisions_total",
	Help: "Количество сгенерированных идентификаторов, оказавшихся занятыми.",
})

// Prober — проверка занятости идентификатора в хранилище.
type Prober interface {
	ExistsByID(ctx context.Context, id int64) (bool, error)
}

// Allocator выделяет идентификатор, которого ещё нет в хранилище.
// Проба — оптимизация: окончательную уникальность гарантирует
// ограничение хранилища при вставке.
type Allocator struct {
	gen    *Generator
	prober Prober
	logger *slog.Logger
}

// NewAllocator создаёт аллокатор поверх генератора и хранилища.
func NewAllocator(gen *Generator, prober Prober, logger *slog.Logger) *Allocator {
	return &Allocator{
		gen:    gen,
		prober: prober,
		logger: logger.With(slog.String("component", "id_allocator")),
	}
}

// Allocate возвращает свободный идентификатор не более чем за MaxAllocateAttempts попыток.
func (a *Allocator) Allocate(ctx context.Context) (int64, error) {
	for attempt := 1; attempt <= MaxAllocateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		id, err := a.gen.Next()
		if err != nil {
			return 0, fmt.Errorf("ошибка генерации идентификатора: %w", err)
		}

		taken, err := a.prober.ExistsByID(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("ошибка проверки идентификатора: %w", err)
		}
		if !taken {
			return id, nil
		}

		idCollisionsTotal.Inc()
		a.logger.Warn("Идентификатор уже занят, повторная генерация",
			slog.Int64("id", id),
			slog.Int("attempt", attempt),
		)
	}
	return 0, ErrAllocationExhausted
}
