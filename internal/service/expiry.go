// expiry.go — включение механизма истечения срока хранения при старте.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/build-share/internal/repository"
)

// ttlEnsured — 1, если механизм истечения срока включён этим процессом.
var ttlEnsured = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "bs_ttl_ensured",
	Help: "Механизм истечения срока сборок включён при старте (1) или нет (0).",
})

// EnsureExpiry включает удаление просроченных сборок силами хранилища.
// При enabled=false только пишет предупреждение: задание ведётся извне.
// Ошибка означает, что сервис не должен начинать обслуживание.
func EnsureExpiry(ctx context.Context, policy repository.ExpiryPolicy, enabled bool, logger *slog.Logger) error {
	log := logger.With(slog.String("component", "ttl"))

	if !enabled {
		ttlEnsured.Set(0)
		log.Warn("Механизм истечения срока не проверяется (BS_TTL_ENSURE=false), просроченные сборки удаляются только внешним заданием")
		return nil
	}

	if err := policy.EnsureExpiry(ctx); err != nil {
		ttlEnsured.Set(0)
		return fmt.Errorf("%w: включение истечения срока: %w", ErrInfrastructure, err)
	}

	ttlEnsured.Set(1)
	log.Info("Механизм истечения срока сборок включён")
	return nil
}
