// Пакет repository — слой хранения сборок.
// Драйверы: PostgreSQL (pgx, чистый SQL без ORM), Redis (go-redis) и
// in-memory для разработки и тестов. Все реализуют BuildRepository.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (идентификатор или shortcode уже заняты).
	ErrConflict = errors.New("конфликт: запись уже существует")
)

// Индексы полей поиска в порядке приоритета.
const (
	FieldNone      = -1
	FieldArchetype = 0
	FieldPrimary   = 1
	FieldSecondary = 2
)

// collections — логическое имя сущности → физическое имя коллекции.
var collections = map[string]string{
	model.Entity: "build_records",
}

// CollectionFor возвращает физическое имя коллекции для сущности.
func CollectionFor(entity string) (string, error) {
	name, ok := collections[entity]
	if !ok {
		return "", fmt.Errorf("неизвестная сущность %q", entity)
	}
	return name, nil
}

// UpdateParams — параметры условного обновления по shortcode.
// nil-поля не изменяются, BuildData, ImageData и сроки перезаписываются всегда.
type UpdateParams struct {
	Name        *string
	Description *string
	Primary     *string
	Secondary   *string
	BuildData   string
	ImageData   string
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// BuildRepository — хранилище сборок.
type BuildRepository interface {
	// Insert атомарно создаёт запись. ErrConflict, если ID или shortcode заняты.
	Insert(ctx context.Context, rec *model.BuildRecord) error
	// GetByShortcode возвращает запись или ErrNotFound.
	GetByShortcode(ctx context.Context, code string) (*model.BuildRecord, error)
	// ExistsByID проверяет занятость идентификатора.
	ExistsByID(ctx context.Context, id int64) (bool, error)
	// ExistsByShortcode проверяет наличие записи.
	ExistsByShortcode(ctx context.Context, code string) (bool, error)
	// Update одной операцией применяет изменения и возвращает новую версию.
	// ErrNotFound, если записи нет.
	Update(ctx context.Context, code string, p UpdateParams) (*model.BuildRecord, error)
	// DeleteByShortcode удаляет ровно одну запись или возвращает ErrNotFound.
	DeleteByShortcode(ctx context.Context, code string) error
	// ClassifyTerm возвращает наименьший индекс поля, в котором встречается значение,
	// или FieldNone.
	ClassifyTerm(ctx context.Context, value string) (int, error)
	// Search возвращает записи, у которых хотя бы одно из трёх полей равно
	// одному из значений. Не более limit записей, упорядочены по ID.
	Search(ctx context.Context, values []string, limit int) ([]*model.BuildRecord, error)
}

// ExpiryPolicy — удаление просроченных записей силами хранилища.
type ExpiryPolicy interface {
	// EnsureExpiry идемпотентно включает механизм истечения срока.
	EnsureExpiry(ctx context.Context) error
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// classify возвращает наименьший индекс поля записи, равного value.
func classify(rec *model.BuildRecord, value string) int {
	switch value {
	case "":
		return FieldNone
	case rec.Archetype:
		return FieldArchetype
	case rec.Primary:
		return FieldPrimary
	case rec.Secondary:
		return FieldSecondary
	}
	return FieldNone
}

// matches сообщает, совпадает ли хотя бы одно поле записи с одним из значений.
func matches(rec *model.BuildRecord, set map[string]struct{}) bool {
	for _, f := range [...]string{rec.Archetype, rec.Primary, rec.Secondary} {
		if f == "" {
			continue
		}
		if _, ok := set[f]; ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}
