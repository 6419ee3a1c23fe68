package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
)

// buildColumns — столбцы таблицы сборок для SELECT и RETURNING.
const buildColumns = `id, shortcode, name, description, archetype, primary_powerset,
	secondary_powerset, build_data, image_data, page_data, created_at, updated_at, expires_at`

// postgresBuildRepo — реализация BuildRepository через pgx.
type postgresBuildRepo struct {
	db    DBTX
	table string
}

// NewPostgresBuildRepository создаёт репозиторий сборок поверх PostgreSQL.
// Имя таблицы определяется один раз при создании.
func NewPostgresBuildRepository(db DBTX) (BuildRepository, error) {
	table, err := CollectionFor(model.Entity)
	if err != nil {
		return nil, err
	}
	return &postgresBuildRepo{db: db, table: pgx.Identifier{table}.Sanitize()}, nil
}

func (r *postgresBuildRepo) Insert(ctx context.Context, rec *model.BuildRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, shortcode, name, description, archetype, primary_powerset,
			secondary_powerset, build_data, image_data, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, r.table)

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.Shortcode, rec.Name, rec.Description, rec.Archetype, rec.Primary,
		rec.Secondary, rec.BuildData, rec.ImageData, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: идентификатор или shortcode уже заняты", ErrConflict)
		}
		return fmt.Errorf("ошибка создания сборки: %w", err)
	}
	return nil
}

func (r *postgresBuildRepo) GetByShortcode(ctx context.Context, code string) (*model.BuildRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE shortcode = $1`, buildColumns, r.table)

	rec, err := scanBuild(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сборки: %w", err)
	}
	return rec, nil
}

func (r *postgresBuildRepo) ExistsByID(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, r.table)

	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки идентификатора: %w", err)
	}
	return exists, nil
}

func (r *postgresBuildRepo) ExistsByShortcode(ctx context.Context, code string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE shortcode = $1)`, r.table)

	var exists bool
	if err := r.db.QueryRow(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки сборки: %w", err)
	}
	return exists, nil
}

// Update выполняет условное обновление одним запросом.
// Отсутствие строки после UPDATE означает, что запись не существует
// (или была удалена конкурентно).
func (r *postgresBuildRepo) Update(ctx context.Context, code string, p UpdateParams) (*model.BuildRecord, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET name               = COALESCE($2, name),
		    description        = COALESCE($3, description),
		    primary_powerset   = COALESCE($4, primary_powerset),
		    secondary_powerset = COALESCE($5, secondary_powerset),
		    build_data         = $6,
		    image_data         = $7,
		    updated_at         = $8,
		    expires_at         = $9
		WHERE shortcode = $1
		RETURNING %s`, r.table, buildColumns)

	rec, err := scanBuild(r.db.QueryRow(ctx, query,
		code, p.Name, p.Description, p.Primary, p.Secondary,
		p.BuildData, p.ImageData, p.UpdatedAt, p.ExpiresAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления сборки: %w", err)
	}
	return rec, nil
}

func (r *postgresBuildRepo) DeleteByShortcode(ctx context.Context, code string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE shortcode = $1`, r.table)

	tag, err := r.db.Exec(ctx, query, code)
	if err != nil {
		return fmt.Errorf("ошибка удаления сборки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresBuildRepo) ClassifyTerm(ctx context.Context, value string) (int, error) {
	query := fmt.Sprintf(`
		SELECT CASE
			WHEN EXISTS (SELECT 1 FROM %[1]s WHERE archetype = $1) THEN 0
			WHEN EXISTS (SELECT 1 FROM %[1]s WHERE primary_powerset = $1) THEN 1
			WHEN EXISTS (SELECT 1 FROM %[1]s WHERE secondary_powerset = $1) THEN 2
			ELSE -1
		END`, r.table)

	var idx int
	if err := r.db.QueryRow(ctx, query, value).Scan(&idx); err != nil {
		return FieldNone, fmt.Errorf("ошибка классификации значения поиска: %w", err)
	}
	return idx, nil
}

func (r *postgresBuildRepo) Search(ctx context.Context, values []string, limit int) ([]*model.BuildRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE archetype = ANY($1) OR primary_powerset = ANY($1) OR secondary_powerset = ANY($1)
		ORDER BY id
		LIMIT $2`, buildColumns, r.table)

	// LIMIT NULL — без ограничения
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.db.Query(ctx, query, values, lim)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска сборок: %w", err)
	}
	defer rows.Close()

	var result []*model.BuildRecord
	for rows.Next() {
		rec, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сборки: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// scanBuild читает строку таблицы. Поля записей старого формата могут быть NULL.
func scanBuild(row pgx.Row) (*model.BuildRecord, error) {
	var (
		rec                           model.BuildRecord
		archetype, primary, secondary *string
		buildData, imageData          *string
	)
	err := row.Scan(
		&rec.ID, &rec.Shortcode, &rec.Name, &rec.Description, &archetype, &primary,
		&secondary, &buildData, &imageData, &rec.PageData, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Archetype = deref(archetype)
	rec.Primary = deref(primary)
	rec.Secondary = deref(secondary)
	rec.BuildData = deref(buildData)
	rec.ImageData = deref(imageData)
	return &rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
