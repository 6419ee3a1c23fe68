// builds.go — сервис жизненного цикла сборок.
// Координирует repository, аллокатор идентификаторов, кодек нагрузки,
// построитель ссылок, LRU-кэш и Prometheus-метрики.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
	"github.com/bigkaa/goartstore/build-share/internal/idgen"
	"github.com/bigkaa/goartstore/build-share/internal/links"
	"github.com/bigkaa/goartstore/build-share/internal/payload"
	"github.com/bigkaa/goartstore/build-share/internal/repository"
	"github.com/bigkaa/goartstore/build-share/internal/shortcode"
)

// MaxInsertAttempts — сколько раз Create повторяет вставку при конфликте ключа.
const MaxInsertAttempts = 3

// DefaultRetention — срок хранения сборки после записи.
const DefaultRetention = 30 * 24 * time.Hour

// FileExtension — расширение файла сборки для клиента.
const FileExtension = ".mbd"

// Prometheus-метрики операций хранилища.
var (
	storeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bs_store_operations_total",
		Help: "Общее количество операций со сборками.",
	}, []string{"operation", "result"})
	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bs_store_operation_duration_seconds",
		Help:    "Длительность операций со сборками.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// BuildResult — результат create/update: shortcode, ссылки и срок хранения.
type BuildResult struct {
	Shortcode   string
	DownloadURL string
	ImageURL    string
	SchemaURL   string
	ExpiresAt   time.Time
}

// BuildFile — файл сборки для скачивания.
type BuildFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// BuildImage — распакованное изображение сборки.
type BuildImage struct {
	ContentType string
	Data        []byte
}

// BuildServiceConfig — параметры BuildService.
type BuildServiceConfig struct {
	// Retention — срок хранения после create/update (0 — DefaultRetention)
	Retention time.Duration
	// SearchLimit — максимум результатов поиска (0 — без ограничения сверху хранилища)
	SearchLimit int
	// Now — источник времени (nil — time.Now)
	Now func() time.Time
}

// BuildService — хранилище сборок: валидация и оркестрация операций.
// Безопасен для конкурентного использования.
type BuildService struct {
	repo        repository.BuildRepository
	allocator   *idgen.Allocator
	codec       *payload.Codec
	links       *links.Builder
	cache       *CacheService
	retention   time.Duration
	searchLimit int
	now         func() time.Time
	logger      *slog.Logger
}

// NewBuildService создаёт сервис сборок.
func NewBuildService(
	repo repository.BuildRepository,
	allocator *idgen.Allocator,
	codec *payload.Codec,
	linkBuilder *links.Builder,
	cache *CacheService,
	cfg BuildServiceConfig,
	logger *slog.Logger,
) *BuildService {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cache == nil {
		cache = NewCacheService(0, 0, cfg.Now)
	}
	return &BuildService{
		repo:        repo,
		allocator:   allocator,
		codec:       codec,
		links:       linkBuilder,
		cache:       cache,
		retention:   cfg.Retention,
		searchLimit: cfg.SearchLimit,
		now:         cfg.Now,
		logger:      logger.With(slog.String("component", "build_service")),
	}
}

// Create создаёт сборку. Идентификатор выделяется заранее, shortcode
// вычисляется из него, запись вставляется одной операцией.
func (s *BuildService) Create(ctx context.Context, in model.CreateInput) (res *BuildResult, err error) {
	defer s.observe("create", time.Now(), &err)

	if err := validateCreate(in); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= MaxInsertAttempts; attempt++ {
		id, err := s.allocator.Allocate(ctx)
		if err != nil {
			if errors.Is(err, idgen.ErrAllocationExhausted) {
				return nil, fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return nil, fmt.Errorf("%w: выделение идентификатора: %w", ErrInfrastructure, err)
		}

		now := s.now().UTC()
		rec := &model.BuildRecord{
			ID:          id,
			Shortcode:   shortcode.EncodeUint64(uint64(id)),
			Name:        in.Name,
			Description: in.Description,
			Archetype:   in.Archetype,
			Primary:     in.Primary,
			Secondary:   in.Secondary,
			BuildData:   in.BuildData,
			ImageData:   in.ImageData,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(s.retention),
		}

		err = s.repo.Insert(ctx, rec)
		if err == nil {
			s.logger.Info("Сборка создана",
				slog.String("shortcode", rec.Shortcode),
				slog.Int64("id", rec.ID),
				slog.Time("expires_at", rec.ExpiresAt),
			)
			return s.result(rec), nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: создание сборки: %w", ErrInfrastructure, err)
		}

		s.logger.Warn("Конфликт ключа при вставке, повтор с новым идентификатором",
			slog.Int64("id", id),
			slog.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("%w: не удалось вставить сборку за %d попыток", ErrConflict, MaxInsertAttempts)
}

// Update одной условной операцией применяет переданные поля,
// перезаписывает BuildData и ImageData и продлевает срок хранения.
// Исчезнувшая к моменту записи сборка даёт ErrNotFound.
func (s *BuildService) Update(ctx context.Context, code string, in model.UpdateInput) (res *BuildResult, err error) {
	defer s.observe("update", time.Now(), &err)

	if err := validateCode(code); err != nil {
		return nil, err
	}
	if err := validateUpdate(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	s.cache.Invalidate(code)
	rec, err := s.repo.Update(ctx, code, repository.UpdateParams{
		Name:        in.Name,
		Description: in.Description,
		Primary:     in.Primary,
		Secondary:   in.Secondary,
		BuildData:   in.BuildData,
		ImageData:   in.ImageData,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.retention),
	})
	s.cache.Invalidate(code)
	if err != nil {
		return nil, s.mapRepoError("обновление сборки", code, err)
	}

	s.logger.Info("Сборка обновлена",
		slog.String("shortcode", code),
		slog.Time("expires_at", rec.ExpiresAt),
	)
	return s.result(rec), nil
}

// Delete удаляет сборку по shortcode.
func (s *BuildService) Delete(ctx context.Context, code string) (err error) {
	defer s.observe("delete", time.Now(), &err)

	if err := validateCode(code); err != nil {
		return err
	}

	s.cache.Invalidate(code)
	err = s.repo.DeleteByShortcode(ctx, code)
	s.cache.Invalidate(code)
	if err != nil {
		return s.mapRepoError("удаление сборки", code, err)
	}

	s.logger.Info("Сборка удалена", slog.String("shortcode", code))
	return nil
}

// Retrieve возвращает сборку по shortcode.
// Сначала проверяет LRU-кэш, при промахе — запрос к хранилищу. Результат
// кэшируется, только если за время запроса сборка не изменялась.
func (s *BuildService) Retrieve(ctx context.Context, code string) (rec *model.BuildRecord, err error) {
	defer s.observe("retrieve", time.Now(), &err)
	return s.retrieve(ctx, code)
}

func (s *BuildService) retrieve(ctx context.Context, code string) (*model.BuildRecord, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}

	if rec, ok := s.cache.Get(code); ok {
		s.logger.Debug("Кэш hit для сборки", slog.String("shortcode", code))
		return rec, nil
	}

	gen := s.cache.Generation(code)
	rec, err := s.repo.GetByShortcode(ctx, code)
	if err != nil {
		return nil, s.mapRepoError("получение сборки", code, err)
	}

	s.cache.Set(code, rec, gen)
	return rec, nil
}

// Exists возвращает nil, если сборка существует, иначе ErrNotFound.
// Проверка всегда идёт в хранилище, кэш не используется.
func (s *BuildService) Exists(ctx context.Context, code string) (err error) {
	defer s.observe("exists", time.Now(), &err)

	if err := validateCode(code); err != nil {
		return err
	}

	found, err := s.repo.ExistsByShortcode(ctx, code)
	if err != nil {
		return s.mapRepoError("проверка сборки", code, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return nil
}

// GenerateFile распаковывает BuildData, разбирает JSON и возвращает
// отформатированный файл <имя-или-shortcode>.mbd.
func (s *BuildService) GenerateFile(ctx context.Context, code string) (file *BuildFile, err error) {
	defer s.observe("generate_file", time.Now(), &err)

	rec, err := s.retrieve(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.BuildData == "" {
		return nil, fmt.Errorf("%w: у сборки %s нет данных сборки", ErrDataCorruption, code)
	}

	raw, err := s.codec.DecodeAndDecompress(rec.BuildData)
	if err != nil {
		s.logger.Warn("Данные сборки не распаковываются",
			slog.String("shortcode", code),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrDataCorruption, err)
	}

	data, err := reindentJSON(raw)
	if err != nil {
		s.logger.Warn("Данные сборки не являются JSON",
			slog.String("shortcode", code),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrDataCorruption, err)
	}

	return &BuildFile{
		FileName:    fileName(rec),
		ContentType: "application/json",
		Data:        data,
	}, nil
}

// Image возвращает распакованное изображение сборки.
func (s *BuildService) Image(ctx context.Context, code string) (img *BuildImage, err error) {
	defer s.observe("image", time.Now(), &err)

	rec, err := s.retrieve(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.ImageData == "" {
		return nil, fmt.Errorf("%w: у сборки %s нет изображения", ErrDataCorruption, code)
	}

	data, err := s.codec.DecodeAndDecompress(rec.ImageData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataCorruption, err)
	}

	return &BuildImage{
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}

// Search ищет сборки по списку значений через запятую.
// Значения должны идти в порядке полей archetype, primary, secondary:
// индекс поля каждого найденного значения не меньше предыдущего.
// Совпадение — любое из трёх полей равно любому из значений.
func (s *BuildService) Search(ctx context.Context, criteria string) (recs []*model.BuildRecord, err error) {
	start := time.Now()
	defer s.observe("search", start, &err)

	terms, err := parseCriteria(criteria)
	if err != nil {
		return nil, err
	}

	prev := repository.FieldNone
	for _, term := range terms {
		idx, err := s.repo.ClassifyTerm(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("%w: классификация %q: %w", ErrInfrastructure, term, err)
		}
		if idx == repository.FieldNone {
			continue
		}
		if idx < prev {
			return nil, fmt.Errorf("%w: значение %q нарушает порядок archetype, primary, secondary", ErrValidation, term)
		}
		prev = idx
	}

	recs, err = s.repo.Search(ctx, terms, s.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: поиск сборок: %w", ErrInfrastructure, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: по запросу %q ничего не найдено", ErrNotFound, criteria)
	}

	s.logger.Debug("Поиск выполнен",
		slog.Int("terms", len(terms)),
		slog.Int("returned", len(recs)),
		slog.Duration("duration", time.Since(start)),
	)
	return recs, nil
}

// Links возвращает ссылки для shortcode.
func (s *BuildService) Links(code string) links.Links {
	return s.links.Build(code)
}

func (s *BuildService) result(rec *model.BuildRecord) *BuildResult {
	l := s.links.Build(rec.Shortcode)
	return &BuildResult{
		Shortcode:   rec.Shortcode,
		DownloadURL: l.DownloadURL,
		ImageURL:    l.ImageURL,
		SchemaURL:   l.SchemaURL,
		ExpiresAt:   rec.ExpiresAt,
	}
}

// mapRepoError переводит ошибки repository в ошибки сервисного слоя.
func (s *BuildService) mapRepoError(op, code string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, code)
	default:
		s.logger.Error("Ошибка хранилища",
			slog.String("operation", op),
			slog.String("shortcode", code),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
	}
}

// observe обновляет метрики операции.
func (s *BuildService) observe(op string, start time.Time, errp *error) {
	storeOperationsTotal.WithLabelValues(op, resultLabel(*errp)).Inc()
	storeOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// resultLabel — значение лейбла result для метрик.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrDataCorruption):
		return "data_corruption"
	default:
		return "infrastructure"
	}
}

// --- Валидация ---

func validateCode(code string) error {
	if !shortcode.Valid(code) {
		return fmt.Errorf("%w: некорректный shortcode %q", ErrValidation, code)
	}
	return nil
}

func validateCreate(in model.CreateInput) error {
	var missing []string
	if in.Archetype == "" {
		missing = append(missing, "archetype")
	}
	if in.Primary == "" {
		missing = append(missing, "primary")
	}
	if in.Secondary == "" {
		missing = append(missing, "secondary")
	}
	if in.BuildData == "" {
		missing = append(missing, "buildData")
	}
	if in.ImageData == "" {
		missing = append(missing, "imageData")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: не заданы обязательные поля: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func validateUpdate(in model.UpdateInput) error {
	var missing []string
	if in.BuildData == "" {
		missing = append(missing, "buildData")
	}
	if in.ImageData == "" {
		missing = append(missing, "imageData")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: не заданы обязательные поля: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if in.Primary != nil && *in.Primary == "" {
		return fmt.Errorf("%w: primary не может быть пустым", ErrValidation)
	}
	if in.Secondary != nil && *in.Secondary == "" {
		return fmt.Errorf("%w: secondary не может быть пустым", ErrValidation)
	}
	return nil
}

// parseCriteria разбивает строку поиска по запятым.
func parseCriteria(criteria string) ([]string, error) {
	if strings.TrimSpace(criteria) == "" {
		return nil, fmt.Errorf("%w: пустой запрос поиска", ErrValidation)
	}
	parts := strings.Split(criteria, ",")
	terms := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: пустое значение в позиции %d", ErrValidation, i+1)
		}
		terms = append(terms, p)
	}
	return terms, nil
}

// reindentJSON разбирает JSON-документ и сериализует его с отступами.
// Числа сохраняются без потери точности.
func reindentJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("разбор JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("разбор JSON: лишние данные после документа")
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("сериализация JSON: %w", err)
	}
	return out, nil
}

// fileName — имя файла сборки: имя сборки без служебных символов или shortcode.
func fileName(rec *model.BuildRecord) string {
	base := ""
	if rec.Name != nil {
		base = strings.TrimSpace(strings.Map(func(r rune) rune {
			switch {
			case r == '/', r == '\\', r == '"', r == ':', unicode.IsControl(r):
				return -1
			}
			return r
		}, *rec.Name))
	}
	if base == "" {
		base = rec.Shortcode
	}
	return base + FileExtension
}
