package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
)

var (
	_ BuildRepository = (*MemoryStore)(nil)
	_ ExpiryPolicy    = (*MemoryStore)(nil)
)

// MemoryStore — in-memory реализация BuildRepository и ExpiryPolicy
// для разработки и тестов. Истечение срока эмулирует фоновый janitor.
// Наружу всегда отдаются копии записей.
type MemoryStore struct {
	mu      sync.RWMutex
	byCode  map[string]*model.BuildRecord
	idCodes map[int64]string

	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
	startOnce     sync.Once
}

// NewMemoryStore создаёт пустое хранилище.
// sweepInterval — период janitor (<= 0 — только ручной Sweep, EnsureExpiry вернёт ошибку).
// now — источник времени для janitor (nil — time.Now).
func NewMemoryStore(sweepInterval time.Duration, now func() time.Time, logger *slog.Logger) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		byCode:        make(map[string]*model.BuildRecord),
		idCodes:       make(map[int64]string),
		sweepInterval: sweepInterval,
		now:           now,
		logger:        logger.With(slog.String("component", "memory_store")),
	}
}

func (s *MemoryStore) Insert(_ context.Context, rec *model.BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCode[rec.Shortcode]; ok {
		return ErrConflict
	}
	if _, ok := s.idCodes[rec.ID]; ok {
		return ErrConflict
	}
	s.byCode[rec.Shortcode] = rec.Clone()
	s.idCodes[rec.ID] = rec.Shortcode
	return nil
}

func (s *MemoryStore) GetByShortcode(_ context.Context, code string) (*model.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) ExistsByID(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.idCodes[id]
	return ok, nil
}

func (s *MemoryStore) ExistsByShortcode(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byCode[code]
	return ok, nil
}

func (s *MemoryStore) Update(_ context.Context, code string, p UpdateParams) (*model.BuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}

	if p.Name != nil {
		rec.Name = cloneOptional(p.Name)
	}
	if p.Description != nil {
		rec.Description = cloneOptional(p.Description)
	}
	if p.Primary != nil {
		rec.Primary = *p.Primary
	}
	if p.Secondary != nil {
		rec.Secondary = *p.Secondary
	}
	rec.BuildData = p.BuildData
	rec.ImageData = p.ImageData
	rec.UpdatedAt = p.UpdatedAt
	rec.ExpiresAt = p.ExpiresAt

	return rec.Clone(), nil
}

func (s *MemoryStore) DeleteByShortcode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byCode[code]
	if !ok {
		return ErrNotFound
	}
	delete(s.byCode, code)
	delete(s.idCodes, rec.ID)
	return nil
}

func (s *MemoryStore) ClassifyTerm(ctx context.Context, value string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := FieldNone
	for _, rec := range s.byCode {
		if err := ctx.Err(); err != nil {
			return FieldNone, err
		}
		idx := classify(rec, value)
		if idx != FieldNone && (best == FieldNone || idx < best) {
			best = idx
			if best == FieldArchetype {
				break
			}
		}
	}
	return best, nil
}

func (s *MemoryStore) Search(ctx context.Context, values []string, limit int) ([]*model.BuildRecord, error) {
	set := toSet(values)

	s.mu.RLock()
	var result []*model.BuildRecord
	for _, rec := range s.byCode {
		if err := ctx.Err(); err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if matches(rec, set) {
			result = append(result, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ErrNoJanitor — EnsureExpiry вызван для хранилища без периода janitor.
var ErrNoJanitor = errors.New("период janitor не задан, просроченные сборки не удаляются")

// EnsureExpiry запускает janitor (однократно). Повторные вызовы ничего не делают.
// Janitor останавливается при отмене ctx. Без периода janitor возвращает
// ErrNoJanitor: такое хранилище очищается только явным Sweep.
func (s *MemoryStore) EnsureExpiry(ctx context.Context) error {
	if s.sweepInterval <= 0 {
		return fmt.Errorf("%w: interval=%s", ErrNoJanitor, s.sweepInterval)
	}
	s.startOnce.Do(func() {
		go s.janitor(ctx)
		s.logger.Info("Janitor просроченных сборок запущен",
			slog.Duration("interval", s.sweepInterval),
		)
	})
	return nil
}

func (s *MemoryStore) janitor(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Debug("Удалены просроченные сборки", slog.Int("count", n))
			}
		}
	}
}

// Sweep удаляет записи с ExpiresAt < now и возвращает их количество.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for code, rec := range s.byCode {
		if rec.ExpiresAt.Before(now) {
			delete(s.byCode, code)
			delete(s.idCodes, rec.ID)
			removed++
		}
	}
	return removed
}

// Len возвращает количество хранимых записей.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCode)
}

// Put сохраняет запись как есть, без проверок. Используется для загрузки
// записей старого формата в тестах и dev-окружении.
func (s *MemoryStore) Put(rec *model.BuildRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCode[rec.Shortcode] = rec.Clone()
	s.idCodes[rec.ID] = rec.Shortcode
}

func cloneOptional(v *string) *string {
	c := *v
	return &c
}

// CheckReady всегда сообщает о готовности: хранилище в памяти процесса.
func (s *MemoryStore) CheckReady() (status, message string) {
	return "ok", "хранилище в памяти"
}
