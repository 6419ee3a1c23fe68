package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
)

// Раскладка ключей Redis (prefix — имя коллекции):
//
//	<prefix>:code:<shortcode> — JSON-документ записи
//	<prefix>:id:<id>          — shortcode, индекс занятости идентификатора
//
// Оба ключа создаются одним скриптом с SET NX PXAT и живут до ExpiresAt:
// просроченные записи удаляет сам Redis.

const (
	// redisScanCount — подсказка COUNT для SCAN и размер пачки MGET.
	redisScanCount = 200
	// redisMaxTxRetries — попытки оптимистичной транзакции при конкурентной записи.
	redisMaxTxRetries = 5
)

// insertScript атомарно создаёт документ и индекс идентификатора.
// KEYS: code-ключ, id-ключ. ARGV: документ, shortcode, срок в мс Unix.
// Возвращает 1 при успехе, 0 если какой-либо ключ уже занят.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PXAT', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'NX', 'PXAT', ARGV[3])
return 1
`)

// redisDoc — JSON-представление записи в Redis.
type redisDoc struct {
	ID          int64     `json:"id,string"`
	Shortcode   string    `json:"shortcode"`
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Archetype   string    `json:"archetype,omitempty"`
	Primary     string    `json:"primary,omitempty"`
	Secondary   string    `json:"secondary,omitempty"`
	BuildData   string    `json:"build_data,omitempty"`
	ImageData   string    `json:"image_data,omitempty"`
	PageData    *string   `json:"page_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func docFromRecord(rec *model.BuildRecord) redisDoc {
	return redisDoc{
		ID: rec.ID, Shortcode: rec.Shortcode, Name: rec.Name, Description: rec.Description,
		Archetype: rec.Archetype, Primary: rec.Primary, Secondary: rec.Secondary,
		BuildData: rec.BuildData, ImageData: rec.ImageData, PageData: rec.PageData,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt, ExpiresAt: rec.ExpiresAt,
	}
}

func (d redisDoc) record() *model.BuildRecord {
	return &model.BuildRecord{
		ID: d.ID, Shortcode: d.Shortcode, Name: d.Name, Description: d.Description,
		Archetype: d.Archetype, Primary: d.Primary, Secondary: d.Secondary,
		BuildData: d.BuildData, ImageData: d.ImageData, PageData: d.PageData,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt, ExpiresAt: d.ExpiresAt,
	}
}

var (
	_ BuildRepository = (*RedisStore)(nil)
	_ ExpiryPolicy    = (*RedisStore)(nil)
)

// RedisStore — реализация BuildRepository и ExpiryPolicy поверх Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore создаёт хранилище сборок в Redis.
// Префикс ключей определяется один раз при создании.
func NewRedisStore(client *redis.Client, logger *slog.Logger) (*RedisStore, error) {
	collection, err := CollectionFor(model.Entity)
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		client: client,
		prefix: collection + ":",
		logger: logger.With(slog.String("component", "redis_store")),
	}, nil
}

func (s *RedisStore) codeKey(code string) string { return s.prefix + "code:" + code }
func (s *RedisStore) idKey(id int64) string      { return s.prefix + "id:" + strconv.FormatInt(id, 10) }

func (s *RedisStore) Insert(ctx context.Context, rec *model.BuildRecord) error {
	data, err := json.Marshal(docFromRecord(rec))
	if err != nil {
		return fmt.Errorf("ошибка сериализации сборки: %w", err)
	}

	created, err := insertScript.Run(ctx, s.client,
		[]string{s.codeKey(rec.Shortcode), s.idKey(rec.ID)},
		data, rec.Shortcode, rec.ExpiresAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("ошибка создания сборки: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: идентификатор или shortcode уже заняты", ErrConflict)
	}
	return nil
}

func (s *RedisStore) GetByShortcode(ctx context.Context, code string) (*model.BuildRecord, error) {
	raw, err := s.client.Get(ctx, s.codeKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сборки: %w", err)
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	return doc.record(), nil
}

func (s *RedisStore) ExistsByID(ctx context.Context, id int64) (bool, error) {
	n, err := s.client.Exists(ctx, s.idKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки идентификатора: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) ExistsByShortcode(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, s.codeKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки сборки: %w", err)
	}
	return n > 0, nil
}

// Update — оптимистичная транзакция WATCH/MULTI по ключу документа.
// Конкурентное изменение ключа прерывает транзакцию, она повторяется.
func (s *RedisStore) Update(ctx context.Context, code string, p UpdateParams) (*model.BuildRecord, error) {
	key := s.codeKey(code)
	var updated *model.BuildRecord

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return err
		}

		if p.Name != nil {
			doc.Name = p.Name
		}
		if p.Description != nil {
			doc.Description = p.Description
		}
		if p.Primary != nil {
			doc.Primary = *p.Primary
		}
		if p.Secondary != nil {
			doc.Secondary = *p.Secondary
		}
		doc.BuildData = p.BuildData
		doc.ImageData = p.ImageData
		doc.UpdatedAt = p.UpdatedAt
		doc.ExpiresAt = p.ExpiresAt

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("ошибка сериализации сборки: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.PExpireAt(ctx, key, p.ExpiresAt)
			pipe.PExpireAt(ctx, s.idKey(doc.ID), p.ExpiresAt)
			return nil
		})
		if err == nil {
			updated = doc.record()
		}
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления сборки: %w", err)
	}
	return updated, nil
}

func (s *RedisStore) DeleteByShortcode(ctx context.Context, code string) error {
	key := s.codeKey(code)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, s.idKey(doc.ID))
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления сборки: %w", err)
	}
	return nil
}

// watch выполняет транзакцию с ограниченным числом повторов при конфликте.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("Конфликт транзакции Redis, повтор",
			slog.Any("keys", keys),
			slog.Int("attempt", attempt+1),
		)
	}
	return fmt.Errorf("%w: превышено число попыток транзакции", ErrConflict)
}

func (s *RedisStore) ClassifyTerm(ctx context.Context, value string) (int, error) {
	best := FieldNone
	err := s.scanDocs(ctx, func(rec *model.BuildRecord) bool {
		idx := classify(rec, value)
		if idx != FieldNone && (best == FieldNone || idx < best) {
			best = idx
		}
		return best != FieldArchetype
	})
	if err != nil {
		return FieldNone, fmt.Errorf("ошибка классификации значения поиска: %w", err)
	}
	return best, nil
}

func (s *RedisStore) Search(ctx context.Context, values []string, limit int) ([]*model.BuildRecord, error) {
	set := toSet(values)
	var result []*model.BuildRecord
	err := s.scanDocs(ctx, func(rec *model.BuildRecord) bool {
		if matches(rec, set) {
			result = append(result, rec)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска сборок: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// scanDocs обходит все документы через SCAN + MGET.
// visit возвращает false, чтобы прекратить обход. Отмена ctx прерывает обход.
// Ключи, истёкшие между SCAN и MGET, пропускаются.
func (s *RedisStore) scanDocs(ctx context.Context, visit func(*model.BuildRecord) bool) error {
	var cursor uint64
	pattern := s.codeKey("*")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		keys, next, err := s.client.Scan(ctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			return err
		}

		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return err
			}
			for _, v := range vals {
				str, ok := v.(string)
				if !ok {
					continue
				}
				doc, err := decodeDoc([]byte(str))
				if err != nil {
					s.logger.Warn("Пропущен повреждённый документ", slog.String("error", err.Error()))
					continue
				}
				if !visit(doc.record()) {
					return nil
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// EnsureExpiry проверяет доступность Redis. Сроки задаются при каждой записи (PXAT).
func (s *RedisStore) EnsureExpiry(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ошибка подключения к Redis: %w", err)
	}
	s.logger.Info("Истечение срока сборок обеспечивается TTL ключей Redis")
	return nil
}

// CheckReady проверяет Redis через PING. Возвращает статус ("ok", "fail") и сообщение.
func (s *RedisStore) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}

func decodeDoc(raw []byte) (redisDoc, error) {
	var doc redisDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return redisDoc{}, fmt.Errorf("ошибка разбора документа сборки: %w", err)
	}
	return doc, nil
}
