// Пакет service — бизнес-логика Build Share.
// CacheService — LRU-кэш сборок с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bs_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш сборок.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bs_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша сборок.",
	})
)

// cacheStripes — число счётчиков поколений. Shortcode хешируется в один из них.
const cacheStripes = 256

// CacheService — LRU-кэш сборок по shortcode с автоматическим TTL.
// Запись кэша не переживает ExpiresAt самой сборки.
// Размер 0 отключает кэш.
//
// Кэш локален для процесса: при нескольких репликах изменение на одной
// реплике не инвалидирует кэш остальных, рассинхронизация ограничена TTL.
//
// Поколения защищают от гонки чтения с записью: Set с поколением,
// полученным до чтения из хранилища, не сохраняет запись, если между
// чтением и Set была инвалидация этого shortcode.
type CacheService struct {
	cache *expirable.LRU[string, *model.BuildRecord]
	now   func() time.Time

	mu          sync.Mutex
	generations [cacheStripes]uint64
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// now — источник времени для сравнения с ExpiresAt (nil — time.Now).
func NewCacheService(maxSize int, ttl time.Duration, now func() time.Time) *CacheService {
	if now == nil {
		now = time.Now
	}
	c := &CacheService{now: now}
	if maxSize > 0 {
		c.cache = expirable.NewLRU[string, *model.BuildRecord](maxSize, nil, ttl)
	}
	return c
}

// Get возвращает копию сборки из кэша.
// Просроченная сборка удаляется из кэша и считается промахом.
func (c *CacheService) Get(code string) (*model.BuildRecord, bool) {
	if c.cache == nil {
		return nil, false
	}
	val, ok := c.cache.Get(code)
	if ok && c.now().Before(val.ExpiresAt) {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	if ok {
		c.cache.Remove(code)
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Generation возвращает текущее поколение shortcode.
// Вызывается до чтения из хранилища, результат передаётся в Set.
func (c *CacheService) Generation(code string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[stripe(code)]
}

// Set добавляет или обновляет запись в кэше, если с момента получения
// gen не было инвалидации shortcode. Возвращает true, если запись сохранена.
func (c *CacheService) Set(code string, rec *model.BuildRecord, gen uint64) bool {
	if c.cache == nil || !c.now().Before(rec.ExpiresAt) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[stripe(code)] != gen {
		return false
	}
	c.cache.Add(code, rec.Clone())
	return true
}

// Invalidate удаляет запись из кэша и сдвигает поколение shortcode.
// Update и Delete вызывают его до и после записи в хранилище.
func (c *CacheService) Invalidate(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[stripe(code)]++
	if c.cache != nil {
		c.cache.Remove(code)
	}
}

func stripe(code string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	return h.Sum32() % cacheStripes
}

// Len возвращает число записей в кэше.
func (c *CacheService) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
