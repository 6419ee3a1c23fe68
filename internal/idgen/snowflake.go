// Пакет idgen — генерация идентификаторов сборок.
//
// Идентификатор — snowflake (64 бит, старший бит всегда 0):
//
//	41 бит — миллисекунды с эпохи 2024-01-01 UTC
//	10 бит — worker id (0-1023, BS_WORKER_ID)
//	12 бит — номер в пределах миллисекунды
//
// Идентификатор вычисляется до вставки, shortcode выводится из него,
// поэтому запись создаётся одной атомарной операцией.
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// epoch — 2024-01-01 00:00:00 UTC в миллисекундах.
	epoch int64 = 1704067200000

	timestampBits = 41
	workerBits    = 10
	sequenceBits  = 12

	// MaxWorkerID — наибольший допустимый worker id.
	MaxWorkerID = (1 << workerBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	workerShift    = sequenceBits
	timestampShift = sequenceBits + workerBits
)

// Ошибки генератора.
var (
	// ErrInvalidWorkerID — worker id вне диапазона 0-1023.
	ErrInvalidWorkerID = errors.New("worker id должен быть в диапазоне 0-1023")
	// ErrClockMovedBackwards — системные часы ушли назад, генерация отклонена.
	ErrClockMovedBackwards = errors.New("часы сдвинулись назад, генерация идентификатора отклонена")
	// ErrEpochExhausted — 41 бит времени исчерпаны.
	ErrEpochExhausted = errors.New("диапазон времени snowflake исчерпан")
)

// Generator — потокобезопасный генератор snowflake-идентификаторов.
type Generator struct {
	mu            sync.Mutex
	workerID      int64
	sequence      int64
	lastTimestamp int64
	nowMillis     func() int64
}

// NewGenerator создаёт генератор для указанного worker id.
func NewGenerator(workerID int64) (*Generator, error) {
	return newGenerator(workerID, func() int64 { return time.Now().UnixMilli() })
}

// newGenerator — конструктор с подменяемыми часами (для тестов).
func newGenerator(workerID int64, nowMillis func() int64) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerID, workerID)
	}
	return &Generator{workerID: workerID, nowMillis: nowMillis}, nil
}

// Next возвращает следующий идентификатор.
// При переполнении номера в миллисекунде ждёт следующую миллисекунду.
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.nowMillis()
	if ts < g.lastTimestamp {
		return 0, fmt.Errorf("%w: last=%d, current=%d", ErrClockMovedBackwards, g.lastTimestamp, ts)
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			ts = g.waitNextMillisecond(g.lastTimestamp)
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = ts

	elapsed := ts - epoch
	if elapsed < 0 || elapsed >= 1<<timestampBits {
		return 0, fmt.Errorf("%w: %d", ErrEpochExhausted, ts)
	}

	return elapsed<<timestampShift | g.workerID<<workerShift | g.sequence, nil
}

// waitNextMillisecond крутится до наступления миллисекунды позже last.
func (g *Generator) waitNextMillisecond(last int64) int64 {
	ts := g.nowMillis()
	for ts <= last {
		time.Sleep(10 * time.Microsecond)
		ts = g.nowMillis()
	}
	return ts
}

// Parts — составляющие snowflake-идентификатора.
type Parts struct {
	Time     time.Time
	WorkerID int64
	Sequence int64
}

// Parse раскладывает идентификатор на составляющие.
func Parse(id int64) Parts {
	return Parts{
		Time:     time.UnixMilli((id >> timestampShift) + epoch).UTC(),
		WorkerID: (id >> workerShift) & MaxWorkerID,
		Sequence: id & maxSequence,
	}
}
