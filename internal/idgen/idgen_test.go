package idgen

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// TestNewGenerator_WorkerID проверяет границы worker id.
func TestNewGenerator_WorkerID(t *testing.T) {
	tests := []struct {
		name     string
		workerID int64
		wantErr  bool
	}{
		{"минимум", 0, false},
		{"максимум", MaxWorkerID, false},
		{"отрицательный", -1, true},
		{"больше максимума", MaxWorkerID + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.workerID)
			if tt.wantErr && !errors.Is(err, ErrInvalidWorkerID) {
				t.Errorf("ошибка = %v, ожидалась ErrInvalidWorkerID", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("неожиданная ошибка: %v", err)
			}
		})
	}
}

// TestNext_Layout проверяет раскладку битов идентификатора.
func TestNext_Layout(t *testing.T) {
	now := epoch + 123456
	gen, err := newGenerator(42, func() int64 { return now })
	if err != nil {
		t.Fatalf("newGenerator: %v", err)
	}

	first, err := gen.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, err := gen.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	p := Parse(second)
	if p.WorkerID != 42 {
		t.Errorf("WorkerID = %d, ожидался 42", p.WorkerID)
	}
	if p.Sequence != 1 {
		t.Errorf("Sequence = %d, ожидался 1", p.Sequence)
	}
	if !p.Time.Equal(time.UnixMilli(now)) {
		t.Errorf("Time = %v, ожидалось %v", p.Time, time.UnixMilli(now))
	}
	if second <= first {
		t.Errorf("идентификаторы не возрастают: %d, %d", first, second)
	}
}

// TestNext_ClockMovedBackwards проверяет отказ при откате часов.
func TestNext_ClockMovedBackwards(t *testing.T) {
	now := epoch + 1000
	gen, _ := newGenerator(1, func() int64 { return now })

	if _, err := gen.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}

	now -= 5
	if _, err := gen.Next(); !errors.Is(err, ErrClockMovedBackwards) {
		t.Errorf("ошибка = %v, ожидалась ErrClockMovedBackwards", err)
	}
}

// TestNext_SequenceOverflowWaits проверяет ожидание следующей миллисекунды.
func TestNext_SequenceOverflowWaits(t *testing.T) {
	base := epoch + 5000
	calls := 0
	gen, _ := newGenerator(1, func() int64 {
		calls++
		if calls <= maxSequence+2 {
			return base
		}
		return base + 1
	})

	var last int64
	for i := 0; i <= maxSequence+1; i++ {
		id, err := gen.Next()
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if id <= last {
			t.Fatalf("идентификатор #%d не возрастает", i)
		}
		last = id
	}

	p := Parse(last)
	if !p.Time.Equal(time.UnixMilli(base + 1)) {
		t.Errorf("Time = %v, ожидалась следующая миллисекунда", p.Time)
	}
	if p.Sequence != 0 {
		t.Errorf("Sequence = %d, ожидался 0", p.Sequence)
	}
}

// TestNext_Concurrent проверяет уникальность при конкурентной генерации.
func TestNext_Concurrent(t *testing.T) {
	gen, err := NewGenerator(7)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	const goroutines, perG = 8, 2000
	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{}, goroutines*perG)
		wg  sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perG)
			for i := 0; i < perG; i++ {
				id, err := gen.Next()
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				local = append(local, id)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if _, dup := ids[id]; dup {
					t.Errorf("дубликат идентификатора %d", id)
				}
				ids[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
}

// --- Allocator ---

// mockProber — мок Prober с fn-полем.
type mockProber struct {
	existsFn func(ctx context.Context, id int64) (bool, error)
}

func (m *mockProber) ExistsByID(ctx context.Context, id int64) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, id)
	}
	return false, nil
}

// TestAllocate_RetriesOnCollision проверяет повторную генерацию при коллизии.
func TestAllocate_RetriesOnCollision(t *testing.T) {
	gen, _ := NewGenerator(1)
	probes := 0
	prober := &mockProber{existsFn: func(_ context.Context, _ int64) (bool, error) {
		probes++
		return probes < 3, nil
	}}

	a := NewAllocator(gen, prober, slog.Default())
	id, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id <= 0 {
		t.Errorf("id = %d, ожидался положительный", id)
	}
	if probes != 3 {
		t.Errorf("probes = %d, ожидалось 3", probes)
	}
}

// TestAllocate_Exhausted проверяет ограничение числа попыток.
func TestAllocate_Exhausted(t *testing.T) {
	gen, _ := NewGenerator(1)
	probes := 0
	prober := &mockProber{existsFn: func(_ context.Context, _ int64) (bool, error) {
		probes++
		return true, nil
	}}

	a := NewAllocator(gen, prober, slog.Default())
	if _, err := a.Allocate(context.Background()); !errors.Is(err, ErrAllocationExhausted) {
		t.Fatalf("ошибка = %v, ожидалась ErrAllocationExhausted", err)
	}
	if probes != MaxAllocateAttempts {
		t.Errorf("probes = %d, ожидалось %d", probes, MaxAllocateAttempts)
	}
}

// TestAllocate_ProbeError проверяет проброс ошибки хранилища.
func TestAllocate_ProbeError(t *testing.T) {
	gen, _ := NewGenerator(1)
	boom := errors.New("connection refused")
	prober := &mockProber{existsFn: func(_ context.Context, _ int64) (bool, error) {
		return false, boom
	}}

	a := NewAllocator(gen, prober, slog.Default())
	if _, err := a.Allocate(context.Background()); !errors.Is(err, boom) {
		t.Errorf("ошибка = %v, ожидалась %v", err, boom)
	}
}

// TestAllocate_Canceled проверяет отмену контекста.
func TestAllocate_Canceled(t *testing.T) {
	gen, _ := NewGenerator(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAllocator(gen, &mockProber{}, slog.Default())
	if _, err := a.Allocate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ошибка = %v, ожидалась context.Canceled", err)
	}
}
