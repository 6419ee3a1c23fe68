package repository

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
)

func TestMemoryStore_Contract(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) BuildRepository {
		return NewMemoryStore(0, nil, slog.Default())
	})
}

// TestMemoryStore_ReturnsCopies проверяет, что изменения возвращённой записи не влияют на хранилище.
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0, nil, slog.Default())
	ctx := context.Background()
	rec := newTestRecord(1, "Tanker", "Fire", "Ice")
	require.NoError(t, s.Insert(ctx, rec))

	rec.Archetype = "mutated"
	got, err := s.GetByShortcode(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Tanker", got.Archetype)

	*got.Name = "mutated"
	again, err := s.GetByShortcode(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "build 1", *again.Name)
}

// TestMemoryStore_Sweep проверяет удаление просроченных записей.
func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore(0, nil, slog.Default())
	ctx := context.Background()

	old := newTestRecord(1, "Tanker", "Fire", "Ice")
	fresh := newTestRecord(2, "Tanker", "Fire", "Ice")
	fresh.ExpiresAt = testBase.Add(60 * 24 * time.Hour)
	require.NoError(t, s.Insert(ctx, old))
	require.NoError(t, s.Insert(ctx, fresh))

	assert.Equal(t, 0, s.Sweep(testBase.Add(29*24*time.Hour)))
	assert.Equal(t, 1, s.Sweep(testBase.Add(31*24*time.Hour)))
	assert.Equal(t, 1, s.Len())

	_, err := s.GetByShortcode(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
	ok, err := s.ExistsByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMemoryStore_Janitor проверяет фоновое удаление.
func TestMemoryStore_Janitor(t *testing.T) {
	now := testBase.Add(31 * 24 * time.Hour)
	s := NewMemoryStore(5*time.Millisecond, func() time.Time { return now }, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Insert(ctx, newTestRecord(1, "Tanker", "Fire", "Ice")))
	require.NoError(t, s.EnsureExpiry(ctx))
	require.NoError(t, s.EnsureExpiry(ctx), "повторный вызов должен быть безопасен")

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

// TestMemoryStore_EnsureExpiryWithoutJanitor проверяет, что хранилище без
// периода janitor не сообщает о включённом истечении срока.
func TestMemoryStore_EnsureExpiryWithoutJanitor(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		s := NewMemoryStore(interval, nil, slog.Default())
		err := s.EnsureExpiry(context.Background())
		require.ErrorIs(t, err, ErrNoJanitor, interval.String())
	}

	// Ручная очистка доступна и без janitor
	s := NewMemoryStore(0, nil, slog.Default())
	require.NoError(t, s.Insert(context.Background(), newTestRecord(1, "Tanker", "Fire", "Ice")))
	assert.Equal(t, 1, s.Sweep(testBase.Add(31*24*time.Hour)))
}

// TestMemoryStore_LegacyRecord проверяет чтение записи старого формата.
func TestMemoryStore_LegacyRecord(t *testing.T) {
	s := NewMemoryStore(0, nil, slog.Default())
	ctx := context.Background()
	s.Put(&model.BuildRecord{
		ID:        9,
		Shortcode: "legacy",
		PageData:  strPtr("<html>build</html>"),
		ExpiresAt: testBase.Add(time.Hour),
	})

	got, err := s.GetByShortcode(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, got.IsLegacy())

	idx, err := s.ClassifyTerm(ctx, "Tanker")
	require.NoError(t, err)
	assert.Equal(t, FieldNone, idx)

	found, err := s.Search(ctx, []string{"Tanker"}, 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, s.DeleteByShortcode(ctx, "legacy"))
}

// TestMemoryStore_SearchCanceled проверяет отмену поиска.
func TestMemoryStore_SearchCanceled(t *testing.T) {
	s := NewMemoryStore(0, nil, slog.Default())
	require.NoError(t, s.Insert(context.Background(), newTestRecord(1, "Tanker", "Fire", "Ice")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Search(ctx, []string{"Tanker"}, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollectionFor(t *testing.T) {
	name, err := CollectionFor(model.Entity)
	require.NoError(t, err)
	assert.Equal(t, "build_records", name)

	_, err = CollectionFor("unknown")
	require.Error(t, err)
}
