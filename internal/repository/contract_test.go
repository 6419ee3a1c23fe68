package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/build-share/internal/domain/model"
)

// Общий набор проверок BuildRepository для всех драйверов.

func strPtr(s string) *string { return &s }

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRecord(id int64, archetype, primary, secondary string) *model.BuildRecord {
	return &model.BuildRecord{
		ID:        id,
		Shortcode: fmt.Sprintf("c%d", id),
		Name:      strPtr(fmt.Sprintf("build %d", id)),
		Archetype: archetype,
		Primary:   primary,
		Secondary: secondary,
		BuildData: "YnVpbGQ=",
		ImageData: "aW1hZ2U=",
		CreatedAt: testBase,
		UpdatedAt: testBase,
		ExpiresAt: testBase.Add(30 * 24 * time.Hour),
	}
}

func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) BuildRepository) {
	t.Run("InsertGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rec := newTestRecord(101, "Tanker", "Fire", "Ice")

		require.NoError(t, repo.Insert(ctx, rec))

		got, err := repo.GetByShortcode(ctx, rec.Shortcode)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "Tanker", got.Archetype)
		assert.Equal(t, "Fire", got.Primary)
		assert.Equal(t, "Ice", got.Secondary)
		assert.Equal(t, rec.BuildData, got.BuildData)
		require.NotNil(t, got.Name)
		assert.Equal(t, "build 101", *got.Name)
		assert.Nil(t, got.Description)
		assert.WithinDuration(t, rec.ExpiresAt, got.ExpiresAt, time.Millisecond)
	})

	t.Run("InsertConflict", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Insert(ctx, newTestRecord(201, "Tanker", "Fire", "Ice")))

		sameCode := newTestRecord(202, "Tanker", "Fire", "Ice")
		sameCode.Shortcode = "c201"
		require.ErrorIs(t, repo.Insert(ctx, sameCode), ErrConflict)

		sameID := newTestRecord(201, "Tanker", "Fire", "Ice")
		sameID.Shortcode = "other"
		require.ErrorIs(t, repo.Insert(ctx, sameID), ErrConflict)
	})

	t.Run("Exists", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Insert(ctx, newTestRecord(301, "Tanker", "Fire", "Ice")))

		ok, err := repo.ExistsByID(ctx, 301)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ExistsByID(ctx, 302)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.ExistsByShortcode(ctx, "c301")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ExistsByShortcode(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdatePartial", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Insert(ctx, newTestRecord(401, "Tanker", "Fire", "Ice")))

		later := testBase.Add(48 * time.Hour)
		got, err := repo.Update(ctx, "c401", UpdateParams{
			Secondary: strPtr("Stone"),
			BuildData: "bmV3",
			ImageData: "bmV3aW1n",
			UpdatedAt: later,
			ExpiresAt: later.Add(30 * 24 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, "Fire", got.Primary, "не переданное поле должно сохраниться")
		assert.Equal(t, "Stone", got.Secondary)
		assert.Equal(t, "bmV3", got.BuildData)
		require.NotNil(t, got.Name)
		assert.Equal(t, "build 401", *got.Name)
		assert.WithinDuration(t, later.Add(30*24*time.Hour), got.ExpiresAt, time.Millisecond)

		stored, err := repo.GetByShortcode(ctx, "c401")
		require.NoError(t, err)
		assert.Equal(t, "Stone", stored.Secondary)
		assert.WithinDuration(t, later.Add(30*24*time.Hour), stored.ExpiresAt, time.Millisecond)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Update(context.Background(), "missing", UpdateParams{
			BuildData: "x", ImageData: "y", UpdatedAt: testBase, ExpiresAt: testBase.Add(time.Hour),
		})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Insert(ctx, newTestRecord(501, "Tanker", "Fire", "Ice")))
		require.NoError(t, repo.Insert(ctx, newTestRecord(502, "Blaster", "Fire", "Ice")))

		require.ErrorIs(t, repo.DeleteByShortcode(ctx, "missing"), ErrNotFound)
		require.NoError(t, repo.DeleteByShortcode(ctx, "c501"))
		require.ErrorIs(t, repo.DeleteByShortcode(ctx, "c501"), ErrNotFound)

		_, err := repo.GetByShortcode(ctx, "c501")
		require.ErrorIs(t, err, ErrNotFound)
		ok, err := repo.ExistsByID(ctx, 501)
		require.NoError(t, err)
		assert.False(t, ok, "идентификатор удалённой записи должен освободиться")

		_, err = repo.GetByShortcode(ctx, "c502")
		require.NoError(t, err, "соседняя запись не должна пострадать")
	})

	t.Run("ClassifyAndSearch", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Insert(ctx, newTestRecord(601, "Tanker", "Fire", "Ice")))
		require.NoError(t, repo.Insert(ctx, newTestRecord(602, "Blaster", "Fire", "Energy")))
		require.NoError(t, repo.Insert(ctx, newTestRecord(603, "Scrapper", "Claws", "Ice")))
		require.NoError(t, repo.Insert(ctx, newTestRecord(604, "Defender", "Empathy", "Dark")))

		for value, want := range map[string]int{
			"Tanker":  FieldArchetype,
			"Fire":    FieldPrimary,
			"Ice":     FieldSecondary,
			"Nothing": FieldNone,
		} {
			got, err := repo.ClassifyTerm(ctx, value)
			require.NoError(t, err)
			assert.Equal(t, want, got, "ClassifyTerm(%q)", value)
		}

		got, err := repo.Search(ctx, []string{"Tanker", "Fire", "Ice"}, 100)
		require.NoError(t, err)
		ids := make([]int64, 0, len(got))
		for _, r := range got {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []int64{601, 602, 603}, ids)

		limited, err := repo.Search(ctx, []string{"Fire"}, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		none, err := repo.Search(ctx, []string{"Nothing"}, 100)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ConcurrentInsertSameShortcode", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok, clash int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := newTestRecord(int64(700+i), "Tanker", "Fire", "Ice")
				rec.Shortcode = "same"
				err := repo.Insert(ctx, rec)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrConflict):
					clash++
				default:
					assert.NoError(t, err, "Insert")
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, clash)
	})
}
