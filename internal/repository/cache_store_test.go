package repository_test

import (
	"log/slog"
	"regexp"
	"testing"

	"github.com/UnknownOlympus/meridian/internal/cache"
	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/UnknownOlympus/meridian/internal/repository"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	loadCacheQuery   = `SELECT cache_key, result FROM geocode_cache;`
	upsertCacheQuery = `
		INSERT INTO geocode_cache (cache_key, result, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (cache_key) DO UPDATE
		SET result = EXCLUDED.result, updated_at = EXCLUDED.updated_at;
	`
)

func TestCacheStore_Load(t *testing.T) {
	t.Parallel()
	logger := slog.Default()
	ctx := t.Context()

	t.Run("success - positive, negative and broken rows", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := repository.NewCacheStore(mock, logger)

		mock.ExpectQuery(regexp.QuoteMeta(loadCacheQuery)).
			WillReturnRows(pgxmock.NewRows([]string{"cache_key", "result"}).
				AddRow("amap:杭州", []byte(`{"latitude":30.27,"longitude":120.15,"provider":"amap"}`)).
				AddRow("amap:无名", nil).
				AddRow("amap:坏", []byte(`{"provider":""}`)),
			)

		entries, err := store.Load(ctx)

		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.NotNil(t, entries["amap:杭州"])
		assert.Equal(t, "amap", entries["amap:杭州"].Provider())
		neg, ok := entries["amap:无名"]
		assert.True(t, ok)
		assert.Nil(t, neg)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - query cache", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := repository.NewCacheStore(mock, logger)

		mock.ExpectQuery(regexp.QuoteMeta(loadCacheQuery)).WillReturnError(assert.AnError)

		_, err = store.Load(ctx)

		require.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCacheStore_Save(t *testing.T) {
	t.Parallel()
	logger := slog.Default()
	ctx := t.Context()

	res, err := models.NewResultBuilder("amap").Coordinates(30.27, 120.15).Build()
	require.NoError(t, err)
	raw, err := res.MarshalJSON()
	require.NoError(t, err)

	snap := cache.Snapshot{
		Entries: map[string]*models.GeocodeResult{"amap:杭州": res, "amap:无名": nil, "amap:旧": res},
		Dirty:   []string{"amap:杭州", "amap:无名"},
	}

	t.Run("success - dirty keys upserted in one transaction", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := repository.NewCacheStore(mock, logger)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(upsertCacheQuery)).WithArgs("amap:杭州", raw).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(regexp.QuoteMeta(upsertCacheQuery)).WithArgs("amap:无名", []byte(nil)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		err = store.Save(ctx, snap)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - upsert rolls back", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := repository.NewCacheStore(mock, logger)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(upsertCacheQuery)).WithArgs("amap:杭州", raw).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		err = store.Save(ctx, snap)

		require.ErrorContains(t, err, "failed to upsert cache entry")
		require.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - begin transaction", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := repository.NewCacheStore(mock, logger)

		mock.ExpectBegin().WillReturnError(assert.AnError)

		err = store.Save(ctx, snap)

		require.ErrorContains(t, err, "failed to begin cache transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing dirty", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := repository.NewCacheStore(mock, logger)

		require.NoError(t, store.Save(ctx, cache.Snapshot{}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCacheStore_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := repository.NewCacheStore(mock, slog.Default())

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS geocode_cache")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(t.Context()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
