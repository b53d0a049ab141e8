package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/UnknownOlympus/meridian/internal/cache"
	"github.com/UnknownOlympus/meridian/internal/models"
)

// CacheStore persists the result cache in the geocode_cache table. A NULL
// result column is a negative entry.
type CacheStore struct {
	db  Database
	log *slog.Logger
}

var _ cache.Store = (*CacheStore)(nil)

// NewCacheStore creates a cache store on top of db.
func NewCacheStore(db Database, log *slog.Logger) *CacheStore {
	return &CacheStore{db: db, log: log}
}

// EnsureSchema creates the cache table when it does not exist.
func (s *CacheStore) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS geocode_cache (
			cache_key  TEXT PRIMARY KEY,
			result     JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create geocode cache table: %w", err)
	}
	return nil
}

// Load reads every cache row. Rows whose result does not decode are skipped.
func (s *CacheStore) Load(ctx context.Context) (map[string]*models.GeocodeResult, error) {
	query := `SELECT cache_key, result FROM geocode_cache;`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query geocode cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.GeocodeResult)
	for rows.Next() {
		var key string
		var raw []byte
		if errScan := rows.Scan(&key, &raw); errScan != nil {
			return nil, fmt.Errorf("failed to scan geocode cache row: %w", errScan)
		}

		if raw == nil {
			out[key] = nil
			continue
		}
		var res models.GeocodeResult
		if errJSON := json.Unmarshal(raw, &res); errJSON != nil {
			s.log.WarnContext(ctx, "Skipping undecodable cache row", "key", key, "error", errJSON)
			continue
		}
		out[key] = &res
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return out, nil
}

// Save upserts the dirty keys in one transaction.
func (s *CacheStore) Save(ctx context.Context, snap cache.Snapshot) error {
	if len(snap.Dirty) == 0 {
		return nil
	}

	query := `
		INSERT INTO geocode_cache (cache_key, result, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (cache_key) DO UPDATE
		SET result = EXCLUDED.result, updated_at = EXCLUDED.updated_at;
	`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, key := range snap.Dirty {
		var value []byte
		if res := snap.Entries[key]; res != nil {
			if value, err = json.Marshal(res); err != nil {
				return fmt.Errorf("failed to encode cache entry %q: %w", key, err)
			}
		}
		if _, err = tx.Exec(ctx, query, key, value); err != nil {
			return fmt.Errorf("failed to upsert cache entry %q: %w", key, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cache transaction: %w", err)
	}

	s.log.DebugContext(ctx, "Cache entries saved", "count", len(snap.Dirty))
	return nil
}
