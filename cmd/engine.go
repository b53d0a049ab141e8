package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/UnknownOlympus/meridian/internal/cache"
	"github.com/UnknownOlympus/meridian/internal/config"
	"github.com/UnknownOlympus/meridian/internal/geocoding"
	"github.com/UnknownOlympus/meridian/internal/metrics"
	"github.com/UnknownOlympus/meridian/internal/ratelimit"
	"github.com/UnknownOlympus/meridian/internal/repository"
	"github.com/UnknownOlympus/meridian/internal/resolver"
	"github.com/UnknownOlympus/meridian/internal/validation"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Cache backends accepted by MERIDIAN_CACHE_BACKEND.
const (
	cacheMemory   = "memory"
	cacheFile     = "file"
	cacheRedis    = "redis"
	cachePostgres = "postgres"
)

// engine is the resolution stack shared by serve and geocode.
type engine struct {
	provider geocoding.Provider
	cache    *cache.ResultCache
	resolver *resolver.Resolver
	closers  []func()
}

// newEngine wires limiter, provider, cache, validator and resolver from the
// configuration. db may be nil; the postgres cache backend then opens its own pool.
func newEngine(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	appMetrics *metrics.Metrics,
	db *pgxpool.Pool,
) (*engine, error) {
	eng := &engine{}

	var limiter *ratelimit.Limiter
	if cfg.Provider.RateLimit > 0 {
		limiter = ratelimit.New(cfg.Provider.RateLimit, cfg.Provider.RateCapacity)
	}

	provider, err := geocoding.NewProvider(geocoding.ProviderConfig{
		Type:              geocoding.ProviderType(cfg.Provider.Type),
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		TransientStatuses: cfg.Provider.TransientStatuses,
		Limiter:           limiter,
		Logger:            log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create geocoding provider: %w", err)
	}
	eng.provider = provider

	store, err := eng.cacheStore(ctx, cfg, log, db)
	if err != nil {
		eng.Close()
		return nil, err
	}
	eng.cache = cache.New(store, cfg.Cache.CheckpointEvery, log)
	eng.cache.Load(ctx)

	refs, err := validation.LoadReferenceTable(cfg.Validation.ReferenceFile)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("failed to load reference points: %w", err)
	}
	var opts []validation.Option
	if !cfg.Validation.Locality {
		opts = append(opts, validation.WithoutLocalityCheck())
	}
	if !cfg.Validation.Distance {
		opts = append(opts, validation.WithoutDistanceCheck())
	}

	eng.resolver = resolver.New(log, provider, eng.cache, validation.New(refs, opts...), appMetrics)

	log.InfoContext(ctx, "Resolution engine initialized",
		"provider", provider.Name(),
		"cache_backend", cfg.Cache.Backend,
		"cache_entries", eng.cache.Len(),
		"reference_points", refs.Len(),
	)

	return eng, nil
}

// cacheStore opens the durable backend of the result cache. A nil store keeps
// the cache in memory.
func (e *engine) cacheStore(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	db *pgxpool.Pool,
) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case cacheMemory:
		return nil, nil
	case cacheFile:
		store := cache.NewFileStore(cfg.Cache.Path)
		if err := store.CheckWritable(); err != nil {
			return nil, err
		}
		return store, nil
	case cacheRedis:
		client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { client.Close() })
		return cache.NewRedisStore(client, cfg.Cache.RedisHash), nil
	case cachePostgres:
		if db == nil {
			pool, err := repository.NewDatabase(ctx, cfg.Database.DSN())
			if err != nil {
				return nil, err
			}
			e.closers = append(e.closers, pool.Close)
			db = pool
		}
		store := repository.NewCacheStore(db, log)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// Close releases the connections opened for the cache store.
func (e *engine) Close() {
	for _, c := range e.closers {
		c()
	}
	e.closers = nil
}
