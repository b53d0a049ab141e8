package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/UnknownOlympus/meridian/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisHash is the hash holding cache entries when none is configured.
const DefaultRedisHash = "meridian:geocode_cache"

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// RedisStore keeps every cache entry as a field of one Redis hash. Only the
// keys written since the last flush are sent on Save.
type RedisStore struct {
	client RedisClient
	hash   string
}

// NewRedisStore returns a store writing into the given hash.
func NewRedisStore(client RedisClient, hash string) *RedisStore {
	if hash == "" {
		hash = DefaultRedisHash
	}
	return &RedisStore{client: client, hash: hash}
}

// NewRedisClient connects to the server described by a redis:// URL.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// Load reads the whole hash. Fields that do not decode are skipped.
func (s *RedisStore) Load(ctx context.Context) (map[string]*models.GeocodeResult, error) {
	fields, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache hash: %w", err)
	}

	out := make(map[string]*models.GeocodeResult, len(fields))
	for key, value := range fields {
		if value == "null" {
			out[key] = nil
			continue
		}
		var res models.GeocodeResult
		if json.Unmarshal([]byte(value), &res) != nil {
			continue
		}
		out[key] = &res
	}

	return out, nil
}

// Save writes the dirty keys in a single HSET.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	if len(snap.Dirty) == 0 {
		return nil
	}

	values := make([]any, 0, 2*len(snap.Dirty))
	for _, key := range snap.Dirty {
		encoded, err := json.Marshal(snap.Entries[key])
		if err != nil {
			return fmt.Errorf("failed to encode cache entry %q: %w", key, err)
		}
		values = append(values, key, string(encoded))
	}

	if err := s.client.HSet(ctx, s.hash, values...).Err(); err != nil {
		return fmt.Errorf("failed to write cache hash: %w", err)
	}
	return nil
}
