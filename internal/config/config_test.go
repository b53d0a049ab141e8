package config_test

import (
	"testing"
	"time"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/meridian/internal/config"
	"github.com/stretchr/testify/assert"
)

func Test_MustLoadFromEnv(t *testing.T) {
	t.Setenv("MERIDIAN_ENV", "local")
	t.Setenv("MERIDIAN_INTERVAL", "10m")
	t.Setenv("MERIDIAN_PROVIDER_KEY", "testAPIKey")
	t.Setenv("MERIDIAN_TRANSIENT_STATUSES", "429, 503")
	t.Setenv("MERIDIAN_CHECK_DISTANCE", "false")
	t.Setenv("DB_HOST", "testHost")
	t.Setenv("DB_PORT", "12345")
	t.Setenv("DB_USERNAME", "admin")
	t.Setenv("DB_PASSWORD", "adminpass")
	t.Setenv("DB_NAME", "testName")

	cfg := config.MustLoad()

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "testHost", cfg.Database.Host)
	assert.Equal(t, "12345", cfg.Database.Port)
	assert.Equal(t, "admin", cfg.Database.User)
	assert.Equal(t, "adminpass", cfg.Database.Password)
	assert.Equal(t, "testName", cfg.Database.Name)
	assert.Equal(t, 10*time.Minute, cfg.Interval)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "amap", cfg.Provider.Type)
	assert.Equal(t, "testAPIKey", cfg.Provider.APIKey)
	assert.Equal(t, []int{429, 503}, cfg.Provider.TransientStatuses)
	assert.InDelta(t, 3.0, cfg.Provider.RateLimit, 1e-9)
	assert.Equal(t, 10, cfg.Workers)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BackoffUnit)
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.Equal(t, 10, cfg.Cache.CheckpointEvery)
	assert.True(t, cfg.Validation.Locality)
	assert.False(t, cfg.Validation.Distance)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
}

func TestMustLoad_ConfigFile(t *testing.T) {
	defer filet.CleanUp(t)
	dir := filet.TmpDir(t, "")
	file := filet.File(t, dir+"/meridian.yaml", `
provider_type: nominatim
workers: 3
cache_backend: redis
redis_url: redis://localhost:6379/0
db:
  host: filehost
`)
	t.Setenv("MERIDIAN_CONFIG_FILE", file.Name())
	t.Setenv("MERIDIAN_WORKERS", "7")

	cfg := config.MustLoad()

	assert.Equal(t, "nominatim", cfg.Provider.Type)
	assert.Equal(t, 7, cfg.Workers, "environment wins over the file")
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, "filehost", cfg.Database.Host)
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := config.PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", Name: "meridian"}

	assert.Equal(t, "postgres://u:p%40ss@db:5432/meridian", cfg.DSN())
}

func TestMustLoad_Errors(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"MERIDIAN_INTERVAL", "failed to parse interval from configuration"},
		{"MERIDIAN_HEALTH_PORT", "failed to parse port for monitoring server from configuration"},
		{"MERIDIAN_WORKERS", "failed to parse workers from configuration, must be a positive integer"},
		{"MERIDIAN_BATCH_SIZE", "failed to parse batch size from configuration, must be a positive integer"},
		{"MERIDIAN_RATE_LIMIT", "failed to parse rate limit from configuration"},
		{"MERIDIAN_TRANSIENT_STATUSES", "failed to parse transient statuses from configuration"},
		{"MERIDIAN_MAX_RETRIES", "failed to parse max retries from configuration"},
		{"MERIDIAN_BACKOFF_UNIT", "failed to parse backoff unit from configuration"},
		{"MERIDIAN_CACHE_CHECKPOINT", "failed to parse cache checkpoint from configuration"},
		{"MERIDIAN_CONFIG_FILE", "failed to read configuration file"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, "error_value")

			assert.PanicsWithValue(t, tt.want, func() {
				config.MustLoad()
			})
		})
	}

	t.Run("zero workers", func(t *testing.T) {
		t.Setenv("MERIDIAN_WORKERS", "0")

		assert.PanicsWithValue(t, "failed to parse workers from configuration, must be a positive integer", func() {
			config.MustLoad()
		})
	})
}
