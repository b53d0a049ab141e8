package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every setting read from the environment, except
// the database settings which keep their conventional DB_* names.
const EnvPrefix = "MERIDIAN"

// Config holds the configuration settings for meridian.
//
// Fields:
// - Env: The current environment (e.g., local, development, production).
// - Port: The port for the monitoring server.
// - Provider: Which geocoding provider to use and how to reach it.
// - Workers: The number of concurrent workers for processing requests.
// - Interval: The duration between polls of the places queue.
// - Cache: Where the result cache is persisted.
// - Validation: Which result checks are enabled.
// - LLM: The chat completion endpoint used by the clean command.
// - Database: Configuration settings for the PostgreSQL database.
type Config struct {
	Env        string           // Env is the current environment: local, development, production.
	Port       int              // Port is the monitoring server port.
	Provider   ProviderConfig   // Provider selects the geocoding backend.
	Workers    int              // The number of concurrent workers for processing requests.
	Interval   time.Duration    // The duration between polls.
	BatchSize  int              // The number of places fetched per poll.
	AddrPrefix string           // Levels prepended to every address.
	Retry      RetryConfig      // Retry holds the batch retry policy.
	Cache      CacheConfig      // Cache holds the result cache backend.
	Validation ValidationConfig // Validation toggles result checks.
	LLM        LLMConfig        // LLM is the chat completion endpoint.
	Database   PostgresConfig   // Database holds the postgres database configuration
}

// ProviderConfig describes the geocoding provider.
type ProviderConfig struct {
	Type              string  // Type is one of amap, google, nominatim, visicom.
	APIKey            string  // APIKey is required by every provider except nominatim.
	BaseURL           string  // BaseURL overrides the provider endpoint.
	TransientStatuses []int   // TransientStatuses are HTTP statuses worth retrying.
	RateLimit         float64 // RateLimit is the request rate in tokens per second, 0 means unlimited.
	RateCapacity      int     // RateCapacity is the token bucket size.
}

// RetryConfig is the retry policy of batch items.
type RetryConfig struct {
	MaxRetries  int
	BackoffBase float64
	BackoffUnit time.Duration
}

// CacheConfig selects the store of the result cache.
type CacheConfig struct {
	Backend         string // Backend is one of file, redis, postgres, memory.
	Path            string // Path is the JSON file of the file backend.
	RedisURL        string // RedisURL is the redis:// URL of the redis backend.
	RedisHash       string // RedisHash is the hash holding the entries.
	CheckpointEvery int    // CheckpointEvery is the number of writes between flushes.
}

// ValidationConfig toggles the result checks.
type ValidationConfig struct {
	Locality      bool
	Distance      bool
	ReferenceFile string // ReferenceFile is an optional JSON file of extra city centres.
}

// LLMConfig describes the OpenAI compatible endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string // Host is the database server address.
	Port     string // Port is the database server port.
	User     string // User is the database user.
	Password string // Password is the database user's password.
	Name     string // Name is the name of the database.
}

// DSN renders the connection string understood by pgx.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + p.Port,
		Path:   p.Name,
	}
	return u.String()
}

// MustLoad reads .env, the optional file named by MERIDIAN_CONFIG_FILE and the
// environment, and returns the resulting Config. Invalid values panic.
func MustLoad() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for key, env := range map[string]string{
		"db.host":     "DB_HOST",
		"db.port":     "DB_PORT",
		"db.username": "DB_USERNAME",
		"db.password": "DB_PASSWORD",
		"db.name":     "DB_NAME",
	} {
		_ = v.BindEnv(key, env)
	}
	_ = v.BindEnv("llm_base_url", EnvPrefix+"_LLM_BASE_URL", "OPENAI_BASE_URL")
	_ = v.BindEnv("llm_api_key", EnvPrefix+"_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("llm_model", EnvPrefix+"_LLM_MODEL", "OPENAI_MODEL")

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			panic("failed to read configuration file")
		}
	}

	interval, err := time.ParseDuration(v.GetString("interval"))
	if err != nil {
		panic("failed to parse interval from configuration")
	}

	healthPort, err := strconv.Atoi(v.GetString("health_port"))
	if err != nil {
		panic("failed to parse port for monitoring server from configuration")
	}

	workers, err := strconv.Atoi(v.GetString("workers"))
	if err != nil || workers < 1 {
		panic("failed to parse workers from configuration, must be a positive integer")
	}

	batchSize, err := strconv.Atoi(v.GetString("batch_size"))
	if err != nil || batchSize < 1 {
		panic("failed to parse batch size from configuration, must be a positive integer")
	}

	rateLimit, err := strconv.ParseFloat(v.GetString("rate_limit"), 64)
	if err != nil {
		panic("failed to parse rate limit from configuration")
	}

	rateCapacity, err := strconv.Atoi(v.GetString("rate_capacity"))
	if err != nil {
		panic("failed to parse rate capacity from configuration")
	}

	statuses, err := parseStatuses(v.GetString("transient_statuses"))
	if err != nil {
		panic("failed to parse transient statuses from configuration")
	}

	maxRetries, err := strconv.Atoi(v.GetString("max_retries"))
	if err != nil || maxRetries < 0 {
		panic("failed to parse max retries from configuration")
	}

	backoffBase, err := strconv.ParseFloat(v.GetString("backoff_base"), 64)
	if err != nil || backoffBase <= 0 {
		panic("failed to parse backoff base from configuration")
	}

	backoffUnit, err := time.ParseDuration(v.GetString("backoff_unit"))
	if err != nil {
		panic("failed to parse backoff unit from configuration")
	}

	checkpoint, err := strconv.Atoi(v.GetString("cache_checkpoint"))
	if err != nil || checkpoint < 1 {
		panic("failed to parse cache checkpoint from configuration")
	}

	llmTimeout, err := time.ParseDuration(v.GetString("llm_timeout"))
	if err != nil {
		panic("failed to parse llm timeout from configuration")
	}

	return &Config{
		Env:  v.GetString("env"),
		Port: healthPort,
		Provider: ProviderConfig{
			Type:              v.GetString("provider_type"),
			APIKey:            v.GetString("provider_key"),
			BaseURL:           v.GetString("provider_base_url"),
			TransientStatuses: statuses,
			RateLimit:         rateLimit,
			RateCapacity:      rateCapacity,
		},
		Workers:    workers,
		Interval:   interval,
		BatchSize:  batchSize,
		AddrPrefix: v.GetString("address_prefix"),
		Retry: RetryConfig{
			MaxRetries:  maxRetries,
			BackoffBase: backoffBase,
			BackoffUnit: backoffUnit,
		},
		Cache: CacheConfig{
			Backend:         v.GetString("cache_backend"),
			Path:            v.GetString("cache_path"),
			RedisURL:        v.GetString("redis_url"),
			RedisHash:       v.GetString("redis_hash"),
			CheckpointEvery: checkpoint,
		},
		Validation: ValidationConfig{
			Locality:      v.GetBool("check_locality"),
			Distance:      v.GetBool("check_distance"),
			ReferenceFile: v.GetString("reference_file"),
		},
		LLM: LLMConfig{
			BaseURL: v.GetString("llm_base_url"),
			APIKey:  v.GetString("llm_api_key"),
			Model:   v.GetString("llm_model"),
			Timeout: llmTimeout,
		},
		Database: PostgresConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.username"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("health_port", "8080")
	v.SetDefault("provider_type", "amap")
	v.SetDefault("transient_statuses", "429,500,502,503,504")
	v.SetDefault("rate_limit", "3")
	v.SetDefault("rate_capacity", "0")
	v.SetDefault("workers", "10")
	v.SetDefault("interval", "10m")
	v.SetDefault("batch_size", "100")
	v.SetDefault("max_retries", "3")
	v.SetDefault("backoff_base", "2")
	v.SetDefault("backoff_unit", "1s")
	v.SetDefault("cache_backend", "file")
	v.SetDefault("cache_path", "data/geocode_cache.json")
	v.SetDefault("cache_checkpoint", "10")
	v.SetDefault("check_locality", true)
	v.SetDefault("check_distance", true)
	v.SetDefault("llm_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("llm_timeout", "120s")
	v.SetDefault("db.port", "5432")
}

func parseStatuses(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid status %q: %w", part, err)
		}
		out = append(out, code)
	}
	return out, nil
}
