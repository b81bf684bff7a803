package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "metachat.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "METACHAT_PORT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "METACHAT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "METACHAT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "METACHAT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "METACHAT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "METACHAT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setInt(&cfg.Queue.Prefetch, "METACHAT_QUEUE_PREFETCH")
	setInt(&cfg.Queue.MaxRetries, "METACHAT_QUEUE_MAX_RETRIES")
	setDuration(&cfg.Queue.InitialRetryDelay, "METACHAT_QUEUE_INITIAL_RETRY_DELAY")
	setFloat64(&cfg.Queue.BackoffMultiplier, "METACHAT_QUEUE_BACKOFF_MULTIPLIER")
	setDuration(&cfg.Queue.VisibilityTimeout, "METACHAT_QUEUE_VISIBILITY_TIMEOUT")
	setDuration(&cfg.Cache.TTL, "METACHAT_CACHE_TTL")
	setInt64(&cfg.Cache.MaxEntries, "METACHAT_CACHE_MAX_ENTRIES")
	setInt(&cfg.Pipeline.MaxToolIterations, "METACHAT_PIPELINE_MAX_TOOL_ITERATIONS")
	setInt(&cfg.Pipeline.HistoryLimit, "METACHAT_PIPELINE_HISTORY_LIMIT")
	setInt(&cfg.Pipeline.ContextChunkChars, "METACHAT_PIPELINE_CONTEXT_CHUNK_CHARS")
	setString(&cfg.Embeddings.Provider, "METACHAT_EMBEDDINGS_PROVIDER")
	setString(&cfg.Embeddings.Model, "METACHAT_EMBEDDINGS_MODEL")
	setInt(&cfg.Embeddings.Dimensions, "METACHAT_EMBEDDINGS_DIMENSIONS")
	setString(&cfg.Logging.Level, "METACHAT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "METACHAT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "METACHAT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "METACHAT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "METACHAT_BREAKER_TIMEOUT")
	setBool(&cfg.Telemetry.Enabled, "METACHAT_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "METACHAT_OTEL_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "METACHAT_OTEL_INSECURE")

	// Per-provider credentials: METACHAT_PROVIDER_<NAME>_* would be unwieldy;
	// only the common cases get dedicated variables.
	overlayProvider(cfg, "openai", "OPENAI_BASE_URL", "OPENAI_API_KEY")
	overlayProvider(cfg, "anthropic", "ANTHROPIC_BASE_URL", "ANTHROPIC_API_KEY")
}

func overlayProvider(cfg *Config, name, baseURLKey, apiKeyKey string) {
	p := cfg.Providers[name]
	setString(&p.BaseURL, baseURLKey)
	setString(&p.APIKey, apiKeyKey)
	if p.BaseURL != "" || p.APIKey != "" {
		if cfg.Providers == nil {
			cfg.Providers = Providers{}
		}
		cfg.Providers[name] = p
	}
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Queue.Prefetch < 1 {
		return errors.New("queue.prefetch must be >= 1")
	}
	if cfg.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries must be >= 0")
	}
	if cfg.Queue.BackoffMultiplier < 1 {
		return errors.New("queue.backoff_multiplier must be >= 1")
	}
	if cfg.Queue.VisibilityTimeout <= 0 {
		return errors.New("queue.visibility_timeout must be positive")
	}
	if cfg.Pipeline.MaxToolIterations < 1 {
		return errors.New("pipeline.max_tool_iterations must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
