package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Postgres   PostgresConfig
	Store      StoreConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Suno       SunoConfig
	R2         R2Config
	Queue      QueueConfig
	Generation GenerationConfig
	Telemetry  TelemetryConfig
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN string
}

// StoreConfig selects the job store backend: redis, postgres or memory.
type StoreConfig struct {
	Driver string
	JobTTL time.Duration // 0 keeps job records forever
}

type JWTConfig struct {
	Secret string

	// JWKSURL enables RS/ES token verification against an identity provider
	JWKSURL  string
	Issuer   string
	Audience string
}

type RateLimitConfig struct {
	GenerationsPerHour int
}

type SunoConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	CallbackURL string
	Timeout     time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// QueueConfig bounds calls to the provider's generate endpoint.
type QueueConfig struct {
	Concurrency int
	Spacing     time.Duration
}

type GenerationConfig struct {
	ShortPollInterval      time.Duration
	ShortWaitTimeout       time.Duration
	BackgroundPollInterval time.Duration
	BackgroundTimeout      time.Duration
	PreflightCredits       bool
	MaxPromptLength        int
}

type TelemetryConfig struct {
	Exporter string // none, stdout or otlp
	Endpoint string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// .env is optional; real env vars win
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_DSN")
	readSecret("SUNO_API_KEY")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("postgres.dsn", "POSTGRES_DSN")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.job_ttl", "STORE_JOB_TTL")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.jwks_url", "JWT_JWKS_URL")
	_ = v.BindEnv("jwt.issuer", "JWT_ISSUER")
	_ = v.BindEnv("jwt.audience", "JWT_AUDIENCE")
	_ = v.BindEnv("ratelimit.generations_per_hour", "RATELIMIT_GENERATIONS_PER_HOUR")
	_ = v.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = v.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = v.BindEnv("suno.model", "SUNO_MODEL")
	_ = v.BindEnv("suno.callback_url", "SUNO_CALLBACK_URL")
	_ = v.BindEnv("suno.timeout", "SUNO_TIMEOUT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY")
	_ = v.BindEnv("queue.spacing", "QUEUE_SPACING")
	_ = v.BindEnv("generation.short_poll_interval", "GENERATION_SHORT_POLL_INTERVAL")
	_ = v.BindEnv("generation.short_wait_timeout", "GENERATION_SHORT_WAIT_TIMEOUT")
	_ = v.BindEnv("generation.background_poll_interval", "GENERATION_BACKGROUND_POLL_INTERVAL")
	_ = v.BindEnv("generation.background_timeout", "GENERATION_BACKGROUND_TIMEOUT")
	_ = v.BindEnv("generation.preflight_credits", "GENERATION_PREFLIGHT_CREDITS")
	_ = v.BindEnv("generation.max_prompt_length", "GENERATION_MAX_PROMPT_LENGTH")
	_ = v.BindEnv("telemetry.exporter", "OTEL_EXPORTER_TYPE")
	_ = v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.job_ttl", "0s")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("ratelimit.generations_per_hour", 20)

	// Suno defaults
	v.SetDefault("suno.base_url", "https://api.sunoapi.org")
	v.SetDefault("suno.model", "V4_5")
	v.SetDefault("suno.timeout", "60s")

	// Provider pacing
	v.SetDefault("queue.concurrency", 1)
	v.SetDefault("queue.spacing", "2s")

	// Short wait bounds caller latency, background window bounds the provider SLA
	v.SetDefault("generation.short_poll_interval", "3s")
	v.SetDefault("generation.short_wait_timeout", "30s")
	v.SetDefault("generation.background_poll_interval", "12s")
	v.SetDefault("generation.background_timeout", "10m")
	v.SetDefault("generation.preflight_credits", true)
	v.SetDefault("generation.max_prompt_length", 3000)

	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.endpoint", "localhost:4317")

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			DSN: v.GetString("postgres.dsn"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("store.driver")),
			JobTTL: v.GetDuration("store.job_ttl"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			JWKSURL:  v.GetString("jwt.jwks_url"),
			Issuer:   v.GetString("jwt.issuer"),
			Audience: v.GetString("jwt.audience"),
		},
		RateLimit: RateLimitConfig{
			GenerationsPerHour: v.GetInt("ratelimit.generations_per_hour"),
		},
		Suno: SunoConfig{
			APIKey:      v.GetString("suno.api_key"),
			BaseURL:     v.GetString("suno.base_url"),
			Model:       v.GetString("suno.model"),
			CallbackURL: v.GetString("suno.callback_url"),
			Timeout:     v.GetDuration("suno.timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Queue: QueueConfig{
			Concurrency: v.GetInt("queue.concurrency"),
			Spacing:     v.GetDuration("queue.spacing"),
		},
		Generation: GenerationConfig{
			ShortPollInterval:      v.GetDuration("generation.short_poll_interval"),
			ShortWaitTimeout:       v.GetDuration("generation.short_wait_timeout"),
			BackgroundPollInterval: v.GetDuration("generation.background_poll_interval"),
			BackgroundTimeout:      v.GetDuration("generation.background_timeout"),
			PreflightCredits:       v.GetBool("generation.preflight_credits"),
			MaxPromptLength:        v.GetInt("generation.max_prompt_length"),
		},
		Telemetry: TelemetryConfig{
			Exporter: strings.ToLower(v.GetString("telemetry.exporter")),
			Endpoint: v.GetString("telemetry.endpoint"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
