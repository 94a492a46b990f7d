package config

import (
	"os"
	"strings"

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
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
	AI        AIConfig
	Media     MediaConfig
	Storage   StorageConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	SubmitPerHour int
	StatusPerMin  int
}

// WorkerConfig holds the worker runtime settings. SoftTimeoutSec asks
// the executor to stop; HardTimeoutSec forcibly terminates the attempt.
// The margin between the two must leave room for a terminal state write.
type WorkerConfig struct {
	Concurrency    int
	MaxRetry       int
	SoftTimeoutSec int
	HardTimeoutSec int
	BackoffBaseSec int
	Simulate       bool
}

type AIConfig struct {
	APIKey      string
	BaseURL     string
	ImageModel  string
	SpeechModel string
}

type MediaConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("OPENAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.max_retry", "WORKER_MAX_RETRY")
	_ = viper.BindEnv("worker.soft_timeout_sec", "WORKER_SOFT_TIMEOUT_SEC")
	_ = viper.BindEnv("worker.hard_timeout_sec", "WORKER_HARD_TIMEOUT_SEC")
	_ = viper.BindEnv("worker.backoff_base_sec", "WORKER_BACKOFF_BASE_SEC")
	_ = viper.BindEnv("worker.simulate", "WORKER_SIMULATE")
	_ = viper.BindEnv("ai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("ai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("ai.image_model", "OPENAI_IMAGE_MODEL")
	_ = viper.BindEnv("ai.speech_model", "OPENAI_SPEECH_MODEL")
	_ = viper.BindEnv("media.service_url", "MEDIA_SERVICE_URL")
	_ = viper.BindEnv("media.timeout", "MEDIA_TIMEOUT")
	_ = viper.BindEnv("storage.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("storage.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = viper.BindEnv("ratelimit.status_per_min", "RATELIMIT_STATUS_PER_MIN")

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.max_retry", 3)
	viper.SetDefault("worker.soft_timeout_sec", 300)
	viper.SetDefault("worker.hard_timeout_sec", 330)
	viper.SetDefault("worker.backoff_base_sec", 5)
	viper.SetDefault("worker.simulate", false)
	viper.SetDefault("media.timeout", 120)
	viper.SetDefault("ratelimit.submit_per_hour", 30)
	viper.SetDefault("ratelimit.status_per_min", 120)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
			StatusPerMin:  viper.GetInt("ratelimit.status_per_min"),
		},
		Worker: WorkerConfig{
			Concurrency:    viper.GetInt("worker.concurrency"),
			MaxRetry:       viper.GetInt("worker.max_retry"),
			SoftTimeoutSec: viper.GetInt("worker.soft_timeout_sec"),
			HardTimeoutSec: viper.GetInt("worker.hard_timeout_sec"),
			BackoffBaseSec: viper.GetInt("worker.backoff_base_sec"),
			Simulate:       viper.GetBool("worker.simulate"),
		},
		AI: AIConfig{
			APIKey:      viper.GetString("ai.api_key"),
			BaseURL:     viper.GetString("ai.base_url"),
			ImageModel:  viper.GetString("ai.image_model"),
			SpeechModel: viper.GetString("ai.speech_model"),
		},
		Media: MediaConfig{
			ServiceURL: viper.GetString("media.service_url"),
			Timeout:    viper.GetInt("media.timeout"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
	}

	return cfg, nil
}
