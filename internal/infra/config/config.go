package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv    string `envconfig:"APP_ENV" default:"dev"`
	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	Port      int    `envconfig:"PORT" default:"5000"`

	DBPath string `envconfig:"FEEDBACK_DB_PATH" default:"feedback.db"`
	PGDSN  string `envconfig:"PG_DSN"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`

	BatchMaxBytes int64 `envconfig:"API_BATCH_MAX_BYTES" default:"16777216"`

	Events struct {
		Sink      string `envconfig:"EVENTS_SINK" default:"none"`
		RedisKey  string `envconfig:"EVENTS_REDIS_KEY" default:"feedback_events"`
		AMQPURL   string `envconfig:"AMQP_URL"`
		AMQPQueue string `envconfig:"EVENTS_AMQP_QUEUE" default:"feedback_events"`
	} `envconfig:""`

	Sync struct {
		APIURL         string        `envconfig:"SYNC_API_URL" default:"http://localhost:5000"`
		Interval       time.Duration `envconfig:"SYNC_INTERVAL" default:"60s"`
		RetryAttempts  int           `envconfig:"SYNC_RETRY_ATTEMPTS" default:"3"`
		RetryDelay     time.Duration `envconfig:"SYNC_RETRY_DELAY" default:"2s"`
		RequestTimeout time.Duration `envconfig:"SYNC_REQUEST_TIMEOUT" default:"10s"`
		BatchSize      int           `envconfig:"SYNC_BATCH_SIZE" default:"500"`
		BatchMaxBytes  int           `envconfig:"SYNC_BATCH_MAX_BYTES" default:"524288"`
	} `envconfig:""`

	Cache struct {
		Backend    string `envconfig:"CACHE_BACKEND" default:"file"`
		Dir        string `envconfig:"CACHE_DIR" default:".feedback-cache"`
		QuotaBytes int64  `envconfig:"CACHE_QUOTA_BYTES" default:"5242880"`
		RedisKey   string `envconfig:"CACHE_REDIS_PREFIX" default:"feedback:"`
	} `envconfig:""`
}

// Validate проверяет согласованность настроек.
func (c AppConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT вне диапазона: %d", c.Port)
	}
	if c.Sync.Interval <= 0 {
		return errors.New("SYNC_INTERVAL должен быть положительным")
	}
	if c.Sync.RetryAttempts < 1 {
		return errors.New("SYNC_RETRY_ATTEMPTS должен быть не меньше 1")
	}
	if c.Sync.RetryDelay < 0 {
		return errors.New("SYNC_RETRY_DELAY не может быть отрицательным")
	}
	if c.BatchMaxBytes <= 0 {
		return errors.New("API_BATCH_MAX_BYTES должен быть положительным")
	}
	if c.Sync.BatchSize < 1 || c.Sync.BatchMaxBytes < 1 {
		return errors.New("SYNC_BATCH_SIZE и SYNC_BATCH_MAX_BYTES должны быть положительными")
	}
	if int64(c.Sync.BatchMaxBytes) >= c.BatchMaxBytes {
		return fmt.Errorf("SYNC_BATCH_MAX_BYTES (%d) должен быть меньше API_BATCH_MAX_BYTES (%d)", c.Sync.BatchMaxBytes, c.BatchMaxBytes)
	}
	switch c.Events.Sink {
	case "none", "redis", "amqp":
	default:
		return fmt.Errorf("неизвестный EVENTS_SINK: %q", c.Events.Sink)
	}
	switch c.Cache.Backend {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("неизвестный CACHE_BACKEND: %q", c.Cache.Backend)
	}
	return nil
}

// Parse читает .env (если есть) и окружение.
func Parse() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("чтение .env: %w", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("разбор окружения: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
