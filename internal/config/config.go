// Package config loads the process configuration from the environment (and a
// .env file when present). Every key has a default except the gateway URL and,
// for the postgres driver, the database URL.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	SMS       SMSConfig
	Content   ContentConfig
	Schedule  ScheduleConfig
	Dispatch  DispatchConfig
	Retention RetentionConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Address string `envconfig:"SERVER_ADDRESS" default:":8080" validate:"required"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	File   string `envconfig:"LOG_FILE"`
}

type DatabaseConfig struct {
	Driver      string `envconfig:"STORE_DRIVER" default:"postgres" validate:"oneof=postgres memory"`
	PostgresURL string `envconfig:"POSTGRES_URL" validate:"required_if=Driver postgres"`
	MaxConns    int32  `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns    int32  `envconfig:"DB_MIN_CONNS" default:"1" validate:"gte=0,ltefield=MaxConns"`
}

type RedisConfig struct {
	Enabled  bool          `ignored:"true"`
	Address  string        `envconfig:"REDIS_ADDR"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	TTL      time.Duration `envconfig:"REDIS_TTL" default:"24h" validate:"gt=0"`
}

type SMSConfig struct {
	GatewayURL string        `envconfig:"SMS_GATEWAY_URL" validate:"required,url"`
	ContentMax int           `envconfig:"SMS_CONTENT_MAX" default:"160" validate:"gt=3"`
	Timeout    time.Duration `envconfig:"SMS_TIMEOUT" default:"10s" validate:"gt=0"`
}

type ContentConfig struct {
	APIURL          string        `envconfig:"CONTENT_API_URL" validate:"omitempty,url"`
	APIKey          string        `envconfig:"CONTENT_API_KEY"`
	Model           string        `envconfig:"CONTENT_MODEL" default:"gpt-4o-mini"`
	EstimatedTokens int           `envconfig:"CONTENT_ESTIMATED_TOKENS" default:"300" validate:"gt=0"`
	Timeout         time.Duration `envconfig:"CONTENT_TIMEOUT" default:"20s" validate:"gt=0"`
}

type ScheduleConfig struct {
	Interval  time.Duration `envconfig:"SCHEDULE_INTERVAL" default:"24h" validate:"gt=0"`
	Lookahead time.Duration `envconfig:"SCHEDULE_LOOKAHEAD" default:"72h" validate:"gt=0"`
	BatchSize int           `envconfig:"SCHEDULE_BATCH_SIZE" default:"10" validate:"gt=0"`
	History   time.Duration `envconfig:"SCHEDULE_HISTORY" default:"168h" validate:"gte=0"`
}

type DispatchConfig struct {
	Interval   time.Duration `envconfig:"DISPATCH_INTERVAL" default:"5m" validate:"min=1m,max=10m"`
	BatchSize  int           `envconfig:"DISPATCH_BATCH_SIZE" default:"100" validate:"gt=0"`
	Workers    int           `envconfig:"DISPATCH_WORKERS" default:"4" validate:"gt=0"`
	MaxRetries int           `envconfig:"DISPATCH_MAX_RETRIES" default:"3" validate:"gt=0"`
}

type RetentionConfig struct {
	Interval   time.Duration `envconfig:"RETENTION_INTERVAL" default:"24h" validate:"gt=0"`
	Days       int           `envconfig:"RETENTION_DAYS" default:"30" validate:"gt=0"`
	ArchiveDir string        `envconfig:"RETENTION_ARCHIVE_DIR"`
}

type RateLimitConfig struct {
	ContentTokensPerMin   int           `envconfig:"RATE_CONTENT_TOKENS_PER_MIN" default:"20000" validate:"gt=0"`
	ContentRequestsPerMin int           `envconfig:"RATE_CONTENT_REQUESTS_PER_MIN" default:"100" validate:"gt=0"`
	SMSPerSecond          int           `envconfig:"RATE_SMS_PER_SECOND" default:"5" validate:"gt=0"`
	SMSPerDay             int           `envconfig:"RATE_SMS_PER_DAY" default:"2000" validate:"gt=0"`
	BackoffAttempts       int           `envconfig:"RATE_BACKOFF_ATTEMPTS" default:"3" validate:"gt=0"`
	BackoffBase           time.Duration `envconfig:"RATE_BACKOFF_BASE" default:"1s" validate:"gt=0"`
	BackoffMax            time.Duration `envconfig:"RATE_BACKOFF_MAX" default:"30s" validate:"gtefield=BackoffBase"`
}

// LoadAll reads .env (if any), then the environment, and validates the
// result. Errors name the offending environment keys.
func LoadAll() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Redis.Enabled = cfg.Redis.Address != ""

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", describe(err))
	}
	return &cfg, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if key := f.Tag.Get("envconfig"); key != "" {
			return key
		}
		return f.Name
	})
	return v
}

// describe turns validator output into one line per offending key.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}
