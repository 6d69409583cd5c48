// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvLocal = "local"
	EnvDev   = "development"
	EnvProd  = "production"
)

// Config is the top-level application configuration.
type Config struct {
	// Env selects the log format: local, development or production.
	Env      string         `yaml:"env"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Lock     LockConfig     `yaml:"lock"`
	Notifier NotifierConfig `yaml:"notifier"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type StorageConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig holds the scheduling policy.
type ScheduleConfig struct {
	MinTopicLength int     `yaml:"min_topic_length"`
	MinDuration    float64 `yaml:"min_duration_hours"`
	MaxDuration    float64 `yaml:"max_duration_hours"`
	// LookAhead bounds the upcoming listing.
	LookAhead time.Duration `yaml:"look_ahead"`
}

type SweepConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron spec, e.g. "@every 1m" or "*/1 * * * *".
	Schedule string        `yaml:"schedule"`
	Window   time.Duration `yaml:"window"`
}

type LockConfig struct {
	// Driver is "local" or "redis".
	Driver    string        `yaml:"driver"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
}

type NotifierConfig struct {
	// Driver is "log", "rabbitmq" or "kafka".
	Driver           string   `yaml:"driver"`
	RabbitMQURL      string   `yaml:"rabbitmq_url"`
	RabbitMQExchange string   `yaml:"rabbitmq_exchange"`
	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaTopic       string   `yaml:"kafka_topic"`
}

// DefaultConfig returns a configuration that runs a single instance on SQLite.
func DefaultConfig() *Config {
	cfg := &Config{Sweep: SweepConfig{Enabled: true}}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		c.Env = EnvLocal
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst <= 0 {
		c.HTTP.RateBurst = int(c.HTTP.RateLimit) + 1
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "listening-parties.db"
	}
	pg := &c.Storage.Postgres
	if pg.MaxConns <= 0 {
		pg.MaxConns = 20
	}
	if pg.MinConns <= 0 {
		pg.MinConns = 2
	}
	if pg.MaxConnLifetime <= 0 {
		pg.MaxConnLifetime = 30 * time.Minute
	}
	if pg.MaxConnIdleTime <= 0 {
		pg.MaxConnIdleTime = 5 * time.Minute
	}

	if c.Schedule.MinTopicLength <= 0 {
		c.Schedule.MinTopicLength = 6
	}
	if c.Schedule.MinDuration <= 0 {
		c.Schedule.MinDuration = 0.5
	}
	if c.Schedule.MaxDuration <= 0 {
		c.Schedule.MaxDuration = 3
	}
	if c.Schedule.LookAhead <= 0 {
		c.Schedule.LookAhead = 72 * time.Hour
	}

	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "@every 1m"
	}
	if c.Sweep.Window <= 0 {
		c.Sweep.Window = 10 * time.Minute
	}

	if c.Lock.Driver == "" {
		c.Lock.Driver = "local"
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = 10 * time.Second
	}

	if c.Notifier.Driver == "" {
		c.Notifier.Driver = "log"
	}
	if c.Notifier.RabbitMQExchange == "" {
		c.Notifier.RabbitMQExchange = "listening_parties"
	}
	if c.Notifier.KafkaTopic == "" {
		c.Notifier.KafkaTopic = "listening-party-notifications"
	}
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock driver %q", c.Lock.Driver))
	}

	switch c.Notifier.Driver {
	case "log":
	case "rabbitmq":
		if c.Notifier.RabbitMQURL == "" {
			errs = append(errs, errors.New("notifier.rabbitmq_url is required for the rabbitmq driver"))
		}
	case "kafka":
		if len(c.Notifier.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("notifier.kafka_brokers is required for the kafka driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier driver %q", c.Notifier.Driver))
	}

	if c.Schedule.MinDuration > c.Schedule.MaxDuration {
		errs = append(errs, errors.New("schedule.min_duration_hours exceeds schedule.max_duration_hours"))
	}

	return errors.Join(errs...)
}

// Load reads the YAML file at path, applies environment overrides and
// normalizes the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{Sweep: SweepConfig{Enabled: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// MustLoad loads the config at LP_CONFIG_PATH and panics on failure.
func MustLoad() *Config {
	cfg, err := Load(getEnv("LP_CONFIG_PATH", "config/config.yaml"))
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyEnv() {
	c.Env = getEnv("LP_ENV", c.Env)
	c.HTTP.Addr = getEnv("LP_HTTP_ADDR", c.HTTP.Addr)
	c.Storage.Postgres.DSN = getEnv("DATABASE_URL", c.Storage.Postgres.DSN)
	c.Storage.Driver = getEnv("LP_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.SQLite.Path = getEnv("LP_SQLITE_PATH", c.Storage.SQLite.Path)
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Lock.RedisAddr = addr
		c.Lock.Driver = "redis"
	}
	c.Notifier.Driver = getEnv("LP_NOTIFIER", c.Notifier.Driver)
	c.Notifier.RabbitMQURL = getEnv("RABBITMQ_URL", c.Notifier.RabbitMQURL)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Notifier.KafkaBrokers = strings.Split(brokers, ",")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
