package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Auth     AuthConfig     `mapstructure:"auth"`
	TTL      TTLConfig      `mapstructure:"ttl"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         []string `mapstructure:"brokers"`
	ConsumerGroupID string   `mapstructure:"consumer_group_id"`
	Topics          []string `mapstructure:"topics"`
}

// BackendConfig points at the agri backend REST API.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is requests per second across all sessions; 0 disables it.
	RateLimit          float64       `mapstructure:"rate_limit"`
	RateBurst          int           `mapstructure:"rate_burst"`
	PreferenceCacheTTL time.Duration `mapstructure:"preference_cache_ttl"`
}

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	PageSize int           `mapstructure:"page_size"`
}

type AuthConfig struct {
	SessionSecret string        `mapstructure:"session_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

type TTLConfig struct {
	RetentionDays int    `mapstructure:"retention_days"` // Default: 30
	Schedule      string `mapstructure:"schedule"`       // cron spec, default @daily
}

// ErrMissingSecret is returned outside development when no session secret is set.
var ErrMissingSecret = errors.New("auth.session_secret is required")

const devSecret = "cropalert-dev-secret"

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: CROPALERT_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "cropalert")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group_id", "cropalert-group")
	v.SetDefault("kafka.topics", []string{"alert-events", "preference-events", "alert-commands"})
	v.SetDefault("backend.base_url", "http://localhost:5000")
	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.rate_limit", 20.0)
	v.SetDefault("backend.rate_burst", 20)
	v.SetDefault("backend.preference_cache_ttl", 30*time.Second)
	v.SetDefault("poller.interval", 30*time.Second)
	v.SetDefault("poller.page_size", 1)
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("ttl.retention_days", 30)
	v.SetDefault("ttl.schedule", "@daily")

	// Environment variables (e.g. CROPALERT_DATABASE_HOST -> database.host)
	v.SetEnvPrefix("CROPALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("backend.base_url", "AGRI_API_URL")
	v.BindEnv("auth.session_secret", "SESSION_SECRET")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Auth.SessionSecret == "" {
		if cfg.Server.Env == "production" {
			return nil, ErrMissingSecret
		}
		cfg.Auth.SessionSecret = devSecret
	}

	return &cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}
