package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig                 `mapstructure:"server"`
	Auth         AuthConfig                   `mapstructure:"auth"`
	Database     DatabaseConfig               `mapstructure:"database"`
	Redis        RedisConfig                  `mapstructure:"redis"`
	Scheduler    SchedulerConfig              `mapstructure:"scheduler"`
	Credits      CreditsConfig                `mapstructure:"credits"`
	Marketplaces map[string]MarketplaceConfig `mapstructure:"marketplaces"`
	Metrics      MetricsConfig                `mapstructure:"metrics"`
	Log          LogConfig                    `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	APIKey        string `mapstructure:"api_key"`
	AdminKey      string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	DSN                 string `mapstructure:"dsn"`
	ActionRetentionDays int    `mapstructure:"action_retention_days"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SchedulerConfig struct {
	IntervalSeconds  int `mapstructure:"interval_seconds"`
	Workers          int `mapstructure:"workers"`
	ListingTimeoutMs int `mapstructure:"listing_timeout_ms"`
	RetryAttempts    int `mapstructure:"retry_attempts"`
	RetryBaseMs      int `mapstructure:"retry_base_ms"`
}

type CreditsConfig struct {
	MonitorCost int64 `mapstructure:"monitor_cost"`
	RepriceCost int64 `mapstructure:"reprice_cost"`
}

// MarketplaceConfig carries the per-marketplace endpoints and rate budget.
// Regional variants of one family (amazon_us, amazon_eu, ...) each get their
// own entry pointing at the regional endpoint.
type MarketplaceConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	StreamURL string  `mapstructure:"stream_url"`
	QPS       float64 `mapstructure:"qps"`
	Burst     int     `mapstructure:"burst"`
	TimeoutMs int     `mapstructure:"timeout_ms"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SchedulerConfig) ListingTimeout() time.Duration {
	return time.Duration(s.ListingTimeoutMs) * time.Millisecond
}

func (s SchedulerConfig) RetryBase() time.Duration {
	return time.Duration(s.RetryBaseMs) * time.Millisecond
}

func (m MarketplaceConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. REPRICER_DATABASE_DSN
	viper.SetEnvPrefix("repricer")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("auth.admin_key", "")
	viper.SetDefault("database.action_retention_days", 90)
	viper.SetDefault("scheduler.interval_seconds", 300)
	viper.SetDefault("scheduler.workers", 8)
	viper.SetDefault("scheduler.listing_timeout_ms", 30000)
	viper.SetDefault("scheduler.retry_attempts", 3)
	viper.SetDefault("scheduler.retry_base_ms", 500)
	viper.SetDefault("credits.monitor_cost", 1)
	viper.SetDefault("credits.reprice_cost", 5)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
