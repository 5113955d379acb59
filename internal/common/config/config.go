// Package config loads server configuration from environment variables and
// an optional config file via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// ReadTimeoutDuration parses the read timeout, defaulting to 15s.
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return parseDuration(s.ReadTimeout, 15*time.Second)
}

// WriteTimeoutDuration parses the write timeout, defaulting to 30s.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return parseDuration(s.WriteTimeout, 30*time.Second)
}

// DatabaseConfig selects and configures the task repository backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, memory
	DSN    string `mapstructure:"dsn"`
}

// NATSConfig holds the event bus connection settings.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// GitLabConfig holds GitLab API access and webhook settings.
type GitLabConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Token         string `mapstructure:"token"`
	BotAccountID  int64  `mapstructure:"bot_account_id"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	TriggerToken  string `mapstructure:"trigger_token"`
	DefaultRef    string `mapstructure:"default_ref"`
}

// TasksConfig bounds the task execution budget and token pricing.
type TasksConfig struct {
	BudgetMinutes      int     `mapstructure:"budget_minutes"`
	AppSecret          string  `mapstructure:"app_secret"`
	InputPricePerMTok  float64 `mapstructure:"input_price_per_mtok"`
	OutputPricePerMTok float64 `mapstructure:"output_price_per_mtok"`
	APIURL             string  `mapstructure:"api_url"`
}

// JobsConfig controls the background job pool.
type JobsConfig struct {
	Workers  int  `mapstructure:"workers"`
	QueueMax int  `mapstructure:"queue_max"`
	Inline   bool `mapstructure:"inline"` // run jobs synchronously (tests, single-node)
}

// LoggingConfig mirrors logger.LoggingConfig for mapstructure decoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the root configuration tree.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	GitLab   GitLabConfig   `mapstructure:"gitlab"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Load reads configuration from VUNNIX_* environment variables and an
// optional vunnix.yaml in the working directory or /etc/vunnix.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vunnix.db")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("gitlab.base_url", "https://gitlab.com")
	v.SetDefault("gitlab.default_ref", "main")
	v.SetDefault("tasks.budget_minutes", 60)
	v.SetDefault("tasks.input_price_per_mtok", 5.0)
	v.SetDefault("tasks.output_price_per_mtok", 25.0)
	v.SetDefault("tasks.api_url", "http://localhost:8080")
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_max", 1024)
	v.SetDefault("jobs.inline", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix("VUNNIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("vunnix")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vunnix")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env + defaults are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Tasks.AppSecret == "" {
		return nil, fmt.Errorf("tasks.app_secret (VUNNIX_TASKS_APP_SECRET) is required")
	}

	return &cfg, nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
