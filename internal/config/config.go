// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	DB      DBConfig      `mapstructure:"db"`
	Browser BrowserConfig `mapstructure:"browser"`
	Scrape  QueueConfig   `mapstructure:"scrape"`
	Notify  QueueConfig   `mapstructure:"notify"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// RedisConfig points at the Redis instance backing the durable queues.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory keyword store (local development only).
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// BrowserConfig governs headless browser sessions.
type BrowserConfig struct {
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	SettleMillis      int      `mapstructure:"settle_millis"`
	ProxyEnabled      bool     `mapstructure:"proxy_enabled"`
	ProxyListURLs     []string `mapstructure:"proxy_list_urls"`
}

// QueueConfig configures one durable queue and its consumer pool.
type QueueConfig struct {
	Stream           string `mapstructure:"stream"`
	Concurrency      int    `mapstructure:"concurrency"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	StalledIdleSec   int    `mapstructure:"stalled_idle_seconds"`
}

// UploadConfig bounds the keyword CSV upload endpoint.
type UploadConfig struct {
	MaxKeywords int `mapstructure:"max_keywords"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SERPSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.settle_millis", 500)
	v.SetDefault("browser.proxy_enabled", false)
	v.SetDefault("browser.proxy_list_urls", []string{
		"https://cdn.jsdelivr.net/gh/proxifly/free-proxy-list@main/proxies/protocols/http/data.txt",
		"https://cdn.jsdelivr.net/gh/proxifly/free-proxy-list@main/proxies/protocols/https/data.txt",
	})
	v.SetDefault("scrape.stream", "serpscout:scrape")
	v.SetDefault("scrape.concurrency", 4)
	v.SetDefault("scrape.max_attempts", 5)
	v.SetDefault("scrape.backoff_initial_ms", 5000)
	v.SetDefault("scrape.backoff_max_ms", 300000)
	v.SetDefault("scrape.stalled_idle_seconds", 60)
	v.SetDefault("notify.stream", "serpscout:noti")
	v.SetDefault("notify.concurrency", 2)
	v.SetDefault("notify.max_attempts", 10)
	v.SetDefault("notify.backoff_initial_ms", 1000)
	v.SetDefault("notify.backoff_max_ms", 60000)
	v.SetDefault("notify.stalled_idle_seconds", 30)
	v.SetDefault("upload.max_keywords", 100)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set")
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Upload.MaxKeywords <= 0 {
		return fmt.Errorf("upload.max_keywords must be > 0")
	}
	for name, q := range map[string]QueueConfig{"scrape": c.Scrape, "notify": c.Notify} {
		if q.Stream == "" {
			return fmt.Errorf("%s.stream must be set", name)
		}
		if q.Concurrency <= 0 {
			return fmt.Errorf("%s.concurrency must be > 0", name)
		}
		if q.MaxAttempts <= 0 {
			return fmt.Errorf("%s.max_attempts must be > 0", name)
		}
		if q.BackoffInitialMs <= 0 {
			return fmt.Errorf("%s.backoff_initial_ms must be > 0", name)
		}
	}
	return nil
}

// NavTimeout converts the browser navigation timeout into a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// Settle returns the post-load settle wait applied before reading content.
func (c BrowserConfig) Settle() time.Duration {
	return time.Duration(c.SettleMillis) * time.Millisecond
}

// BackoffInitial converts the initial backoff into a duration.
func (q QueueConfig) BackoffInitial() time.Duration {
	return time.Duration(q.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts the backoff cap into a duration.
func (q QueueConfig) BackoffMax() time.Duration {
	return time.Duration(q.BackoffMaxMs) * time.Millisecond
}

// StalledIdle converts the stalled-delivery reclaim threshold into a duration.
func (q QueueConfig) StalledIdle() time.Duration {
	return time.Duration(q.StalledIdleSec) * time.Second
}
