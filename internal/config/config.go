// Package config loads lendex configuration from yaml and environment
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root lendex configuration
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Server     ServerConfig     `mapstructure:"server"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"`
	Feeds      FeedsConfig      `mapstructure:"feeds"`
	PriceCache PriceCacheConfig `mapstructure:"price_cache"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PortfolioConfig represents session configuration for the tracked account
type PortfolioConfig struct {
	Account         string        `mapstructure:"account"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	SafetyThreshold float64       `mapstructure:"safety_threshold"`
}

// FeedsConfig represents the lending-API client configuration
type FeedsConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PriceCacheConfig represents the price cache tiers. RedisAddr empty disables
// the shared tier.
type PriceCacheConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
}

// LoadConfig loads configuration from lendex.yaml (working directory or
// ./config) and LENDEX_* environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("lendex")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("LENDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("portfolio.refresh_interval", 30*time.Second)
	v.SetDefault("portfolio.max_retries", 3)
	v.SetDefault("portfolio.retry_backoff", 500*time.Millisecond)
	v.SetDefault("portfolio.safety_threshold", 1.2)
	v.SetDefault("feeds.request_timeout", 10*time.Second)
	v.SetDefault("price_cache.ttl", 15*time.Second)
	v.SetDefault("price_cache.redis_ttl", 15*time.Second)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Portfolio.Account == "" {
		return nil, fmt.Errorf("portfolio.account is required")
	}
	if cfg.Feeds.BaseURL == "" {
		return nil, fmt.Errorf("feeds.base_url is required")
	}
	return &cfg, nil
}
