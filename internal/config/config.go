package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	RedisURL          string        `mapstructure:"redis_url" yaml:"redis_url"`
	PresenceTTL       time.Duration `mapstructure:"presence_ttl" yaml:"presence_ttl"`
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PrettyJSON        bool          `mapstructure:"pretty_json" yaml:"pretty_json"`
	NumWorkers        int           `mapstructure:"num_workers" yaml:"num_workers"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	SentryDSN         string        `mapstructure:"sentry_dsn" yaml:"sentry_dsn"`
	Environment       string        `mapstructure:"environment" yaml:"environment"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults. The
// presence TTL is the lease duration after which an unrenewed client is
// considered gone.
func Default() Config {
	return Config{
		Addr:              ":5000",
		RedisURL:          "redis://localhost:6379",
		PresenceTTL:       60 * time.Second,
		PingInterval:      30 * time.Second,
		PrettyJSON:        false,
		NumWorkers:        1,
		LogLevel:          "info",
		Environment:       "development",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
	if other.PresenceTTL != 0 {
		c.PresenceTTL = other.PresenceTTL
	}
	if other.PingInterval != 0 {
		c.PingInterval = other.PingInterval
	}
	if other.NumWorkers != 0 {
		c.NumWorkers = other.NumWorkers
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.SentryDSN != "" {
		c.SentryDSN = other.SentryDSN
	}
	if other.Environment != "" {
		c.Environment = other.Environment
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
