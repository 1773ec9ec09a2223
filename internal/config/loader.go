package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "LONGHOUSE_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("redis_url", cfg.RedisURL)
	v.SetDefault("presence_ttl", cfg.PresenceTTL)
	v.SetDefault("ping_interval", cfg.PingInterval)
	v.SetDefault("pretty_json", cfg.PrettyJSON)
	v.SetDefault("num_workers", cfg.NumWorkers)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)

	v.SetEnvPrefix("LONGHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The bare names longhouse has always recognized keep working.
	_ = v.BindEnv("redis_url", "LONGHOUSE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("presence_ttl", "LONGHOUSE_PRESENCE_TTL", "PRESENCE_TTL")
	_ = v.BindEnv("pretty_json", "LONGHOUSE_PRETTY_JSON", "PRETTIFY_JSON_MESSAGES")
	_ = v.BindEnv("num_workers", "LONGHOUSE_NUM_WORKERS", "NUM_WORKERS")
	_ = v.BindEnv("sentry_dsn", "LONGHOUSE_SENTRY_DSN", "SENTRY_DSN")

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	// A bare integer presence TTL is milliseconds.
	if raw := v.GetString("presence_ttl"); raw != "" {
		if _, err := strconv.Atoi(raw); err == nil {
			v.Set("presence_ttl", raw+"ms")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	// Heroku-style PORT wins over the default listen address only.
	if port := os.Getenv("PORT"); port != "" && cfg.Addr == Default().Addr {
		cfg.Addr = ":" + port
	}

	return cfg, configPath, nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
