// Package config loads server configuration from environment variables,
// optionally overlaid on a YAML file named by KISSFS_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names the available store implementations.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendRedis  = "redis"
)

// Config holds all kiss-fs server configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Store backend: memory, local or redis.
	Backend string `yaml:"backend"`

	// Local backend
	Root string `yaml:"root"`

	// Redis backend
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisVolume   string `yaml:"redis_volume"`

	// Auth; empty disables bearer-token checks.
	JWTSecret string `yaml:"jwt_secret"`

	// Reconciliation tuning
	ReadRetries       int           `yaml:"read_retries"`
	ReadRetryInterval time.Duration `yaml:"read_retry_interval"`
	NoiseWindow       time.Duration `yaml:"noise_window"`
	CorrelationWindow time.Duration `yaml:"correlation_window"`
}

// Load reads configuration: YAML file first when KISSFS_CONFIG is set, then
// environment variables, then defaults for whatever remains unset.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("KISSFS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	switch cfg.Backend {
	case BackendMemory, BackendRedis:
	case BackendLocal:
		if cfg.Root == "" {
			return nil, fmt.Errorf("KISSFS_ROOT is required for the local backend")
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.ListenAddr, "KISSFS_LISTEN_ADDR")
	setStr(&cfg.MetricsAddr, "KISSFS_METRICS_ADDR")
	setStr(&cfg.LogLevel, "KISSFS_LOG_LEVEL")
	setStr(&cfg.LogFormat, "KISSFS_LOG_FORMAT")
	setStr(&cfg.Backend, "KISSFS_BACKEND")
	setStr(&cfg.Root, "KISSFS_ROOT")
	setStr(&cfg.RedisAddr, "KISSFS_REDIS_ADDR")
	setStr(&cfg.RedisPassword, "KISSFS_REDIS_PASSWORD")
	setInt(&cfg.RedisDB, "KISSFS_REDIS_DB")
	setStr(&cfg.RedisVolume, "KISSFS_REDIS_VOLUME")
	setStr(&cfg.JWTSecret, "KISSFS_JWT_SECRET")
	setInt(&cfg.ReadRetries, "KISSFS_READ_RETRIES")
	setDuration(&cfg.ReadRetryInterval, "KISSFS_READ_RETRY_INTERVAL")
	setDuration(&cfg.NoiseWindow, "KISSFS_NOISE_WINDOW")
	setDuration(&cfg.CorrelationWindow, "KISSFS_CORRELATION_WINDOW")
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.RedisVolume == "" {
		cfg.RedisVolume = "main"
	}
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
