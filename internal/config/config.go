// Package config loads runtime configuration from the environment, with an
// optional YAML file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL     string        `yaml:"database_url"`
	APIPort         string        `yaml:"api_port"`
	IQRMultiplier   float64       `yaml:"iqr_multiplier"`
	CacheMaxBytes   int64         `yaml:"cache_max_bytes"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	LoaderChunkSize int           `yaml:"loader_chunk_size"`
	SkipMigration   bool          `yaml:"skip_migration"`
	URAAccessKey    string        `yaml:"ura_access_key"`
	URAPollHours    int           `yaml:"ura_poll_hours"`
}

// Load reads CONFIG_FILE (if set) then overlays environment variables.
// Environment always wins.
func Load() (*Config, error) {
	cfg := &Config{
		APIPort:         "8080",
		IQRMultiplier:   5.0,
		CacheMaxBytes:   64 << 20,
		CacheTTL:        60 * time.Second,
		QueryTimeout:    15 * time.Second,
		LoaderChunkSize: 500,
		URAPollHours:    24,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.APIPort = v
	}
	cfg.IQRMultiplier = GetEnvFloat("IQR_MULTIPLIER", cfg.IQRMultiplier)
	cfg.CacheMaxBytes = GetEnvInt64("CACHE_MAX_BYTES", cfg.CacheMaxBytes)
	if secs := GetEnvInt("CACHE_TTL_SECONDS", 0); secs > 0 {
		cfg.CacheTTL = time.Duration(secs) * time.Second
	}
	if secs := GetEnvInt("QUERY_TIMEOUT_SECONDS", 0); secs > 0 {
		cfg.QueryTimeout = time.Duration(secs) * time.Second
	}
	cfg.LoaderChunkSize = GetEnvInt("LOADER_CHUNK_SIZE", cfg.LoaderChunkSize)
	if os.Getenv("SKIP_MIGRATION") == "true" {
		cfg.SkipMigration = true
	}
	if v := os.Getenv("URA_ACCESS_KEY"); v != "" {
		cfg.URAAccessKey = v
	}
	cfg.URAPollHours = GetEnvInt("URA_POLL_HOURS", cfg.URAPollHours)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func GetEnvInt(key string, defaultVal int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			return val
		}
	}
	return defaultVal
}

func GetEnvInt64(key string, defaultVal int64) int64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseInt(valStr, 10, 64); err == nil {
			return val
		}
	}
	return defaultVal
}

func GetEnvFloat(key string, defaultVal float64) float64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseFloat(valStr, 64); err == nil {
			return val
		}
	}
	return defaultVal
}
