package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// appConfig is the daemon configuration, loaded from an optional YAML
// file and overridable through the environment.
type appConfig struct {
	Port         string `yaml:"port"`
	RedisURL     string `yaml:"redis_url"`
	SourceURL    string `yaml:"source_url"`
	UserAgent    string `yaml:"user_agent"`
	LogLevel     string `yaml:"log_level"`
	LogPretty    bool   `yaml:"log_pretty"`
	PostsPerPage int    `yaml:"posts_per_page"`
	PreloadPages int    `yaml:"preload_pages"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		Port:         "8080",
		SourceURL:    "http://localhost:9090",
		UserAgent:    "feedcore-proxy/0.1.0",
		LogLevel:     "info",
		PostsPerPage: 15,
	}
}

// loadConfig reads the YAML file at path (if it exists) over the
// defaults, then applies environment overrides.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file, fall through to env overrides.
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.SourceURL = getEnv("SOURCE_URL", cfg.SourceURL)
	cfg.UserAgent = getEnv("USER_AGENT", cfg.UserAgent)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("POSTS_PER_PAGE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid POSTS_PER_PAGE %q", v)
		}
		cfg.PostsPerPage = n
	}

	if v := os.Getenv("PRELOAD_PAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid PRELOAD_PAGES %q", v)
		}
		cfg.PreloadPages = n
	}

	if cfg.PostsPerPage < 1 {
		return cfg, fmt.Errorf("posts_per_page must be >= 1 (got %d)", cfg.PostsPerPage)
	}
	if cfg.PreloadPages < 0 {
		return cfg, fmt.Errorf("preload_pages must be >= 0 (got %d)", cfg.PreloadPages)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
