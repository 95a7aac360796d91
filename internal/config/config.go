// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DBURL           string        `mapstructure:"DB_URL"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	GithubToken     string        `mapstructure:"GITHUB_TOKEN"`
	TokenFile       string        `mapstructure:"TOKEN_FILE"`
	TrackedRepos    []string      `mapstructure:"TRACKED_REPOS"`
	RefreshInterval time.Duration `mapstructure:"REFRESH_INTERVAL"`
	FetchTimeout    time.Duration `mapstructure:"FETCH_TIMEOUT"`
}

// LoadConfig reads configuration from file and/or environment variables.
// GITHUB_TOKEN is deliberately not required: a missing credential is a
// runtime unauthorized state served from cache, not a startup failure.
func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("REFRESH_INTERVAL", "15m")
	viper.SetDefault("FETCH_TIMEOUT", "15s")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.RefreshInterval <= 0 {
		return nil, errors.New("REFRESH_INTERVAL must be a positive duration")
	}
	if cfg.FetchTimeout <= 0 {
		return nil, errors.New("FETCH_TIMEOUT must be a positive duration")
	}

	return &cfg, nil
}
