// Package config loads service configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the service configuration.
type Config struct {
	Port               string `mapstructure:"PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	NATSURL            string `mapstructure:"NATS_URL"`
	EventSubjectPrefix string `mapstructure:"EVENT_SUBJECT_PREFIX"`
}

// Load reads configuration from the environment, optionally merged
// with a .env file found at path. NATS_URL left empty disables event
// publishing.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("EVENT_SUBJECT_PREFIX", "loyalty.events")

	// Bind explicitly so the keys survive Unmarshal even when only set
	// through the environment.
	for _, key := range []string{"PORT", "DATABASE_URL", "LOG_LEVEL", "NATS_URL", "EVENT_SUBJECT_PREFIX"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}
