package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds the tunable surface of the client: where the decision-support
// service lives, optional credentials to pass through, and runtime knobs.
// Everything else (schedule rules, emitted forecast fields) is owned by the
// server.
type Config struct {
	Env         string        `mapstructure:"ENV"`
	Endpoint    string        `mapstructure:"ICE_ENDPOINT"`
	Username    string        `mapstructure:"ICE_USERNAME"`
	Password    string        `mapstructure:"ICE_PASSWORD"`
	HTTPTimeout time.Duration `mapstructure:"HTTP_TIMEOUT"`
	Workers     int           `mapstructure:"WORKERS"`
	Port        string        `mapstructure:"PORT"`
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("ICE_ENDPOINT", "http://localhost/opencds-decision-support-service/evaluate")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("WORKERS", 1)
	v.SetDefault("PORT", "8080")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("ICE_ENDPOINT")
	v.BindEnv("ICE_USERNAME")
	v.BindEnv("ICE_PASSWORD")
	v.BindEnv("HTTP_TIMEOUT")
	v.BindEnv("WORKERS")
	v.BindEnv("PORT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// IsDev returns true when the client runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can reach a service: the endpoint
// must be an absolute http(s) URL and the knobs must be positive.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("ICE_ENDPOINT is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("ICE_ENDPOINT is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ICE_ENDPOINT scheme must be http or https, got %q", u.Scheme)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	return nil
}
