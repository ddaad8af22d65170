package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable with LESSONHUB_CONFIG.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML and overlaid from env.
type FileConfig struct {
	Port        string `yaml:"port" env:"BOOKING_PORT"`
	DatabaseURL string `yaml:"databaseURL" env:"DATABASE_URL"`
	LogLevel    string `yaml:"logLevel" env:"LOG_LEVEL"`

	OwnerTokenSecret   string        `yaml:"ownerTokenSecret" env:"LESSONHUB_OWNER_TOKEN_SECRET"`
	OwnerTokenIssuer   string        `yaml:"ownerTokenIssuer" env:"LESSONHUB_OWNER_TOKEN_ISSUER"`
	OwnerTokenAudience string        `yaml:"ownerTokenAudience" env:"LESSONHUB_OWNER_TOKEN_AUDIENCE"`
	JWTLeeway          time.Duration `yaml:"jwtLeeway" env:"LESSONHUB_JWT_LEEWAY"`

	PilotOnly         bool     `yaml:"pilotOnly" env:"LESSONHUB_PILOT_ONLY"`
	PilotAllowlist    []string `yaml:"pilotAllowlist" env:"LESSONHUB_PILOT_ALLOWLIST" envSeparator:","`
	RequireOnboarding bool     `yaml:"requireOnboarding" env:"LESSONHUB_REQUIRE_ONBOARDING"`

	AMQPURL        string `yaml:"amqpURL" env:"AMQP_URL"`
	EventsExchange string `yaml:"eventsExchange" env:"LESSONHUB_EVENTS_EXCHANGE"`
}

// Load reads config from path (defaults to LESSONHUB_CONFIG, then config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = strings.TrimSpace(os.Getenv("LESSONHUB_CONFIG"))
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.PilotAllowlist = compact(cfg.PilotAllowlist)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or BOOKING_PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.OwnerTokenSecret) < 32 {
		return errors.New("config: ownerTokenSecret is required and must be at least 32 bytes (set in config.yaml or LESSONHUB_OWNER_TOKEN_SECRET)")
	}
	if cfg.JWTLeeway < 0 {
		return errors.New("config: jwtLeeway must not be negative")
	}
	if cfg.PilotOnly && len(cfg.PilotAllowlist) == 0 {
		return errors.New("config: pilotAllowlist is required when pilotOnly is enabled")
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
