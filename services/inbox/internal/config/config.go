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
	Port          string `yaml:"port" env:"INBOX_PORT"`
	DatabaseURL   string `yaml:"databaseURL" env:"DATABASE_URL"`
	LogLevel      string `yaml:"logLevel" env:"LOG_LEVEL"`
	InternalToken string `yaml:"internalToken" env:"LESSONHUB_INTERNAL_TOKEN"`

	RedisAddr         string        `yaml:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword     string        `yaml:"redisPassword" env:"REDIS_PASSWORD"`
	InboundRateLimit  int           `yaml:"inboundRateLimit" env:"INBOX_RATE_LIMIT"`
	InboundRateWindow time.Duration `yaml:"inboundRateWindow" env:"INBOX_RATE_WINDOW"`

	AIProvider      string `yaml:"aiProvider" env:"AI_PROVIDER"`
	OpenAIBaseURL   string `yaml:"openaiBaseURL" env:"OPENAI_BASE_URL"`
	OpenAIAPIKey    string `yaml:"openaiAPIKey" env:"OPENAI_API_KEY"`
	OllamaHost      string `yaml:"ollamaHost" env:"OLLAMA_HOST"`
	GenerationModel string `yaml:"generationModel" env:"AI_GENERATION_MODEL"`

	ClassifyTimeout time.Duration `yaml:"classifyTimeout" env:"AI_CLASSIFY_TIMEOUT"`
	EnrichTimeout   time.Duration `yaml:"enrichTimeout" env:"AI_ENRICH_TIMEOUT"`
	SummaryTimeout  time.Duration `yaml:"summaryTimeout" env:"AI_SUMMARY_TIMEOUT"`
	DraftTimeout    time.Duration `yaml:"draftTimeout" env:"AI_DRAFT_TIMEOUT"`

	KillSwitch     bool     `yaml:"killSwitch" env:"LESSONHUB_AI_KILL_SWITCH"`
	PilotOnly      bool     `yaml:"pilotOnly" env:"LESSONHUB_PILOT_ONLY"`
	PilotAllowlist []string `yaml:"pilotAllowlist" env:"LESSONHUB_PILOT_ALLOWLIST" envSeparator:","`
	TimeZone       string   `yaml:"timeZone" env:"LESSONHUB_TIME_ZONE"`

	MinRelevance   float64       `yaml:"minRelevance" env:"AI_MIN_RELEVANCE"`
	SummaryTextMax int           `yaml:"summaryTextMax" env:"AI_SUMMARY_TEXT_MAX"`
	SummaryJSONMax int           `yaml:"summaryJSONMax" env:"AI_SUMMARY_JSON_MAX"`
	RecentMessages int           `yaml:"recentMessages" env:"AI_RECENT_MESSAGES"`
	DraftTTL       time.Duration `yaml:"draftTTL" env:"AI_DRAFT_TTL"`

	MinioEndpoint  string `yaml:"minioEndpoint" env:"MINIO_ENDPOINT"`
	MinioAccessKey string `yaml:"minioAccessKey" env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `yaml:"minioSecretKey" env:"MINIO_SECRET_KEY"`
	MinioBucket    string `yaml:"minioBucket" env:"MINIO_BUCKET"`
	MinioUseSSL    bool   `yaml:"minioUseSSL" env:"MINIO_USE_SSL"`

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
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	cfg.PilotAllowlist = compact(cfg.PilotAllowlist)
	cfg.AIProvider = strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AIProvider == "" {
		cfg.AIProvider = "ollama"
	}
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = "http://localhost:11434"
	}
	if cfg.InboundRateLimit == 0 {
		cfg.InboundRateLimit = 30
	}
	if cfg.InboundRateWindow == 0 {
		cfg.InboundRateWindow = time.Minute
	}
	if cfg.ClassifyTimeout == 0 {
		cfg.ClassifyTimeout = 4 * time.Second
	}
	if cfg.EnrichTimeout == 0 {
		cfg.EnrichTimeout = 2 * time.Second
	}
	if cfg.SummaryTimeout == 0 {
		cfg.SummaryTimeout = 6 * time.Second
	}
	if cfg.DraftTimeout == 0 {
		cfg.DraftTimeout = 8 * time.Second
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "UTC"
	}
	if cfg.MinRelevance == 0 {
		cfg.MinRelevance = 0.5
	}
	if cfg.SummaryTextMax == 0 {
		cfg.SummaryTextMax = 600
	}
	if cfg.SummaryJSONMax == 0 {
		cfg.SummaryJSONMax = 1500
	}
	if cfg.RecentMessages == 0 {
		cfg.RecentMessages = 12
	}
	if cfg.DraftTTL == 0 {
		cfg.DraftTTL = 24 * time.Hour
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or INBOX_PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.InternalToken) < 16 {
		return errors.New("config: internalToken is required and must be at least 16 bytes (set in config.yaml or LESSONHUB_INTERNAL_TOKEN)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.InboundRateLimit < 0 || cfg.InboundRateWindow < 0 {
		return errors.New("config: inboundRateLimit and inboundRateWindow must not be negative")
	}
	switch cfg.AIProvider {
	case "ollama":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return errors.New("config: openaiAPIKey is required when aiProvider is openai (set in config.yaml or OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("config: aiProvider %q is not supported (use ollama or openai)", cfg.AIProvider)
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml or AI_GENERATION_MODEL)")
	}
	if cfg.ClassifyTimeout < 0 || cfg.EnrichTimeout < 0 || cfg.SummaryTimeout < 0 || cfg.DraftTimeout < 0 {
		return errors.New("config: AI stage timeouts must not be negative")
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return fmt.Errorf("config: timeZone %q is invalid: %w", cfg.TimeZone, err)
	}
	if cfg.MinRelevance < 0 || cfg.MinRelevance > 1 {
		return errors.New("config: minRelevance must be within [0,1]")
	}
	if cfg.SummaryTextMax < 0 || cfg.SummaryJSONMax < 0 {
		return errors.New("config: summary bounds must not be negative")
	}
	if cfg.PilotOnly && len(cfg.PilotAllowlist) == 0 {
		return errors.New("config: pilotAllowlist is required when pilotOnly is enabled")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required when minioEndpoint is set")
	}
	return nil
}

// Location returns the configured time zone. Call after Load.
func (c FileConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
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
