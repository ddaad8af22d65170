package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testToken = "internal-token-0123456789"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: "8082"
databaseURL: postgres://file
internalToken: `+testToken+`
redisAddr: localhost:6379
generationModel: llama3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AIProvider != "ollama" || cfg.OllamaHost == "" {
		t.Fatalf("unexpected provider defaults: %q %q", cfg.AIProvider, cfg.OllamaHost)
	}
	if cfg.ClassifyTimeout != 4*time.Second {
		t.Fatalf("classify timeout default = %s", cfg.ClassifyTimeout)
	}
	if cfg.MinRelevance != 0.5 || cfg.SummaryTextMax != 600 || cfg.SummaryJSONMax != 1500 {
		t.Fatalf("unexpected AI bounds: %v %d %d", cfg.MinRelevance, cfg.SummaryTextMax, cfg.SummaryJSONMax)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %s", cfg.Location())
	}
}

func TestLoadEnvOverlay(t *testing.T) {
	path := writeConfig(t, `
port: "8082"
databaseURL: postgres://file
internalToken: `+testToken+`
redisAddr: localhost:6379
generationModel: llama3
classifyTimeout: 3s
`)
	t.Setenv("AI_CLASSIFY_TIMEOUT", "1500ms")
	t.Setenv("LESSONHUB_AI_KILL_SWITCH", "true")
	t.Setenv("LESSONHUB_TIME_ZONE", "Europe/Berlin")
	t.Setenv("LESSONHUB_PILOT_ALLOWLIST", "owner-1,,owner-2 ")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClassifyTimeout != 1500*time.Millisecond {
		t.Fatalf("env should override file, got %s", cfg.ClassifyTimeout)
	}
	if !cfg.KillSwitch {
		t.Fatal("kill switch not read from env")
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
	if len(cfg.PilotAllowlist) != 2 || cfg.PilotAllowlist[1] != "owner-2" {
		t.Fatalf("unexpected allowlist %v", cfg.PilotAllowlist)
	}
}

func TestValidateConfig(t *testing.T) {
	base := FileConfig{
		Port:            "1",
		DatabaseURL:     "x",
		InternalToken:   testToken,
		RedisAddr:       "localhost:6379",
		GenerationModel: "m",
	}
	applyDefaults(&base)
	cases := []struct {
		name   string
		mutate func(*FileConfig)
		want   string
	}{
		{"short token", func(c *FileConfig) { c.InternalToken = "x" }, "internalToken"},
		{"missing redis", func(c *FileConfig) { c.RedisAddr = "" }, "redisAddr"},
		{"openai without key", func(c *FileConfig) { c.AIProvider = "openai" }, "openaiAPIKey"},
		{"unknown provider", func(c *FileConfig) { c.AIProvider = "bard" }, "not supported"},
		{"bad zone", func(c *FileConfig) { c.TimeZone = "Mars/Olympus" }, "timeZone"},
		{"relevance range", func(c *FileConfig) { c.MinRelevance = 1.5 }, "minRelevance"},
		{"pilot without allowlist", func(c *FileConfig) { c.PilotOnly = true }, "pilotAllowlist"},
		{"partial minio", func(c *FileConfig) { c.MinioEndpoint = "minio:9000" }, "minioBucket"},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		err := validateConfig(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
	if err := validateConfig(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
