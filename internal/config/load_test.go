package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
telegram:
  token: "123:abc"
  webapp_url: "https://deliveries.example.com"
  rate_per_sec: 5
  send_timeout: 10s
hana:
  host: hana.local
  port: 30015
  user: SYSTEM
  password: secret
  company_db: CompanyDB
storage:
  path: ./data/deliveries.db
  busy_timeout: 5s
render:
  fonts_dir: ./data/fonts
  images_dir: ./data/images
pipelines:
  deliveries:
    enabled: true
    period: 300
  partners:
    enabled: true
    period: 6h
`

func TestParseSample(t *testing.T) {
	t.Parallel()
	cfg, err := parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if got := cfg.Pipelines.Deliveries.Period.Std(); got != 300*time.Second {
		t.Fatalf("deliveries period = %v, want 300s (bare seconds form)", got)
	}
	if got := cfg.Pipelines.Partners.Period.Std(); got != 6*time.Hour {
		t.Fatalf("partners period = %v, want 6h (duration form)", got)
	}
	if got := cfg.Telegram.SendTimeout.Std(); got != 10*time.Second {
		t.Fatalf("send timeout = %v", got)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := parse([]byte("logging:\n  level: info\n  verbosity: high\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "verbosity") {
		t.Fatalf("error should name the unknown key, got: %v", err)
	}
}

func TestParseRejectsNegativeDuration(t *testing.T) {
	t.Parallel()
	_, err := parse([]byte("telegram:\n  send_timeout: -5s\n"))
	if err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestValidateMissingToken(t *testing.T) {
	t.Parallel()
	cfg := &Config{Storage: StorageConfig{Path: "x.db"}}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("expected token error, got: %v", err)
	}
}

func TestValidatePipelinePeriods(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Telegram: TelegramConfig{Token: "t"},
		Storage:  StorageConfig{Path: "x.db"},
		Hana:     HanaConfig{Host: "h"},
		Pipelines: PipelinesConfig{
			Deliveries: PipelineConfig{Enabled: true}, // period missing
		},
	}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "deliveries.period") {
		t.Fatalf("expected period error, got: %v", err)
	}
}
