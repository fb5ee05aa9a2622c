package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Load reads, strictly decodes and validates the config file.
// Unknown keys are rejected so stale options are caught early.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets live outside the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BOT_TOKEN"); v != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("HANA_PASSWORD"); v != "" && cfg.Hana.Password == "" {
		cfg.Hana.Password = v
	}
	if v := os.Getenv("SL_PASSWORD"); v != "" && cfg.ServiceLayer.Password == "" {
		cfg.ServiceLayer.Password = v
	}
}

func (c *Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Pipelines.Deliveries.Enabled {
		if strings.TrimSpace(c.Hana.Host) == "" {
			errs = append(errs, errors.New("hana.host is required when pipelines.deliveries is enabled"))
		}
		if c.Pipelines.Deliveries.Period <= 0 {
			errs = append(errs, errors.New("pipelines.deliveries.period must be > 0"))
		}
	}
	for _, p := range []struct {
		name string
		cfg  PipelineConfig
		sl   bool
	}{
		{"partners", c.Pipelines.Partners, false},
		{"catalog", c.Pipelines.Catalog, true},
		{"orders", c.Pipelines.Orders, true},
		{"approvals", c.Pipelines.Approvals, true},
	} {
		if !p.cfg.Enabled {
			continue
		}
		if p.cfg.Period <= 0 {
			errs = append(errs, fmt.Errorf("pipelines.%s.period must be > 0", p.name))
		}
		if p.sl && strings.TrimSpace(c.ServiceLayer.Host) == "" {
			errs = append(errs, fmt.Errorf("service_layer.host is required when pipelines.%s is enabled", p.name))
		}
	}
	return errors.Join(errs...)
}
