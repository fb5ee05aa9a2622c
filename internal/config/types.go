package config

// Config is the worker configuration, loaded from a YAML file.
//
// Secrets (telegram.token, hana.password, service_layer.password) may be
// left empty in the file and supplied via BOT_TOKEN, HANA_PASSWORD and
// SL_PASSWORD environment variables instead.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Hana         HanaConfig         `yaml:"hana"`
	ServiceLayer ServiceLayerConfig `yaml:"service_layer"`
	Storage      StorageConfig      `yaml:"storage"`
	Render       RenderConfig       `yaml:"render"`
	Pipelines    PipelinesConfig    `yaml:"pipelines"`
}

type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Console bool        `yaml:"console"`
	File    LoggingFile `yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TelegramConfig struct {
	Token       string   `yaml:"token"`
	WebAppURL   string   `yaml:"webapp_url"`
	RatePerSec  int      `yaml:"rate_per_sec"`
	SendTimeout Duration `yaml:"send_timeout"`
}

// HanaConfig points the extractor at the SAP B1 HANA database.
type HanaConfig struct {
	Host      string   `yaml:"host"`
	Port      int      `yaml:"port"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`
	CompanyDB string   `yaml:"company_db"`
	Timeout   Duration `yaml:"timeout"`
}

// ServiceLayerConfig points the write-back client at the SAP B1
// Service Layer HTTP API.
type ServiceLayerConfig struct {
	Host      string   `yaml:"host"`
	CompanyDB string   `yaml:"company_db"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`
	Timeout   Duration `yaml:"timeout"`
	// Most on-prem Service Layer installs run with a self-signed cert.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

type StorageConfig struct {
	Path        string   `yaml:"path"`
	BusyTimeout Duration `yaml:"busy_timeout"`
}

type RenderConfig struct {
	FontsDir  string `yaml:"fonts_dir"`
	ImagesDir string `yaml:"images_dir"`
}

// PipelinesConfig holds one period per sync pipeline. A pipeline with
// enabled=false is not scheduled at all; an enabled pipeline must have
// a positive period.
type PipelinesConfig struct {
	Deliveries PipelineConfig `yaml:"deliveries"`
	Partners   PipelineConfig `yaml:"partners"`
	Catalog    PipelineConfig `yaml:"catalog"`
	Orders     PipelineConfig `yaml:"orders"`
	Approvals  PipelineConfig `yaml:"approvals"`
}

type PipelineConfig struct {
	Enabled bool     `yaml:"enabled"`
	Period  Duration `yaml:"period"`
}
