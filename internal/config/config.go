package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models decisionlog.yml.
type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Webhook WebhookConfig `yaml:"webhook"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Capture struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"capture"`
}

type ModelConfig struct {
	Provider       string  `yaml:"provider"`
	APIKey         string  `yaml:"api_key"`
	Name           string  `yaml:"name"`
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
}

// Timeout returns the per-call deadline for model requests.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"

	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port must be between 1 and 65535")
	}
	for _, origin := range c.Server.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("config.server.allowed_origins contains empty origin")
		}
	}
	switch c.Model.Provider {
	case ProviderGoogleAI, ProviderOpenAI:
	default:
		return fmt.Errorf("config.model.provider must be one of googleai, openai")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("config.model.name is required")
	}
	if c.Model.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.model.timeout_seconds must be positive")
	}
	if c.Model.RatePerSecond <= 0 || c.Model.Burst <= 0 {
		return fmt.Errorf("config.model.rate_per_second and burst must be positive")
	}
	if c.Webhook.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.webhook.timeout_seconds must be positive")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("config.storage.path is required for driver %s", c.Storage.Driver)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("config.storage.dsn is required for driver postgres")
		}
	default:
		return fmt.Errorf("config.storage.driver must be one of memory, file, sqlite, postgres")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.capture.timezone: %w", err)
	}
	return nil
}

// Location resolves the timezone used to turn calendar dates into timestamps.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Capture.Timezone
	if tz == "" || tz == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// data keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  port: 5000
  allowed_origins: ["*"]

model:
  provider: googleai
  api_key: ""
  name: gemini-2.5-flash
  base_url: ""
  timeout_seconds: 60
  rate_per_second: 2
  burst: 4

webhook:
  url: ""
  secret: ""
  timeout_seconds: 10

storage:
  driver: memory
  path: ""
  dsn: ""

log:
  level: info
  format: json

capture:
  timezone: Local
`
