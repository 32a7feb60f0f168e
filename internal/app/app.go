// Package app resolves configuration and wires the server-side pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"decisionlog/internal/config"
	"decisionlog/internal/engine"
	"decisionlog/internal/extract"
	"decisionlog/internal/llm"
	"decisionlog/internal/metrics"
	"decisionlog/internal/relay"
	"decisionlog/internal/repo"
	"decisionlog/internal/server"
)

// envKeys maps config keys to the environment variables that override them,
// in priority order. The unprefixed names are the ones the hosted
// deployment has always used.
var envKeys = []struct {
	key  string
	envs []string
}{
	{"server.port", []string{"DL_SERVER_PORT", "PORT"}},
	{"server.allowed_origins", []string{"DL_SERVER_ALLOWED_ORIGINS", "ALLOWED_ORIGINS"}},
	{"model.provider", []string{"DL_MODEL_PROVIDER"}},
	{"model.api_key", []string{"DL_MODEL_API_KEY", "GEMINI_API_KEY"}},
	{"model.name", []string{"DL_MODEL_NAME"}},
	{"model.base_url", []string{"DL_MODEL_BASE_URL"}},
	{"webhook.url", []string{"DL_WEBHOOK_URL", "N8N_WEBHOOK_URL"}},
	{"webhook.secret", []string{"DL_WEBHOOK_SECRET"}},
	{"storage.driver", []string{"DL_STORAGE_DRIVER"}},
	{"storage.path", []string{"DL_STORAGE_PATH"}},
	{"storage.dsn", []string{"DL_STORAGE_DSN"}},
	{"log.level", []string{"DL_LOG_LEVEL"}},
	{"log.format", []string{"DL_LOG_FORMAT"}},
	{"capture.timezone", []string{"DL_CAPTURE_TIMEZONE"}},
}

// BindEnv registers the environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("DL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(append([]string{k.key}, k.envs...)...)
	}
}

// LoadConfig reads the YAML file named by the "config" key, or the defaults,
// and applies any overrides set on v through environment or flags.
func LoadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	}
	for _, k := range envKeys {
		if !v.IsSet(k.key) {
			continue
		}
		if err := apply(cfg, v, k.key); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func apply(cfg *config.Config, v *viper.Viper, key string) error {
	switch key {
	case "server.port":
		port := v.GetInt(key)
		if port == 0 {
			return fmt.Errorf("invalid port %q", v.GetString(key))
		}
		cfg.Server.Port = port
	case "server.allowed_origins":
		cfg.Server.AllowedOrigins = splitList(v.Get(key))
	case "model.provider":
		cfg.Model.Provider = v.GetString(key)
	case "model.api_key":
		cfg.Model.APIKey = v.GetString(key)
	case "model.name":
		cfg.Model.Name = v.GetString(key)
	case "model.base_url":
		cfg.Model.BaseURL = v.GetString(key)
	case "webhook.url":
		cfg.Webhook.URL = v.GetString(key)
	case "webhook.secret":
		cfg.Webhook.Secret = v.GetString(key)
	case "storage.driver":
		cfg.Storage.Driver = v.GetString(key)
	case "storage.path":
		cfg.Storage.Path = v.GetString(key)
	case "storage.dsn":
		cfg.Storage.DSN = v.GetString(key)
	case "log.level":
		cfg.Log.Level = v.GetString(key)
	case "log.format":
		cfg.Log.Format = v.GetString(key)
	case "capture.timezone":
		cfg.Capture.Timezone = v.GetString(key)
	}
	return nil
}

func splitList(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// Runtime is a wired server pipeline. Close releases storage.
type Runtime struct {
	Engine  engine.Engine
	Server  server.Config
	Metrics *metrics.Metrics
	store   repo.Store
}

func (r *Runtime) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}

// Build opens storage and the model client and assembles the engine. A
// missing model API key is not fatal here: the adapters reject every call
// until one is configured.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gen, err := llm.New(ctx, cfg.Model)
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		logger.Warn("model API key is not set; parse and OCR requests will fail")
		gen = nil
	case err != nil:
		return nil, err
	}

	store, err := repo.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	hook := relay.New(cfg.Webhook)
	if hook.Enabled() {
		logger.Info("webhook relay enabled", zap.String("webhook", hook.Host()))
	}
	e := engine.Engine{
		Extractor: extract.NewExtractor(gen, cfg.Model, logger.Named("extract")),
		Vision:    extract.NewVision(gen, cfg.Model, logger.Named("vision")),
		Repo:      store,
		Relay:     hook,
		Metrics:   m,
		Logger:    logger.Named("engine"),
	}
	return &Runtime{
		Engine:  e,
		Metrics: m,
		store:   store,
		Server: server.Config{
			Engine:         e,
			Metrics:        m,
			Logger:         logger.Named("http"),
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
	}, nil
}
