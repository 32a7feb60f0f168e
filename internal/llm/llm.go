// Package llm builds the generative model client used by the extraction and
// vision adapters.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"decisionlog/internal/config"
)

// Generator is the subset of a langchaingo model the adapters need.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

var ErrMissingAPIKey = errors.New("model API key is not configured")

// New returns a Generator for the configured provider.
func New(ctx context.Context, cfg config.ModelConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		m, err := googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Name),
		)
		if err != nil {
			return nil, fmt.Errorf("googleai: %w", err)
		}
		return m, nil
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Name)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// Text concatenates the content of every choice in resp.
func Text(resp *llms.ContentResponse) string {
	if resp == nil {
		return ""
	}
	var out string
	for _, c := range resp.Choices {
		if c != nil {
			out += c.Content
		}
	}
	return out
}
