package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Config selects a provider and carries every provider's credentials.
type Config struct {
	Provider     string
	OpenAIKey    string
	AnthropicKey string
	GeminiKey    string
	BaseURL      string
	Generation   Generation
	Logger       zerolog.Logger
}

// NewInvoker builds the invoker for cfg.Provider.
func NewInvoker(ctx context.Context, cfg Config) (Invoker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		return NewOpenAIInvoker(OpenAIConfig{APIKey: cfg.OpenAIKey, BaseURL: cfg.BaseURL, Generation: cfg.Generation, Logger: cfg.Logger})
	case ProviderAnthropic:
		return NewAnthropicInvoker(AnthropicConfig{APIKey: cfg.AnthropicKey, BaseURL: cfg.BaseURL, Generation: cfg.Generation, Logger: cfg.Logger})
	case ProviderGemini:
		return NewGeminiInvoker(ctx, GeminiConfig{APIKey: cfg.GeminiKey, BaseURL: cfg.BaseURL, Generation: cfg.Generation, Logger: cfg.Logger})
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
