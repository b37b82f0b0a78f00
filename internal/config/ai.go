package config

import (
	"github.com/rs/zerolog"

	"github.com/noah-isme/toser-api/pkg/ai"
)

// Invoker returns the provider settings for ai.NewInvoker.
func (c Config) Invoker(logger zerolog.Logger) ai.Config {
	return ai.Config{
		Provider:     c.AIProvider,
		OpenAIKey:    c.OpenAIAPIKey,
		AnthropicKey: c.AnthropicAPIKey,
		GeminiKey:    c.GeminiAPIKey,
		BaseURL:      c.AIBaseURL,
		Generation: ai.Generation{
			Model:       c.AIModel,
			MaxTokens:   c.AIMaxTokens,
			Temperature: c.AITemperature,
			TopP:        c.AITopP,
			TopK:        c.AITopK,
		},
		Logger: logger,
	}
}
