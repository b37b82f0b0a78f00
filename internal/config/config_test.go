package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "gemini", cfg.AIProvider)
	require.Equal(t, 2048, cfg.AIMaxTokens)
	require.InDelta(t, 0.2, cfg.AITemperature, 1e-6)
	require.Equal(t, 32, cfg.AITopK)
	require.Equal(t, 10*time.Second, cfg.FetchTimeout)
	require.EqualValues(t, 512<<10, cfg.FetchMaxBytes)
	require.Equal(t, 24*time.Hour, cfg.AnalysisCacheTTL)
	require.Equal(t, "current", cfg.AnalysisSchema)
	require.False(t, cfg.AuthEnabled())
	require.Equal(t, "*", cfg.CORSAllowOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TOSER_APP_PORT", ":9000")
	t.Setenv("TOSER_AI_PROVIDER", "Anthropic")
	t.Setenv("TOSER_ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("TOSER_ANALYSIS_SCHEMA", "LEGACY")
	t.Setenv("TOSER_JWT_SECRET", "secret")
	t.Setenv("TOSER_RATELIMIT_WINDOW", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddress())
	require.Equal(t, "anthropic", cfg.AIProvider)
	require.Equal(t, "sk-ant", cfg.AnthropicAPIKey)
	require.Equal(t, "legacy", cfg.AnalysisSchema)
	require.True(t, cfg.AuthEnabled())
	require.Equal(t, 30*time.Second, cfg.RateLimitWindow)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("TOSER_FETCH_TIMEOUT", "soon")
	_, err := Load()
	require.ErrorContains(t, err, "fetch.timeout")

	t.Setenv("TOSER_FETCH_TIMEOUT", "5s")
	t.Setenv("TOSER_ANALYSIS_SCHEMA", "v3")
	_, err = Load()
	require.ErrorContains(t, err, "analysis.schema")
}

func TestInvokerConfig(t *testing.T) {
	cfg := Config{AIProvider: "openai", OpenAIAPIKey: "sk", AIModel: "gpt-4o", AIMaxTokens: 512, AITopK: 8}
	invoker := cfg.Invoker(zerolog.Nop())
	require.Equal(t, "openai", invoker.Provider)
	require.Equal(t, "sk", invoker.OpenAIKey)
	require.Equal(t, "gpt-4o", invoker.Generation.Model)
	require.Equal(t, 512, invoker.Generation.MaxTokens)
	require.Equal(t, 8, invoker.Generation.TopK)
}
