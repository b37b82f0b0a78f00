package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

// GeminiConfig defines configuration options for the Gemini invoker.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Generation Generation
	Logger     zerolog.Logger
}

// GeminiInvoker implements Invoker against the Gemini API.
type GeminiInvoker struct {
	client *genai.Client
	cfg    GeminiConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGeminiInvoker creates a Gemini client for the configured model.
func NewGeminiInvoker(ctx context.Context, cfg GeminiConfig) (*GeminiInvoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cfg.Generation = cfg.Generation.withDefaults("gemini-1.5-flash")

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiInvoker{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/toser-api/pkg/ai/gemini"),
		logger: cfg.Logger.With().Str("component", "gemini_invoker").Logger(),
	}, nil
}

// Provider implements Invoker.
func (g *GeminiInvoker) Provider() string { return ProviderGemini }

// Complete runs a single GenerateContent call and returns the concatenated text.
func (g *GeminiInvoker) Complete(parent context.Context, prompt Prompt) (Completion, error) {
	gen := g.cfg.Generation
	ctx, span := g.tracer.Start(parent, "gemini.complete", trace.WithAttributes(
		attribute.String("model", gen.Model),
	))
	defer span.End()

	start := time.Now()
	contents := []*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, gen.Model, contents, geminiConfig(gen, prompt))
	var text string
	if err == nil {
		text = strings.TrimSpace(resp.Text())
		if text == "" {
			err = ErrEmptyCompletion
		}
	}
	observe(ProviderGemini, gen.Model, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn().Err(err).Str("model", gen.Model).Msg("completion failed")
		return Completion{}, fmt.Errorf("gemini complete: %w", err)
	}

	completion := Completion{Text: text, Provider: ProviderGemini, Model: gen.Model}
	if usage := resp.UsageMetadata; usage != nil {
		completion.InputTokens = int64(usage.PromptTokenCount)
		completion.OutputTokens = int64(usage.CandidatesTokenCount)
	}
	return completion, nil
}

func geminiConfig(gen Generation, prompt Prompt) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(gen.Temperature),
		MaxOutputTokens:  int32(gen.MaxTokens),
		ResponseMIMEType: "application/json",
	}
	if prompt.System != "" {
		config.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}
	if gen.TopP > 0 {
		config.TopP = genai.Ptr(gen.TopP)
	}
	if gen.TopK > 0 {
		config.TopK = genai.Ptr(float32(gen.TopK))
	}
	return config
}
