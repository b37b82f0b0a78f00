package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AnthropicConfig defines configuration options for the Anthropic invoker.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Generation Generation
	Logger     zerolog.Logger
}

// AnthropicInvoker implements Invoker against the Anthropic messages API.
type AnthropicInvoker struct {
	client anthropic.Client
	cfg    AnthropicConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewAnthropicInvoker constructs an invoker for Claude models.
func NewAnthropicInvoker(cfg AnthropicConfig) (*AnthropicInvoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	cfg.Generation = cfg.Generation.withDefaults("claude-3-5-haiku-latest")

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicInvoker{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/toser-api/pkg/ai/anthropic"),
		logger: cfg.Logger.With().Str("component", "anthropic_invoker").Logger(),
	}, nil
}

// Provider implements Invoker.
func (a *AnthropicInvoker) Provider() string { return ProviderAnthropic }

// Complete sends the prompt and returns the first text block of the reply.
func (a *AnthropicInvoker) Complete(parent context.Context, prompt Prompt) (Completion, error) {
	gen := a.cfg.Generation
	ctx, span := a.tracer.Start(parent, "anthropic.complete", trace.WithAttributes(
		attribute.String("model", gen.Model),
	))
	defer span.End()

	start := time.Now()
	message, err := a.client.Messages.New(ctx, anthropicParams(gen, prompt))
	var text string
	if err == nil {
		text, err = firstText(message)
	}
	observe(ProviderAnthropic, gen.Model, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn().Err(err).Str("model", gen.Model).Msg("completion failed")
		return Completion{}, fmt.Errorf("anthropic complete: %w", err)
	}

	return Completion{
		Text:         text,
		Provider:     ProviderAnthropic,
		Model:        string(message.Model),
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}, nil
}

func anthropicParams(gen Generation, prompt Prompt) anthropic.MessageNewParams {
	system := prompt.System
	if len(prompt.Schema) > 0 {
		// no native structured output; the schema travels in the system prompt
		system += "\n\nReply with a single JSON object matching this JSON Schema:\n" + string(prompt.Schema)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(gen.Model),
		MaxTokens: int64(gen.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
		Temperature: anthropic.Float(float64(gen.Temperature)),
	}
	if gen.TopK > 0 {
		params.TopK = anthropic.Int(int64(gen.TopK))
	}
	return params
}

func firstText(message *anthropic.Message) (string, error) {
	for _, block := range message.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", ErrEmptyCompletion
}
