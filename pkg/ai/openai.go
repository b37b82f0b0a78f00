package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OpenAIConfig defines configuration options for the OpenAI invoker.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Generation Generation
	Logger     zerolog.Logger
}

// OpenAIInvoker implements Invoker against the OpenAI chat completion API.
type OpenAIInvoker struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIInvoker builds a new invoker using the provided configuration.
func NewOpenAIInvoker(cfg OpenAIConfig) (*OpenAIInvoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	cfg.Generation = cfg.Generation.withDefaults("gpt-4o-mini")

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIInvoker{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/toser-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_invoker").Logger(),
	}, nil
}

// Provider implements Invoker.
func (o *OpenAIInvoker) Provider() string { return ProviderOpenAI }

// Complete sends the prompt to OpenAI and returns the first choice verbatim.
func (o *OpenAIInvoker) Complete(parent context.Context, prompt Prompt) (Completion, error) {
	gen := o.cfg.Generation
	ctx, span := o.tracer.Start(parent, "openai.complete", trace.WithAttributes(
		attribute.String("model", gen.Model),
	))
	defer span.End()

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openAIRequest(gen, prompt))
	if err == nil && len(resp.Choices) == 0 {
		err = ErrEmptyCompletion
	}
	observe(ProviderOpenAI, gen.Model, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn().Err(err).Str("model", gen.Model).Msg("completion failed")
		return Completion{}, fmt.Errorf("openai complete: %w", err)
	}

	return Completion{
		Text:         strings.TrimSpace(resp.Choices[0].Message.Content),
		Provider:     ProviderOpenAI,
		Model:        resp.Model,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}

func openAIRequest(gen Generation, prompt Prompt) openai.ChatCompletionRequest {
	request := openai.ChatCompletionRequest{
		Model:       gen.Model,
		MaxTokens:   gen.MaxTokens,
		Temperature: gen.Temperature,
		TopP:        gen.TopP,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	if len(prompt.Schema) > 0 {
		name := prompt.SchemaName
		if name == "" {
			name = "response"
		}
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: prompt.Schema,
			},
		}
	}
	return request
}
