package ai

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Supported provider identifiers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ErrEmptyCompletion indicates the provider answered without any text content.
var ErrEmptyCompletion = errors.New("model returned no text content")

var (
	invokeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "toser",
		Subsystem: "ai",
		Name:      "completion_duration_seconds",
		Help:      "Duration of model completion requests",
	}, []string{"provider", "model"})

	invokeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toser",
		Subsystem: "ai",
		Name:      "completion_failures_total",
		Help:      "Number of model completion failures",
	}, []string{"provider", "model"})
)

// Prompt is a single-turn request sent to a model.
type Prompt struct {
	System string
	User   string
	// Schema optionally constrains the reply to a JSON document. Providers
	// without native schema support fall back to plain JSON mode.
	Schema     json.RawMessage
	SchemaName string
}

// Completion is the raw text a model produced, plus accounting.
type Completion struct {
	Text         string `json:"text"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Invoker describes a model capable of completing a prompt.
type Invoker interface {
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
	Provider() string
}

// Generation holds sampling settings shared by every provider.
type Generation struct {
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	TopK        int
}

func (g Generation) withDefaults(model string) Generation {
	if g.Model == "" {
		g.Model = model
	}
	if g.MaxTokens <= 0 {
		g.MaxTokens = 2048
	}
	return g
}

func observe(provider, model string, start time.Time, err error) {
	invokeDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	if err != nil {
		invokeFailures.WithLabelValues(provider, model).Inc()
	}
}
