package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseURL        string
	RedisURL           string
	NATSURL            string
	JWTSecret          string
	CORSAllowOrigins   string
	AIProvider         string
	AIBaseURL          string
	AIModel            string
	AIMaxTokens        int
	AITemperature      float32
	AITopP             float32
	AITopK             int
	OpenAIAPIKey       string
	AnthropicAPIKey    string
	GeminiAPIKey       string
	FetchTimeout       time.Duration
	FetchMaxBytes      int64
	AnalysisCacheTTL   time.Duration
	AnalysisTimeout    time.Duration
	AnalysisSchema     string
	AnalysisSchemaFile string
	RateLimitMax       int
	RateLimitWindow    time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// AuthEnabled reports whether analysis routes require a bearer token.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TOSER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "ToSer API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.url", "sqlite://toser.db")
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.max_tokens", 2048)
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.top_p", 1.0)
	v.SetDefault("ai.top_k", 32)
	v.SetDefault("fetch.timeout", "10s")
	v.SetDefault("fetch.max_bytes", 512<<10)
	v.SetDefault("analysis.cache_ttl", "24h")
	v.SetDefault("analysis.timeout", "90s")
	v.SetDefault("analysis.schema", "current")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("ratelimit.max", 10)
	v.SetDefault("ratelimit.window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{"fetch.timeout", "analysis.cache_ttl", "analysis.timeout", "ratelimit.window"} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return Config{}, fmt.Errorf("invalid %s: must not be negative", key)
		}
		durations[key] = d
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		JWTSecret:          v.GetString("jwt.secret"),
		CORSAllowOrigins:   v.GetString("cors.allow_origins"),
		AIProvider:         strings.ToLower(v.GetString("ai.provider")),
		AIBaseURL:          v.GetString("ai.base_url"),
		AIModel:            v.GetString("ai.model"),
		AIMaxTokens:        v.GetInt("ai.max_tokens"),
		AITemperature:      float32(v.GetFloat64("ai.temperature")),
		AITopP:             float32(v.GetFloat64("ai.top_p")),
		AITopK:             v.GetInt("ai.top_k"),
		OpenAIAPIKey:       v.GetString("openai_api_key"),
		AnthropicAPIKey:    v.GetString("anthropic_api_key"),
		GeminiAPIKey:       v.GetString("gemini_api_key"),
		FetchTimeout:       durations["fetch.timeout"],
		FetchMaxBytes:      v.GetInt64("fetch.max_bytes"),
		AnalysisCacheTTL:   durations["analysis.cache_ttl"],
		AnalysisTimeout:    durations["analysis.timeout"],
		AnalysisSchema:     strings.ToLower(v.GetString("analysis.schema")),
		AnalysisSchemaFile: v.GetString("analysis.schema_file"),
		RateLimitMax:       v.GetInt("ratelimit.max"),
		RateLimitWindow:    durations["ratelimit.window"],
	}

	switch cfg.AnalysisSchema {
	case "current", "legacy":
	default:
		return Config{}, fmt.Errorf("invalid analysis.schema %q: expected current or legacy", cfg.AnalysisSchema)
	}

	if cfg.AIMaxTokens <= 0 {
		cfg.AIMaxTokens = 2048
	}

	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 10
	}

	return cfg, nil
}
