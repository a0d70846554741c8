package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var (
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string

	AppEnv       string
	IsProduction bool

	// MockLLMRequest routes every model call to the local mock source
	// instead of a provider. Enum: "true" or anything else.
	MockLLMRequest bool

	Port         string
	DBPath       string
	SystemPrompt string

	// RequestTimeoutSeconds bounds a single provider streaming call.
	// The upstream APIs have no useful timeout of their own.
	RequestTimeoutSeconds int

	// runtime tunables
	RateLimitWindowSeconds int
	RateLimitCapacity      int
	ModelCacheTTLSeconds   int
	ModelCacheMaxItems     int

	// mock pacing
	MockInitialDelayMs string
	MockChunkDelayMs   string
	MockMessagePath    string
)

// loadAppEnv only loads .env outside production; deployed environments
// provide real env vars.
func loadAppEnv() {
	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "production" {
		return
	}
	// non-production: .env is optional (local dev convenience)
	_ = godotenv.Load()
}

func init() {
	loadAppEnv()

	AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "" {
		AppEnv = "development"
	}
	IsProduction = AppEnv == "production"

	MockLLMRequest = strings.EqualFold(os.Getenv("MOCK_LLM_REQUEST"), "true")

	Port = os.Getenv("PORT")
	if Port == "" {
		Port = "5000"
	}
	DBPath = os.Getenv("DB_PATH")
	if DBPath == "" {
		DBPath = "app.db"
	}
	SystemPrompt = os.Getenv("SYSTEM_PROMPT")
	if SystemPrompt == "" {
		SystemPrompt = "You are a helpful assistant."
	}

	RequestTimeoutSeconds = atoiOr(os.Getenv("REQUEST_TIMEOUT_SECONDS"), 300)

	RateLimitWindowSeconds = atoiOr(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 10)
	RateLimitCapacity = atoiOr(os.Getenv("RATE_LIMIT_CAPACITY"), 5)
	ModelCacheTTLSeconds = atoiOr(os.Getenv("MODEL_CACHE_TTL_SECONDS"), 600)
	ModelCacheMaxItems = atoiOr(os.Getenv("MODEL_CACHE_MAX_ITEMS"), 500)

	MockInitialDelayMs = os.Getenv("MOCK_INITIAL_DELAY_MS")
	MockChunkDelayMs = os.Getenv("MOCK_CHUNK_DELAY_MS")
	MockMessagePath = os.Getenv("MOCK_MESSAGE_PATH")

	if !MockLLMRequest && AnthropicAPIKey == "" && OpenAIAPIKey == "" && GeminiAPIKey == "" {
		log.Printf("[config] warning: no provider API key set and MOCK_LLM_REQUEST is not \"true\"; live model calls will fail")
	}

	log.Printf("[config] AppEnv=%s MockLLMRequest=%v DBPath=%s", AppEnv, MockLLMRequest, DBPath)
	log.Printf("[config] RequestTimeout=%ds RateLimit window=%ds capacity=%d modelCacheTTL=%ds modelCacheMax=%d",
		RequestTimeoutSeconds, RateLimitWindowSeconds, RateLimitCapacity, ModelCacheTTLSeconds, ModelCacheMaxItems)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
