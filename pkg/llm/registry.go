package llm

import (
	"errors"

	"chatrelay/pkg/config"
)

// Provider identifies which hosted API serves a model.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Model is a recognized model id plus its display metadata.
type Model struct {
	ID       string
	Name     string
	Provider Provider
}

// ErrUnsupportedModel is returned by Resolve for any id not in the table.
var ErrUnsupportedModel = errors.New("unsupported model")

// modelTable is the exhaustive set of supported models. There is
// deliberately no fallback entry: an unknown id must fail fast instead of
// silently calling a default model.
var modelTable = map[string]Model{
	"claude-sonnet-4-5-20250929": {ID: "claude-sonnet-4-5-20250929", Name: "Claude 4.5 Sonnet", Provider: ProviderClaude},
	"claude-opus-4-1-20250805":   {ID: "claude-opus-4-1-20250805", Name: "Claude 4.1 Opus", Provider: ProviderClaude},
	"gpt-5-2025-08-07":           {ID: "gpt-5-2025-08-07", Name: "GPT-5", Provider: ProviderOpenAI},
	"gpt-5-pro-2025-10-06":       {ID: "gpt-5-pro-2025-10-06", Name: "GPT-5 Pro", Provider: ProviderOpenAI},
	"gemini-2.5-pro":             {ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: ProviderGemini},
	"gemini-2.5-pro-preview-tts": {ID: "gemini-2.5-pro-preview-tts", Name: "Gemini 2.5 Pro (Preview TTS)", Provider: ProviderGemini},
}

// Resolve maps a model id to its Model. Pure lookup, no I/O.
func Resolve(modelID string) (Model, error) {
	m, ok := modelTable[modelID]
	if !ok {
		return Model{}, ErrUnsupportedModel
	}
	return m, nil
}

// Models lists all supported models (for the model picker endpoint).
func Models() []Model {
	out := make([]Model, 0, len(modelTable))
	for _, id := range []string{
		"claude-sonnet-4-5-20250929",
		"claude-opus-4-1-20250805",
		"gpt-5-2025-08-07",
		"gpt-5-pro-2025-10-06",
		"gemini-2.5-pro",
		"gemini-2.5-pro-preview-tts",
	} {
		out = append(out, modelTable[id])
	}
	return out
}

// StreamerFor returns the streaming capability for a resolved model. With
// MOCK_LLM_REQUEST set every model streams the canned mock transcript, so
// local development never calls a paid API.
func StreamerFor(m Model) Streamer {
	if config.MockLLMRequest {
		return NewMockStreamer(m.ID)
	}
	switch m.Provider {
	case ProviderClaude:
		return NewClaudeStreamer(m.ID, config.AnthropicAPIKey)
	case ProviderOpenAI:
		return NewOpenAIStreamer(m.ID, config.OpenAIAPIKey)
	case ProviderGemini:
		return NewGeminiStreamer(m.ID, config.GeminiAPIKey)
	}
	// unreachable for table entries
	return NewMockStreamer(m.ID)
}
