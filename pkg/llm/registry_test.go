package llm

import (
	"errors"
	"testing"
)

func TestResolveKnownModels(t *testing.T) {
	cases := []struct {
		id       string
		provider Provider
		name     string
	}{
		{"claude-sonnet-4-5-20250929", ProviderClaude, "Claude 4.5 Sonnet"},
		{"claude-opus-4-1-20250805", ProviderClaude, "Claude 4.1 Opus"},
		{"gpt-5-2025-08-07", ProviderOpenAI, "GPT-5"},
		{"gpt-5-pro-2025-10-06", ProviderOpenAI, "GPT-5 Pro"},
		{"gemini-2.5-pro", ProviderGemini, "Gemini 2.5 Pro"},
		{"gemini-2.5-pro-preview-tts", ProviderGemini, "Gemini 2.5 Pro (Preview TTS)"},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			m, err := Resolve(tc.id)
			if err != nil {
				t.Fatalf("expected %s to resolve, got %v", tc.id, err)
			}
			if m.Provider != tc.provider {
				t.Fatalf("expected provider %s, got %s", tc.provider, m.Provider)
			}
			if m.Name != tc.name {
				t.Fatalf("expected name %q, got %q", tc.name, m.Name)
			}
		})
	}
}

func TestResolveUnknownModel(t *testing.T) {
	for _, id := range []string{"", "gpt-4", "claude-3", "gemini-pro", "GEMINI-2.5-PRO"} {
		if _, err := Resolve(id); !errors.Is(err, ErrUnsupportedModel) {
			t.Fatalf("expected ErrUnsupportedModel for %q, got %v", id, err)
		}
	}
}

func TestModelsListsEveryTableEntry(t *testing.T) {
	ms := Models()
	if len(ms) != len(modelTable) {
		t.Fatalf("Models() returned %d entries, table has %d", len(ms), len(modelTable))
	}
	seen := map[string]bool{}
	for _, m := range ms {
		if seen[m.ID] {
			t.Fatalf("duplicate model id %s", m.ID)
		}
		seen[m.ID] = true
		if _, ok := modelTable[m.ID]; !ok {
			t.Fatalf("model %s not in table", m.ID)
		}
	}
}

func TestIsRetriable(t *testing.T) {
	retriable := []error{
		&ProviderError{Provider: ProviderGemini, StatusCode: 503, Message: "overloaded"},
		&ProviderError{Provider: ProviderOpenAI, StatusCode: 429, Message: "rate limit exceeded"},
		errors.New("RESOURCE_EXHAUSTED: quota exceeded"),
	}
	for _, err := range retriable {
		if !isRetriable(err) {
			t.Fatalf("expected %v to be retriable", err)
		}
	}
	permanent := []error{
		nil,
		&ProviderError{Provider: ProviderClaude, StatusCode: 401, Message: "invalid api key"},
		errors.New("invalid request"),
	}
	for _, err := range permanent {
		if isRetriable(err) {
			t.Fatalf("expected %v not to be retriable", err)
		}
	}
}
