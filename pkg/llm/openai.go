package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// OpenAIStreamer streams completions from the OpenAI chat completions API.
type OpenAIStreamer struct {
	modelID string
	apiKey  string
	client  *http.Client
}

func NewOpenAIStreamer(modelID, apiKey string) *OpenAIStreamer {
	return &OpenAIStreamer{modelID: modelID, apiKey: apiKey, client: http.DefaultClient}
}

func (s *OpenAIStreamer) Stream(ctx context.Context, system string, history []ChatMessage, onDelta func(string)) (*Result, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: "OPENAI_API_KEY is not set"}
	}

	msgs := make([]any, 0, len(history)+1)
	msgs = append(msgs, map[string]any{"role": "system", "content": system})
	for _, m := range history {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, map[string]any{"role": role, "content": m.Text})
	}
	body, _ := json.Marshal(map[string]any{
		"model":    s.modelID,
		"messages": msgs,
		"stream":   true,
		// usage arrives in a final chunk with an empty choices list
		"stream_options": map[string]any{"include_usage": true},
	})

	res, err := s.call(ctx, body, onDelta)
	if err != nil && isRetriable(err) {
		sleepWithContext(ctx, 2*time.Second)
		res, err = s.call(ctx, body, onDelta)
	}
	return res, err
}

func (s *OpenAIStreamer) call(ctx context.Context, body []byte, onDelta func(string)) (*Result, error) {
	log.Printf("[openai] streaming model %s", s.modelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}

	res := &Result{ModelID: s.modelID, FinishReason: "stop"}
	full := strings.Builder{}
	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(line[5:])
		if line == "[DONE]" {
			break
		}
		var chunk struct {
			Model   string `json:"model"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
				TotalTokens      int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			res.ModelID = chunk.Model
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				full.WriteString(c.Delta.Content)
				if onDelta != nil {
					onDelta(c.Delta.Content)
				}
			}
			if c.FinishReason != "" {
				res.FinishReason = c.FinishReason
			}
		}
		if chunk.Usage != nil {
			res.Usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: fmt.Sprintf("stream read error: %v", err)}
	}
	res.Text = full.String()
	return res, nil
}
