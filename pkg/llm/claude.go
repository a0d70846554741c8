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

// ClaudeStreamer streams completions from the Anthropic messages API.
type ClaudeStreamer struct {
	modelID string
	apiKey  string
	client  *http.Client
}

func NewClaudeStreamer(modelID, apiKey string) *ClaudeStreamer {
	return &ClaudeStreamer{modelID: modelID, apiKey: apiKey, client: http.DefaultClient}
}

func (s *ClaudeStreamer) Stream(ctx context.Context, system string, history []ChatMessage, onDelta func(string)) (*Result, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		return nil, &ProviderError{Provider: ProviderClaude, Message: "ANTHROPIC_API_KEY is not set"}
	}

	msgs := make([]any, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		msgs = append(msgs, map[string]any{"role": role, "content": m.Text})
	}
	body, _ := json.Marshal(map[string]any{
		"model":      s.modelID,
		"system":     system,
		"messages":   msgs,
		"max_tokens": 8192,
		"stream":     true,
	})

	res, err := s.call(ctx, body, onDelta)
	if err != nil && isRetriable(err) {
		sleepWithContext(ctx, 2*time.Second)
		res, err = s.call(ctx, body, onDelta)
	}
	return res, err
}

func (s *ClaudeStreamer) call(ctx context.Context, body []byte, onDelta func(string)) (*Result, error) {
	log.Printf("[claude] streaming model %s", s.modelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderClaude, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{Provider: ProviderClaude, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
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
		var ev struct {
			Type    string `json:"type"`
			Message *struct {
				Model string `json:"model"`
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
			Delta *struct {
				Type       string `json:"type"`
				Text       string `json:"text"`
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Usage *struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				if ev.Message.Model != "" {
					res.ModelID = ev.Message.Model
				}
				res.Usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				full.WriteString(ev.Delta.Text)
				if onDelta != nil {
					onDelta(ev.Delta.Text)
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				res.FinishReason = mapClaudeStopReason(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				res.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = fmt.Sprintf("%s: %s", ev.Error.Type, ev.Error.Message)
			}
			return nil, &ProviderError{Provider: ProviderClaude, Message: msg}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ProviderError{Provider: ProviderClaude, Message: fmt.Sprintf("stream read error: %v", err)}
	}
	res.Usage.TotalTokens = res.Usage.InputTokens + res.Usage.OutputTokens
	res.Text = full.String()
	return res, nil
}

func mapClaudeStopReason(r string) string {
	switch r {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return r
	}
}
