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

// GeminiStreamer streams completions from the Google generative language
// API (streamGenerateContent with SSE framing).
type GeminiStreamer struct {
	modelID string
	apiKey  string
	client  *http.Client
}

func NewGeminiStreamer(modelID, apiKey string) *GeminiStreamer {
	return &GeminiStreamer{modelID: modelID, apiKey: apiKey, client: http.DefaultClient}
}

func (s *GeminiStreamer) Stream(ctx context.Context, system string, history []ChatMessage, onDelta func(string)) (*Result, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		return nil, &ProviderError{Provider: ProviderGemini, Message: "GEMINI_API_KEY is not set"}
	}

	body, _ := json.Marshal(s.payload(system, history))

	res, err := s.call(ctx, body, onDelta)
	if err != nil && isRetriable(err) {
		sleepWithContext(ctx, 2*time.Second)
		res, err = s.call(ctx, body, onDelta)
	}
	return res, err
}

func (s *GeminiStreamer) payload(system string, history []ChatMessage) map[string]any {
	contents := make([]any, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == "assistant" {
			role = "model" // gemini names the assistant role "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []any{map[string]any{"text": m.Text}},
		})
	}
	return map[string]any{
		"systemInstruction": map[string]any{
			"parts": []any{map[string]any{"text": system}},
		},
		"contents": contents,
	}
}

func (s *GeminiStreamer) call(ctx context.Context, body []byte, onDelta func(string)) (*Result, error) {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", s.modelID, s.apiKey)
	log.Printf("[gemini] streaming model %s", s.modelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{Provider: ProviderGemini, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}

	res := &Result{ModelID: s.modelID, FinishReason: "stop"}
	full := strings.Builder{}
	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "data:") {
			line = strings.TrimSpace(line[5:])
		}
		var obj struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
				FinishReason string `json:"finishReason"`
			} `json:"candidates"`
			UsageMetadata *struct {
				PromptTokenCount     int `json:"promptTokenCount"`
				CandidatesTokenCount int `json:"candidatesTokenCount"`
				TotalTokenCount      int `json:"totalTokenCount"`
			} `json:"usageMetadata"`
			ModelVersion string `json:"modelVersion"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		for _, cand := range obj.Candidates {
			for _, p := range cand.Content.Parts {
				if p.Text != "" {
					full.WriteString(p.Text)
					if onDelta != nil {
						onDelta(p.Text)
					}
				}
			}
			if cand.FinishReason != "" {
				res.FinishReason = strings.ToLower(cand.FinishReason)
			}
		}
		if obj.UsageMetadata != nil {
			res.Usage = Usage{
				InputTokens:  obj.UsageMetadata.PromptTokenCount,
				OutputTokens: obj.UsageMetadata.CandidatesTokenCount,
				TotalTokens:  obj.UsageMetadata.TotalTokenCount,
			}
		}
		if obj.ModelVersion != "" {
			res.ModelID = obj.ModelVersion
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Message: fmt.Sprintf("stream read error: %v", err)}
	}
	res.Text = full.String()
	return res, nil
}
