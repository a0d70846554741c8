package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ChatMessage is one prior turn handed to a provider, already reduced to
// plain text.
type ChatMessage struct {
	Role string // "user" or "assistant"
	Text string
}

// Usage carries the provider-reported token counters from the final
// completion event.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Result is the completion event of one streaming call. ModelID is the
// model the provider reports actually serving the request, which can be a
// dated snapshot of the requested id.
type Result struct {
	Text         string
	ModelID      string
	FinishReason string
	Usage        Usage
}

// Streamer performs one streaming text completion. Implementations invoke
// onDelta once per incremental fragment, in arrival order, and return the
// completion event after the last fragment. A nil onDelta is allowed.
type Streamer interface {
	Stream(ctx context.Context, system string, history []ChatMessage, onDelta func(delta string)) (*Result, error)
}

// ProviderError is a network or provider-side failure during a live call.
type ProviderError struct {
	Provider   Provider
	StatusCode int // 0 when the request never got a response
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	e := strings.ToLower(err.Error())
	if strings.Contains(e, "status 503") || strings.Contains(e, "overloaded") || strings.Contains(e, "unavailable") {
		return true
	}
	if strings.Contains(e, "status 429") || strings.Contains(e, "rate limit") || strings.Contains(e, "quota") {
		return true
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
