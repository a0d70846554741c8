package llm

import (
	"context"
	"log"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"chatrelay/pkg/config"
)

// defaultMockText is the canned assistant reply replayed by the mock
// source when no MOCK_MESSAGE_PATH override is configured.
const defaultMockText = `Hello! This is a mock assistant response used for local development. ` +
	`It is replayed as a sequence of randomly sized fragments with small delays between them, ` +
	`so the client sees the same pacing and frame sequence it would get from a live provider ` +
	`without any API cost. The full text is persisted at the end of the stream exactly like a ` +
	`real completion, which makes it useful for exercising transcript reconstruction, retry ` +
	`behavior, and stream interruption handling end to end.`

// MockStreamer replays a reference text as pseudo-randomly sized fragments
// (20-50 characters each) with injected delays, reproducing the shape of a
// live provider stream.
type MockStreamer struct {
	modelID string
	text    string

	// pacing; overridable for tests
	InitialDelay time.Duration
	ChunkDelay   time.Duration

	rng *rand.Rand
}

var (
	mockTextOnce   sync.Once
	mockTextLoaded string
)

func mockText() string {
	mockTextOnce.Do(func() {
		mockTextLoaded = defaultMockText
		if config.MockMessagePath != "" {
			b, err := os.ReadFile(config.MockMessagePath)
			if err != nil {
				log.Printf("[mock] cannot read MOCK_MESSAGE_PATH %s: %v (using built-in text)", config.MockMessagePath, err)
				return
			}
			mockTextLoaded = string(b)
		}
	})
	return mockTextLoaded
}

func NewMockStreamer(modelID string) *MockStreamer {
	return &MockStreamer{
		modelID:      modelID,
		text:         mockText(),
		InitialDelay: msOr(config.MockInitialDelayMs, 50*time.Millisecond),
		ChunkDelay:   msOr(config.MockChunkDelayMs, 80*time.Millisecond),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewMockStreamerWithText builds a mock source over an explicit reference
// text with no pacing delays. Test helper.
func NewMockStreamerWithText(modelID, text string) *MockStreamer {
	return &MockStreamer{
		modelID: modelID,
		text:    text,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *MockStreamer) Stream(ctx context.Context, system string, history []ChatMessage, onDelta func(string)) (*Result, error) {
	sleepWithContext(ctx, s.InitialDelay)

	// split on runes so a fragment boundary never lands inside a UTF-8
	// sequence
	runes := []rune(s.text)
	sent := 0
	i := 0
	for i < len(runes) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		step := 20 + s.rng.Intn(31) // 20-50 runes per fragment
		if i+step > len(runes) {
			step = len(runes) - i
		}
		part := string(runes[i : i+step])
		if onDelta != nil {
			onDelta(part)
		}
		sent += step
		i += step
		sleepWithContext(ctx, s.ChunkDelay)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return &Result{
		Text:         s.text,
		ModelID:      s.modelID,
		FinishReason: "stop",
		Usage: Usage{
			InputTokens:  10,
			OutputTokens: sent,
			TotalTokens:  10 + sent,
		},
	}, nil
}

func msOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return time.Duration(v) * time.Millisecond
	}
	return def
}
