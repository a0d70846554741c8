package relay

import (
	"sync"

	"chatrelay/pkg/llm"
)

// Frame is one event of the outbound protocol stream. The client receives
// exactly one start frame first, zero or more text-delta frames in arrival
// order, and exactly one terminal frame (finish or error) last. A
// data-chatCreated frame appears once when the request created the chat.
type Frame struct {
	Type         string           `json:"type"`
	MessageID    string           `json:"messageId,omitempty"`
	ID           string           `json:"id,omitempty"`
	Delta        string           `json:"delta,omitempty"`
	Data         *ChatCreatedData `json:"data,omitempty"`
	FinishReason string           `json:"finishReason,omitempty"`
	Usage        *llm.Usage       `json:"usage,omitempty"`
	ErrorText    string           `json:"errorText,omitempty"`
}

type ChatCreatedData struct {
	ChatID string `json:"chatId"`
}

const (
	FrameStart       = "start"
	FrameChatCreated = "data-chatCreated"
	FrameTextDelta   = "text-delta"
	FrameTextEnd     = "text-end"
	FrameFinish      = "finish"
	FrameError       = "error"
)

func startFrame(messageID string) Frame {
	return Frame{Type: FrameStart, MessageID: messageID}
}

func chatCreatedFrame(chatID string) Frame {
	return Frame{Type: FrameChatCreated, Data: &ChatCreatedData{ChatID: chatID}}
}

func textDeltaFrame(messageID, delta string) Frame {
	return Frame{Type: FrameTextDelta, ID: messageID, Delta: delta}
}

func textEndFrame(messageID string) Frame {
	return Frame{Type: FrameTextEnd, ID: messageID}
}

func finishFrame(reason string, usage llm.Usage) Frame {
	return Frame{Type: FrameFinish, FinishReason: reason, Usage: &usage}
}

func errorFrame(msg string) Frame {
	return Frame{Type: FrameError, ErrorText: msg}
}

// Sink delivers frames to the client transport.
type Sink interface {
	Send(f Frame) error
}

// lockedSink serializes writes from the relay's two branches.
type lockedSink struct {
	mu   sync.Mutex
	sink Sink
}

func (s *lockedSink) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.Send(f)
}
