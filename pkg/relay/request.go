package relay

import (
	"strings"

	"chatrelay/pkg/llm"
)

// SendRequest is the inbound conversation payload: the ordered message
// list plus the chat id it belongs to.
type SendRequest struct {
	ChatID   string           `json:"id"`
	Messages []InboundMessage `json:"messages"`
}

// InboundMessage mirrors the client's message shape. IDs are generated by
// the client so persisted rows line up with what it already rendered.
type InboundMessage struct {
	ID       string           `json:"id"`
	Role     string           `json:"role"`
	Parts    []InboundPart    `json:"parts"`
	Metadata *InboundMetadata `json:"metadata,omitempty"`
}

type InboundPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type InboundMetadata struct {
	ModelID string `json:"modelId"`
}

// text joins the message's text parts; non-text parts are ignored.
func (m InboundMessage) text() string {
	var parts []string
	for _, p := range m.Parts {
		if p.Type == "text" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, " ")
}

// modelID returns the model selection attached to the first message, if
// the client sent one.
func (r SendRequest) modelID() string {
	if len(r.Messages) == 0 || r.Messages[0].Metadata == nil {
		return ""
	}
	return r.Messages[0].Metadata.ModelID
}

// title derives a chat title from the first user message's text, with a
// placeholder when it has no text parts.
func (r SendRequest) title() string {
	for _, m := range r.Messages {
		if m.Role == "user" {
			if t := m.text(); strings.TrimSpace(t) != "" {
				return t
			}
			break
		}
	}
	return "New chat"
}

// history converts the ordered message list into the provider-neutral chat
// history.
func (r SendRequest) history() []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		out = append(out, llm.ChatMessage{Role: role, Text: m.text()})
	}
	return out
}
