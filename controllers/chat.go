package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay/models"
	"chatrelay/pkg/cache"
	"chatrelay/pkg/llm"
	"chatrelay/pkg/relay"
	"chatrelay/pkg/store"
)

// SendMessageStream accepts a conversation payload and streams the
// assistant reply back as SSE frames:
//
//	data: {"type":"start","messageId":...}
//	data: {"type":"data-chatCreated","data":{"chatId":...}}   (new chats only)
//	data: {"type":"text-delta","id":...,"delta":...}          (repeated)
//	data: {"type":"text-end","id":...}
//	data: {"type":"finish","finishReason":...,"usage":{...}}
//	data: [DONE]
//
// Failures before the stream opens are plain JSON errors; failures
// mid-stream arrive as a terminal {"type":"error"} frame.
func SendMessageStream(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req relay.SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request body"})
			return
		}

		ex, err := rl.Prepare(c.Request.Context(), req)
		if err != nil {
			c.JSON(prepareStatus(err), gin.H{"msg": err.Error()})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no") // nginx buffering off

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.String(http.StatusInternalServerError, "streaming unsupported")
			return
		}

		sink := &sseSink{w: c.Writer, flusher: flusher}
		_ = ex.Run(c.Request.Context(), sink)

		_ = sse.Encode(c.Writer, sse.Event{Data: "[DONE]"})
		flusher.Flush()
	}
}

func prepareStatus(err error) int {
	switch {
	case errors.Is(err, relay.ErrMissingChatID),
		errors.Is(err, relay.ErrNoMessages),
		errors.Is(err, relay.ErrModelRequired),
		errors.Is(err, llm.ErrUnsupportedModel):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type sseSink struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(f relay.Frame) error {
	if err := sse.Encode(s.w, sse.Event{Data: f}); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// CreateChat creates a chat from its first user message without streaming
// a reply; the client follows up with a streaming send against the
// returned chat id.
func CreateChat(gateway *store.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Message string `json:"message"`
			Model   string `json:"model"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" || body.Model == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message and model are required"})
			return
		}
		if _, err := llm.Resolve(body.Model); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error() + ": " + body.Model})
			return
		}

		chatID := uuid.NewString()
		if _, err := gateway.EnsureChat(c.Request.Context(), chatID, body.Message); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to create chat"})
			return
		}
		if err := gateway.RecordUserMessage(c.Request.Context(), models.Message{
			ID:      uuid.NewString(),
			ChatID:  chatID,
			Text:    body.Message,
			ModelID: body.Model,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to save message"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"chat_id": chatID})
	}
}

// ListChats returns chat summaries newest-activity-first, optionally
// filtered by ?q= over titles and message text.
func ListChats(gateway *store.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		chats, err := gateway.ListChats(c.Request.Context(), c.Query("q"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		c.JSON(http.StatusOK, chats)
	}
}

// GetChat returns one chat with its transcript in creation order.
func GetChat(gateway *store.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		chat, err := gateway.GetChat(c.Request.Context(), c.Param("chat_id"))
		if errors.Is(err, store.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"msg": "chat not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}
		c.JSON(http.StatusOK, chat)
	}
}

// DeleteChat removes a chat and all messages it owns.
func DeleteChat(gateway *store.Gateway, modelCache *cache.ModelCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chat_id")
		err := gateway.DeleteChat(c.Request.Context(), chatID)
		if errors.Is(err, store.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"msg": "chat not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to delete chat"})
			return
		}
		modelCache.Invalidate(chatID)
		c.JSON(http.StatusOK, gin.H{"msg": "chat deleted"})
	}
}

// DeleteAllChats wipes every chat.
func DeleteAllChats(gateway *store.Gateway, modelCache *cache.ModelCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := gateway.DeleteAllChats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to delete chats"})
			return
		}
		modelCache.InvalidateAll()
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	}
}

// ListModels returns the supported model table for the client's picker.
func ListModels() gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make([]gin.H, 0)
		for _, m := range llm.Models() {
			out = append(out, gin.H{"id": m.ID, "name": m.Name, "provider": m.Provider})
		}
		c.JSON(http.StatusOK, out)
	}
}
