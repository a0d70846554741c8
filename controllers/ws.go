package controllers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatrelay/pkg/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

type wsStartPayload struct {
	Type string `json:"type"`
	relay.SendRequest
}

// ChatWS streams one exchange over a WebSocket. Same frames as the SSE
// endpoint, delivered as JSON messages.
//
// Client protocol:
//
//	-> {type: "start", id: chatId, messages: [...]}
//	<- frames as on the SSE endpoint, one JSON object per message
func ChatWS(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ws] upgrade error: %v", err)
			return
		}
		defer conn.Close()

		conn.SetReadLimit(1 << 20) // 1MB
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		})

		// one start message per connection
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[ws] read message error: %v", err)
			return
		}
		var start wsStartPayload
		if err := json.Unmarshal(msgBytes, &start); err != nil || strings.ToLower(start.Type) != "start" {
			_ = conn.WriteJSON(gin.H{"type": "error", "errorText": "invalid start payload"})
			return
		}

		ex, err := rl.Prepare(c.Request.Context(), start.SendRequest)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"type": "error", "errorText": err.Error()})
			return
		}

		// a failed read means the client is gone; abandon the model stream
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		go func() {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		sink := &wsSink{conn: conn}
		if err := ex.Run(ctx, sink); err != nil {
			log.Printf("[ws] chat %s: exchange ended with error: %v", start.ChatID, err)
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
}

type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(f relay.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(f)
}
