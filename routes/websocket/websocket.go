package websocket

import (
	"chatrelay/controllers"
	"chatrelay/middleware"
	"chatrelay/pkg/relay"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, rl *relay.Relay) {
	r.GET("/ws/chat", middleware.RateLimit(), controllers.ChatWS(rl))
}
