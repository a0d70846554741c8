package chat

import (
	"chatrelay/controllers"
	"chatrelay/middleware"
	"chatrelay/pkg/cache"
	"chatrelay/pkg/relay"
	"chatrelay/pkg/store"

	"github.com/gin-gonic/gin"
)

// Register registers chat routes. Rate limiting guards the endpoints that
// trigger model calls.
func Register(r *gin.Engine, rl *relay.Relay, gateway *store.Gateway, modelCache *cache.ModelCache) {
	r.POST("/chats", middleware.RateLimit(), controllers.CreateChat(gateway))
	r.POST("/chats/send", middleware.RateLimit(), controllers.SendMessageStream(rl))
	r.GET("/chats", controllers.ListChats(gateway))
	r.GET("/chats/:chat_id", controllers.GetChat(gateway))
	r.DELETE("/chats/:chat_id", controllers.DeleteChat(gateway, modelCache))
	r.DELETE("/chats", controllers.DeleteAllChats(gateway, modelCache))
	r.GET("/models", controllers.ListModels())
}
