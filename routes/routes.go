package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"chatrelay/pkg/cache"
	"chatrelay/pkg/relay"
	"chatrelay/pkg/store"

	chatRoutes "chatrelay/routes/chat"
	websocketRoutes "chatrelay/routes/websocket"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB, modelCache *cache.ModelCache) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "chat relay backend running"})
	})

	gateway := store.NewGateway(db)
	rl := relay.New(gateway, modelCache)

	chatRoutes.Register(r, rl, gateway, modelCache)
	websocketRoutes.Register(r, rl)
}
